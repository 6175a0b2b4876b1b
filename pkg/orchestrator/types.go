/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package orchestrator is the Phase Orchestrator (SPEC_FULL.md §4.4): it
// holds an ordered, extensible list of phase definitions and drives one
// pipeline run through them, evaluating entry/exit gates at each
// transition.
package orchestrator

import (
	"github.com/johnplanow/substrate/internal/store"
)

// GateContext is everything a Gate's Check needs.
type GateContext struct {
	Store *store.Store
	RunID string
}

// Gate is `{name, check(store, runId) → bool | throws, errorMessage}`
// (spec §4.4). Check returning (false, nil) and Check returning (_, err)
// are both gate failures; err is recorded as the failure's detail message
// alongside ErrorMessage.
type Gate struct {
	Name         string
	Check        func(GateContext) (bool, error)
	ErrorMessage string
}

// PhaseDefinition is `{name, description, entryGates[], exitGates[],
// onEnter, onExit}` (spec §4.4).
type PhaseDefinition struct {
	Name        string
	Description string
	EntryGates  []Gate
	ExitGates   []Gate
	OnEnter     func(GateContext) error
	OnExit      func(GateContext) error
}

// GateFailure is one gate's failure, as reported in AdvanceResult.
type GateFailure struct {
	Gate  string
	Error string
}

// AdvanceResult is AdvancePhase's return value.
type AdvanceResult struct {
	Advanced     bool
	Phase        string
	GateFailures []GateFailure
}

// RunStatusView is getRunStatus's return value (spec §4.4).
type RunStatusView struct {
	RunID           string
	CurrentPhase    string
	Status          store.RunStatus
	CompletedPhases []string
	Artifacts       []store.Artifact
}

// evaluateGates runs every gate in gates against gctx, non-short-circuiting
// — every gate runs regardless of earlier failures, per spec §4.4's
// "every gate runs; all failures are reported together, with thrown errors
// captured as failure messages."
func evaluateGates(gates []Gate, gctx GateContext) (passed bool, failures []GateFailure, results []store.GateResult) {
	passed = true
	for _, g := range gates {
		ok, err := safeCheck(g, gctx)
		results = append(results, store.GateResult{Gate: g.Name, Passed: ok, Error: errString(err)})
		if !ok {
			passed = false
			msg := g.ErrorMessage
			if err != nil {
				if msg != "" {
					msg = msg + ": " + err.Error()
				} else {
					msg = err.Error()
				}
			}
			failures = append(failures, GateFailure{Gate: g.Name, Error: msg})
		}
	}
	return passed, failures, results
}

// safeCheck recovers a panicking gate check, treating it the same as a
// returned error ("check(...) → bool | throws").
func safeCheck(g Gate, gctx GateContext) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = panicError{value: r}
		}
	}()
	return g.Check(gctx)
}

type panicError struct{ value any }

func (p panicError) Error() string { return "gate check panicked: " + stringify(p.value) }

func stringify(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unknown panic value"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
