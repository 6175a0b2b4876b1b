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

package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/eventbus"
)

// Orchestrator drives pipeline runs through a registered sequence of
// PhaseDefinitions (spec §4.4). The zero value is not usable; construct
// with New.
type Orchestrator struct {
	store  *store.Store
	bus    *eventbus.Bus
	logger *logrus.Logger

	mu     sync.RWMutex
	phases []PhaseDefinition
	cache  RunStateCache
}

// New constructs an Orchestrator with no registered phases; call
// RegisterPhase (directly or via RegisterBuiltinPhases) before StartRun.
func New(s *store.Store, bus *eventbus.Bus, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{store: s, bus: bus, logger: logger}
}

// RegisterPhase appends def to the sequence (spec §4.4).
func (o *Orchestrator) RegisterPhase(def PhaseDefinition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, def)
}

// GetPhases returns the registered sequence.
func (o *Orchestrator) GetPhases() []PhaseDefinition {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PhaseDefinition, len(o.phases))
	copy(out, o.phases)
	return out
}

func (o *Orchestrator) indexOf(name string) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for i, p := range o.phases {
		if p.Name == name {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) phaseAt(i int) PhaseDefinition {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phases[i]
}

func (o *Orchestrator) phaseCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.phases)
}

// StartRun creates a new pipeline run at startPhase (the first registered
// phase if startPhase is empty) and writes its initial phase-history entry
// (spec §4.4).
func (o *Orchestrator) StartRun(concept, startPhase string) (string, error) {
	if startPhase == "" {
		if o.phaseCount() == 0 {
			return "", fmt.Errorf("orchestrator: no phases registered")
		}
		startPhase = o.phaseAt(0).Name
	} else if o.indexOf(startPhase) < 0 {
		return "", fmt.Errorf("orchestrator: unknown start phase %q", startPhase)
	}

	runID, err := o.store.CreatePipelineRun(store.CreatePipelineRunInput{
		Methodology: "default",
		StartPhase:  startPhase,
		Concept:     concept,
	})
	if err != nil {
		return "", err
	}
	o.touchRunState(runID, string(store.RunStatusRunning))
	return runID, nil
}

// AdvancePhase evaluates the current phase's exit gates and, if they pass,
// the next phase's entry gates, transitioning on success (spec §4.4).
func (o *Orchestrator) AdvancePhase(runID string) (AdvanceResult, error) {
	run, err := o.store.GetPipelineRun(runID)
	if err != nil {
		return AdvanceResult{}, err
	}

	idx := o.indexOf(run.CurrentPhase)
	if idx < 0 {
		return AdvanceResult{}, fmt.Errorf("orchestrator: run %s is at unregistered phase %q", runID, run.CurrentPhase)
	}
	current := o.phaseAt(idx)
	gctx := GateContext{Store: o.store, RunID: runID}

	exitPassed, exitFailures, exitResults := evaluateGates(current.ExitGates, gctx)
	if !exitPassed {
		return AdvanceResult{Advanced: false, Phase: current.Name, GateFailures: exitFailures}, nil
	}

	blob := decodeConfigBlob(run.ConfigJSON)
	now := time.Now().UTC()

	if idx == o.phaseCount()-1 {
		if entry := currentHistoryEntry(&blob, current.Name); entry != nil {
			entry.CompletedAt = &now
			entry.GateResults = exitResults
		}
		configJSON, err := encodeConfigBlob(blob)
		if err != nil {
			return AdvanceResult{}, err
		}
		completed := store.RunStatusCompleted
		if err := o.store.UpdatePipelineRun(runID, store.UpdatePipelineRunPatch{Status: &completed, ConfigJSON: &configJSON}); err != nil {
			return AdvanceResult{}, err
		}
		o.runOnExit(current, gctx)
		o.touchRunState(runID, string(store.RunStatusCompleted))
		return AdvanceResult{Advanced: true, Phase: current.Name}, nil
	}

	next := o.phaseAt(idx + 1)
	entryPassed, entryFailures, entryResults := evaluateGates(next.EntryGates, gctx)
	if !entryPassed {
		return AdvanceResult{Advanced: false, Phase: current.Name, GateFailures: entryFailures}, nil
	}

	if entry := currentHistoryEntry(&blob, current.Name); entry != nil {
		entry.CompletedAt = &now
		entry.GateResults = exitResults
	}
	blob.PhaseHistory = append(blob.PhaseHistory, store.PhaseHistoryEntry{
		Phase: next.Name, StartedAt: now, GateResults: entryResults,
	})

	configJSON, err := encodeConfigBlob(blob)
	if err != nil {
		return AdvanceResult{}, err
	}
	nextName := next.Name
	if err := o.store.UpdatePipelineRun(runID, store.UpdatePipelineRunPatch{CurrentPhase: &nextName, ConfigJSON: &configJSON}); err != nil {
		return AdvanceResult{}, err
	}

	o.runOnExit(current, gctx)
	o.runOnEnter(next, gctx)
	o.touchRunState(runID, string(store.RunStatusRunning))

	return AdvanceResult{Advanced: true, Phase: next.Name}, nil
}

// runOnExit and runOnEnter invoke a phase's callback, logging — never
// propagating — any error or panic, per spec §7's propagation policy:
// "errors inside onEnter/onExit phase callbacks are logged but never abort
// a transition."
func (o *Orchestrator) runOnExit(def PhaseDefinition, gctx GateContext) {
	if def.OnExit == nil {
		return
	}
	if err := o.safeCallback(def.OnExit, gctx); err != nil {
		o.logger.WithField("phase", def.Name).WithError(err).Warn("onExit callback failed")
	}
}

func (o *Orchestrator) runOnEnter(def PhaseDefinition, gctx GateContext) {
	if def.OnEnter == nil {
		return
	}
	if err := o.safeCallback(def.OnEnter, gctx); err != nil {
		o.logger.WithField("phase", def.Name).WithError(err).Warn("onEnter callback failed")
	}
}

func (o *Orchestrator) safeCallback(fn func(GateContext) error, gctx GateContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{value: r}
		}
	}()
	return fn(gctx)
}

// GetRunStatus returns a run's current phase, status, completed-phase
// history, and artifacts (spec §4.4). Returns an error for an unknown run.
func (o *Orchestrator) GetRunStatus(runID string) (RunStatusView, error) {
	run, err := o.store.GetPipelineRun(runID)
	if err != nil {
		return RunStatusView{}, err
	}
	blob := decodeConfigBlob(run.ConfigJSON)
	artifacts, err := o.store.GetArtifactsByRun(runID)
	if err != nil {
		return RunStatusView{}, err
	}
	return RunStatusView{
		RunID:           run.ID,
		CurrentPhase:    run.CurrentPhase,
		Status:          run.Status,
		CompletedPhases: completedPhaseNames(blob),
		Artifacts:       artifacts,
	}, nil
}

// ResumeRun flips a run's status back to running, then greedily advances:
// while the current phase's exit gates all pass and the run is not at its
// last phase, it moves to the next phase without invoking onEnter/onExit or
// re-checking the next phase's entry gates (spec §4.4) — this is a pure
// re-synchronization of current_phase with durable artifact state after a
// crash, not a replay of phase execution.
func (o *Orchestrator) ResumeRun(runID string) (RunStatusView, error) {
	running := store.RunStatusRunning
	if err := o.store.UpdatePipelineRun(runID, store.UpdatePipelineRunPatch{Status: &running}); err != nil {
		return RunStatusView{}, err
	}
	o.touchRunState(runID, string(store.RunStatusRunning))

	for {
		run, err := o.store.GetPipelineRun(runID)
		if err != nil {
			return RunStatusView{}, err
		}
		idx := o.indexOf(run.CurrentPhase)
		if idx < 0 {
			return RunStatusView{}, fmt.Errorf("orchestrator: run %s is at unregistered phase %q", runID, run.CurrentPhase)
		}
		if idx == o.phaseCount()-1 {
			break
		}

		current := o.phaseAt(idx)
		gctx := GateContext{Store: o.store, RunID: runID}
		passed, _, exitResults := evaluateGates(current.ExitGates, gctx)
		if !passed {
			break
		}

		next := o.phaseAt(idx + 1)
		blob := decodeConfigBlob(run.ConfigJSON)
		now := time.Now().UTC()
		if entry := currentHistoryEntry(&blob, current.Name); entry != nil {
			entry.CompletedAt = &now
			entry.GateResults = exitResults
		}
		blob.PhaseHistory = append(blob.PhaseHistory, store.PhaseHistoryEntry{Phase: next.Name, StartedAt: now, GateResults: nil})

		configJSON, err := encodeConfigBlob(blob)
		if err != nil {
			return RunStatusView{}, err
		}
		nextName := next.Name
		if err := o.store.UpdatePipelineRun(runID, store.UpdatePipelineRunPatch{CurrentPhase: &nextName, ConfigJSON: &configJSON}); err != nil {
			return RunStatusView{}, err
		}
		o.touchRunState(runID, string(store.RunStatusRunning))
	}

	return o.GetRunStatus(runID)
}
