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

// Package phaserunner is the general Phase Runner shape (SPEC_FULL.md
// §4.5): load active prior-phase decisions, optionally inject an amendment
// context, dispatch one or more structured agent tasks in sequence,
// persist results as decisions, register the phase's canonical artifact(s),
// and sum token usage across every sub-dispatch.
//
// analysis, planning, and solutioning are data-driven instances of Runner;
// the implementation phase is instead driven by pkg/implorchestrator, whose
// shape (per-story state machine, conflict-group scheduling) does not fit
// this single-sequence-of-dispatches model.
package phaserunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/dispatch"
	"github.com/johnplanow/substrate/pkg/prompt"
)

// AmendmentContext is the subset of the Amendment Context Handler (spec
// §4.8) a phase runner needs: a human-readable block of the parent run's
// decisions scoped to one phase. Satisfied by pkg/amendment's handler;
// kept as a narrow interface here so phaserunner has no import on it.
type AmendmentContext interface {
	LoadContextForPhase(phase string) string
}

// DecisionWrite is one row a step wants persisted.
type DecisionWrite struct {
	Category  string
	Key       string
	Value     string
	Rationale *string
}

// RequirementWrite is one requirements row a step wants persisted.
type RequirementWrite struct {
	Type        store.RequirementType
	Description string
	Priority    store.RequirementPriority
}

// StepSpec is one sub-dispatch within a phase runner.
type StepSpec struct {
	TaskType string
	Agent    string
	Model    string
	Timeout  time.Duration

	// Template and Sections build the prompt via pkg/prompt. Sections is
	// called with the run's current inputs so it can embed prior decisions
	// and the amendment context.
	Template string
	Sections func(Inputs) []prompt.Section

	// TokenCeiling bounds the assembled prompt; 0 means no ceiling.
	TokenCeiling int

	// Persist turns a successful dispatch's parsed payload into one or more
	// decision rows. Defaults to a single row (Category: step's
	// DecisionCategory, Key: TaskType, Value: the JSON-encoded payload) when
	// nil.
	DecisionCategory string
	Persist          func(parsed map[string]any) []DecisionWrite

	// PersistRequirements turns a successful dispatch's parsed payload into
	// requirements rows (internal/store's requirements table), consumed by
	// the solutioning-readiness gate (pkg/orchestrator/gates). nil means
	// this step produces no requirements.
	PersistRequirements func(parsed map[string]any) []RequirementWrite

	// ArtifactType, if non-empty, registers an artifact of this type after
	// the step's decisions are persisted.
	ArtifactType string
}

// Inputs is what Sections functions see when building a step's prompt.
type Inputs struct {
	RunID            string
	Concept          string
	ActiveDecisions  []store.Decision
	AmendmentContext string // "" if this run has no parent or no handler was supplied
}

// Config describes one phase runner (spec §4.5's general shape).
type Config struct {
	Name string

	// RequiredArtifactType is the prior-phase artifact this phase cannot
	// start without; "" for a phase with no prior-artifact requirement
	// (analysis).
	RequiredArtifactType string
	// MissingInputError is the error code returned when
	// RequiredArtifactType is set but absent, e.g. "missing_product_brief".
	MissingInputError string

	Steps []StepSpec
}

// PhaseMetricsRecorder is the subset of pkg/telemetry.Metrics a phase
// runner needs — narrow on purpose, like every other optional collaborator
// here, so this package never imports pkg/telemetry directly.
type PhaseMetricsRecorder interface {
	RecordPhase(phase string, durationSeconds float64)
}

// Deps are the collaborators a Runner needs.
type Deps struct {
	Store      *store.Store
	Dispatcher *dispatch.Dispatcher // already scoped to (runID, phase) via WithRunContext
	Amendment  AmendmentContext     // optional; nil if this run has no parent
	Metrics    PhaseMetricsRecorder // optional; nil records nothing
}

// Result is runPhase's return value.
type Result struct {
	Result     string // "success" | "failed"
	Error      string
	TokenUsage dispatch.TokenEstimate
}

const resultSuccess = "success"
const resultFailed = "failed"

// Run executes cfg against runID (spec §4.5's five-step contract).
func Run(ctx context.Context, cfg Config, deps Deps, runID string) (Result, error) {
	start := time.Now()
	if deps.Metrics != nil {
		defer func() { deps.Metrics.RecordPhase(cfg.Name, time.Since(start).Seconds()) }()
	}

	if cfg.RequiredArtifactType != "" {
		a, err := deps.Store.GetArtifactByType(runID, cfg.RequiredArtifactType)
		if err != nil {
			return Result{}, err
		}
		if a == nil {
			return Result{Result: resultFailed, Error: cfg.MissingInputError}, nil
		}
	}

	run, err := deps.Store.GetPipelineRun(runID)
	if err != nil {
		return Result{}, err
	}

	activeDecisions, err := deps.Store.GetActiveDecisions(store.ActiveDecisionFilter{PipelineRunID: runID})
	if err != nil {
		return Result{}, err
	}

	var amendmentCtx string
	if run.ParentRunID != nil && deps.Amendment != nil {
		amendmentCtx = deps.Amendment.LoadContextForPhase(cfg.Name)
	}

	var blob store.RunConfigBlob
	_ = json.Unmarshal([]byte(run.ConfigJSON), &blob)

	inputs := Inputs{
		RunID:            runID,
		Concept:          blob.Concept,
		ActiveDecisions:  activeDecisions,
		AmendmentContext: amendmentCtx,
	}

	var total dispatch.TokenEstimate
	for _, step := range cfg.Steps {
		sections := step.Sections(inputs)
		rendered := prompt.Assemble(step.Template, sections, step.TokenCeiling)

		handle := deps.Dispatcher.Dispatch(ctx, dispatch.Request{
			TaskType: step.TaskType,
			Prompt:   rendered.Prompt,
			Agent:    step.Agent,
			Model:    step.Model,
			Timeout:  step.Timeout,
		})
		result := handle.Result()
		total.Input += result.TokenEstimate.Input
		total.Output += result.TokenEstimate.Output

		if result.Status != dispatch.StatusCompleted {
			errMsg := cfg.Name + ":" + step.TaskType + " dispatch failed"
			if result.ParseError != nil {
				errMsg = result.ParseError.Error()
			}
			return Result{Result: resultFailed, Error: errMsg, TokenUsage: total}, nil
		}

		writes := persistWrites(step, result.Parsed)
		for _, w := range writes {
			if _, err := deps.Store.CreateDecision(store.CreateDecisionInput{
				PipelineRunID: runID,
				Phase:         cfg.Name,
				Category:      w.Category,
				Key:           w.Key,
				Value:         w.Value,
				Rationale:     w.Rationale,
			}); err != nil {
				return Result{}, err
			}
		}

		if step.PersistRequirements != nil {
			for _, w := range step.PersistRequirements(result.Parsed) {
				if _, err := deps.Store.CreateRequirement(store.CreateRequirementInput{
					PipelineRunID: runID,
					Source:        cfg.Name + ":" + step.TaskType,
					Type:          w.Type,
					Description:   w.Description,
					Priority:      w.Priority,
				}); err != nil {
					return Result{}, err
				}
			}
		}

		if step.ArtifactType != "" {
			summary := fmt.Sprintf("%s produced by %s", step.ArtifactType, step.TaskType)
			if _, err := deps.Store.RegisterArtifact(store.RegisterArtifactInput{
				PipelineRunID: runID,
				Phase:         cfg.Name,
				Type:          step.ArtifactType,
				Path:          "decision://" + runID + "/" + cfg.Name + "/" + step.ArtifactType,
				Summary:       &summary,
			}); err != nil {
				return Result{}, err
			}
		}
	}

	return Result{Result: resultSuccess, TokenUsage: total}, nil
}

func persistWrites(step StepSpec, parsed map[string]any) []DecisionWrite {
	if step.Persist != nil {
		return step.Persist(parsed)
	}
	value, _ := json.Marshal(parsed)
	category := step.DecisionCategory
	if category == "" {
		category = step.TaskType
	}
	return []DecisionWrite{{Category: category, Key: step.TaskType, Value: string(value)}}
}
