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

package store

import "time"

// RunStatus is PipelineRun.status (spec §3).
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusStopped   RunStatus = "stopped"
)

// GateResult is one gate's outcome, recorded in a phase history entry.
type GateResult struct {
	Gate   string `json:"gate"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// PhaseHistoryEntry is appended to a run's config blob on every phase enter
// and exit (spec §3).
type PhaseHistoryEntry struct {
	Phase       string       `json:"phase"`
	StartedAt   time.Time    `json:"startedAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
	GateResults []GateResult `json:"gateResults"`
}

// RunConfigBlob is the structured content of PipelineRun.config.
type RunConfigBlob struct {
	Concept      string              `json:"concept"`
	PhaseHistory []PhaseHistoryEntry `json:"phaseHistory"`
}

// TokenUsageBlob is the structured content of PipelineRun.token_usage,
// aggregated on read from the token_usage table rather than maintained
// incrementally here — the column exists for a point-in-time snapshot a
// caller may want attached to the run's config export.
type TokenUsageBlob struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// PipelineRun is spec §3's PipelineRun entity.
type PipelineRun struct {
	ID           string    `db:"id" json:"id"`
	Methodology  string    `db:"methodology" json:"methodology"`
	CurrentPhase string    `db:"current_phase" json:"currentPhase"`
	Status       RunStatus `db:"status" json:"status"`
	ParentRunID  *string   `db:"parent_run_id" json:"parentRunId,omitempty"`
	ConfigJSON   string    `db:"config" json:"-"`
	TokenUsage   string    `db:"token_usage" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Decision is spec §3's Decision entity.
type Decision struct {
	ID             string    `db:"id" json:"id"`
	PipelineRunID  string    `db:"pipeline_run_id" json:"pipelineRunId"`
	Phase          string    `db:"phase" json:"phase"`
	Category       string    `db:"category" json:"category"`
	Key            string    `db:"key" json:"key"`
	Value          string    `db:"value" json:"value"`
	Rationale      *string   `db:"rationale" json:"rationale,omitempty"`
	SupersededBy   *string   `db:"superseded_by" json:"supersededBy,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// RequirementType is Requirement.type.
type RequirementType string

const (
	RequirementFunctional    RequirementType = "functional"
	RequirementNonFunctional RequirementType = "non_functional"
)

// RequirementPriority is Requirement.priority (MoSCoW).
type RequirementPriority string

const (
	PriorityMust  RequirementPriority = "must"
	PriorityShould RequirementPriority = "should"
	PriorityCould RequirementPriority = "could"
	PriorityWont  RequirementPriority = "wont"
)

// RequirementStatus is Requirement.status.
type RequirementStatus string

const (
	RequirementActive  RequirementStatus = "active"
	RequirementDone    RequirementStatus = "done"
	RequirementDropped RequirementStatus = "dropped"
)

// Requirement is spec §3's Requirement entity.
type Requirement struct {
	ID            string              `db:"id" json:"id"`
	PipelineRunID string              `db:"pipeline_run_id" json:"pipelineRunId"`
	Source        string              `db:"source" json:"source"`
	Type          RequirementType     `db:"type" json:"type"`
	Description   string              `db:"description" json:"description"`
	Priority      RequirementPriority `db:"priority" json:"priority"`
	Status        RequirementStatus   `db:"status" json:"status"`
	CreatedAt     time.Time           `db:"created_at" json:"createdAt"`
}

// Constraint is spec §3's Constraint entity.
type Constraint struct {
	ID            string    `db:"id" json:"id"`
	PipelineRunID string    `db:"pipeline_run_id" json:"pipelineRunId"`
	Category      string    `db:"category" json:"category"`
	Description   string    `db:"description" json:"description"`
	Source        string    `db:"source" json:"source"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// Artifact is spec §3's Artifact entity. Path may be a logical URI back
// into the decision store rather than a filesystem path.
type Artifact struct {
	ID            string    `db:"id" json:"id"`
	PipelineRunID string    `db:"pipeline_run_id" json:"pipelineRunId"`
	Phase         string    `db:"phase" json:"phase"`
	Type          string    `db:"type" json:"type"`
	Path          string    `db:"path" json:"path"`
	ContentHash   *string   `db:"content_hash" json:"contentHash,omitempty"`
	Summary       *string   `db:"summary" json:"summary,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// TokenUsageRecord is one append-only row behind spec §3's TokenUsage
// entity; GetTokenUsageSummary aggregates these on read.
type TokenUsageRecord struct {
	ID            string    `db:"id" json:"id"`
	PipelineRunID string    `db:"pipeline_run_id" json:"pipelineRunId"`
	Phase         string    `db:"phase" json:"phase"`
	Agent         string    `db:"agent" json:"agent"`
	InputTokens   int64     `db:"input_tokens" json:"inputTokens"`
	OutputTokens  int64     `db:"output_tokens" json:"outputTokens"`
	Cost          float64   `db:"cost" json:"cost"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// TokenUsageSummary is one aggregated row returned by
// GetTokenUsageSummary, keyed by (phase, agent).
type TokenUsageSummary struct {
	Phase        string  `db:"phase" json:"phase"`
	Agent        string  `db:"agent" json:"agent"`
	InputTokens  int64   `db:"input_tokens" json:"inputTokens"`
	OutputTokens int64   `db:"output_tokens" json:"outputTokens"`
	Cost         float64 `db:"cost" json:"cost"`
}
