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

package implorchestrator

import "github.com/johnplanow/substrate/pkg/dispatch"

// StoryState is one story's position in the per-story state machine (spec
// §4.6): PENDING -> IN_STORY_CREATION -> IN_DEV -> IN_REVIEW ->
// (IN_FIX -> IN_REVIEW)* -> COMPLETE | ESCALATED | FAILED.
type StoryState string

const (
	StoryPending         StoryState = "PENDING"
	StoryInStoryCreation StoryState = "IN_STORY_CREATION"
	StoryInDev           StoryState = "IN_DEV"
	StoryInReview        StoryState = "IN_REVIEW"
	StoryInFix           StoryState = "IN_FIX"
	StoryComplete        StoryState = "COMPLETE"
	StoryEscalated       StoryState = "ESCALATED"
	StoryFailed          StoryState = "FAILED"
)

// Story is the orchestrator's exclusively-owned, in-memory record for one
// story key across a run() call (spec §3's ownership note).
type Story struct {
	Key              string
	EpicID           string
	State            StoryState
	StoryFilePath    string
	ReviewCycles     int
	Result           string // "success" | "failed" | "" while in flight
	EscalationReason string
	FailureReason    string
}

// RunState is the orchestrator instance's overall run() state (spec §4.6's
// run idempotency contract).
type RunState string

const (
	RunIdle     RunState = "IDLE"
	RunRunning  RunState = "RUNNING"
	RunComplete RunState = "COMPLETE"
)

// Status is Run's return value: a point-in-time snapshot safe to read after
// the call returns (or, for a still-running call, safe to read while other
// goroutines continue mutating the live state).
type Status struct {
	State          RunState
	Stories        map[string]Story
	TokenUsage     dispatch.TokenEstimate
	ElapsedSeconds float64
}

// Diff is what a DiffProvider returns for one story's code-review input
// (spec §4.6's review input sizing rule).
type Diff struct {
	Full  string
	Stat  string
	Files []string
}

// DiffProvider supplies the working diff for a story under review. Git
// worktree primitives are out of scope for this module (SPEC_FULL.md §1),
// so this is a narrow, injected collaborator — NoDiffProvider is the
// zero-value-safe default when no real VCS integration is wired.
type DiffProvider interface {
	Diff(storyKey string) (Diff, error)
}

// NoDiffProvider always reports no diff available; used when Deps.Diffs is
// left nil.
type NoDiffProvider struct{}

func (NoDiffProvider) Diff(string) (Diff, error) { return Diff{}, nil }
