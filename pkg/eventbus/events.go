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

package eventbus

// Event names, grouped by the subsystem that emits them (spec §4.2). These
// are string constants rather than an enum type because NDJSON consumers
// (§6.3) key on the literal name.
const (
	// Pipeline lifecycle.
	PipelineStart     = "pipeline:start"
	PipelineComplete  = "pipeline:complete"
	PipelineHeartbeat = "pipeline:heartbeat"

	// Story lifecycle.
	StoryPhase      = "story:phase"
	StoryDone       = "story:done"
	StoryEscalation = "story:escalation"
	StoryWarn       = "story:warn"
	StoryLog        = "story:log"
	StoryStall      = "story:stall"

	// Worktree lifecycle (emitted by the worktree facade, an external
	// collaborator per spec §1 — event names are still owned here since
	// every component shares this bus).
	WorktreeCreated  = "worktree:created"
	WorktreeMerged   = "worktree:merged"
	WorktreeConflict = "worktree:conflict"
	WorktreeRemoved  = "worktree:removed"
	TaskReady        = "task:ready"

	// Orchestrator state.
	OrchestratorStoryEscalated = "orchestrator:story-escalated"
	OrchestratorComplete       = "orchestrator:complete"

	// Supervisor.
	SupervisorKill     = "supervisor:kill"
	SupervisorRestart  = "supervisor:restart"
	SupervisorAbort    = "supervisor:abort"
	SupervisorSummary  = "supervisor:summary"

	// Dispatcher lifecycle (§4.3 step 5 — "emits dispatch lifecycle
	// events").
	DispatchStart    = "dispatch:start"
	DispatchComplete = "dispatch:complete"
)
