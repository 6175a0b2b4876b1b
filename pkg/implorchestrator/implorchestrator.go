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

// Package implorchestrator is the Implementation Orchestrator
// (SPEC_FULL.md §4.6): the implementation phase's worker. It takes a list
// of story keys, groups them by the Conflict Detector (pkg/implorchestrator/
// conflict), runs groups concurrently up to a configured bound, and drives
// each story within a group strictly serially through
// create-story -> dev-story -> code-review -> (fix -> code-review)*.
package implorchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/dispatch"
	"github.com/johnplanow/substrate/pkg/eventbus"
	"github.com/johnplanow/substrate/pkg/implorchestrator/conflict"
)

// Config tunes an Orchestrator (mirrors internal/config's Orchestrator
// section, kept decoupled from internal/config the way pkg/dispatch.Config
// is kept decoupled from it).
type Config struct {
	MaxConcurrency  int
	MaxReviewCycles int
	DiffSizeCeiling int // bytes; 0 means no ceiling
	ConflictTable   conflict.Table
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 3
	}
	if c.MaxReviewCycles < 0 {
		c.MaxReviewCycles = 0
	}
	if c.ConflictTable == nil {
		c.ConflictTable = conflict.DefaultTable()
	}
	return c
}

// PhaseMetricsRecorder is the subset of pkg/telemetry.Metrics this
// orchestrator needs — narrow on purpose, so this package never imports
// pkg/telemetry directly.
type PhaseMetricsRecorder interface {
	RecordPhase(phase string, durationSeconds float64)
}

// Deps are the collaborators an Orchestrator needs.
type Deps struct {
	Store      *store.Store
	Dispatcher *dispatch.Dispatcher // already scoped to (runID, "implementation") via WithRunContext
	Bus        *eventbus.Bus
	Logger     *logrus.Logger
	Diffs      DiffProvider         // optional; defaults to NoDiffProvider
	Metrics    PhaseMetricsRecorder // optional; nil records nothing
}

// Orchestrator drives one pipeline run's implementation phase. The zero
// value is not usable; construct with New. One Orchestrator instance is
// meant to back exactly one pipeline run's implementation phase — run()'s
// exclusivity (spec §4.6) is scoped to the instance, not the run ID.
type Orchestrator struct {
	cfg    Config
	store  *store.Store
	disp   *dispatch.Dispatcher
	bus    *eventbus.Bus
	logger  *logrus.Logger
	diffs   DiffProvider
	metrics PhaseMetricsRecorder

	mu         sync.Mutex
	state      RunState
	stories    map[string]*Story
	order      []string
	startedAt  time.Time
	totalUsage dispatch.TokenEstimate
}

// New constructs an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	diffs := deps.Diffs
	if diffs == nil {
		diffs = NoDiffProvider{}
	}
	return &Orchestrator{
		cfg:     cfg.withDefaults(),
		store:   deps.Store,
		disp:    deps.Dispatcher,
		bus:     deps.Bus,
		logger:  logger,
		diffs:   diffs,
		metrics: deps.Metrics,
		state:   RunIdle,
		stories: make(map[string]*Story),
	}
}

// Run drives storyKeys to completion (spec §4.6). Exclusive: a call made
// while already running returns the current in-flight status without
// starting new work; a call made after a prior run reached COMPLETE returns
// that completed status without restarting. run(nil) completes immediately
// with an empty stories map and zero totals.
func (o *Orchestrator) Run(ctx context.Context, runID string, storyKeys []string) (Status, error) {
	o.mu.Lock()
	switch o.state {
	case RunRunning, RunComplete:
		snap := o.snapshotLocked()
		o.mu.Unlock()
		return snap, nil
	}

	if len(storyKeys) == 0 {
		o.state = RunComplete
		o.startedAt = time.Now()
		o.stories = make(map[string]*Story)
		o.order = nil
		o.totalUsage = dispatch.TokenEstimate{}
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.emitComplete(runID, snap)
		return snap, nil
	}

	o.state = RunRunning
	o.startedAt = time.Now()
	o.totalUsage = dispatch.TokenEstimate{}
	o.stories = make(map[string]*Story, len(storyKeys))
	o.order = append([]string(nil), storyKeys...)
	for _, key := range storyKeys {
		o.stories[key] = &Story{Key: key, EpicID: epicIDOf(key), State: StoryPending}
	}
	o.mu.Unlock()

	groups := conflict.DetectConflictGroups(storyKeys, o.cfg.ConflictTable)
	o.runGroups(ctx, runID, groups)

	o.mu.Lock()
	o.state = RunComplete
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.emitComplete(runID, snap)
	return snap, nil
}

// Status returns the current snapshot without starting or affecting a run.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Status {
	stories := make(map[string]Story, len(o.stories))
	for k, s := range o.stories {
		stories[k] = *s
	}
	return Status{
		State:          o.state,
		Stories:        stories,
		TokenUsage:     o.totalUsage,
		ElapsedSeconds: time.Since(o.startedAt).Seconds(),
	}
}

// runGroups runs each conflict group on a bounded pool sized by
// maxConcurrency; within a group, stories run strictly serially (spec
// §4.6's inter-story scheduling). Acquire failing (context cancelled) skips
// the group entirely — no new work is scheduled after cancel.
func (o *Orchestrator) runGroups(ctx context.Context, runID string, groups [][]string) {
	sem := semaphore.NewWeighted(int64(o.cfg.MaxConcurrency))
	var wg sync.WaitGroup
	for _, group := range groups {
		group := group
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			o.runGroupSerially(ctx, runID, group)
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) runGroupSerially(ctx context.Context, runID string, keys []string) {
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return
		default:
		}
		o.mu.Lock()
		story := o.stories[key]
		o.mu.Unlock()
		o.runStory(ctx, runID, story)
	}
}

func epicIDOf(storyKey string) string {
	if i := strings.IndexByte(storyKey, '-'); i > 0 {
		return storyKey[:i]
	}
	return storyKey
}

func (o *Orchestrator) addUsage(est dispatch.TokenEstimate) {
	o.mu.Lock()
	o.totalUsage.Input += est.Input
	o.totalUsage.Output += est.Output
	o.mu.Unlock()
}

func (o *Orchestrator) setState(story *Story, state StoryState) {
	o.mu.Lock()
	story.State = state
	o.mu.Unlock()
	if o.bus != nil {
		o.bus.Emit(eventbus.StoryPhase, eventbus.Payload{"storyKey": story.Key, "state": string(state)})
	}
}

func (o *Orchestrator) emitComplete(runID string, snap Status) {
	if o.metrics != nil {
		o.metrics.RecordPhase("implementation", snap.ElapsedSeconds)
	}
	if o.bus == nil {
		return
	}
	o.bus.Emit(eventbus.OrchestratorComplete, eventbus.Payload{
		"runId":        runID,
		"storyCount":   len(snap.Stories),
		"inputTokens":  snap.TokenUsage.Input,
		"outputTokens": snap.TokenUsage.Output,
	})
}

func (o *Orchestrator) escalate(story *Story, reason string, specEvent bool) {
	o.mu.Lock()
	story.State = StoryEscalated
	story.EscalationReason = reason
	o.mu.Unlock()
	if o.bus == nil {
		return
	}
	o.bus.Emit(eventbus.StoryEscalation, eventbus.Payload{"storyKey": story.Key, "reason": reason})
	if specEvent {
		o.bus.Emit(eventbus.OrchestratorStoryEscalated, eventbus.Payload{"storyKey": story.Key, "reason": reason})
	}
}

func (o *Orchestrator) fail(story *Story, reason string) {
	o.mu.Lock()
	story.State = StoryFailed
	story.Result = "failed"
	story.FailureReason = reason
	o.mu.Unlock()
}

func (o *Orchestrator) complete(story *Story) {
	o.mu.Lock()
	story.State = StoryComplete
	story.Result = "success"
	o.mu.Unlock()
	if o.bus != nil {
		o.bus.Emit(eventbus.StoryDone, eventbus.Payload{"storyKey": story.Key})
	}
}

// runStory drives one story through its full sub-phase sequence (spec
// §4.6). It never returns an error: every failure mode resolves to a
// terminal Story state instead, since Run's caller observes outcomes only
// through the Status snapshot.
func (o *Orchestrator) runStory(ctx context.Context, runID string, story *Story) {
	description, err := o.storyDescription(runID, story.Key)
	if err != nil {
		o.fail(story, err.Error())
		return
	}

	o.setState(story, StoryInStoryCreation)
	createResult, ok := o.dispatchStep(ctx, "create-story", createStoryPrompt(story, description))
	if !ok {
		o.fail(story, "create-story dispatch failed")
		return
	}
	storyFile, _ := createResult.Parsed["story_file"].(string)
	if strings.TrimSpace(storyFile) == "" {
		o.escalate(story, "create-story-no-file", true)
		return
	}
	o.mu.Lock()
	story.StoryFilePath = storyFile
	o.mu.Unlock()

	o.setState(story, StoryInDev)
	if _, ok := o.dispatchStep(ctx, "dev-story", devStoryPrompt(story)); !ok {
		o.fail(story, "dev-story dispatch failed")
		return
	}

	o.reviewLoop(ctx, story)
}

// reviewLoop runs code-review -> (fix -> code-review)* until a terminal
// verdict or the review cycle cap is reached (spec §4.6).
func (o *Orchestrator) reviewLoop(ctx context.Context, story *Story) {
	for {
		o.setState(story, StoryInReview)
		d, _ := o.diffs.Diff(story.Key)
		reviewResult, ok := o.dispatchStep(ctx, "code-review", codeReviewPrompt(story, d, o.cfg.DiffSizeCeiling))
		if !ok {
			o.fail(story, "code-review dispatch failed")
			return
		}

		verdict, _ := reviewResult.Parsed["verdict"].(string)
		o.mu.Lock()
		cycles := story.ReviewCycles
		o.mu.Unlock()

		switch verdict {
		case "SHIP_IT":
			o.complete(story)
			return
		case "NEEDS_MINOR_FIXES":
			if cycles >= o.cfg.MaxReviewCycles {
				o.complete(story)
				return
			}
		case "NEEDS_MAJOR_REWORK":
			if cycles >= o.cfg.MaxReviewCycles {
				o.escalate(story, "max-review-cycles-exceeded", false)
				return
			}
		default:
			o.fail(story, fmt.Sprintf("code-review: unrecognized verdict %q", verdict))
			return
		}

		o.setState(story, StoryInFix)
		if _, ok := o.dispatchStep(ctx, "fix", fixPrompt(story, issuesFrom(reviewResult.Parsed))); !ok {
			o.fail(story, "fix dispatch failed")
			return
		}
		o.mu.Lock()
		story.ReviewCycles++
		o.mu.Unlock()
	}
}

func issuesFrom(parsed map[string]any) []dispatch.Issue {
	raw, ok := parsed["issue_list"].([]any)
	if !ok {
		return nil
	}
	issues := make([]dispatch.Issue, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		severity, _ := m["severity"].(string)
		file, _ := m["file"].(string)
		desc, _ := m["desc"].(string)
		issues = append(issues, dispatch.Issue{Severity: severity, File: file, Desc: desc})
	}
	return issues
}

// dispatchStep runs one dispatch and reports whether it completed; on
// success it returns the dispatch.Result so the caller can read Parsed.
func (o *Orchestrator) dispatchStep(ctx context.Context, taskType, prompt string) (dispatch.Result, bool) {
	handle := o.disp.Dispatch(ctx, dispatch.Request{TaskType: taskType, Prompt: prompt})
	result := handle.Result()
	o.addUsage(result.TokenEstimate)
	return result, result.Status == dispatch.StatusCompleted
}

// storyDescription looks up the story's description, persisted by the
// solutioning phase runner as a Decision with Category "story" (spec §4.5 /
// pkg/phaserunner's persistStories).
func (o *Orchestrator) storyDescription(runID, key string) (string, error) {
	decisions, err := o.store.GetActiveDecisions(store.ActiveDecisionFilter{PipelineRunID: runID, Phase: "solutioning"})
	if err != nil {
		return "", err
	}
	for _, d := range decisions {
		if d.Category == "story" && d.Key == key {
			return d.Value, nil
		}
	}
	return "", nil
}
