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

package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/johnplanow/substrate/pkg/eventbus"
)

// ResumeFunc spawns a resumed orchestrator process for runID, starting from
// its last durable checkpoint, and returns the new process's PID.
type ResumeFunc func(ctx context.Context, runID string) (pid int, err error)

// StorySummaryProvider supplies the succeeded/failed/escalated story keys
// for a run's final supervisor:summary event. Optional — a nil provider
// yields an empty StorySummary rather than an error, since the summary is a
// best-effort report, not a precondition for shutdown.
type StorySummaryProvider interface {
	Summarize(ctx context.Context, runID string) (StorySummary, error)
}

// Config configures a Watchdog. Zero-value StallThreshold/KillGrace fall
// back to spec-documented defaults.
type Config struct {
	// StallThreshold is how long a run may go without a heartbeat or
	// progress event before Tick classifies it STALLED. Default 10 minutes.
	StallThreshold time.Duration
	// KillGrace is how long Kill waits between SIGTERM and SIGKILL.
	KillGrace time.Duration
	// MaxRestarts bounds how many times a single run may be resumed after a
	// stall before the watchdog gives up and emits supervisor:abort.
	MaxRestarts int
}

func (c Config) withDefaults() Config {
	if c.StallThreshold <= 0 {
		c.StallThreshold = 10 * time.Minute
	}
	if c.KillGrace <= 0 {
		c.KillGrace = 5 * time.Second
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 3
	}
	return c
}

// Watchdog implements spec §4.9: it reads the durable run-state mirror on
// every Tick, classifies the run, and on a detected stall kills the
// orchestrator process tree and either resumes it or aborts, depending on
// how many times this run has already been restarted.
type Watchdog struct {
	cfg      Config
	cache    RunStateCache
	killer   ProcessKiller
	resume   ResumeFunc
	notifier Notifier
	stories  StorySummaryProvider
	bus      *eventbus.Bus
	logger   *logrus.Logger

	mu       sync.Mutex
	tracking map[string]*runTracking
}

type runTracking struct {
	restarts int
	started  time.Time
}

// New constructs a Watchdog. bus, cache, killer, and resume are required;
// notifier and stories may be nil (NoopNotifier and an empty summary
// respectively).
func New(cfg Config, bus *eventbus.Bus, cache RunStateCache, killer ProcessKiller, resume ResumeFunc, notifier Notifier, stories StorySummaryProvider, logger *logrus.Logger) *Watchdog {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Watchdog{
		cfg:      cfg.withDefaults(),
		cache:    cache,
		killer:   killer,
		resume:   resume,
		notifier: notifier,
		stories:  stories,
		bus:      bus,
		logger:   logger,
		tracking: make(map[string]*runTracking),
	}
}

// Classify reads the run-state mirror for runID and returns the verdict
// without taking any kill/restart action — used by callers (e.g. a status
// surface) that only need the health read, not the enforcement side
// effects of Tick.
func (w *Watchdog) Classify(ctx context.Context, runID string, now time.Time) (Verdict, RunState, error) {
	state, ok, err := w.cache.Get(ctx, runID)
	if err != nil {
		return "", RunState{}, err
	}
	if !ok || isTerminalStatus(state.Status) {
		return NoPipelineRunning, state, nil
	}
	if now.Sub(state.LastEventAt) > w.cfg.StallThreshold {
		return Stalled, state, nil
	}
	return RunningHealthy, state, nil
}

// Tick classifies runID's current health and, on STALLED, kills pid (and
// its descendants) and either resumes the run or aborts it, depending on
// how many times it has already been restarted. On NO_PIPELINE_RUNNING it
// emits a final summary. Tick is safe to call repeatedly on a fixed
// interval; RUNNING_HEALTHY and repeated NO_PIPELINE_RUNNING ticks are
// no-ops beyond the classification read.
func (w *Watchdog) Tick(ctx context.Context, runID string, pid int) (Verdict, error) {
	verdict, state, err := w.Classify(ctx, runID, time.Now())
	if err != nil {
		return "", fmt.Errorf("supervisor: classify run %s: %w", runID, err)
	}

	switch verdict {
	case RunningHealthy:
		return verdict, nil

	case NoPipelineRunning:
		w.emitSummary(ctx, runID)
		return verdict, nil

	case Stalled:
		staleness := time.Since(state.LastEventAt)
		if err := w.killer.Kill(pid, w.cfg.KillGrace); err != nil {
			w.logger.WithError(err).WithField("run_id", runID).Error("supervisor: kill failed")
		}
		w.bus.Emit(eventbus.SupervisorKill, eventbus.Payload{
			"run_id": runID, "pid": pid, "staleness_seconds": staleness.Seconds(),
		})
		notifyBestEffort(w.notifier, w.logger, "Substrate run stalled",
			fmt.Sprintf("run %s stalled for %s, killed pid %d", runID, staleness.Round(time.Second), pid))

		track := w.trackingFor(runID)
		if track.restarts >= w.cfg.MaxRestarts {
			w.bus.Emit(eventbus.SupervisorAbort, eventbus.Payload{
				"run_id": runID, "reason": "max_restarts_exceeded", "restarts": track.restarts,
			})
			notifyBestEffort(w.notifier, w.logger, "Substrate run aborted",
				fmt.Sprintf("run %s exceeded %d restarts, giving up", runID, w.cfg.MaxRestarts))
			return verdict, nil
		}

		track.restarts++
		newPID, err := w.resume(ctx, runID)
		if err != nil {
			return verdict, fmt.Errorf("supervisor: resume run %s: %w", runID, err)
		}
		w.bus.Emit(eventbus.SupervisorRestart, eventbus.Payload{
			"run_id": runID, "attempt": track.restarts, "pid": newPID,
		})
		return verdict, nil
	}

	return verdict, nil
}

func (w *Watchdog) trackingFor(runID string) *runTracking {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tracking[runID]
	if !ok {
		t = &runTracking{started: time.Now()}
		w.tracking[runID] = t
	}
	return t
}

func (w *Watchdog) emitSummary(ctx context.Context, runID string) {
	w.mu.Lock()
	track, tracked := w.tracking[runID]
	var elapsed float64
	var restarts int
	if tracked {
		elapsed = time.Since(track.started).Seconds()
		restarts = track.restarts
	}
	delete(w.tracking, runID)
	w.mu.Unlock()

	summary := StorySummary{}
	if w.stories != nil {
		if s, err := w.stories.Summarize(ctx, runID); err == nil {
			summary = s
		} else {
			w.logger.WithError(err).WithField("run_id", runID).Warn("supervisor: story summary unavailable")
		}
	}

	w.bus.Emit(eventbus.SupervisorSummary, eventbus.Payload{
		"run_id":         runID,
		"succeeded":      summary.Succeeded,
		"failed":         summary.Failed,
		"escalated":      summary.Escalated,
		"elapsed_seconds": elapsed,
		"restarts":       restarts,
	})
}
