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
	"context"
	"time"
)

// RunStateCache is the narrow slice of pkg/supervisor.RunStateCache the
// orchestrator needs in order to keep the watchdog's liveness mirror
// current — a runID, its status, and the time of the last transition.
// Declared locally, like every other optional collaborator in this
// codebase, so this package never imports pkg/supervisor.
type RunStateCache interface {
	SetRunState(ctx context.Context, runID, status string, lastEventAt time.Time) error
}

// SetRunStateCache wires an optional watchdog liveness mirror. When set,
// StartRun, AdvancePhase, and ResumeRun write through it on every
// transition (spec §4.9's supplement: "written by the Phase Orchestrator on
// every transition"). A nil cache (the default) makes every write a no-op.
func (o *Orchestrator) SetRunStateCache(cache RunStateCache) {
	o.mu.Lock()
	o.cache = cache
	o.mu.Unlock()
}

// touchRunState mirrors runID's status best-effort: a cache write failure
// is logged, never propagated, since the mirror is advisory input to the
// watchdog, not the system of record for run state (the Decision Store is).
func (o *Orchestrator) touchRunState(runID, status string) {
	o.mu.RLock()
	cache := o.cache
	o.mu.RUnlock()
	if cache == nil {
		return
	}
	if err := cache.SetRunState(context.Background(), runID, status, time.Now().UTC()); err != nil {
		o.logger.WithField("run_id", runID).WithError(err).Warn("orchestrator: run-state cache write failed")
	}
}
