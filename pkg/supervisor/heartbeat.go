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
	"sync"
	"time"

	"github.com/johnplanow/substrate/pkg/eventbus"
)

// Heartbeat emits pipeline:heartbeat on an interval, but only when Touch
// has not been called since the last tick — every other progress event the
// pipeline emits already tells the watchdog it's alive, so a heartbeat is
// only needed to fill the silence of a long single operation (spec §4.9).
type Heartbeat struct {
	bus      *eventbus.Bus
	runID    string
	interval time.Duration

	mu     sync.Mutex
	touched bool
}

// NewHeartbeat returns a Heartbeat for runID, firing at most once per
// interval.
func NewHeartbeat(bus *eventbus.Bus, runID string, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Heartbeat{bus: bus, runID: runID, interval: interval}
}

// Touch records that some other progress event fired, suppressing the next
// heartbeat tick.
func (h *Heartbeat) Touch() {
	h.mu.Lock()
	h.touched = true
	h.mu.Unlock()
}

// Run blocks, emitting pipeline:heartbeat every interval until ctx is
// canceled, unless Touch fired during that interval.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			fire := !h.touched
			h.touched = false
			h.mu.Unlock()
			if fire {
				h.bus.Emit(eventbus.PipelineHeartbeat, eventbus.Payload{"run_id": h.runID})
			}
		}
	}
}
