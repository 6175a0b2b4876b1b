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
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/johnplanow/substrate/pkg/eventbus"
)

var _ = Describe("Watchdog", func() {
	var (
		bus      *eventbus.Bus
		cache    *fakeCache
		killer   *fakeKiller
		notifier *fakeNotifier
		resumes  int
		resumeFn ResumeFunc
		events   map[string][]eventbus.Payload
	)

	BeforeEach(func() {
		bus = eventbus.New()
		cache = newFakeCache()
		killer = &fakeKiller{}
		notifier = &fakeNotifier{}
		resumes = 0
		events = make(map[string][]eventbus.Payload)

		for _, name := range []string{eventbus.SupervisorKill, eventbus.SupervisorRestart, eventbus.SupervisorAbort, eventbus.SupervisorSummary} {
			name := name
			bus.On(name, func(p eventbus.Payload) {
				events[name] = append(events[name], p)
			})
		}

		resumeFn = func(ctx context.Context, runID string) (int, error) {
			resumes++
			return 9000 + resumes, nil
		}
	})

	It("reports RUNNING_HEALTHY and takes no action when the mirror is fresh", func() {
		cache.Set(context.Background(), RunState{RunID: "r1", Status: "running", LastEventAt: time.Now()})
		w := New(Config{StallThreshold: time.Minute}, bus, cache, killer, resumeFn, notifier, nil, nil)

		verdict, err := w.Tick(context.Background(), "r1", 111)
		Expect(err).NotTo(HaveOccurred())
		Expect(verdict).To(Equal(RunningHealthy))
		Expect(killer.callCount()).To(Equal(0))
	})

	It("reports NO_PIPELINE_RUNNING and emits a summary when nothing is mirrored", func() {
		w := New(Config{}, bus, cache, killer, resumeFn, notifier, fakeStories{summary: StorySummary{Succeeded: []string{"1-1"}}}, nil)

		verdict, err := w.Tick(context.Background(), "missing", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(verdict).To(Equal(NoPipelineRunning))
		Expect(events[eventbus.SupervisorSummary]).To(HaveLen(1))
		Expect(events[eventbus.SupervisorSummary][0]["succeeded"]).To(Equal([]string{"1-1"}))
	})

	It("treats a terminal-status mirror as NO_PIPELINE_RUNNING even if fresh", func() {
		cache.Set(context.Background(), RunState{RunID: "r2", Status: "completed", LastEventAt: time.Now()})
		w := New(Config{}, bus, cache, killer, resumeFn, notifier, nil, nil)

		verdict, _ := w.Tick(context.Background(), "r2", 0)
		Expect(verdict).To(Equal(NoPipelineRunning))
	})

	It("kills, notifies, and resumes on a stalled run within the restart cap", func() {
		cache.Set(context.Background(), RunState{RunID: "r3", Status: "running", LastEventAt: time.Now().Add(-time.Hour)})
		w := New(Config{StallThreshold: time.Minute, MaxRestarts: 3}, bus, cache, killer, resumeFn, notifier, nil, nil)

		verdict, err := w.Tick(context.Background(), "r3", 222)
		Expect(err).NotTo(HaveOccurred())
		Expect(verdict).To(Equal(Stalled))

		Expect(killer.callCount()).To(Equal(1))
		Expect(resumes).To(Equal(1))
		Expect(notifier.count()).To(Equal(1))

		Expect(events[eventbus.SupervisorKill]).To(HaveLen(1))
		Expect(events[eventbus.SupervisorKill][0]["run_id"]).To(Equal("r3"))
		Expect(events[eventbus.SupervisorRestart]).To(HaveLen(1))
		Expect(events[eventbus.SupervisorRestart][0]["attempt"]).To(Equal(1))
		Expect(events[eventbus.SupervisorAbort]).To(BeEmpty())
	})

	It("aborts instead of resuming once the restart cap is reached", func() {
		cache.Set(context.Background(), RunState{RunID: "r4", Status: "running", LastEventAt: time.Now().Add(-time.Hour)})
		w := New(Config{StallThreshold: time.Minute, MaxRestarts: 2}, bus, cache, killer, resumeFn, notifier, nil, nil)

		for i := 0; i < 2; i++ {
			cache.Set(context.Background(), RunState{RunID: "r4", Status: "running", LastEventAt: time.Now().Add(-time.Hour)})
			_, err := w.Tick(context.Background(), "r4", 333)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(resumes).To(Equal(2))

		cache.Set(context.Background(), RunState{RunID: "r4", Status: "running", LastEventAt: time.Now().Add(-time.Hour)})
		verdict, err := w.Tick(context.Background(), "r4", 333)
		Expect(err).NotTo(HaveOccurred())
		Expect(verdict).To(Equal(Stalled))

		Expect(resumes).To(Equal(2), "no further resume once the cap is hit")
		Expect(events[eventbus.SupervisorAbort]).To(HaveLen(1))
		Expect(events[eventbus.SupervisorAbort][0]["reason"]).To(Equal("max_restarts_exceeded"))
	})

	It("propagates a resume failure as a Tick error", func() {
		cache.Set(context.Background(), RunState{RunID: "r5", Status: "running", LastEventAt: time.Now().Add(-time.Hour)})
		failingResume := func(ctx context.Context, runID string) (int, error) {
			return 0, errors.New("spawn failed")
		}
		w := New(Config{StallThreshold: time.Minute}, bus, cache, killer, failingResume, notifier, nil, nil)

		_, err := w.Tick(context.Background(), "r5", 444)
		Expect(err).To(HaveOccurred())
	})

	It("continues functioning with a nil notifier and nil story provider", func() {
		cache.Set(context.Background(), RunState{RunID: "r6", Status: "running", LastEventAt: time.Now().Add(-time.Hour)})
		w := New(Config{StallThreshold: time.Minute}, bus, cache, killer, resumeFn, nil, nil, nil)

		verdict, err := w.Tick(context.Background(), "r6", 555)
		Expect(err).NotTo(HaveOccurred())
		Expect(verdict).To(Equal(Stalled))
	})
})
