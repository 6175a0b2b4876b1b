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

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/dispatch"
	"github.com/johnplanow/substrate/pkg/dispatch/agent"
	"github.com/johnplanow/substrate/pkg/eventbus"
	"github.com/johnplanow/substrate/pkg/implorchestrator/conflict"
)

func openTempStore() (*store.Store, func()) {
	dir, err := os.MkdirTemp("", "substrate-implorchestrator-test")
	Expect(err).NotTo(HaveOccurred())
	s, err := store.Open(filepath.Join(dir, "state.db"))
	Expect(err).NotTo(HaveOccurred())
	return s, func() {
		s.Close()
		os.RemoveAll(dir)
	}
}

func newRun(s *store.Store) string {
	runID, err := s.CreatePipelineRun(store.CreatePipelineRunInput{Methodology: "default", StartPhase: "implementation", Concept: "concept"})
	Expect(err).NotTo(HaveOccurred())
	return runID
}

func seedStory(s *store.Store, runID, key, description string) {
	_, err := s.CreateDecision(store.CreateDecisionInput{
		PipelineRunID: runID, Phase: "solutioning", Category: "story", Key: key, Value: description,
	})
	Expect(err).NotTo(HaveOccurred())
}

// fakeProvider dispatches to fn, which keys off task.TaskType (and, for
// tests exercising multiple calls to the same task type, may track its own
// per-story counters via closure state).
type fakeProvider struct {
	fn func(task agent.Task) (agent.Outcome, error)
}

func (f fakeProvider) Invoke(ctx context.Context, task agent.Task) (agent.Outcome, error) {
	return f.fn(task)
}

func newDispatcher(s *store.Store, runID string, p agent.Provider) *dispatch.Dispatcher {
	d := dispatch.New(dispatch.Config{MaxConcurrency: 4}, eventbus.New(), s)
	d.RegisterProvider("default", p)
	return d.WithRunContext(runID, "implementation")
}

var _ = Describe("Implementation Orchestrator", func() {
	It("drives a story to COMPLETE on a SHIP_IT verdict", func() {
		s, cleanup := openTempStore()
		defer cleanup()
		runID := newRun(s)
		seedStory(s, runID, "EPIC-1", "export invoices as pdf")

		provider := fakeProvider{fn: func(task agent.Task) (agent.Outcome, error) {
			switch task.TaskType {
			case "create-story":
				return agent.Outcome{Output: `{"result":"success","story_file":"stories/EPIC-1.md","story_key":"EPIC-1","story_title":"Export"}`}, nil
			case "dev-story":
				return agent.Outcome{Output: `{"result":"success","ac_met":[],"ac_failures":[],"files_modified":[],"tests":"pass"}`}, nil
			case "code-review":
				return agent.Outcome{Output: `{"verdict":"SHIP_IT","issues":0,"issue_list":[]}`}, nil
			}
			return agent.Outcome{Output: `{}`}, nil
		}}

		o := New(Config{MaxConcurrency: 2, MaxReviewCycles: 2}, Deps{Store: s, Dispatcher: newDispatcher(s, runID, provider)})
		status, err := o.Run(context.Background(), runID, []string{"EPIC-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(status.State).To(Equal(RunComplete))
		Expect(status.Stories["EPIC-1"].State).To(Equal(StoryComplete))
		Expect(status.Stories["EPIC-1"].Result).To(Equal("success"))
		Expect(status.Stories["EPIC-1"].StoryFilePath).To(Equal("stories/EPIC-1.md"))
	})

	It("escalates with create-story-no-file when story_file is empty", func() {
		s, cleanup := openTempStore()
		defer cleanup()
		runID := newRun(s)
		seedStory(s, runID, "EPIC-1", "desc")

		provider := fakeProvider{fn: func(task agent.Task) (agent.Outcome, error) {
			return agent.Outcome{Output: `{"result":"success","story_file":"","story_key":"EPIC-1","story_title":"x"}`}, nil
		}}

		o := New(Config{}, Deps{Store: s, Dispatcher: newDispatcher(s, runID, provider)})
		status, err := o.Run(context.Background(), runID, []string{"EPIC-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Stories["EPIC-1"].State).To(Equal(StoryEscalated))
		Expect(status.Stories["EPIC-1"].EscalationReason).To(Equal("create-story-no-file"))
	})

	It("runs one fix cycle on NEEDS_MINOR_FIXES before completing", func() {
		s, cleanup := openTempStore()
		defer cleanup()
		runID := newRun(s)
		seedStory(s, runID, "EPIC-1", "desc")

		var reviewCalls int
		var mu sync.Mutex
		provider := fakeProvider{fn: func(task agent.Task) (agent.Outcome, error) {
			switch task.TaskType {
			case "create-story":
				return agent.Outcome{Output: `{"result":"success","story_file":"f.md","story_key":"EPIC-1","story_title":"t"}`}, nil
			case "dev-story":
				return agent.Outcome{Output: `{"result":"success","ac_met":[],"ac_failures":[],"files_modified":[],"tests":"pass"}`}, nil
			case "code-review":
				mu.Lock()
				reviewCalls++
				n := reviewCalls
				mu.Unlock()
				if n == 1 {
					return agent.Outcome{Output: `{"verdict":"NEEDS_MINOR_FIXES","issues":1,"issue_list":[{"severity":"low","file":"a.go","desc":"nit"}]}`}, nil
				}
				return agent.Outcome{Output: `{"verdict":"SHIP_IT","issues":0,"issue_list":[]}`}, nil
			case "fix":
				return agent.Outcome{Output: `{"result":"success"}`}, nil
			}
			return agent.Outcome{Output: `{}`}, nil
		}}

		o := New(Config{MaxReviewCycles: 2}, Deps{Store: s, Dispatcher: newDispatcher(s, runID, provider)})
		status, err := o.Run(context.Background(), runID, []string{"EPIC-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Stories["EPIC-1"].State).To(Equal(StoryComplete))
		Expect(status.Stories["EPIC-1"].ReviewCycles).To(Equal(1))
		mu.Lock()
		Expect(reviewCalls).To(Equal(2))
		mu.Unlock()
	})

	It("escalates on NEEDS_MAJOR_REWORK once the review cycle cap is reached", func() {
		s, cleanup := openTempStore()
		defer cleanup()
		runID := newRun(s)
		seedStory(s, runID, "EPIC-1", "desc")

		provider := fakeProvider{fn: func(task agent.Task) (agent.Outcome, error) {
			switch task.TaskType {
			case "create-story":
				return agent.Outcome{Output: `{"result":"success","story_file":"f.md","story_key":"EPIC-1","story_title":"t"}`}, nil
			case "dev-story":
				return agent.Outcome{Output: `{"result":"success","ac_met":[],"ac_failures":[],"files_modified":[],"tests":"pass"}`}, nil
			case "code-review":
				return agent.Outcome{Output: `{"verdict":"NEEDS_MAJOR_REWORK","issues":1,"issue_list":[{"severity":"high","file":"a.go","desc":"bad"}]}`}, nil
			}
			return agent.Outcome{Output: `{}`}, nil
		}}

		o := New(Config{MaxReviewCycles: 0}, Deps{Store: s, Dispatcher: newDispatcher(s, runID, provider)})
		status, err := o.Run(context.Background(), runID, []string{"EPIC-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Stories["EPIC-1"].State).To(Equal(StoryEscalated))
		Expect(status.Stories["EPIC-1"].EscalationReason).To(Equal("max-review-cycles-exceeded"))
	})

	It("completes immediately with zero totals when given no story keys", func() {
		s, cleanup := openTempStore()
		defer cleanup()
		runID := newRun(s)

		bus := eventbus.New()
		var completed bool
		bus.On(eventbus.OrchestratorComplete, func(p eventbus.Payload) { completed = true })

		d := dispatch.New(dispatch.Config{}, bus, s)
		d.RegisterProvider("default", fakeProvider{fn: func(task agent.Task) (agent.Outcome, error) {
			return agent.Outcome{Output: `{}`}, nil
		}})

		o := New(Config{}, Deps{Store: s, Dispatcher: d.WithRunContext(runID, "implementation"), Bus: bus})
		status, err := o.Run(context.Background(), runID, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.State).To(Equal(RunComplete))
		Expect(status.Stories).To(BeEmpty())
		Expect(status.TokenUsage.Input).To(Equal(int64(0)))
		Expect(completed).To(BeTrue())
	})

	It("returns the in-flight status without starting new work when called again while running", func() {
		s, cleanup := openTempStore()
		defer cleanup()
		runID := newRun(s)
		seedStory(s, runID, "EPIC-1", "desc")

		release := make(chan struct{})
		provider := fakeProvider{fn: func(task agent.Task) (agent.Outcome, error) {
			if task.TaskType == "create-story" {
				<-release
				return agent.Outcome{Output: `{"result":"success","story_file":"f.md","story_key":"EPIC-1","story_title":"t"}`}, nil
			}
			return agent.Outcome{Output: `{"result":"success","verdict":"SHIP_IT","issues":0,"issue_list":[],"tests":"pass","ac_met":[],"ac_failures":[],"files_modified":[]}`}, nil
		}}

		o := New(Config{}, Deps{Store: s, Dispatcher: newDispatcher(s, runID, provider)})

		done := make(chan Status, 1)
		go func() {
			status, _ := o.Run(context.Background(), runID, []string{"EPIC-1"})
			done <- status
		}()

		Eventually(func() RunState { return o.Status().State }, time.Second).Should(Equal(RunRunning))

		second, err := o.Run(context.Background(), runID, []string{"EPIC-2"})
		Expect(err).NotTo(HaveOccurred())
		Expect(second.State).To(Equal(RunRunning))
		Expect(second.Stories).To(HaveKey("EPIC-1"))
		Expect(second.Stories).NotTo(HaveKey("EPIC-2"))

		close(release)
		final := <-done
		Expect(final.State).To(Equal(RunComplete))
		Expect(final.Stories["EPIC-1"].State).To(Equal(StoryComplete))
	})

	It("runs stories in the same conflict group strictly serially", func() {
		s, cleanup := openTempStore()
		defer cleanup()
		runID := newRun(s)
		seedStory(s, runID, "10-1", "desc")
		seedStory(s, runID, "10-2", "desc")

		var mu sync.Mutex
		var active int
		var overlapped bool
		provider := fakeProvider{fn: func(task agent.Task) (agent.Outcome, error) {
			if task.TaskType == "create-story" {
				mu.Lock()
				active++
				if active > 1 {
					overlapped = true
				}
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return agent.Outcome{Output: `{"result":"success","story_file":"f.md","story_key":"story","story_title":"t"}`}, nil
			}
			return agent.Outcome{Output: `{"result":"success","verdict":"SHIP_IT","issues":0,"issue_list":[],"tests":"pass","ac_met":[],"ac_failures":[],"files_modified":[]}`}, nil
		}}

		table := conflict.Table{"10-1": {"billing"}, "10-2": {"billing"}}
		o := New(Config{MaxConcurrency: 2, ConflictTable: table}, Deps{Store: s, Dispatcher: newDispatcher(s, runID, provider)})
		status, err := o.Run(context.Background(), runID, []string{"10-1", "10-2"})
		Expect(err).NotTo(HaveOccurred())
		Expect(status.State).To(Equal(RunComplete))
		Expect(overlapped).To(BeFalse())
	})
})
