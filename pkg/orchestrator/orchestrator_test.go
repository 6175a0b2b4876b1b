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

package orchestrator_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/eventbus"
	"github.com/johnplanow/substrate/pkg/orchestrator"
	"github.com/johnplanow/substrate/pkg/orchestrator/gates"
)

func openTempStore() (*store.Store, func()) {
	dir, err := os.MkdirTemp("", "substrate-orchestrator-test")
	Expect(err).NotTo(HaveOccurred())
	s, err := store.Open(filepath.Join(dir, "state.db"))
	Expect(err).NotTo(HaveOccurred())
	return s, func() {
		s.Close()
		os.RemoveAll(dir)
	}
}

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

var _ = Describe("Orchestrator with built-in phases", func() {
	var (
		s       *store.Store
		cleanup func()
		o       *orchestrator.Orchestrator
		runID   string
	)

	BeforeEach(func() {
		s, cleanup = openTempStore()
		o = orchestrator.New(s, eventbus.New(), silentLogger())
		gates.RegisterBuiltinPhases(o)

		var err error
		runID, err = o.StartRun("Build a task manager", "")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() { cleanup() })

	It("starts a run at the first registered phase", func() {
		status, err := o.GetRunStatus(runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.CurrentPhase).To(Equal("analysis"))
		Expect(status.Status).To(Equal(store.RunStatusRunning))
	})

	It("refuses to advance analysis until a product-brief artifact exists", func() {
		result, err := o.AdvancePhase(runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Advanced).To(BeFalse())
		Expect(result.GateFailures).To(HaveLen(1))
		Expect(result.GateFailures[0].Gate).To(Equal("requires-artifact:product-brief"))
	})

	It("advances analysis to planning once the product brief is registered", func() {
		_, err := s.RegisterArtifact(store.RegisterArtifactInput{
			PipelineRunID: runID, Phase: "analysis", Type: "product-brief", Path: "decision://brief",
		})
		Expect(err).NotTo(HaveOccurred())

		result, err := o.AdvancePhase(runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Advanced).To(BeTrue())
		Expect(result.Phase).To(Equal("planning"))

		status, err := o.GetRunStatus(runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.CurrentPhase).To(Equal("planning"))
		Expect(status.CompletedPhases).To(ConsistOf("analysis"))
	})

	It("reports every failing exit gate at once rather than stopping at the first", func() {
		// Jump the run straight to solutioning without prd/architecture/stories.
		phase := "solutioning"
		Expect(s.UpdatePipelineRun(runID, store.UpdatePipelineRunPatch{CurrentPhase: &phase})).To(Succeed())

		result, err := o.AdvancePhase(runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Advanced).To(BeFalse())
		Expect(result.GateFailures).To(HaveLen(3))
	})

	It("completes the run on the last phase's exit gate passing", func() {
		phase := "implementation"
		Expect(s.UpdatePipelineRun(runID, store.UpdatePipelineRunPatch{CurrentPhase: &phase})).To(Succeed())
		_, err := s.RegisterArtifact(store.RegisterArtifactInput{
			PipelineRunID: runID, Phase: "implementation", Type: "implementation-complete", Path: "decision://done",
		})
		Expect(err).NotTo(HaveOccurred())

		result, err := o.AdvancePhase(runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Advanced).To(BeTrue())

		status, err := o.GetRunStatus(runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Status).To(Equal(store.RunStatusCompleted))
	})

	It("greedily resyncs current_phase across several completed phases on resume", func() {
		_, err := s.RegisterArtifact(store.RegisterArtifactInput{
			PipelineRunID: runID, Phase: "analysis", Type: "product-brief", Path: "decision://brief",
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = s.RegisterArtifact(store.RegisterArtifactInput{
			PipelineRunID: runID, Phase: "planning", Type: "prd", Path: "decision://prd",
		})
		Expect(err).NotTo(HaveOccurred())

		// Simulate a crash: current_phase still says "analysis" even though
		// both analysis's and planning's artifacts already exist.
		status, err := o.ResumeRun(runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.CurrentPhase).To(Equal("solutioning"))
		Expect(status.Status).To(Equal(store.RunStatusRunning))
	})

	It("invokes onEnter/onExit and never aborts a transition when a callback errors", func() {
		var exited, entered bool
		o2 := orchestrator.New(s, eventbus.New(), silentLogger())
		o2.RegisterPhase(orchestrator.PhaseDefinition{
			Name: "analysis",
			ExitGates: []orchestrator.Gate{gates.RequiresArtifact("product-brief")},
			OnExit: func(orchestrator.GateContext) error {
				exited = true
				panic("boom")
			},
		})
		o2.RegisterPhase(orchestrator.PhaseDefinition{
			Name: "planning",
			OnEnter: func(orchestrator.GateContext) error {
				entered = true
				return nil
			},
		})
		runID2, err := o2.StartRun("concept", "")
		Expect(err).NotTo(HaveOccurred())
		_, err = s.RegisterArtifact(store.RegisterArtifactInput{
			PipelineRunID: runID2, Phase: "analysis", Type: "product-brief", Path: "decision://brief",
		})
		Expect(err).NotTo(HaveOccurred())

		result, err := o2.AdvancePhase(runID2)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Advanced).To(BeTrue())
		Expect(exited).To(BeTrue())
		Expect(entered).To(BeTrue())
	})
})

// fakeRunStateCache records every SetRunState call a test wants to assert
// on, standing in for pkg/supervisor.RunStateCache without importing that
// package.
type fakeRunStateCache struct {
	writes []fakeRunStateWrite
}

type fakeRunStateWrite struct {
	runID  string
	status string
}

func (f *fakeRunStateCache) SetRunState(_ context.Context, runID, status string, _ time.Time) error {
	f.writes = append(f.writes, fakeRunStateWrite{runID: runID, status: status})
	return nil
}

var _ orchestrator.RunStateCache = &fakeRunStateCache{}

var _ = Describe("Orchestrator run-state cache wiring", func() {
	var (
		s       *store.Store
		cleanup func()
		o       *orchestrator.Orchestrator
		cache   *fakeRunStateCache
	)

	BeforeEach(func() {
		s, cleanup = openTempStore()
		o = orchestrator.New(s, eventbus.New(), silentLogger())
		gates.RegisterBuiltinPhases(o)
		cache = &fakeRunStateCache{}
		o.SetRunStateCache(cache)
	})

	AfterEach(func() { cleanup() })

	It("writes a running entry on StartRun", func() {
		runID, err := o.StartRun("Build a task manager", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(cache.writes).To(ContainElement(fakeRunStateWrite{runID: runID, status: string(store.RunStatusRunning)}))
	})

	It("writes on every AdvancePhase transition, including the terminal one", func() {
		runID, err := o.StartRun("Build a task manager", "")
		Expect(err).NotTo(HaveOccurred())
		cache.writes = nil

		_, err = s.RegisterArtifact(store.RegisterArtifactInput{
			PipelineRunID: runID, Phase: "analysis", Type: "product-brief", Path: "decision://brief",
		})
		Expect(err).NotTo(HaveOccurred())
		result, err := o.AdvancePhase(runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Advanced).To(BeTrue())
		Expect(cache.writes).To(ContainElement(fakeRunStateWrite{runID: runID, status: string(store.RunStatusRunning)}))

		cache.writes = nil
		phase := "implementation"
		Expect(s.UpdatePipelineRun(runID, store.UpdatePipelineRunPatch{CurrentPhase: &phase})).To(Succeed())
		_, err = s.RegisterArtifact(store.RegisterArtifactInput{
			PipelineRunID: runID, Phase: "implementation", Type: "implementation-complete", Path: "decision://done",
		})
		Expect(err).NotTo(HaveOccurred())
		result, err = o.AdvancePhase(runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Advanced).To(BeTrue())
		Expect(cache.writes).To(ContainElement(fakeRunStateWrite{runID: runID, status: string(store.RunStatusCompleted)}))
	})

	It("writes on ResumeRun, including every phase the resync loop catches up", func() {
		runID, err := o.StartRun("Build a task manager", "")
		Expect(err).NotTo(HaveOccurred())
		_, err = s.RegisterArtifact(store.RegisterArtifactInput{
			PipelineRunID: runID, Phase: "analysis", Type: "product-brief", Path: "decision://brief",
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = s.RegisterArtifact(store.RegisterArtifactInput{
			PipelineRunID: runID, Phase: "planning", Type: "prd", Path: "decision://prd",
		})
		Expect(err).NotTo(HaveOccurred())
		cache.writes = nil

		_, err = o.ResumeRun(runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(len(cache.writes)).To(BeNumerically(">=", 2))
		for _, w := range cache.writes {
			Expect(w.runID).To(Equal(runID))
			Expect(w.status).To(Equal(string(store.RunStatusRunning)))
		}
	})
})
