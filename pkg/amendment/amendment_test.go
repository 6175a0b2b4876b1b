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

package amendment

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/johnplanow/substrate/internal/store"
)

var _ = Describe("CreateAmendmentRun", func() {
	var s *store.Store
	var cleanup func()

	BeforeEach(func() {
		s, cleanup = openTempStore()
	})
	AfterEach(func() { cleanup() })

	It("creates a child run carrying parent_run_id", func() {
		parentID := completedParentRun(s, "Build a task manager")

		amendmentID, err := CreateAmendmentRun(s, parentID, Options{FramingConcept: "Add multi-tenant support"})
		Expect(err).NotTo(HaveOccurred())
		Expect(amendmentID).NotTo(BeEmpty())

		run, err := s.GetPipelineRun(amendmentID)
		Expect(err).NotTo(HaveOccurred())
		Expect(run.ParentRunID).NotTo(BeNil())
		Expect(*run.ParentRunID).To(Equal(parentID))
		Expect(run.CurrentPhase).To(Equal("analysis"))
	})

	It("fails when the parent run isn't completed", func() {
		runID, err := s.CreatePipelineRun(store.CreatePipelineRunInput{Methodology: "default", StartPhase: "analysis", Concept: "WIP"})
		Expect(err).NotTo(HaveOccurred())

		_, err = CreateAmendmentRun(s, runID, Options{})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Handler", func() {
	var s *store.Store
	var cleanup func()
	var parentID string

	BeforeEach(func() {
		s, cleanup = openTempStore()
		parentID = completedParentRun(s, "Build a task manager")
		_, err := s.CreateDecision(store.CreateDecisionInput{
			PipelineRunID: parentID, Phase: "analysis", Category: "goal", Key: "g1", Value: "ship v1",
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = s.CreateDecision(store.CreateDecisionInput{
			PipelineRunID: parentID, Phase: "planning", Category: "plan", Key: "p1", Value: "two phases",
		})
		Expect(err).NotTo(HaveOccurred())
	})
	AfterEach(func() { cleanup() })

	It("snapshots all active parent decisions across phases by default", func() {
		h, err := NewHandler(s, parentID, Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(h.GetParentDecisions()).To(HaveLen(2))
	})

	It("filters the snapshot to phaseFilter when given", func() {
		h, err := NewHandler(s, parentID, Options{PhaseFilter: "analysis"})
		Expect(err).NotTo(HaveOccurred())
		decisions := h.GetParentDecisions()
		Expect(decisions).To(HaveLen(1))
		Expect(decisions[0].Phase).To(Equal("analysis"))
	})

	It("freezes the snapshot against later parent mutations", func() {
		h, err := NewHandler(s, parentID, Options{})
		Expect(err).NotTo(HaveOccurred())
		before := h.GetParentDecisions()

		_, err = s.CreateDecision(store.CreateDecisionInput{
			PipelineRunID: parentID, Phase: "analysis", Category: "goal", Key: "g2", Value: "added after snapshot",
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(h.GetParentDecisions()).To(HaveLen(len(before)))
	})

	It("renders a phase's decisions plus the framing concept", func() {
		h, err := NewHandler(s, parentID, Options{FramingConcept: "multi-tenant"})
		Expect(err).NotTo(HaveOccurred())

		ctx := h.LoadContextForPhase("analysis")
		Expect(ctx).To(ContainSubstring("multi-tenant"))
		Expect(ctx).To(ContainSubstring("ship v1"))
	})

	It("falls back to the no-prior-decisions marker for an empty phase", func() {
		h, err := NewHandler(s, parentID, Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(h.LoadContextForPhase("implementation")).To(ContainSubstring(noPriorDecisionsMarker))
	})

	It("logs and returns supersessions in append order", func() {
		h, err := NewHandler(s, parentID, Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(h.GetSupersessionLog()).To(BeEmpty())

		h.LogSupersession(SupersessionEntry{ParentDecisionID: "p1", SupersedingDecisionID: "a1", Phase: "analysis", Category: "goal", Key: "g1"})
		h.LogSupersession(SupersessionEntry{ParentDecisionID: "p2", SupersedingDecisionID: "a2", Phase: "planning", Category: "plan", Key: "p1"})

		log := h.GetSupersessionLog()
		Expect(log).To(HaveLen(2))
		Expect(log[0].ParentDecisionID).To(Equal("p1"))
		Expect(log[1].ParentDecisionID).To(Equal("p2"))
	})
})
