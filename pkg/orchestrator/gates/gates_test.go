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

package gates

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/orchestrator"
)

func openTempStore() (*store.Store, func()) {
	dir, err := os.MkdirTemp("", "substrate-gates-test")
	Expect(err).NotTo(HaveOccurred())
	s, err := store.Open(filepath.Join(dir, "state.db"))
	Expect(err).NotTo(HaveOccurred())
	return s, func() {
		s.Close()
		os.RemoveAll(dir)
	}
}

var _ = Describe("RequiresArtifact", func() {
	var (
		s       *store.Store
		cleanup func()
		runID   string
	)

	BeforeEach(func() {
		s, cleanup = openTempStore()
		runID, _ = s.CreatePipelineRun(store.CreatePipelineRunInput{Methodology: "default", StartPhase: "analysis"})
	})

	AfterEach(func() { cleanup() })

	It("fails when the artifact has never been registered", func() {
		gate := RequiresArtifact("product-brief")
		ok, err := gate.Check(orchestrator.GateContext{Store: s, RunID: runID})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("passes once the artifact is registered, regardless of which phase produced it", func() {
		_, err := s.RegisterArtifact(store.RegisterArtifactInput{
			PipelineRunID: runID, Phase: "analysis", Type: "product-brief", Path: "decision://brief",
		})
		Expect(err).NotTo(HaveOccurred())

		gate := RequiresArtifact("product-brief")
		ok, err := gate.Check(orchestrator.GateContext{Store: s, RunID: runID})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})
})

var _ = Describe("SolutioningReadiness", func() {
	var (
		s       *store.Store
		cleanup func()
		runID   string
	)

	BeforeEach(func() {
		s, cleanup = openTempStore()
		runID, _ = s.CreatePipelineRun(store.CreatePipelineRunInput{Methodology: "default", StartPhase: "solutioning"})
	})

	AfterEach(func() { cleanup() })

	It("fails when there are no functional requirements", func() {
		gate := SolutioningReadiness()
		ok, err := gate.Check(orchestrator.GateContext{Store: s, RunID: runID})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("fails when a functional requirement has no matching story", func() {
		_, err := s.CreateRequirement(store.CreateRequirementInput{
			PipelineRunID: runID, Source: "analysis", Type: store.RequirementFunctional,
			Description: "Users can export their invoices as PDF", Priority: store.PriorityMust,
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = s.CreateDecision(store.CreateDecisionInput{
			PipelineRunID: runID, Phase: "solutioning", Category: "story",
			Key: "story-1", Value: "Implement login rate limiting",
		})
		Expect(err).NotTo(HaveOccurred())

		gate := SolutioningReadiness()
		ok, err := gate.Check(orchestrator.GateContext{Store: s, RunID: runID})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("passes when every functional requirement shares a keyword with some story", func() {
		_, err := s.CreateRequirement(store.CreateRequirementInput{
			PipelineRunID: runID, Source: "analysis", Type: store.RequirementFunctional,
			Description: "Users can export their invoices as PDF", Priority: store.PriorityMust,
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = s.CreateRequirement(store.CreateRequirementInput{
			PipelineRunID: runID, Source: "analysis", Type: store.RequirementNonFunctional,
			Description: "The system must respond within 200ms", Priority: store.PriorityShould,
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = s.CreateDecision(store.CreateDecisionInput{
			PipelineRunID: runID, Phase: "solutioning", Category: "story",
			Key: "story-1", Value: "Add an export button that generates an invoices PDF",
		})
		Expect(err).NotTo(HaveOccurred())

		gate := SolutioningReadiness()
		ok, err := gate.Check(orchestrator.GateContext{Store: s, RunID: runID})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("ignores dropped requirements", func() {
		_, err := s.CreateRequirement(store.CreateRequirementInput{
			PipelineRunID: runID, Source: "analysis", Type: store.RequirementFunctional,
			Description: "Users can export their invoices as PDF", Priority: store.PriorityMust,
		})
		Expect(err).NotTo(HaveOccurred())
		reqs, _ := s.GetRequirementsByRun(runID)
		Expect(s.UpdateRequirementStatus(reqs[0].ID, store.RequirementDropped)).To(Succeed())
		_, err = s.CreateDecision(store.CreateDecisionInput{
			PipelineRunID: runID, Phase: "solutioning", Category: "story",
			Key: "story-1", Value: "Implement login rate limiting",
		})
		Expect(err).NotTo(HaveOccurred())

		gate := SolutioningReadiness()
		ok, err := gate.Check(orchestrator.GateContext{Store: s, RunID: runID})
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})
})
