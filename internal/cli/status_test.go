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

package cli

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/johnplanow/substrate/internal/store"
)

var _ = Describe("buildStatusView", func() {
	var s *store.Store
	var cleanup func()

	BeforeEach(func() {
		s, cleanup = openTempStore()
	})

	AfterEach(func() {
		cleanup()
	})

	It("reports a fresh run as running its start phase with nothing else started", func() {
		runID, err := s.CreatePipelineRun(store.CreatePipelineRunInput{
			Methodology: "default",
			StartPhase:  "analysis",
			Concept:     "a fresh concept",
		})
		Expect(err).NotTo(HaveOccurred())

		view, err := buildStatusView(s, runID)
		Expect(err).NotTo(HaveOccurred())

		Expect(view.RunID).To(Equal(runID))
		Expect(view.CurrentPhase).To(Equal("analysis"))
		Expect(view.Phases["analysis"].Status).To(Equal("running"))
		Expect(view.Phases["planning"].Status).To(Equal("pending"))
		Expect(view.Phases["solutioning"].Status).To(Equal("pending"))
		Expect(view.Phases["implementation"].Status).To(Equal("pending"))
		Expect(view.DecisionsCount).To(Equal(0))
		Expect(view.StoriesCount).To(Equal(0))
	})

	It("counts story-category decisions separately from the decision total", func() {
		runID, err := s.CreatePipelineRun(store.CreatePipelineRunInput{
			Methodology: "default",
			StartPhase:  "solutioning",
			Concept:     "a concept with stories",
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = s.CreateDecision(store.CreateDecisionInput{
			PipelineRunID: runID, Phase: "solutioning", Category: "story", Key: "story-1", Value: "do the thing",
		})
		Expect(err).NotTo(HaveOccurred())
		_, err = s.CreateDecision(store.CreateDecisionInput{
			PipelineRunID: runID, Phase: "solutioning", Category: "architecture", Key: "db", Value: "sqlite",
		})
		Expect(err).NotTo(HaveOccurred())

		view, err := buildStatusView(s, runID)
		Expect(err).NotTo(HaveOccurred())
		Expect(view.DecisionsCount).To(Equal(2))
		Expect(view.StoriesCount).To(Equal(1))
	})

	It("fails resolving an unknown run id", func() {
		_, err := buildStatusView(s, "does-not-exist")
		Expect(err).To(HaveOccurred())
	})
})
