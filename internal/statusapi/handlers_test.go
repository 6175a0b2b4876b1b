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

package statusapi

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/eventbus"
)

var _ = Describe("statusapi router", func() {
	var (
		s     *store.Store
		clean func()
		bus   *eventbus.Bus
		srv   *httptest.Server
		runID string
	)

	BeforeEach(func() {
		s, clean = openTempStore()
		bus = eventbus.New()

		var err error
		runID, err = s.CreatePipelineRun(store.CreatePipelineRunInput{
			Methodology: "default", StartPhase: "analysis", Concept: "build a widget",
		})
		Expect(err).NotTo(HaveOccurred())

		srv = httptest.NewServer(NewRouter(s, bus, nil))
	})

	AfterEach(func() {
		srv.Close()
		clean()
	})

	It("reports healthy on /healthz", func() {
		resp, err := http.Get(srv.URL + "/healthz")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("returns a run's current state and decisions on GET /runs/{id}", func() {
		_, err := s.CreateDecision(store.CreateDecisionInput{
			PipelineRunID: runID, Phase: "analysis", Category: "goal", Key: "g1", Value: "ship v1",
		})
		Expect(err).NotTo(HaveOccurred())

		resp, err := http.Get(srv.URL + "/runs/" + runID + "/")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var view runView
		Expect(json.NewDecoder(resp.Body).Decode(&view)).To(Succeed())
		Expect(view.Run.ID).To(Equal(runID))
		Expect(view.Decisions).To(HaveLen(1))
	})

	It("returns 404 for an unknown run id", func() {
		resp, err := http.Get(srv.URL + "/runs/does-not-exist/")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("omits /metrics when no registry is configured", func() {
		resp, err := http.Get(srv.URL + "/metrics")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("streams events scoped to the run over SSE", func() {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/runs/"+runID+"/events", nil)
		Expect(err).NotTo(HaveOccurred())

		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

		go func() {
			time.Sleep(20 * time.Millisecond)
			bus.Emit(eventbus.StoryPhase, eventbus.Payload{"run_id": runID, "storyKey": "1-1", "state": "in_review"})
			bus.Emit(eventbus.StoryPhase, eventbus.Payload{"run_id": "other-run", "storyKey": "9-9", "state": "in_review"})
		}()

		reader := bufio.NewReader(resp.Body)
		var line string
		for i := 0; i < 20; i++ {
			l, rerr := reader.ReadString('\n')
			if rerr != nil {
				break
			}
			if strings.HasPrefix(l, "data: ") {
				line = l
				break
			}
		}
		Expect(line).To(ContainSubstring(`"1-1"`))
		Expect(line).NotTo(ContainSubstring("9-9"))
	})
})
