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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/eventbus"
)

type handler struct {
	store *store.Store
	bus   *eventbus.Bus
}

// runView is GET /runs/{id}'s response body: the run row plus its active
// decisions and artifacts. It differs from the phase-oriented view
// `auto status --output-format=json` prints.
type runView struct {
	Run       *store.PipelineRun `json:"run"`
	Decisions []store.Decision   `json:"decisions"`
	Artifacts []store.Artifact   `json:"artifacts"`
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.store.GetPipelineRun(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	decisions, err := h.store.GetActiveDecisions(store.ActiveDecisionFilter{PipelineRunID: id})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	artifacts, err := h.store.GetArtifactsByRun(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, runView{Run: run, Decisions: decisions, Artifacts: artifacts})
}

// streamEvents tails the event bus as Server-Sent Events, filtered to
// events carrying this run's id in a "run_id"/"runId" field. The handler
// subscribes for the lifetime of the request and unsubscribes on client
// disconnect — mirroring the CLI's own NDJSON tail, just over HTTP.
func (h *handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	events := make(chan eventbus.Payload, 64)

	names := []string{
		eventbus.PipelineHeartbeat, eventbus.DispatchStart, eventbus.DispatchComplete,
		eventbus.StoryPhase, eventbus.StoryStall, eventbus.OrchestratorComplete,
		eventbus.SupervisorKill, eventbus.SupervisorRestart, eventbus.SupervisorAbort, eventbus.SupervisorSummary,
	}
	tokens := make([]int, 0, len(names))
	for _, name := range names {
		name := name
		tokens = append(tokens, h.bus.Subscribe(name, func(p eventbus.Payload) {
			if matchesRun(p, runID) {
				select {
				case events <- p:
				default:
					// Drop rather than block the emitter — the emitter's
					// goroutine must never stall on a slow HTTP client.
				}
			}
		}))
	}
	defer func() {
		for i, name := range names {
			h.bus.Off(name, tokens[i])
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-events:
			payload, err := json.Marshal(p)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func matchesRun(p eventbus.Payload, runID string) bool {
	for _, key := range []string{"run_id", "runId"} {
		if v, ok := p[key]; ok {
			if s, ok := v.(string); ok && s == runID {
				return true
			}
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
