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

// Package amendment is the Amendment Engine (SPEC_FULL.md §4.8): it re-runs
// a completed pipeline under a new framing concept without destructively
// mutating the parent run's decisions. Parent rows are marked superseded,
// never deleted, and a delta document summarizes what changed.
package amendment

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/johnplanow/substrate/internal/store"
	substraterr "github.com/johnplanow/substrate/pkg/shared/errors"
)

// Options tunes an amendment run and its context handler.
type Options struct {
	FramingConcept string
	PhaseFilter    string // "" means every phase of the parent is in scope
}

// CreateAmendmentRun creates a child run under parentRunID, inheriting the
// parent's methodology and starting phase. Fails with a UsageError if the
// parent isn't completed (spec §4.8: "Fails if parent status != completed").
func CreateAmendmentRun(s *store.Store, parentRunID string, opts Options) (string, error) {
	parent, err := s.GetPipelineRun(parentRunID)
	if err != nil {
		return "", err
	}
	if parent.Status != store.RunStatusCompleted {
		return "", substraterr.NewUsageError("create amendment run",
			fmt.Errorf("parent run %s has status %q, not completed", parentRunID, parent.Status))
	}

	var blob store.RunConfigBlob
	_ = json.Unmarshal([]byte(parent.ConfigJSON), &blob)

	startPhase := parent.CurrentPhase
	if len(blob.PhaseHistory) > 0 {
		startPhase = blob.PhaseHistory[0].Phase
	}

	concept := blob.Concept
	if opts.FramingConcept != "" {
		concept = opts.FramingConcept
	}

	return s.CreatePipelineRun(store.CreatePipelineRunInput{
		Methodology: parent.Methodology,
		StartPhase:  startPhase,
		ParentRunID: &parentRunID,
		Concept:     concept,
	})
}

// SupersessionEntry is one row of a Handler's in-memory supersession log.
type SupersessionEntry struct {
	ParentDecisionID      string
	SupersedingDecisionID string
	Phase                 string
	Category              string
	Key                   string
}

// Handler is the Amendment Context Handler (spec §4.8). Constructed once per
// amendment run, it eagerly snapshots every active parent decision; the
// snapshot is frozen from that point on regardless of later parent
// mutations.
type Handler struct {
	store          *store.Store
	parentRunID    string
	framingConcept string
	phaseFilter    string

	snapshot []store.Decision

	mu            sync.Mutex
	supersessions []SupersessionEntry
}

// NewHandler snapshots parentRunID's active decisions, optionally filtered
// to opts.PhaseFilter.
func NewHandler(s *store.Store, parentRunID string, opts Options) (*Handler, error) {
	decisions, err := s.LoadParentRunDecisions(parentRunID)
	if err != nil {
		return nil, err
	}
	if opts.PhaseFilter != "" {
		filtered := make([]store.Decision, 0, len(decisions))
		for _, d := range decisions {
			if d.Phase == opts.PhaseFilter {
				filtered = append(filtered, d)
			}
		}
		decisions = filtered
	}
	return &Handler{
		store:          s,
		parentRunID:    parentRunID,
		framingConcept: opts.FramingConcept,
		phaseFilter:    opts.PhaseFilter,
		snapshot:       decisions,
	}, nil
}

// GetParentDecisions returns the frozen snapshot taken at construction time
// (spec §8's round-trip law: later parent mutations never alter it).
func (h *Handler) GetParentDecisions() []store.Decision {
	out := make([]store.Decision, len(h.snapshot))
	copy(out, h.snapshot)
	return out
}

const noPriorDecisionsMarker = "no prior decisions"

// LoadContextForPhase satisfies pkg/phaserunner.AmendmentContext: a
// human-readable block of the snapshot's decisions for phase, plus the
// framing concept, or the fixed marker when there's nothing to show.
func (h *Handler) LoadContextForPhase(phase string) string {
	var matched []store.Decision
	for _, d := range h.snapshot {
		if d.Phase == phase {
			matched = append(matched, d)
		}
	}

	var b strings.Builder
	if h.framingConcept != "" {
		fmt.Fprintf(&b, "Framing concept: %s\n\n", h.framingConcept)
	}
	if len(matched) == 0 {
		b.WriteString(noPriorDecisionsMarker)
		return b.String()
	}
	b.WriteString("Prior decisions:\n")
	for _, d := range matched {
		fmt.Fprintf(&b, "- [%s/%s] %s: %s\n", d.Phase, d.Category, d.Key, d.Value)
	}
	return b.String()
}

// GetSupersessionLog returns the entries logged so far, in append order.
func (h *Handler) GetSupersessionLog() []SupersessionEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SupersessionEntry, len(h.supersessions))
	copy(out, h.supersessions)
	return out
}

// LogSupersession appends entry to the in-memory log.
func (h *Handler) LogSupersession(entry SupersessionEntry) {
	h.mu.Lock()
	h.supersessions = append(h.supersessions, entry)
	h.mu.Unlock()
}

func decisionKey(d store.Decision) string {
	return d.Phase + "|" + d.Category + "|" + d.Key
}
