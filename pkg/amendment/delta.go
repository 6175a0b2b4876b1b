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
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/dispatch"
	"github.com/johnplanow/substrate/pkg/prompt"
)

// Confidence is one impact finding's confidence bucket.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// ImpactFinding is one row of an optional impact-analysis dispatch.
type ImpactFinding struct {
	Confidence  Confidence
	Description string
}

// DeltaDocument is the Delta Document Generator's output (spec §4.8).
type DeltaDocument struct {
	AmendmentRunID      string
	ParentRunID         string
	ExecutiveSummary    string
	NewDecisions        []store.Decision
	SupersededDecisions []store.Decision
	NewStories          []store.Decision
	ImpactAnalysis      []ImpactFinding // nil when no impact-analysis dispatch ran
	Recommendations     []string
}

const minExecutiveSummaryWords = 20

// GenerateDeltaDocument builds the delta document for an amendment run.
// newDecisions are amendment decisions whose id is absent from the parent
// snapshot, including those that supersede a parent decision;
// supersededDecisions are parent decisions named in h's supersession log
// (spec §4.8).
func GenerateDeltaDocument(s *store.Store, h *Handler, amendmentRunID string, impact []ImpactFinding, recommendations []string) (DeltaDocument, error) {
	amendmentDecisions, err := s.GetActiveDecisions(store.ActiveDecisionFilter{PipelineRunID: amendmentRunID})
	if err != nil {
		return DeltaDocument{}, err
	}

	parentIDs := make(map[string]struct{}, len(h.snapshot))
	for _, d := range h.snapshot {
		parentIDs[d.ID] = struct{}{}
	}

	var newDecisions, newStories []store.Decision
	for _, d := range amendmentDecisions {
		if _, ok := parentIDs[d.ID]; ok {
			continue
		}
		newDecisions = append(newDecisions, d)
		if d.Category == "story" {
			newStories = append(newStories, d)
		}
	}

	supersededIDs := make(map[string]struct{})
	for _, entry := range h.GetSupersessionLog() {
		supersededIDs[entry.ParentDecisionID] = struct{}{}
	}
	var superseded []store.Decision
	for _, d := range h.snapshot {
		if _, ok := supersededIDs[d.ID]; ok {
			superseded = append(superseded, d)
		}
	}

	return DeltaDocument{
		AmendmentRunID:      amendmentRunID,
		ParentRunID:         h.parentRunID,
		ExecutiveSummary:    executiveSummary(amendmentRunID, h.parentRunID, h.framingConcept),
		NewDecisions:        newDecisions,
		SupersededDecisions: superseded,
		NewStories:          newStories,
		ImpactAnalysis:      impact,
		Recommendations:     recommendations,
	}, nil
}

// executiveSummary always names both run ids, which alone clears the
// word-count floor; a framing concept extends it (spec §4.8).
func executiveSummary(amendmentRunID, parentRunID, framingConcept string) string {
	base := fmt.Sprintf("Amendment run %s revises parent run %s.", amendmentRunID, parentRunID)
	if framingConcept == "" {
		return base + " This amendment re-evaluates prior decisions and records any resulting supersessions and new stories below."
	}
	return base + fmt.Sprintf(" Framed under: %s. This amendment re-evaluates prior decisions in light of the new concept and records any resulting supersessions and new stories below.", framingConcept)
}

// ValidateDeltaDocument enforces the executive-summary word-count floor and
// the presence of both run ids (spec §4.8's validateDeltaDocument).
func ValidateDeltaDocument(doc DeltaDocument) error {
	if doc.AmendmentRunID == "" {
		return errors.New("amendment: delta document missing amendment run id")
	}
	if doc.ParentRunID == "" {
		return errors.New("amendment: delta document missing parent run id")
	}
	words := len(strings.Fields(doc.ExecutiveSummary))
	if words < minExecutiveSummaryWords {
		return fmt.Errorf("amendment: executive summary has %d words, need at least %d", words, minExecutiveSummaryWords)
	}
	return nil
}

// FormatDeltaDocument renders doc as Markdown with a fixed section order:
// header, executive summary, new decisions, superseded decisions, new
// stories, impact analysis, recommendations. Empty sections render as
// "none" rather than being omitted (spec §4.8's Delta Document Formatter).
func FormatDeltaDocument(doc DeltaDocument) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Amendment Delta: %s\n\n", doc.AmendmentRunID)
	fmt.Fprintf(&b, "Parent run: %s\n\n", doc.ParentRunID)

	b.WriteString("## Executive Summary\n\n")
	b.WriteString(doc.ExecutiveSummary)
	b.WriteString("\n\n")

	b.WriteString("## New Decisions\n\n")
	writeDecisionList(&b, doc.NewDecisions)

	b.WriteString("## Superseded Decisions\n\n")
	writeDecisionList(&b, doc.SupersededDecisions)

	b.WriteString("## New Stories\n\n")
	writeDecisionList(&b, doc.NewStories)

	b.WriteString("## Impact Analysis\n\n")
	if len(doc.ImpactAnalysis) == 0 {
		b.WriteString("none\n\n")
	} else {
		for _, f := range doc.ImpactAnalysis {
			fmt.Fprintf(&b, "- [%s] %s\n", f.Confidence, f.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Recommendations\n\n")
	if len(doc.Recommendations) == 0 {
		b.WriteString("none\n")
	} else {
		for _, r := range doc.Recommendations {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}

	return b.String()
}

func writeDecisionList(b *strings.Builder, decisions []store.Decision) {
	if len(decisions) == 0 {
		b.WriteString("none\n\n")
		return
	}
	for _, d := range decisions {
		fmt.Fprintf(b, "- [%s/%s] %s: %s\n", d.Phase, d.Category, d.Key, d.Value)
	}
	b.WriteString("\n")
}

const impactAnalysisTemplate = "You are assessing the impact of an amendment.\n\n" +
	"Amendment run: {{amendmentRunId}}\nParent run: {{parentRunId}}\n\n" +
	"Framing concept:\n{{framingConcept}}\n\n" +
	"Produce JSON with field: findings: [{confidence, description}], " +
	"where confidence is one of HIGH, MEDIUM, LOW."

// DispatchImpactAnalysis runs the optional impact-analysis dispatch named in
// spec §4.8, grouping findings by confidence.
func DispatchImpactAnalysis(ctx context.Context, disp *dispatch.Dispatcher, amendmentRunID, parentRunID, framingConcept string) ([]ImpactFinding, error) {
	sections := []prompt.Section{
		{Name: "amendmentRunId", Content: amendmentRunID, Priority: prompt.PriorityRequired},
		{Name: "parentRunId", Content: parentRunID, Priority: prompt.PriorityRequired},
		{Name: "framingConcept", Content: framingConcept, Priority: prompt.PriorityOptional},
	}
	rendered := prompt.Assemble(impactAnalysisTemplate, sections, 0)

	handle := disp.Dispatch(ctx, dispatch.Request{TaskType: "impact-analysis", Prompt: rendered.Prompt})
	result := handle.Result()
	if result.Status != dispatch.StatusCompleted {
		return nil, fmt.Errorf("amendment: impact-analysis dispatch failed")
	}
	return findingsFrom(result.Parsed), nil
}

func findingsFrom(parsed map[string]any) []ImpactFinding {
	raw, ok := parsed["findings"].([]any)
	if !ok {
		return nil
	}
	findings := make([]ImpactFinding, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		confidence, _ := m["confidence"].(string)
		description, _ := m["description"].(string)
		findings = append(findings, ImpactFinding{Confidence: Confidence(confidence), Description: description})
	}
	return findings
}
