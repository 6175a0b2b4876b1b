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

package phaserunner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/prompt"
)

const (
	analysisTemplate = "You are analyzing a new product concept.\n\n" +
		"Concept:\n{{concept}}\n\n" +
		"Prior decisions:\n{{priorDecisions}}\n\n" +
		"Amendment context:\n{{amendmentContext}}\n\n" +
		"Produce a product brief as JSON with fields: summary, goals, " +
		"functionalRequirements (array of {description, priority}), " +
		"nonFunctionalRequirements (array of {description, priority})."

	planningTemplate = "You are turning a product brief into a PRD.\n\n" +
		"Concept:\n{{concept}}\n\n" +
		"Prior decisions:\n{{priorDecisions}}\n\n" +
		"Amendment context:\n{{amendmentContext}}\n\n" +
		"Produce a PRD as JSON with fields: overview, scope, milestones, risks."

	architectureTemplate = "You are producing the architecture for a PRD.\n\n" +
		"Concept:\n{{concept}}\n\n" +
		"Prior decisions:\n{{priorDecisions}}\n\n" +
		"Amendment context:\n{{amendmentContext}}\n\n" +
		"Produce an architecture document as JSON with fields: components, dataFlow, decisions."

	storiesTemplate = "You are breaking an architecture down into implementation stories.\n\n" +
		"Concept:\n{{concept}}\n\n" +
		"Prior decisions:\n{{priorDecisions}}\n\n" +
		"Amendment context:\n{{amendmentContext}}\n\n" +
		"Produce a JSON object with a \"stories\" array of {key, epicId, description}."
)

// commonSections builds the three sections every built-in phase template
// references: concept, prior decisions, and amendment context.
func commonSections(in Inputs) []prompt.Section {
	return []prompt.Section{
		{Name: "concept", Content: in.Concept, Priority: prompt.PriorityRequired},
		{Name: "priorDecisions", Content: formatDecisions(in.ActiveDecisions), Priority: prompt.PriorityImportant},
		{Name: "amendmentContext", Content: amendmentOrNone(in.AmendmentContext), Priority: prompt.PriorityImportant},
	}
}

func amendmentOrNone(s string) string {
	if s == "" {
		return "none (primary run)"
	}
	return s
}

// formatDecisions renders active decisions as "phase/category/key: value"
// lines, one per row, for inclusion in a prompt's prior-decisions section.
func formatDecisions(decisions []store.Decision) string {
	if len(decisions) == 0 {
		return "none"
	}
	var b strings.Builder
	for _, d := range decisions {
		fmt.Fprintf(&b, "%s/%s/%s: %s\n", d.Phase, d.Category, d.Key, d.Value)
	}
	return b.String()
}

// AnalysisConfig is the analysis phase runner: no required prior artifact,
// one dispatch producing the product-brief artifact (spec §4.4's built-in
// phase table). The brief's functionalRequirements/nonFunctionalRequirements
// arrays are also persisted as requirements rows, since the
// solutioning-readiness gate (pkg/orchestrator/gates) matches stories
// against them.
func AnalysisConfig() Config {
	return Config{
		Name: "analysis",
		Steps: []StepSpec{
			{
				TaskType:            "analysis",
				Template:            analysisTemplate,
				Sections:            commonSections,
				DecisionCategory:    "product-brief",
				PersistRequirements: persistRequirements,
				ArtifactType:        "product-brief",
			},
		},
	}
}

// persistRequirements turns the product brief's {"functionalRequirements":
// [{description, priority}], "nonFunctionalRequirements": [...]} fields into
// requirement writes. An item with no recognizable priority defaults to
// "must" — the brief is assumed non-optional unless it says otherwise.
func persistRequirements(parsed map[string]any) []RequirementWrite {
	var writes []RequirementWrite
	writes = append(writes, requirementsOfType(parsed, "functionalRequirements", store.RequirementFunctional)...)
	writes = append(writes, requirementsOfType(parsed, "nonFunctionalRequirements", store.RequirementNonFunctional)...)
	return writes
}

func requirementsOfType(parsed map[string]any, field string, kind store.RequirementType) []RequirementWrite {
	raw, ok := parsed[field].([]any)
	if !ok {
		return nil
	}
	writes := make([]RequirementWrite, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		description, _ := m["description"].(string)
		if description == "" {
			continue
		}
		priority := store.RequirementPriority(strings.ToLower(fmt.Sprint(m["priority"])))
		switch priority {
		case store.PriorityMust, store.PriorityShould, store.PriorityCould, store.PriorityWont:
		default:
			priority = store.PriorityMust
		}
		writes = append(writes, RequirementWrite{Type: kind, Description: description, Priority: priority})
	}
	return writes
}

// PlanningConfig is the planning phase runner: requires product-brief,
// produces prd.
func PlanningConfig() Config {
	return Config{
		Name:                 "planning",
		RequiredArtifactType: "product-brief",
		MissingInputError:    "missing_product_brief",
		Steps: []StepSpec{
			{
				TaskType:         "planning",
				Template:         planningTemplate,
				Sections:         commonSections,
				DecisionCategory: "prd",
				ArtifactType:     "prd",
			},
		},
	}
}

// SolutioningConfig is the solutioning phase runner: requires prd, produces
// both architecture and stories artifacts across two sequential dispatches.
// Stories are persisted one decision per story (category "story") so the
// readiness-check gate (pkg/orchestrator/gates) can keyword-match them
// against functional requirements.
func SolutioningConfig() Config {
	return Config{
		Name:                 "solutioning",
		RequiredArtifactType: "prd",
		MissingInputError:    "missing_prd",
		Steps: []StepSpec{
			{
				TaskType:         "architecture",
				Template:         architectureTemplate,
				Sections:         commonSections,
				DecisionCategory: "architecture",
				ArtifactType:     "architecture",
			},
			{
				TaskType:     "stories",
				Template:     storiesTemplate,
				Sections:     commonSections,
				Persist:      persistStories,
				ArtifactType: "stories",
			},
		},
	}
}

// persistStories turns {"stories": [{"key", "epicId", "description"}, ...]}
// into one decision per story, with Value set to the story's description
// text — the readiness-check gate keyword-matches against this field
// directly (spec §4.5), not against the full story JSON.
func persistStories(parsed map[string]any) []DecisionWrite {
	raw, ok := parsed["stories"].([]any)
	if !ok {
		return nil
	}
	writes := make([]DecisionWrite, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, _ := m["key"].(string)
		if key == "" {
			key = fmt.Sprintf("story-%d", i+1)
		}
		description, _ := m["description"].(string)
		if description == "" {
			full, _ := json.Marshal(m)
			description = string(full)
		}
		writes = append(writes, DecisionWrite{Category: "story", Key: key, Value: description})
	}
	return writes
}
