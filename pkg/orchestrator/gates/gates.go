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

// Package gates holds the built-in Gate constructors used by the four
// built-in phases registered via RegisterBuiltinPhases (spec §4.4, §4.5).
package gates

import (
	"fmt"
	"strings"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/orchestrator"
)

// storyCategory is the Decision category phase runners use to persist one
// row per story during the solutioning phase; key is the story's slug,
// value is its description text.
const storyCategory = "story"

// RequiresArtifact returns a Gate that passes once an artifact of
// artifactType has been registered anywhere in the run — gate checks
// reference an artifact's type only, not the phase that produced it
// (spec §4.4).
func RequiresArtifact(artifactType string) orchestrator.Gate {
	return orchestrator.Gate{
		Name: "requires-artifact:" + artifactType,
		Check: func(gctx orchestrator.GateContext) (bool, error) {
			a, err := gctx.Store.GetArtifactByType(gctx.RunID, artifactType)
			if err != nil {
				return false, err
			}
			return a != nil, nil
		},
		ErrorMessage: fmt.Sprintf("missing required artifact %q", artifactType),
	}
}

// SolutioningReadiness is the "readiness check" referenced by both the
// solutioning exit gate and the implementation entry gate (spec §4.5): for
// every persisted functional requirement, at least one story description
// must contain a meaningful keyword match — the operational proxy for
// "stories cover requirements."
func SolutioningReadiness() orchestrator.Gate {
	return orchestrator.Gate{
		Name:         "solutioning-readiness",
		Check:        solutioningReadinessCheck,
		ErrorMessage: "not every functional requirement has a matching story",
	}
}

func solutioningReadinessCheck(gctx orchestrator.GateContext) (bool, error) {
	reqs, err := gctx.Store.GetRequirementsByRun(gctx.RunID)
	if err != nil {
		return false, err
	}

	var functional []store.Requirement
	anyFunctional := false
	for _, r := range reqs {
		if r.Type != store.RequirementFunctional {
			continue
		}
		anyFunctional = true
		if r.Status != store.RequirementDropped {
			functional = append(functional, r)
		}
	}
	// Fails closed when the run has no functional requirement at all
	// (dropped ones included) rather than reading the empty set as
	// vacuously satisfying "every requirement has a story" -- zero means
	// analysis produced nothing to trace stories back to, which is worth a
	// stuck gate, not a free pass into solutioning. Dropped requirements
	// are excluded from the coverage check below.
	if !anyFunctional {
		return false, nil
	}

	decisions, err := gctx.Store.GetActiveDecisions(store.ActiveDecisionFilter{
		PipelineRunID: gctx.RunID,
		Phase:         "solutioning",
	})
	if err != nil {
		return false, err
	}

	var stories []string
	for _, d := range decisions {
		if d.Category == storyCategory {
			stories = append(stories, d.Value)
		}
	}
	if len(stories) == 0 {
		return false, nil
	}

	for _, req := range functional {
		if !coveredByAnyStory(req.Description, stories) {
			return false, nil
		}
	}
	return true, nil
}

// coveredByAnyStory reports whether any story's description shares at
// least one meaningful keyword (length > 3, stopwords excluded) with
// requirement.
func coveredByAnyStory(requirement string, stories []string) bool {
	keywords := keywordsOf(requirement)
	if len(keywords) == 0 {
		return false
	}
	for _, story := range stories {
		storyWords := wordSet(story)
		for kw := range keywords {
			if storyWords[kw] {
				return true
			}
		}
	}
	return false
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "with": true,
	"this": true, "from": true, "shall": true, "must": true, "should": true,
	"will": true, "their": true, "when": true, "then": true, "into": true,
	"able": true, "able to": true, "user": true, "users": true, "system": true,
}

func keywordsOf(text string) map[string]bool {
	words := wordSet(text)
	out := make(map[string]bool, len(words))
	for w := range words {
		if len(w) > 3 && !stopwords[w] {
			out[w] = true
		}
	}
	return out
}

func wordSet(text string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
