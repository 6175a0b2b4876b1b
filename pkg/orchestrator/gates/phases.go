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

import "github.com/johnplanow/substrate/pkg/orchestrator"

// RegisterBuiltinPhases registers the four built-in phases in order (spec
// §4.4):
//
//   - analysis: no entry gates; exit requires a product-brief artifact.
//   - planning: entry requires product-brief; exit requires prd.
//   - solutioning: entry requires prd; exit requires architecture, stories,
//     and the readiness check.
//   - implementation: entry requires architecture, stories, and the
//     readiness check; exit requires implementation-complete.
//
// The readiness check is shared between solutioning's exit and
// implementation's entry per spec §4.5 rather than re-implemented.
func RegisterBuiltinPhases(o *orchestrator.Orchestrator) {
	readiness := SolutioningReadiness()

	o.RegisterPhase(orchestrator.PhaseDefinition{
		Name:        "analysis",
		Description: "Discovery and concept framing; produces a product brief.",
		ExitGates:   []orchestrator.Gate{RequiresArtifact("product-brief")},
	})

	o.RegisterPhase(orchestrator.PhaseDefinition{
		Name:        "planning",
		Description: "Turns the product brief into a PRD.",
		EntryGates:  []orchestrator.Gate{RequiresArtifact("product-brief")},
		ExitGates:   []orchestrator.Gate{RequiresArtifact("prd")},
	})

	o.RegisterPhase(orchestrator.PhaseDefinition{
		Name:        "solutioning",
		Description: "Architecture and story breakdown from the PRD.",
		EntryGates:  []orchestrator.Gate{RequiresArtifact("prd")},
		ExitGates: []orchestrator.Gate{
			RequiresArtifact("architecture"),
			RequiresArtifact("stories"),
			readiness,
		},
	})

	o.RegisterPhase(orchestrator.PhaseDefinition{
		Name:        "implementation",
		Description: "Story-by-story implementation against the architecture.",
		EntryGates: []orchestrator.Gate{
			RequiresArtifact("architecture"),
			RequiresArtifact("stories"),
			readiness,
		},
		ExitGates: []orchestrator.Gate{RequiresArtifact("implementation-complete")},
	})
}
