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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/johnplanow/substrate/internal/store"
	substraterr "github.com/johnplanow/substrate/pkg/shared/errors"
)

var builtinPhaseNames = []string{"analysis", "planning", "solutioning", "implementation"}

// phaseStatus is one entry of the status output's "phases" map (spec
// §6.1: "status ∈ complete|running|pending").
type phaseStatus struct {
	Status string `json:"status"`
}

// tokenTotals is the status output's "total_tokens" object.
type tokenTotals struct {
	Input  int64   `json:"input"`
	Output int64   `json:"output"`
	Cost   float64 `json:"cost_usd"`
}

// statusView is `auto status`'s JSON shape, verbatim per spec §6.1.
type statusView struct {
	RunID          string                 `json:"run_id"`
	CurrentPhase   string                 `json:"current_phase"`
	Phases         map[string]phaseStatus `json:"phases"`
	TotalTokens    tokenTotals            `json:"total_tokens"`
	DecisionsCount int                    `json:"decisions_count"`
	StoriesCount   int                    `json:"stories_count"`
}

var statusFlagRunID string

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a pipeline run's current phase, decisions, and token usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
	cmd.Flags().StringVar(&statusFlagRunID, "run-id", "", "Run id to report on (default: the most recent primary run)")
	return cmd
}

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func runStatus(cmd *cobra.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	runID := statusFlagRunID
	if runID == "" {
		run, err := a.store.GetLatestPipelineRun()
		if err != nil {
			return substraterr.NewUsageError("resolve run", err)
		}
		runID = run.ID
	}

	view, err := buildStatusView(a.store, runID)
	if err != nil {
		return err
	}

	if flagOutputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run:       %s\n", view.RunID)
	fmt.Fprintf(out, "phase:     %s\n", view.CurrentPhase)
	for _, name := range builtinPhaseNames {
		fmt.Fprintf(out, "  %-14s %s\n", name, view.Phases[name].Status)
	}
	fmt.Fprintf(out, "tokens:    %d in / %d out ($%.4f)\n", view.TotalTokens.Input, view.TotalTokens.Output, view.TotalTokens.Cost)
	fmt.Fprintf(out, "decisions: %d\n", view.DecisionsCount)
	fmt.Fprintf(out, "stories:   %d\n", view.StoriesCount)
	return nil
}

func buildStatusView(s *store.Store, runID string) (statusView, error) {
	run, err := s.GetPipelineRun(runID)
	if err != nil {
		return statusView{}, substraterr.NewUsageError("resolve run", err)
	}

	o := newOrchestratorFor(s)
	rs, err := o.GetRunStatus(runID)
	if err != nil {
		return statusView{}, err
	}

	completed := make(map[string]bool, len(rs.CompletedPhases))
	for _, p := range rs.CompletedPhases {
		completed[p] = true
	}

	phases := make(map[string]phaseStatus, len(builtinPhaseNames))
	for _, name := range builtinPhaseNames {
		switch {
		case completed[name]:
			phases[name] = phaseStatus{Status: "complete"}
		case name == run.CurrentPhase:
			phases[name] = phaseStatus{Status: "running"}
		default:
			phases[name] = phaseStatus{Status: "pending"}
		}
	}

	input, output, cost, err := s.GetTokenUsageTotals(runID)
	if err != nil {
		return statusView{}, err
	}

	decisions, err := s.GetActiveDecisions(store.ActiveDecisionFilter{PipelineRunID: runID})
	if err != nil {
		return statusView{}, err
	}
	stories := 0
	for _, d := range decisions {
		if d.Category == "story" {
			stories++
		}
	}

	return statusView{
		RunID:          runID,
		CurrentPhase:   run.CurrentPhase,
		Phases:         phases,
		TotalTokens:    tokenTotals{Input: input, Output: output, Cost: cost},
		DecisionsCount: len(decisions),
		StoriesCount:   stories,
	}, nil
}
