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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/amendment"
	"github.com/johnplanow/substrate/pkg/orchestrator"
	"github.com/johnplanow/substrate/pkg/phaserunner"
	substraterr "github.com/johnplanow/substrate/pkg/shared/errors"
)

var amendFlags struct {
	Concept     string
	PhaseFilter string
	Impact      bool
}

func newAmendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amend <parentRunId>",
		Short: "Re-run a completed pipeline under a new framing concept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAmend(cmd, args[0])
		},
	}
	cmd.Flags().StringVar(&amendFlags.Concept, "concept", "", "New framing concept for the amendment")
	cmd.Flags().StringVar(&amendFlags.PhaseFilter, "phase", "", "Restrict parent context to a single phase (default: every phase)")
	cmd.Flags().BoolVar(&amendFlags.Impact, "impact", false, "Dispatch an impact-analysis pass before generating the delta document")
	return cmd
}

func init() {
	rootCmd.AddCommand(newAmendCmd())
}

// runAmend drives `auto amend <parentRunId>` end to end (spec §4.8 /
// §6.1): create the child run, drive its phases with the Amendment Context
// Handler wired in and a supersession writeback after each one, then emit
// the delta document.
func runAmend(cmd *cobra.Command, parentRunID string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	opts := amendment.Options{FramingConcept: amendFlags.Concept, PhaseFilter: amendFlags.PhaseFilter}

	runID, err := amendment.CreateAmendmentRun(a.store, parentRunID, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "started amendment run %s (parent %s)\n", runID, parentRunID)

	h, err := amendment.NewHandler(a.store, parentRunID, opts)
	if err != nil {
		return err
	}

	o := a.buildOrchestrator()
	if err := driveAmendmentRun(cmd, a, o, runID, h); err != nil {
		return err
	}

	ctx := context.Background()
	var impact []amendment.ImpactFinding
	if amendFlags.Impact {
		disp, err := a.buildDispatcher(runID, "amendment")
		if err != nil {
			return err
		}
		impact, err = amendment.DispatchImpactAnalysis(ctx, disp, runID, parentRunID, amendFlags.Concept)
		if err != nil {
			return err
		}
	}

	doc, err := amendment.GenerateDeltaDocument(a.store, h, runID, impact, nil)
	if err != nil {
		return err
	}
	if err := amendment.ValidateDeltaDocument(doc); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), amendment.FormatDeltaDocument(doc))
	return nil
}

// driveAmendmentRun mirrors driveRun's phase loop but threads h into
// phaserunner.Deps.Amendment and calls amendment.WritebackPhase after each
// phase completes, so parent decisions the amendment supersedes are marked
// before the next phase reads active decisions.
func driveAmendmentRun(cmd *cobra.Command, a *app, o *orchestrator.Orchestrator, runID string, h *amendment.Handler) error {
	ctx := context.Background()

	for i := 0; i < len(builtinPhaseNames)+1; i++ {
		run, err := a.store.GetPipelineRun(runID)
		if err != nil {
			return err
		}
		if run.Status == store.RunStatusCompleted {
			fmt.Fprintf(cmd.OutOrStdout(), "amendment run %s complete\n", runID)
			return nil
		}

		phase := run.CurrentPhase
		if err := runAmendmentPhaseStep(ctx, a, h, runID, phase); err != nil {
			return err
		}
		if err := amendment.WritebackPhase(a.store, h, runID, phase, a.logger); err != nil {
			return err
		}

		result, err := o.AdvancePhase(runID)
		if err != nil {
			return err
		}
		if !result.Advanced {
			return substraterr.FailedTo("advance amendment phase "+phase, fmt.Errorf("%v", result.GateFailures))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "amendment phase %s complete\n", phase)
	}
	return substraterr.FailedTo("drive amendment run", fmt.Errorf("run %s did not reach completion within the phase count bound", runID))
}

// runAmendmentPhaseStep is runPhaseStep with the Amendment Context Handler
// wired into phaserunner.Deps; the implementation phase has no amendment
// context concept (it consumes stories, not prompted decisions), so it
// delegates straight to runImplementationPhase.
func runAmendmentPhaseStep(ctx context.Context, a *app, h *amendment.Handler, runID, phase string) error {
	if phase == "implementation" {
		return runImplementationPhase(ctx, a, runID, nil)
	}

	cfg, err := phaseConfig(phase)
	if err != nil {
		return err
	}

	disp, err := a.buildDispatcher(runID, phase)
	if err != nil {
		return err
	}

	result, err := phaserunner.Run(ctx, cfg, phaserunner.Deps{Store: a.store, Dispatcher: disp, Amendment: h}, runID)
	if err != nil {
		return err
	}
	if result.Result != "success" {
		return substraterr.FailedTo(phase, fmt.Errorf("%s", result.Error))
	}
	return nil
}
