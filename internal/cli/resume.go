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
	"fmt"

	"github.com/spf13/cobra"

	substraterr "github.com/johnplanow/substrate/pkg/shared/errors"
)

var resumeFlagRunID string

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume the latest or named run, then continue driving it to completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd)
		},
	}
	cmd.Flags().StringVar(&resumeFlagRunID, "run-id", "", "Run id to resume (default: the most recent primary run)")
	return cmd
}

func init() {
	rootCmd.AddCommand(newResumeCmd())
}

// runResume re-synchronizes a run's current_phase with its durable
// artifact state (pkg/orchestrator.ResumeRun), then continues driving it
// the same way `auto run` does (spec §6.1: "resumes the latest or named
// run").
func runResume(cmd *cobra.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	runID := resumeFlagRunID
	if runID == "" {
		run, err := a.store.GetLatestPipelineRun()
		if err != nil {
			return substraterr.NewUsageError("resolve run", err)
		}
		runID = run.ID
	}

	o := a.buildOrchestrator()
	rs, err := o.ResumeRun(runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "resumed run %s at phase %s (status %s)\n", rs.RunID, rs.CurrentPhase, rs.Status)

	stopSupervision, err := setupSupervision(a, o, runID)
	if err != nil {
		return err
	}
	defer stopSupervision()

	return driveRun(cmd, a, o, runID, nil, "")
}
