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
)

// Peripheral commands named by spec §6.1 ("interfaces only") but scoped
// out of this build: worktree primitives and the metrics sub-db are
// explicit Non-goals (spec §1). Each prints that it is not implemented in
// this build and exits 0, so scripts and agent callers can probe for the
// command's existence without it silently doing nothing.

func init() {
	rootCmd.AddCommand(
		newPeripheralCmd("log", "Show dispatch and phase transition logs for a run", "--run-id"),
		newPeripheralCmd("retry", "Re-dispatch a failed or escalated story", "<storyKey>"),
		newPeripheralCmd("worktrees", "List or prune git worktrees used by the dispatcher", ""),
		newPeripheralCmd("merge", "Merge a completed story's worktree back to the run's branch", "<storyKey>"),
		newPlanCmd(),
	)
}

func newPeripheralCmd(use, short, argsHint string) *cobra.Command {
	fullUse := use
	if argsHint != "" {
		fullUse = use + " " + argsHint
	}
	return &cobra.Command{
		Use:   fullUse,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "auto %s: not implemented in this build (worktree primitives are out of scope)\n", use)
			return nil
		},
	}
}

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect and manage a run's planning-phase plan document",
	}
	for _, sub := range []string{"validate", "list", "show", "refine", "diff", "rollback"} {
		sub := sub
		cmd.AddCommand(&cobra.Command{
			Use:   sub,
			Short: fmt.Sprintf("%s the plan document", sub),
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "auto plan %s: not implemented in this build\n", sub)
				return nil
			},
		})
	}
	return cmd
}
