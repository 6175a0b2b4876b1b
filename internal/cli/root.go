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

// Package cli is Substrate's command dispatcher: argument parsing and help
// text only (SPEC_FULL.md §1 lists this as an external collaborator to the
// control plane it wires together). It never implements pipeline logic
// itself — every command here constructs the in-scope components
// (internal/store, pkg/eventbus, pkg/dispatch, pkg/orchestrator,
// pkg/phaserunner, pkg/implorchestrator, pkg/amendment) and calls them.
package cli

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	substraterr "github.com/johnplanow/substrate/pkg/shared/errors"
)

// Global flag values accessible to every subcommand.
var (
	flagProjectRoot  string
	flagConfigPath   string
	flagOutputFormat string
	flagVerbose      bool
	flagQuiet        bool
)

var rootCmd = &cobra.Command{
	Use:   "auto",
	Short: "Substrate: multi-phase AI coding agent orchestration",
	Long: `auto drives software through a multi-phase methodology pipeline --
analysis, planning, solutioning, implementation -- by orchestrating
external AI coding agents as sub-processes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if v := os.Getenv("SUBSTRATE_PROJECT_ROOT"); !cmd.Flags().Changed("project-root") && v != "" {
			flagProjectRoot = v
		}
		if !cmd.Flags().Changed("verbose") && os.Getenv("SUBSTRATE_VERBOSE") != "" {
			flagVerbose = true
		}
		if !cmd.Flags().Changed("quiet") && os.Getenv("SUBSTRATE_QUIET") != "" {
			flagQuiet = true
		}
		setupLogging(flagVerbose, flagQuiet)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProjectRoot, "project-root", ".", "Project root directory (env: SUBSTRATE_PROJECT_ROOT)")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Path to substrate.yaml (default: <project-root>/.substrate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagOutputFormat, "output-format", "human", "Output format: human or json")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose (debug) logging (env: SUBSTRATE_VERBOSE)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress all output except errors (env: SUBSTRATE_QUIET)")
}

// setupLogging configures the process-wide logrus logger per
// SPEC_FULL.md §4.11's "logging (new)" section: level from --verbose/
// --quiet; JSON format when --output-format=json, text otherwise.
func setupLogging(verbose, quiet bool) {
	logger := logrus.StandardLogger()
	switch {
	case quiet:
		logger.SetLevel(logrus.ErrorLevel)
	case verbose:
		logger.SetLevel(logrus.DebugLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	if flagOutputFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// Execute runs the root command and returns the process exit code, mapping
// a pkg/shared/errors.UsageError to 2 and any other error to 1 (spec
// §6.1's exit-code taxonomy; 4 is returned directly by commands that detect
// "all retried tasks failed" themselves).
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, err)

	var ec *exitCoder
	if stderrors.As(err, &ec) {
		return ec.code
	}
	if !substraterr.IsRecoverable(err) {
		return 2
	}
	return 1
}

// exitCoder lets a command signal a specific exit code (4, "all retried
// tasks failed") without Execute needing to know about every command's
// internal failure modes.
type exitCoder struct {
	code int
	err  error
}

func (e *exitCoder) Error() string { return e.err.Error() }
func (e *exitCoder) Unwrap() error { return e.err }

// allRetriesFailedErr wraps err as exit code 4.
func allRetriesFailedErr(err error) error { return &exitCoder{code: 4, err: err} }
