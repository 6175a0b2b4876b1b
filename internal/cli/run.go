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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/eventbus"
	"github.com/johnplanow/substrate/pkg/implorchestrator"
	"github.com/johnplanow/substrate/pkg/orchestrator"
	"github.com/johnplanow/substrate/pkg/phaserunner"
	substraterr "github.com/johnplanow/substrate/pkg/shared/errors"
)

var runFlags struct {
	Events      bool
	Stories     string
	Pack        string
	From        string
	StopAfter   string
	Concurrency int
	HelpAgent   bool
	Concept     string
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [concept]",
		Short: "Run the primary pipeline from concept through implementation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if runFlags.HelpAgent {
				fmt.Fprintln(cmd.OutOrStdout(), helpAgentText)
				return nil
			}
			if len(args) == 1 {
				runFlags.Concept = args[0]
			}
			return runRun(cmd)
		},
	}
	cmd.Flags().BoolVar(&runFlags.Events, "events", false, "Switch stdout to newline-delimited JSON events")
	cmd.Flags().StringVar(&runFlags.Stories, "stories", "", "Comma-separated story keys to implement (implementation phase only)")
	cmd.Flags().StringVar(&runFlags.Pack, "pack", "default", "Methodology pack to use")
	cmd.Flags().StringVar(&runFlags.From, "from", "", "Phase to start from (default: the first registered phase)")
	cmd.Flags().StringVar(&runFlags.StopAfter, "stop-after", "", "Stop once this phase completes")
	cmd.Flags().IntVar(&runFlags.Concurrency, "concurrency", 0, "Override orchestrator.max_concurrency for this run")
	cmd.Flags().BoolVar(&runFlags.HelpAgent, "help-agent", false, "Print a machine-readable summary of this command for an agent caller")
	return cmd
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}

const helpAgentText = `auto run [concept] [--events] [--stories=<keys>] [--pack=<name>] ` +
	`[--from=<phase>] [--stop-after=<phase>] [--concurrency=<n>] [--output-format={human,json}]
Phases, in order: analysis, planning, solutioning, implementation.
Exit codes: 0 success, 1 partial failure, 2 usage error, 4 all retried tasks failed.`

func runRun(cmd *cobra.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if runFlags.Concurrency > 0 {
		a.cfg.Orchestrator.MaxConcurrency = runFlags.Concurrency
	}

	o := a.buildOrchestrator()

	var unsub func()
	if runFlags.Events {
		unsub = streamEventsToStdout(cmd, a)
		defer unsub()
	}

	runID, err := o.StartRun(runFlags.Concept, runFlags.From)
	if err != nil {
		return substraterr.NewUsageError("start run", err)
	}
	if !runFlags.Events {
		fmt.Fprintf(cmd.OutOrStdout(), "started run %s\n", runID)
	}

	stopSupervision, err := setupSupervision(a, o, runID)
	if err != nil {
		return err
	}
	defer stopSupervision()

	var storyKeys []string
	if runFlags.Stories != "" {
		for _, k := range strings.Split(runFlags.Stories, ",") {
			if k = strings.TrimSpace(k); k != "" {
				storyKeys = append(storyKeys, k)
			}
		}
	}

	return driveRun(cmd, a, o, runID, storyKeys, runFlags.StopAfter)
}

// driveRun runs the phase runner for runID's current phase,
// advances, and repeats until the run completes or --stop-after is
// satisfied (spec §4.4's phase loop, driven from the CLI since the Phase
// Orchestrator itself only evaluates one transition per call).
func driveRun(cmd *cobra.Command, a *app, o *orchestrator.Orchestrator, runID string, storyKeys []string, stopAfter string) error {
	ctx := context.Background()

	for i := 0; i < len(builtinPhaseNames)+1; i++ {
		run, err := a.store.GetPipelineRun(runID)
		if err != nil {
			return err
		}
		if run.Status == store.RunStatusCompleted {
			if !runFlags.Events {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s complete\n", runID)
			}
			return nil
		}

		phase := run.CurrentPhase
		if err := runPhaseStep(ctx, a, runID, phase, storyKeys); err != nil {
			return err
		}

		result, err := o.AdvancePhase(runID)
		if err != nil {
			return err
		}
		if !result.Advanced {
			return substraterr.FailedTo("advance phase "+phase, fmt.Errorf("%v", result.GateFailures))
		}
		if !runFlags.Events {
			fmt.Fprintf(cmd.OutOrStdout(), "phase %s complete\n", phase)
		}
		if stopAfter != "" && phase == stopAfter {
			return nil
		}
	}
	return substraterr.FailedTo("drive run", fmt.Errorf("run %s did not reach completion within the phase count bound", runID))
}

// runPhaseStep executes one phase's work: a data-driven phaserunner.Config
// for analysis/planning/solutioning, or the Implementation Orchestrator for
// implementation (pkg/phaserunner's doc comment: "the implementation phase
// ... does not fit this single-sequence-of-dispatches model").
func runPhaseStep(ctx context.Context, a *app, runID, phase string, storyKeys []string) error {
	if phase == "implementation" {
		return runImplementationPhase(ctx, a, runID, storyKeys)
	}

	cfg, err := phaseConfig(phase)
	if err != nil {
		return err
	}

	disp, err := a.buildDispatcher(runID, phase)
	if err != nil {
		return err
	}

	result, err := phaserunner.Run(ctx, cfg, phaserunner.Deps{Store: a.store, Dispatcher: disp}, runID)
	if err != nil {
		return err
	}
	if result.Result != "success" {
		return substraterr.FailedTo(phase, fmt.Errorf("%s", result.Error))
	}
	return nil
}

func phaseConfig(phase string) (phaserunner.Config, error) {
	switch phase {
	case "analysis":
		return phaserunner.AnalysisConfig(), nil
	case "planning":
		return phaserunner.PlanningConfig(), nil
	case "solutioning":
		return phaserunner.SolutioningConfig(), nil
	default:
		return phaserunner.Config{}, substraterr.NewUsageError("resolve phase", fmt.Errorf("unknown phase %q", phase))
	}
}

// runImplementationPhase drives every story to completion, then registers
// the implementation-complete artifact the implementation phase's exit
// gate requires (pkg/orchestrator/gates.RegisterBuiltinPhases) -- the
// Implementation Orchestrator itself knows nothing about artifacts, only
// stories, so this registration is the CLI driver's responsibility.
func runImplementationPhase(ctx context.Context, a *app, runID string, storyKeys []string) error {
	if len(storyKeys) == 0 {
		var err error
		storyKeys, err = storyKeysFromDecisions(a.store, runID)
		if err != nil {
			return err
		}
	}

	disp, err := a.buildDispatcher(runID, "implementation")
	if err != nil {
		return err
	}

	impl := implorchestrator.New(implorchestrator.Config{
		MaxConcurrency:  a.cfg.Orchestrator.MaxConcurrency,
		MaxReviewCycles: a.cfg.Orchestrator.MaxReviewCycles,
	}, implorchestrator.Deps{
		Store:      a.store,
		Dispatcher: disp,
		Bus:        a.bus,
		Logger:     a.logger,
	})

	status, err := impl.Run(ctx, runID, storyKeys)
	if err != nil {
		return err
	}

	var failed, escalated []string
	for key, s := range status.Stories {
		switch s.State {
		case implorchestrator.StoryFailed:
			failed = append(failed, key)
		case implorchestrator.StoryEscalated:
			escalated = append(escalated, key)
		}
	}
	if len(failed) == len(status.Stories) && len(status.Stories) > 0 {
		return allRetriesFailedErr(fmt.Errorf("all %d stories failed", len(failed)))
	}
	if len(failed) > 0 || len(escalated) > 0 {
		return substraterr.FailedTo("implementation", fmt.Errorf("failed=%v escalated=%v", failed, escalated))
	}

	summary := fmt.Sprintf("%d stories implemented", len(status.Stories))
	_, err = a.store.RegisterArtifact(store.RegisterArtifactInput{
		PipelineRunID: runID,
		Phase:         "implementation",
		Type:          "implementation-complete",
		Path:          "decision://" + runID + "/implementation/implementation-complete",
		Summary:       &summary,
	})
	return err
}

// storyKeysFromDecisions reads the story decisions solutioning persisted
// (pkg/phaserunner.persistStories: Category "story", Key the story slug).
func storyKeysFromDecisions(s *store.Store, runID string) ([]string, error) {
	decisions, err := s.GetActiveDecisions(store.ActiveDecisionFilter{PipelineRunID: runID, Phase: "solutioning"})
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, d := range decisions {
		if d.Category == "story" {
			keys = append(keys, d.Key)
		}
	}
	return keys, nil
}

// streamEventsToStdout subscribes to every event name pkg/eventbus's
// events.go defines and writes one JSON line per event to stdout (spec
// §6.3: "Event stream (NDJSON on stdout when --events)"). Returns an
// unsubscribe function.
func streamEventsToStdout(cmd *cobra.Command, a *app) func() {
	names := []string{
		eventbus.PipelineStart, eventbus.PipelineComplete, eventbus.PipelineHeartbeat,
		eventbus.StoryPhase, eventbus.StoryDone, eventbus.StoryEscalation, eventbus.StoryWarn, eventbus.StoryLog, eventbus.StoryStall,
		eventbus.WorktreeCreated, eventbus.WorktreeMerged, eventbus.WorktreeConflict, eventbus.WorktreeRemoved, eventbus.TaskReady,
		eventbus.OrchestratorStoryEscalated, eventbus.OrchestratorComplete,
		eventbus.SupervisorKill, eventbus.SupervisorRestart, eventbus.SupervisorAbort, eventbus.SupervisorSummary,
		eventbus.DispatchStart, eventbus.DispatchComplete,
	}
	tokens := make([]int, len(names))
	enc := json.NewEncoder(cmd.OutOrStdout())
	for i, name := range names {
		name := name
		tokens[i] = a.bus.Subscribe(name, func(p eventbus.Payload) {
			line := map[string]any{"event": name}
			for k, v := range p {
				line[k] = v
			}
			_ = enc.Encode(line)
		})
	}
	return func() {
		for i, name := range names {
			a.bus.Off(name, tokens[i])
		}
	}
}
