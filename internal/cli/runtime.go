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
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/johnplanow/substrate/internal/config"
	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/dispatch"
	"github.com/johnplanow/substrate/pkg/dispatch/agent"
	"github.com/johnplanow/substrate/pkg/dispatch/agent/anthropicapi"
	"github.com/johnplanow/substrate/pkg/dispatch/agent/subprocess"
	"github.com/johnplanow/substrate/pkg/eventbus"
	"github.com/johnplanow/substrate/pkg/orchestrator"
	"github.com/johnplanow/substrate/pkg/orchestrator/gates"
	substraterr "github.com/johnplanow/substrate/pkg/shared/errors"
)

// app bundles the components every pipeline-touching command needs. It is
// built fresh per command invocation -- substrate is a CLI, not a daemon,
// so there is no case for sharing one across commands in a process.
type app struct {
	cfg    *config.Config
	store  *store.Store
	bus    *eventbus.Bus
	logger *logrus.Logger
}

// configPath resolves --config, defaulting to <project-root>/.substrate/config.yaml.
func configPath() string {
	if flagConfigPath != "" {
		return flagConfigPath
	}
	return filepath.Join(flagProjectRoot, ".substrate", "config.yaml")
}

// storePath resolves cfg.Store.DBPath relative to --project-root when it
// isn't already absolute.
func storePath(cfg *config.Config) string {
	if filepath.IsAbs(cfg.Store.DBPath) {
		return cfg.Store.DBPath
	}
	return filepath.Join(flagProjectRoot, cfg.Store.DBPath)
}

// newApp loads config (falling back to defaults when no file has been
// written yet -- e.g. before `auto init`) and opens the decision store.
func newApp() (*app, error) {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			return nil, substraterr.NewUsageError("load config", err)
		}
	}

	s, err := store.Open(storePath(cfg))
	if err != nil {
		return nil, substraterr.FailedTo("open decision store", err)
	}

	return &app{
		cfg:    cfg,
		store:  s,
		bus:    eventbus.New(),
		logger: logrus.StandardLogger(),
	}, nil
}

func (a *app) Close() {
	a.store.Close()
}

// buildDispatcher constructs a Dispatcher configured per a.cfg.Dispatch and
// scoped to (runID, phase), registering the configured agent provider under
// both "default" and its own name so step specs that leave Agent unset
// resolve through dispatch.Config.DefaultAgent.
func (a *app) buildDispatcher(runID, phase string) (*dispatch.Dispatcher, error) {
	provider, err := a.agentProvider()
	if err != nil {
		return nil, err
	}

	d := dispatch.New(dispatch.Config{
		MaxConcurrency: a.cfg.Orchestrator.MaxConcurrency,
		RetryCount:     a.cfg.Dispatch.RetryCount,
	}, a.bus, a.store)
	d.RegisterProvider("default", provider)
	d.RegisterProvider(a.cfg.Dispatch.AgentProvider, provider)
	return d.WithRunContext(runID, phase), nil
}

func (a *app) agentProvider() (agent.Provider, error) {
	switch a.cfg.Dispatch.AgentProvider {
	case "", "subprocess":
		binary := os.Getenv("SUBSTRATE_AGENT_BINARY")
		if binary == "" {
			binary = "claude"
		}
		return subprocess.New(binary), nil
	case "anthropicapi":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, substraterr.NewUsageError("build dispatcher", fmt.Errorf("ANTHROPIC_API_KEY is required for dispatch.agent_provider: anthropicapi"))
		}
		return anthropicapi.New(apiKey), nil
	default:
		return nil, substraterr.NewUsageError("build dispatcher", fmt.Errorf("unknown dispatch.agent_provider %q", a.cfg.Dispatch.AgentProvider))
	}
}

// buildOrchestrator constructs a Phase Orchestrator with the four built-in
// phases registered (spec §4.4), wired to a's own event bus so phase
// transitions are visible to `--events` and the status HTTP surface.
func (a *app) buildOrchestrator() *orchestrator.Orchestrator {
	o := orchestrator.New(a.store, a.bus, a.logger)
	gates.RegisterBuiltinPhases(o)
	return o
}

// newOrchestratorFor builds a Phase Orchestrator for s alone, for
// read-only commands (status) that have no need for a's event bus.
func newOrchestratorFor(s *store.Store) *orchestrator.Orchestrator {
	o := orchestrator.New(s, eventbus.New(), nil)
	gates.RegisterBuiltinPhases(o)
	return o
}
