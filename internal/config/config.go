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

// Package config loads Substrate's YAML settings file, applies defaults for
// missing values, validates ranges, and supports hot-reload of the subset of
// fields safe to change on a running pipeline (§4.10 of SPEC_FULL.md).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Orchestrator holds the Implementation Orchestrator's tunables.
type Orchestrator struct {
	MaxConcurrency  int `yaml:"max_concurrency"`
	MaxReviewCycles int `yaml:"max_review_cycles"`
}

// Supervisor holds the watchdog's tunables.
type Supervisor struct {
	Enabled        bool          `yaml:"enabled"`
	StallThreshold time.Duration `yaml:"stall_threshold"`
	MaxRestarts    int           `yaml:"max_restarts"`
	SlackWebhook   string        `yaml:"slack_webhook,omitempty"`
	// RedisAddr is the run-state mirror's backing Redis instance (spec
	// §4.9's supplement). Only read when Enabled is true.
	RedisAddr string `yaml:"redis_addr"`
}

// Status holds the optional Status HTTP surface's tunables (spec §4.12).
type Status struct {
	// Addr is the listen address for `auto serve` when its --status-addr
	// flag is not given. Empty means `auto serve` falls back to :8090.
	Addr string `yaml:"addr,omitempty"`
}

// Store holds the Decision Store's location.
type Store struct {
	DBPath string `yaml:"db_path"`
}

// Dispatch holds the Dispatcher's agent-provider selection.
type Dispatch struct {
	AgentProvider string `yaml:"agent_provider"`
	RetryCount    int    `yaml:"retry_count"`
	TimeoutSec    int    `yaml:"timeout_seconds"`
}

// Logging controls the shared logger's verbosity and output shape.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is Substrate's root settings document.
type Config struct {
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Supervisor   Supervisor   `yaml:"supervisor"`
	Store        Store        `yaml:"store"`
	Dispatch     Dispatch     `yaml:"dispatch"`
	Logging      Logging      `yaml:"logging"`
	Status       Status       `yaml:"status"`
}

// DefaultConfig returns the settings used for any field a loaded document
// leaves unset.
func DefaultConfig() *Config {
	return &Config{
		Orchestrator: Orchestrator{
			MaxConcurrency:  3,
			MaxReviewCycles: 2,
		},
		Supervisor: Supervisor{
			Enabled:        false,
			StallThreshold: 10 * time.Minute,
			MaxRestarts:    2,
			RedisAddr:      "localhost:6379",
		},
		Store: Store{
			DBPath: ".substrate/state.db",
		},
		Dispatch: Dispatch{
			AgentProvider: "subprocess",
			RetryCount:    3,
			TimeoutSec:    600,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path, overlays it onto DefaultConfig, and validates the
// result. A missing or unreadable file is an error; a partially-specified
// document is not — fields left unset keep their default.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the ranges SPEC_FULL.md §4.10 names.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxConcurrency < 1 {
		return fmt.Errorf("config: orchestrator.max_concurrency must be >= 1, got %d", c.Orchestrator.MaxConcurrency)
	}
	if c.Orchestrator.MaxReviewCycles < 0 {
		return fmt.Errorf("config: orchestrator.max_review_cycles must be >= 0, got %d", c.Orchestrator.MaxReviewCycles)
	}
	if c.Supervisor.StallThreshold <= 0 {
		return fmt.Errorf("config: supervisor.stall_threshold must be > 0, got %s", c.Supervisor.StallThreshold)
	}
	if c.Supervisor.MaxRestarts < 0 {
		return fmt.Errorf("config: supervisor.max_restarts must be >= 0, got %d", c.Supervisor.MaxRestarts)
	}
	if c.Supervisor.Enabled && c.Supervisor.RedisAddr == "" {
		return fmt.Errorf("config: supervisor.redis_addr must be set when supervisor.enabled is true")
	}
	if c.Store.DBPath == "" {
		return fmt.Errorf("config: store.db_path must not be empty")
	}
	return nil
}

// applyReloadable copies the set of fields Watch is allowed to change on a
// config already in use by a running pipeline; dbPath and agentProvider
// require a process restart to take effect safely.
func (c *Config) applyReloadable(next *Config) {
	c.Orchestrator.MaxConcurrency = next.Orchestrator.MaxConcurrency
	c.Supervisor.StallThreshold = next.Supervisor.StallThreshold
	c.Supervisor.MaxRestarts = next.Supervisor.MaxRestarts
}

// Watch starts an fsnotify watch on path and invokes onChange whenever the
// file is rewritten, after reloading it and copying the reloadable subset of
// fields into c in place. Structural fields (dbPath, agentProvider) are not
// applied; onChange's changedStructural argument reports whether either
// differs between the old and reloaded config. Watch returns a stop
// function; callers must call it to release the fsnotify watcher.
func (c *Config) Watch(path string, onChange func(changedStructural bool)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				next, err := Load(path)
				if err != nil {
					continue
				}
				structural := c.Store.DBPath != next.Store.DBPath || c.Dispatch.AgentProvider != next.Dispatch.AgentProvider
				c.applyReloadable(next)
				if onChange != nil {
					onChange(structural)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher.Close, nil
}
