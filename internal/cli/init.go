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
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/johnplanow/substrate/internal/config"
	"github.com/johnplanow/substrate/internal/store"
	substraterr "github.com/johnplanow/substrate/pkg/shared/errors"
)

var initFlagPack string

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Seed a fresh decision store and config under --project-root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd)
		},
	}
	cmd.Flags().StringVar(&initFlagPack, "pack", "default", "Methodology pack to record in config")
	return cmd
}

func init() {
	rootCmd.AddCommand(newInitCmd())
}

// runInit seeds a fresh config file and decision store, matching `auto
// init [--pack] [--project-root]`'s spec (§6.1). Re-running init against an
// already-initialized project root is a usage error rather than silently
// clobbering state -- a fresh store from scratch is exactly what this
// command guards against doing twice by accident.
func runInit(cmd *cobra.Command) error {
	path := configPath()
	if _, err := os.Stat(path); err == nil {
		return substraterr.NewUsageError("init", fmt.Errorf("%s already exists", path))
	}

	cfg := config.DefaultConfig()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return substraterr.FailedTo("create .substrate directory", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return substraterr.FailedTo("marshal config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return substraterr.FailedTo("write config", err)
	}

	dbPath := storePath(cfg)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return substraterr.FailedTo("create store directory", err)
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return substraterr.FailedTo("open decision store", err)
	}
	defer s.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "initialized substrate project at %s (pack: %s)\n", flagProjectRoot, initFlagPack)
	fmt.Fprintf(cmd.OutOrStdout(), "  config: %s\n", path)
	fmt.Fprintf(cmd.OutOrStdout(), "  store:  %s\n", dbPath)
	return nil
}
