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
	"net/http"

	"github.com/spf13/cobra"

	"github.com/johnplanow/substrate/internal/statusapi"
	"github.com/johnplanow/substrate/pkg/telemetry"
)

var serveFlagAddr string

// newServeCmd starts the Status HTTP surface (SPEC_FULL.md §4.12: "an
// optional, separately-started surface") against the store a concurrent or
// prior `auto run`/`auto resume` is writing to. It is deliberately its own
// command rather than folded into `run`/`resume` — the surface outlives any
// single pipeline run and is meant to be pointed at a project root's store
// independent of whatever is currently driving it.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only status HTTP surface (/runs/{id}, /runs/{id}/events, /metrics)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	cmd.Flags().StringVar(&serveFlagAddr, "status-addr", "", "Listen address (default: config's status.addr, or :8090)")
	return cmd
}

func init() {
	rootCmd.AddCommand(newServeCmd())
}

func runServe(cmd *cobra.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	addr := serveFlagAddr
	if addr == "" {
		addr = a.cfg.Status.Addr
	}
	if addr == "" {
		addr = ":8090"
	}

	metrics := telemetry.New()
	router := statusapi.NewRouter(a.store, a.bus, metrics.Registry)

	fmt.Fprintf(cmd.OutOrStdout(), "status surface listening on %s\n", addr)
	return http.ListenAndServe(addr, router)
}
