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
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/johnplanow/substrate/pkg/orchestrator"
	"github.com/johnplanow/substrate/pkg/supervisor"
	substraterr "github.com/johnplanow/substrate/pkg/shared/errors"
)

// runStateCache adapts a *supervisor.RedisCache to
// pkg/orchestrator.RunStateCache, preserving the PID a run started with
// across every later status/timestamp write — the orchestrator's narrow
// interface only ever supplies (runID, status, lastEventAt), but
// `auto watch` needs the PID on every read.
type runStateCache struct {
	cache *supervisor.RedisCache
}

func (c runStateCache) SetRunState(ctx context.Context, runID, status string, lastEventAt time.Time) error {
	pid := 0
	if prior, ok, err := c.cache.Get(ctx, runID); err == nil && ok {
		pid = prior.PID
	}
	return c.cache.Set(ctx, supervisor.RunState{RunID: runID, Status: status, LastEventAt: lastEventAt, PID: pid})
}

var _ orchestrator.RunStateCache = runStateCache{}

// setupSupervision wires the Phase Orchestrator to a Redis-backed run-state
// mirror, writes this process's own PID as runID's initial entry, starts a
// Heartbeat that fills the silence of a long single dispatch, and spawns a
// detached `auto watch` process with real kill/resume authority. Returns a
// stop function that halts the heartbeat; a no-op stop function and a nil
// error when the config doesn't have the supervisor enabled.
func setupSupervision(a *app, o *orchestrator.Orchestrator, runID string) (func(), error) {
	if !a.cfg.Supervisor.Enabled {
		return func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: a.cfg.Supervisor.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, substraterr.FailedTo("connect to supervisor redis at "+a.cfg.Supervisor.RedisAddr, err)
	}

	cache := supervisor.NewRedisCache(client, 24*time.Hour)
	if err := cache.Set(context.Background(), supervisor.RunState{
		RunID: runID, Status: "running", LastEventAt: time.Now().UTC(), PID: os.Getpid(),
	}); err != nil {
		return nil, err
	}
	o.SetRunStateCache(runStateCache{cache: cache})

	bin, err := os.Executable()
	if err != nil {
		return nil, err
	}
	if _, err := spawnDetached(bin, "watch", "--run-id", runID); err != nil {
		a.logger.WithError(err).Warn("supervisor: failed to spawn auto watch, continuing without it")
	}

	hb := supervisor.NewHeartbeat(a.bus, runID, a.cfg.Supervisor.StallThreshold/4)
	hbCtx, hbCancel := context.WithCancel(context.Background())
	go hb.Run(hbCtx)

	return hbCancel, nil
}

var watchFlagRunID string

// newWatchCmd is `auto watch --run-id <runID>`'s command: a standalone watchdog
// process, spawned automatically by `auto run`/`auto resume` when
// supervisor.enabled is true, or runnable by hand against any run another
// process is driving. It owns the real Kill/resume authority `auto run`
// itself cannot safely exercise on its own process tree.
func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "watch",
		Short:  "Run the watchdog against a run another process is driving",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd)
		},
	}
	cmd.Flags().StringVar(&watchFlagRunID, "run-id", "", "Run id to monitor")
	return cmd
}

func init() {
	rootCmd.AddCommand(newWatchCmd())
}

func runWatch(cmd *cobra.Command) error {
	if watchFlagRunID == "" {
		return substraterr.NewUsageError("watch", fmt.Errorf("--run-id is required"))
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	client := redis.NewClient(&redis.Options{Addr: a.cfg.Supervisor.RedisAddr})
	defer client.Close()
	cache := supervisor.NewRedisCache(client, 24*time.Hour)

	var notifier supervisor.Notifier
	if a.cfg.Supervisor.SlackWebhook != "" {
		notifier = supervisor.SlackNotifier{WebhookURL: a.cfg.Supervisor.SlackWebhook}
	}

	bin, err := os.Executable()
	if err != nil {
		return err
	}
	resume := func(ctx context.Context, runID string) (int, error) {
		return spawnDetached(bin, "resume", "--run-id", runID)
	}

	w := supervisor.New(supervisor.Config{
		StallThreshold: a.cfg.Supervisor.StallThreshold,
		MaxRestarts:    a.cfg.Supervisor.MaxRestarts,
	}, a.bus, cache, supervisor.ProcessGroupKiller{}, resume, notifier, nil, a.logger)

	interval := a.cfg.Supervisor.StallThreshold / 3
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := context.Background()
	for range ticker.C {
		state, ok, err := cache.Get(ctx, watchFlagRunID)
		if err != nil {
			a.logger.WithError(err).Warn("watch: run-state read failed")
			continue
		}
		if !ok {
			continue
		}
		verdict, err := w.Tick(ctx, watchFlagRunID, state.PID)
		if err != nil {
			a.logger.WithError(err).Warn("watch: tick failed")
		}
		if verdict == supervisor.NoPipelineRunning {
			return nil
		}
	}
	return nil
}
