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

package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunStateCache is the durable run-state mirror the watchdog reads every
// tick (spec §4.9's supplement). A Redis-backed implementation avoids a
// SQLite read from the watchdog's own process on every tick; tests use
// alicebob/miniredis instead of a real Redis server.
type RunStateCache interface {
	Get(ctx context.Context, runID string) (RunState, bool, error)
	Set(ctx context.Context, state RunState) error
}

// RedisCache is a RunStateCache backed by a Redis (or miniredis) client.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache wraps client. ttl bounds how long a written RunState stays
// readable — long enough to outlast the gap between two orchestrator
// transitions, short enough that a crashed, never-cleaned-up run eventually
// disappears from the mirror rather than reporting stale-forever state.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl, prefix: "substrate:run-state:"}
}

func (c *RedisCache) key(runID string) string {
	return c.prefix + runID
}

// Set writes state, attributed to RunID, with the cache's TTL.
func (c *RedisCache) Set(ctx context.Context, state RunState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("supervisor: marshal run state: %w", err)
	}
	if err := c.client.Set(ctx, c.key(state.RunID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("supervisor: write run state: %w", err)
	}
	return nil
}

// Get returns runID's mirrored state, or ok=false if nothing has been
// written (or it expired) — the watchdog treats that as NO_PIPELINE_RUNNING.
func (c *RedisCache) Get(ctx context.Context, runID string) (RunState, bool, error) {
	payload, err := c.client.Get(ctx, c.key(runID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return RunState{}, false, nil
		}
		return RunState{}, false, fmt.Errorf("supervisor: read run state: %w", err)
	}
	var state RunState
	if err := json.Unmarshal(payload, &state); err != nil {
		return RunState{}, false, fmt.Errorf("supervisor: unmarshal run state: %w", err)
	}
	return state, true, nil
}
