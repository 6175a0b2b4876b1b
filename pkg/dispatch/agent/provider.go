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

// Package agent defines the Dispatcher's pluggable sub-agent provider
// interface (SPEC_FULL.md §4.3). The Dispatcher talks to every agent through
// this interface; it never spawns a process or calls an HTTP API directly.
package agent

import (
	"context"
	"time"
)

// Task is everything a provider needs to run one sub-agent invocation.
type Task struct {
	TaskType string
	Agent    string
	Model    string
	Prompt   string
	Timeout  time.Duration
}

// Outcome is a provider's raw result, before JSON extraction or schema
// validation. ExitCode is -1 when the invocation failed without producing
// an exit status (a spawn failure, a cancelled or timed-out child process,
// or a failed hosted API call); a successful hosted API call reports 0.
type Outcome struct {
	Output       string
	ExitCode     int
	Cancelled    bool
	InputTokens  int64
	OutputTokens int64
}

// Provider invokes one sub-agent task and returns its raw output. A non-nil
// error means the provider itself failed to produce output (spawn failure,
// API error) — a non-zero exit with output is not an error at this layer,
// since the Dispatcher's parse/validation stage decides whether that output
// is usable.
type Provider interface {
	Invoke(ctx context.Context, task Task) (Outcome, error)
}
