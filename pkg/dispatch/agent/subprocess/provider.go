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

// Package subprocess is the Dispatcher's default agent.Provider: it spawns a
// configured external CLI binary per dispatch, feeds the assembled prompt on
// stdin, and captures stdout/stderr (SPEC_FULL.md §4.3).
package subprocess

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/johnplanow/substrate/pkg/dispatch/agent"
)

// defaultTimeout bounds an invocation when the task carries none.
const defaultTimeout = 10 * time.Minute

// Provider spawns Binary once per Invoke, one process per sub-agent task —
// the shape the spec's "spawns the external agent" step describes.
type Provider struct {
	Binary string
	Args   []string
	WorkDir string

	cmdBuilder func(ctx context.Context, task agent.Task) *exec.Cmd
}

// New returns a Provider that spawns binary with args appended before the
// prompt is written to the child's stdin.
func New(binary string, args ...string) *Provider {
	return &Provider{Binary: binary, Args: args}
}

// Invoke runs the configured binary, writes task.Prompt to its stdin, and
// returns its captured stdout as Outcome.Output. A non-zero exit is not
// itself an error here — callers decide whether the output is usable — but
// a spawn failure or context cancellation is.
func (p *Provider) Invoke(ctx context.Context, task agent.Task) (agent.Outcome, error) {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	builder := p.cmdBuilder
	if builder == nil {
		builder = p.defaultCmdBuilder
	}
	cmd := builder(ctx, task)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = strings.NewReader(task.Prompt)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil && ctx.Err() != nil {
		// A child killed by the context surfaces as an *exec.ExitError;
		// report it as a cancellation, not as a non-zero exit.
		return agent.Outcome{Output: stdout.String(), ExitCode: -1, Cancelled: true}, ctx.Err()
	}

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
		err = nil
	}

	if err != nil {
		cancelled := ctx.Err() == context.DeadlineExceeded || ctx.Err() == context.Canceled
		return agent.Outcome{Output: stdout.String(), ExitCode: -1, Cancelled: cancelled}, err
	}

	return agent.Outcome{
		Output:   stdout.String(),
		ExitCode: exitCode,
	}, nil
}

func (p *Provider) defaultCmdBuilder(ctx context.Context, task agent.Task) *exec.Cmd {
	args := append([]string{}, p.Args...)
	cmd := exec.CommandContext(ctx, p.Binary, args...)
	cmd.Dir = p.WorkDir
	cmd.WaitDelay = time.Second
	return cmd
}
