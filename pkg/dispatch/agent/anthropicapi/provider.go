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

// Package anthropicapi is an agent.Provider that calls the Anthropic
// Messages API directly, for agent types that are hosted-model calls rather
// than external CLI tools (SPEC_FULL.md §4.3).
package anthropicapi

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/johnplanow/substrate/pkg/dispatch/agent"
)

const defaultModel = anthropic.ModelClaude3_7SonnetLatest

// Provider wraps an anthropic.Client. MaxTokens bounds every Messages.New
// call; callers that need per-task control set task.Model and leave
// defaultModel unused.
type Provider struct {
	client    anthropic.Client
	MaxTokens int64
}

// New constructs a Provider authenticated with apiKey.
func New(apiKey string) *Provider {
	return &Provider{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		MaxTokens: 4096,
	}
}

// Invoke sends task.Prompt as a single user message and returns the
// concatenated text of the response's content blocks.
func (p *Provider) Invoke(ctx context.Context, task agent.Task) (agent.Outcome, error) {
	model := anthropic.Model(task.Model)
	if task.Model == "" {
		model = defaultModel
	}

	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: p.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(task.Prompt)),
		},
	})
	if err != nil {
		return agent.Outcome{ExitCode: -1}, fmt.Errorf("anthropicapi: messages.new: %w", err)
	}

	var output string
	for _, block := range message.Content {
		if text := block.Text; text != "" {
			output += text
		}
	}

	return agent.Outcome{
		Output:       output,
		ExitCode:     0,
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}, nil
}
