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

package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// TokenUsage mirrors the {input, output} shape every sub-agent result
// schema carries (spec §6.4).
type TokenUsage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// Issue is one entry of a CodeReviewResult's issue_list.
type Issue struct {
	Severity string `json:"severity" validate:"required"`
	File     string `json:"file"`
	Desc     string `json:"desc"`
}

// CreateStoryResult is the create-story task's result schema (spec §6.4).
type CreateStoryResult struct {
	Result     string     `json:"result" validate:"required,oneof=success failed"`
	StoryFile  string     `json:"story_file,omitempty"`
	StoryKey   string     `json:"story_key" validate:"required"`
	StoryTitle string     `json:"story_title"`
	TokenUsage TokenUsage `json:"tokenUsage"`
}

// DevStoryResult is the dev-story task's result schema (spec §6.4).
type DevStoryResult struct {
	Result        string     `json:"result" validate:"required,oneof=success failed"`
	ACMet         []string   `json:"ac_met"`
	ACFailures    []string   `json:"ac_failures"`
	FilesModified []string   `json:"files_modified"`
	Tests         string     `json:"tests" validate:"required,oneof=pass fail"`
	TokenUsage    TokenUsage `json:"tokenUsage"`
}

// CodeReviewResult is the code-review task's result schema (spec §6.4). Its
// Issues count and IssueList length are cross-validated and, when they
// diverge, Issues is silently rewritten to match — the auto-correction
// named in spec §4.3 step 3.
type CodeReviewResult struct {
	Verdict    string     `json:"verdict" validate:"required,oneof=SHIP_IT NEEDS_MINOR_FIXES NEEDS_MAJOR_REWORK"`
	Issues     int        `json:"issues"`
	IssueList  []Issue    `json:"issue_list" validate:"dive"`
	TokenUsage TokenUsage `json:"tokenUsage"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeAndValidate re-marshals a loosely-typed payload (as produced by
// extractJSON) into a concrete result struct and runs struct-tag
// validation against it.
func decodeAndValidate[T any](payload map[string]any) (T, error) {
	var out T
	b, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("dispatch: re-marshal parsed payload: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("dispatch: decode into %T: %w", out, err)
	}
	if err := validate.Struct(out); err != nil {
		return out, fmt.Errorf("dispatch: schema validation failed: %w", err)
	}
	return out, nil
}

// validateResult validates payload against the schema registered for
// taskType, applying any auto-correction, and returns the normalized map
// form that becomes the dispatch handle's `parsed` field. An unrecognized
// taskType is accepted without validation — the registry only covers the
// schemas spec §6.4 names.
func validateResult(taskType string, payload map[string]any) (map[string]any, error) {
	switch taskType {
	case "create-story":
		result, err := decodeAndValidate[CreateStoryResult](payload)
		if err != nil {
			return nil, err
		}
		return toMap(result)

	case "dev-story":
		result, err := decodeAndValidate[DevStoryResult](payload)
		if err != nil {
			return nil, err
		}
		return toMap(result)

	case "code-review":
		result, err := decodeAndValidate[CodeReviewResult](payload)
		if err != nil {
			return nil, err
		}
		result.Issues = len(result.IssueList)
		return toMap(result)

	default:
		return payload, nil
	}
}

// toMap round-trips v back through JSON into a map, so every taskType's
// `parsed` field shares the same map[string]any shape regardless of which
// concrete schema validated it.
func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
