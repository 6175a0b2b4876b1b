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

package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	substraterr "github.com/johnplanow/substrate/pkg/shared/errors"
)

// AddTokenUsageInput is addTokenUsage's argument.
type AddTokenUsageInput struct {
	PipelineRunID string
	Phase         string
	Agent         string
	InputTokens   int64
	OutputTokens  int64
	Cost          float64
}

// AddTokenUsage appends one append-only usage row (spec §3, §4.1).
func (s *Store) AddTokenUsage(input AddTokenUsageInput) error {
	id := uuid.NewString()
	err := s.withWrite(func(tx *sqlx.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO token_usage (id, pipeline_run_id, phase, agent, input_tokens, output_tokens, cost, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, input.PipelineRunID, input.Phase, input.Agent, input.InputTokens, input.OutputTokens, input.Cost, time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		return substraterr.NewPersistenceError("add token usage", input.PipelineRunID, err)
	}
	return nil
}

// GetTokenUsageSummary aggregates token usage by (phase, agent) for
// pipelineRunID (spec §4.1).
func (s *Store) GetTokenUsageSummary(pipelineRunID string) ([]TokenUsageSummary, error) {
	var summary []TokenUsageSummary
	err := s.db.Select(&summary,
		`SELECT phase, agent, SUM(input_tokens) AS input_tokens, SUM(output_tokens) AS output_tokens, SUM(cost) AS cost
		 FROM token_usage WHERE pipeline_run_id = ? GROUP BY phase, agent ORDER BY phase, agent`,
		pipelineRunID,
	)
	if err != nil {
		return nil, substraterr.NewPersistenceError("get token usage summary", pipelineRunID, err)
	}
	return summary, nil
}

// GetTokenUsageTotals sums every row for pipelineRunID into a single
// {input, output, cost} triple, the shape `auto status` reports (spec
// §6.1).
func (s *Store) GetTokenUsageTotals(pipelineRunID string) (inputTokens, outputTokens int64, costUSD float64, err error) {
	row := struct {
		InputTokens  int64   `db:"input_tokens"`
		OutputTokens int64   `db:"output_tokens"`
		Cost         float64 `db:"cost"`
	}{}
	dbErr := s.db.Get(&row,
		`SELECT COALESCE(SUM(input_tokens), 0) AS input_tokens, COALESCE(SUM(output_tokens), 0) AS output_tokens, COALESCE(SUM(cost), 0) AS cost
		 FROM token_usage WHERE pipeline_run_id = ?`,
		pipelineRunID,
	)
	if dbErr != nil {
		return 0, 0, 0, substraterr.NewPersistenceError("get token usage totals", pipelineRunID, dbErr)
	}
	return row.InputTokens, row.OutputTokens, row.Cost, nil
}
