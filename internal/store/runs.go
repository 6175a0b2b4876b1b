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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	substraterr "github.com/johnplanow/substrate/pkg/shared/errors"
)

// CreatePipelineRunInput is createPipelineRun's argument (spec §4.1).
type CreatePipelineRunInput struct {
	Methodology string
	StartPhase  string
	ParentRunID *string
	Concept     string
}

// CreatePipelineRun inserts a new run in status=running and returns its id.
// If ParentRunID is set, the caller (the Amendment Engine) is responsible
// for having already verified the parent is completed — the store enforces
// only the foreign key, not the status invariant, since that invariant is a
// business rule of amendment creation, not of persistence.
func (s *Store) CreatePipelineRun(input CreatePipelineRunInput) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	blob := RunConfigBlob{
		Concept: input.Concept,
		PhaseHistory: []PhaseHistoryEntry{
			{Phase: input.StartPhase, StartedAt: now, GateResults: []GateResult{}},
		},
	}
	configJSON, err := json.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("store: marshal initial config: %w", err)
	}

	err = s.withWrite(func(tx *sqlx.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO pipeline_runs (id, methodology, current_phase, status, parent_run_id, config, token_usage, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, '{}', ?, ?)`,
			id, input.Methodology, input.StartPhase, string(RunStatusRunning), input.ParentRunID, string(configJSON), now, now,
		)
		return err
	})
	if err != nil {
		return "", substraterr.NewPersistenceError("create pipeline run", id, err)
	}
	return id, nil
}

// UpdatePipelineRunPatch is updatePipelineRun's argument; nil fields are
// left unchanged. ConfigJSON and TokenUsageJSON replace wholesale, per
// spec §4.1 ("config (replace)").
type UpdatePipelineRunPatch struct {
	CurrentPhase   *string
	Status         *RunStatus
	ConfigJSON     *string
	TokenUsageJSON *string
}

// IsEmpty reports whether the patch has nothing to apply.
func (p UpdatePipelineRunPatch) IsEmpty() bool {
	return p.CurrentPhase == nil && p.Status == nil && p.ConfigJSON == nil && p.TokenUsageJSON == nil
}

// UpdatePipelineRun applies patch to run id. A no-op patch does nothing and
// returns nil (spec §4.1: "No-op if patch is empty").
func (s *Store) UpdatePipelineRun(id string, patch UpdatePipelineRunPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	err := s.withWrite(func(tx *sqlx.Tx) error {
		sets := []string{"updated_at = ?"}
		args := []any{time.Now().UTC()}

		if patch.CurrentPhase != nil {
			sets = append(sets, "current_phase = ?")
			args = append(args, *patch.CurrentPhase)
		}
		if patch.Status != nil {
			sets = append(sets, "status = ?")
			args = append(args, string(*patch.Status))
		}
		if patch.ConfigJSON != nil {
			sets = append(sets, "config = ?")
			args = append(args, *patch.ConfigJSON)
		}
		if patch.TokenUsageJSON != nil {
			sets = append(sets, "token_usage = ?")
			args = append(args, *patch.TokenUsageJSON)
		}
		args = append(args, id)

		query := "UPDATE pipeline_runs SET " + joinSets(sets) + " WHERE id = ?"
		res, err := tx.Exec(query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("pipeline run %s not found", id)
		}
		return nil
	})
	if err != nil {
		return substraterr.NewPersistenceError("update pipeline run", id, err)
	}
	return nil
}

// GetPipelineRun fetches a run by id.
func (s *Store) GetPipelineRun(id string) (*PipelineRun, error) {
	var run PipelineRun
	err := s.db.Get(&run, `SELECT * FROM pipeline_runs WHERE id = ?`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, substraterr.NewPersistenceError("get pipeline run", id, fmt.Errorf("not found"))
		}
		return nil, substraterr.NewPersistenceError("get pipeline run", id, err)
	}
	return &run, nil
}

// GetLatestPipelineRun returns the most recently created primary run (one
// with no parent_run_id) — what `auto status`/`auto resume` operate on when
// the caller omits --run-id (spec §6.1: "resumes the latest or named run").
func (s *Store) GetLatestPipelineRun() (*PipelineRun, error) {
	var run PipelineRun
	err := s.db.Get(&run, `SELECT * FROM pipeline_runs WHERE parent_run_id IS NULL ORDER BY created_at DESC LIMIT 1`)
	if err != nil {
		if isNoRows(err) {
			return nil, substraterr.NewPersistenceError("get latest pipeline run", "", fmt.Errorf("no runs found"))
		}
		return nil, substraterr.NewPersistenceError("get latest pipeline run", "", err)
	}
	return &run, nil
}

func joinSets(sets []string) string {
	out := sets[0]
	for _, s := range sets[1:] {
		out += ", " + s
	}
	return out
}
