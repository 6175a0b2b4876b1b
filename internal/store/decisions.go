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
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	substraterr "github.com/johnplanow/substrate/pkg/shared/errors"
)

// CreateDecisionInput is createDecision's argument.
type CreateDecisionInput struct {
	PipelineRunID string
	Phase         string
	Category      string
	Key           string
	Value         string
	Rationale     *string
}

// CreateDecision appends a new decision row. Decisions are append-only
// within a run — there is no update-in-place for Value; amendments instead
// write a new decision and supersede the old one (spec §3).
func (s *Store) CreateDecision(input CreateDecisionInput) (string, error) {
	id := uuid.NewString()
	err := s.withWrite(func(tx *sqlx.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO decisions (id, pipeline_run_id, phase, category, key, value, rationale, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, input.PipelineRunID, input.Phase, input.Category, input.Key, input.Value, input.Rationale, time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		return "", substraterr.NewPersistenceError("create decision", input.Key, err)
	}
	return id, nil
}

// GetDecisionByKey returns the (possibly superseded) decision matching
// (pipelineRunID, phase, category, key), or nil if none exists. When more
// than one decision shares the triple (amendments writing a new value after
// superseding the old), the most recently created row wins, matching the
// round-trip law in spec §8 ("Decision write then getDecisionByKey returns
// the written row").
func (s *Store) GetDecisionByKey(pipelineRunID, phase, category, key string) (*Decision, error) {
	var d Decision
	err := s.db.Get(&d,
		`SELECT * FROM decisions
		 WHERE pipeline_run_id = ? AND phase = ? AND category = ? AND key = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		pipelineRunID, phase, category, key,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, substraterr.NewPersistenceError("get decision by key", key, err)
	}
	return &d, nil
}

// GetDecisionsByPhase returns every decision (active or superseded) for
// phase across all runs. This supports cross-run analytics; most callers
// want GetDecisionsByPhaseForRun or GetActiveDecisions instead.
func (s *Store) GetDecisionsByPhase(phase string) ([]Decision, error) {
	var decisions []Decision
	err := s.db.Select(&decisions, `SELECT * FROM decisions WHERE phase = ? ORDER BY created_at ASC`, phase)
	if err != nil {
		return nil, substraterr.NewPersistenceError("get decisions by phase", phase, err)
	}
	return decisions, nil
}

// GetDecisionsByPhaseForRun returns every decision (active or superseded)
// for (pipelineRunID, phase).
func (s *Store) GetDecisionsByPhaseForRun(pipelineRunID, phase string) ([]Decision, error) {
	var decisions []Decision
	err := s.db.Select(&decisions,
		`SELECT * FROM decisions WHERE pipeline_run_id = ? AND phase = ? ORDER BY created_at ASC`,
		pipelineRunID, phase,
	)
	if err != nil {
		return nil, substraterr.NewPersistenceError("get decisions by phase for run", pipelineRunID, err)
	}
	return decisions, nil
}

// UpdateDecision replaces value and rationale on an existing decision. Used
// sparingly — most mutation flows through supersession, not in-place
// update.
func (s *Store) UpdateDecision(id, value string, rationale *string) error {
	err := s.withWrite(func(tx *sqlx.Tx) error {
		res, err := tx.Exec(`UPDATE decisions SET value = ?, rationale = ? WHERE id = ?`, value, rationale, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("decision %s not found", id)
		}
		return nil
	})
	if err != nil {
		return substraterr.NewPersistenceError("update decision", id, err)
	}
	return nil
}

// ActiveDecisionFilter selects rows for GetActiveDecisions.
type ActiveDecisionFilter struct {
	PipelineRunID string
	Phase         string // optional; "" means all phases
}

// GetActiveDecisions returns decisions with superseded_by IS NULL matching
// filter — the canonical read for phase runners and context handlers so
// that amendments transparently hide superseded state (spec §4.1).
func (s *Store) GetActiveDecisions(filter ActiveDecisionFilter) ([]Decision, error) {
	var decisions []Decision
	var err error
	if filter.Phase != "" {
		err = s.db.Select(&decisions,
			`SELECT * FROM decisions WHERE pipeline_run_id = ? AND phase = ? AND superseded_by IS NULL ORDER BY created_at ASC`,
			filter.PipelineRunID, filter.Phase,
		)
	} else {
		err = s.db.Select(&decisions,
			`SELECT * FROM decisions WHERE pipeline_run_id = ? AND superseded_by IS NULL ORDER BY created_at ASC`,
			filter.PipelineRunID,
		)
	}
	if err != nil {
		return nil, substraterr.NewPersistenceError("get active decisions", filter.PipelineRunID, err)
	}
	return decisions, nil
}

// LoadParentRunDecisions returns all non-superseded decisions owned by
// parentRunID — the Amendment Engine's snapshot source (spec §4.1, §4.8).
func (s *Store) LoadParentRunDecisions(parentRunID string) ([]Decision, error) {
	return s.GetActiveDecisions(ActiveDecisionFilter{PipelineRunID: parentRunID})
}

// SupersedeDecision marks originalID as superseded by supersedingID.
// Idempotent-safe: attempting to supersede an already-superseded decision
// returns a recoverable error rather than panicking or silently double-
// writing, so callers iterating many decisions (the Amendment Engine's
// post-phase writeback) can catch the per-row error and continue (spec
// §4.1, §4.8).
func (s *Store) SupersedeDecision(originalID, supersedingID string) error {
	err := s.withWrite(func(tx *sqlx.Tx) error {
		var current Decision
		err := tx.Get(&current, `SELECT * FROM decisions WHERE id = ?`, originalID)
		if err != nil {
			if isNoRows(err) {
				return fmt.Errorf("decision %s not found", originalID)
			}
			return err
		}
		if current.SupersededBy != nil {
			return fmt.Errorf("decision %s is already superseded by %s", originalID, *current.SupersededBy)
		}

		var superseding Decision
		if err := tx.Get(&superseding, `SELECT * FROM decisions WHERE id = ?`, supersedingID); err != nil {
			if isNoRows(err) {
				return fmt.Errorf("superseding decision %s not found", supersedingID)
			}
			return err
		}
		if superseding.PipelineRunID == current.PipelineRunID {
			return fmt.Errorf("decision %s cannot supersede a decision in its own run", supersedingID)
		}
		res, err := tx.Exec(`UPDATE decisions SET superseded_by = ? WHERE id = ? AND superseded_by IS NULL`, supersedingID, originalID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("decision %s is already superseded", originalID)
		}
		return nil
	})
	if err != nil {
		return substraterr.NewPersistenceError("supersede decision", originalID, err)
	}
	return nil
}
