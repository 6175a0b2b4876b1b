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

// CreateRequirementInput is createRequirement's argument.
type CreateRequirementInput struct {
	PipelineRunID string
	Source        string
	Type          RequirementType
	Description   string
	Priority      RequirementPriority
}

// CreateRequirement inserts a new Requirement in status=active.
func (s *Store) CreateRequirement(input CreateRequirementInput) (string, error) {
	id := uuid.NewString()
	err := s.withWrite(func(tx *sqlx.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO requirements (id, pipeline_run_id, source, type, description, priority, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, input.PipelineRunID, input.Source, string(input.Type), input.Description, string(input.Priority), string(RequirementActive), time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		return "", substraterr.NewPersistenceError("create requirement", input.Description, err)
	}
	return id, nil
}

// GetRequirementsByRun returns every requirement for pipelineRunID.
func (s *Store) GetRequirementsByRun(pipelineRunID string) ([]Requirement, error) {
	var reqs []Requirement
	err := s.db.Select(&reqs, `SELECT * FROM requirements WHERE pipeline_run_id = ? ORDER BY created_at ASC`, pipelineRunID)
	if err != nil {
		return nil, substraterr.NewPersistenceError("get requirements by run", pipelineRunID, err)
	}
	return reqs, nil
}

// UpdateRequirementStatus transitions a requirement's status.
func (s *Store) UpdateRequirementStatus(id string, status RequirementStatus) error {
	err := s.withWrite(func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`UPDATE requirements SET status = ? WHERE id = ?`, string(status), id)
		return err
	})
	if err != nil {
		return substraterr.NewPersistenceError("update requirement status", id, err)
	}
	return nil
}

// CreateConstraintInput is createConstraint's argument.
type CreateConstraintInput struct {
	PipelineRunID string
	Category      string
	Description   string
	Source        string
}

// CreateConstraint inserts a new Constraint row.
func (s *Store) CreateConstraint(input CreateConstraintInput) (string, error) {
	id := uuid.NewString()
	err := s.withWrite(func(tx *sqlx.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO constraints (id, pipeline_run_id, category, description, source, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			id, input.PipelineRunID, input.Category, input.Description, input.Source, time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		return "", substraterr.NewPersistenceError("create constraint", input.Description, err)
	}
	return id, nil
}

// GetConstraintsByRun returns every constraint for pipelineRunID.
func (s *Store) GetConstraintsByRun(pipelineRunID string) ([]Constraint, error) {
	var constraints []Constraint
	err := s.db.Select(&constraints, `SELECT * FROM constraints WHERE pipeline_run_id = ? ORDER BY created_at ASC`, pipelineRunID)
	if err != nil {
		return nil, substraterr.NewPersistenceError("get constraints by run", pipelineRunID, err)
	}
	return constraints, nil
}
