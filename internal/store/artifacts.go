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

// RegisterArtifactInput is registerArtifact's argument.
type RegisterArtifactInput struct {
	PipelineRunID string
	Phase         string
	Type          string
	Path          string
	ContentHash   *string
	Summary       *string
}

// RegisterArtifact upserts the artifact for (pipelineRunID, phase, type) —
// the basis of exit-gate checks (spec §3, §4.1). Phase runners call this
// once per phase; re-registering the same (run, phase, type) (e.g. a
// restarted phase) replaces the prior row rather than erroring.
func (s *Store) RegisterArtifact(input RegisterArtifactInput) (string, error) {
	id := uuid.NewString()
	err := s.withWrite(func(tx *sqlx.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO artifacts (id, pipeline_run_id, phase, type, path, content_hash, summary, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(pipeline_run_id, phase, type) DO UPDATE SET
			   path = excluded.path,
			   content_hash = excluded.content_hash,
			   summary = excluded.summary,
			   created_at = excluded.created_at`,
			id, input.PipelineRunID, input.Phase, input.Type, input.Path, input.ContentHash, input.Summary, time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		return "", substraterr.NewPersistenceError("register artifact", input.Type, err)
	}
	return id, nil
}

// GetArtifactByTypeForRun returns the artifact for (pipelineRunID, phase,
// type), or nil if none has been registered — the exit-gate check's direct
// read.
func (s *Store) GetArtifactByTypeForRun(pipelineRunID, phase, artifactType string) (*Artifact, error) {
	var a Artifact
	err := s.db.Get(&a,
		`SELECT * FROM artifacts WHERE pipeline_run_id = ? AND phase = ? AND type = ?`,
		pipelineRunID, phase, artifactType,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, substraterr.NewPersistenceError("get artifact by type for run", artifactType, err)
	}
	return &a, nil
}

// GetArtifactByType returns the artifact of artifactType registered for
// pipelineRunID in any phase, or nil if none exists — gate checks reference
// an artifact's type only (e.g. "requires a product-brief"), not the phase
// that produced it.
func (s *Store) GetArtifactByType(pipelineRunID, artifactType string) (*Artifact, error) {
	var a Artifact
	err := s.db.Get(&a,
		`SELECT * FROM artifacts WHERE pipeline_run_id = ? AND type = ? ORDER BY created_at DESC LIMIT 1`,
		pipelineRunID, artifactType,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, substraterr.NewPersistenceError("get artifact by type", artifactType, err)
	}
	return &a, nil
}

// GetArtifactsByRun returns every artifact registered for pipelineRunID.
func (s *Store) GetArtifactsByRun(pipelineRunID string) ([]Artifact, error) {
	var artifacts []Artifact
	err := s.db.Select(&artifacts, `SELECT * FROM artifacts WHERE pipeline_run_id = ? ORDER BY created_at ASC`, pipelineRunID)
	if err != nil {
		return nil, substraterr.NewPersistenceError("get artifacts by run", pipelineRunID, err)
	}
	return artifacts, nil
}
