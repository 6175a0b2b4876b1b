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

package orchestrator

import (
	"encoding/json"

	"github.com/johnplanow/substrate/internal/store"
)

// decodeConfigBlob accepts either the current `{concept, phaseHistory}`
// object shape or a legacy top-level phase-history array; anything else
// (empty string, malformed JSON) decodes to an empty blob rather than an
// error, per spec §4.4.
func decodeConfigBlob(raw string) store.RunConfigBlob {
	if raw != "" {
		var blob store.RunConfigBlob
		if err := json.Unmarshal([]byte(raw), &blob); err == nil {
			return blob
		}
		var legacy []store.PhaseHistoryEntry
		if err := json.Unmarshal([]byte(raw), &legacy); err == nil {
			return store.RunConfigBlob{PhaseHistory: legacy}
		}
	}
	return store.RunConfigBlob{}
}

func encodeConfigBlob(blob store.RunConfigBlob) (string, error) {
	b, err := json.Marshal(blob)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// currentHistoryEntry returns a pointer to the open (CompletedAt == nil)
// entry for phase, or nil if none is open.
func currentHistoryEntry(blob *store.RunConfigBlob, phase string) *store.PhaseHistoryEntry {
	for i := range blob.PhaseHistory {
		e := &blob.PhaseHistory[i]
		if e.Phase == phase && e.CompletedAt == nil {
			return e
		}
	}
	return nil
}

// completedPhaseNames returns the Phase field of every history entry whose
// CompletedAt is set.
func completedPhaseNames(blob store.RunConfigBlob) []string {
	var names []string
	for _, e := range blob.PhaseHistory {
		if e.CompletedAt != nil {
			names = append(names, e.Phase)
		}
	}
	return names
}
