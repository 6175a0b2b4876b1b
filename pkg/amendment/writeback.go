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

package amendment

import (
	"github.com/sirupsen/logrus"

	"github.com/johnplanow/substrate/internal/store"
	"github.com/johnplanow/substrate/pkg/shared/logging"
)

// WritebackPhase runs the post-phase supersession writeback (spec §4.8):
// for every decision the amendment run wrote in phase, find the parent
// snapshot's decision sharing (phase, category, key) and mark it superseded.
// A failure to supersede one decision is logged and does not stop the
// iteration; only a failure to read the amendment run's own decisions is
// returned to the caller.
func WritebackPhase(s *store.Store, h *Handler, amendmentRunID, phase string, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	amendmentDecisions, err := s.GetDecisionsByPhaseForRun(amendmentRunID, phase)
	if err != nil {
		return err
	}

	parentByKey := make(map[string]store.Decision, len(h.snapshot))
	for _, d := range h.snapshot {
		if d.Phase == phase {
			parentByKey[decisionKey(d)] = d
		}
	}

	for _, ad := range amendmentDecisions {
		parent, ok := parentByKey[decisionKey(ad)]
		if !ok {
			continue
		}
		if err := s.SupersedeDecision(parent.ID, ad.ID); err != nil {
			logger.WithFields(logging.NewFields().Component("amendment").Operation("supersede-decision").
				Resource("decision", parent.ID).Error(err).Logrus()).
				Warn("supersession writeback failed for one decision")
			continue
		}
		h.LogSupersession(SupersessionEntry{
			ParentDecisionID:      parent.ID,
			SupersedingDecisionID: ad.ID,
			Phase:                 phase,
			Category:              parent.Category,
			Key:                   parent.Key,
		})
	}

	return nil
}
