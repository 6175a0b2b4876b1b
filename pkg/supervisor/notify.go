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

package supervisor

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"
)

// Notifier delivers a human-facing alert about a watchdog action. Delivery
// is always best-effort: a Notifier failure is logged, never propagated,
// since a missed Slack post must not block a kill/restart/abort decision.
type Notifier interface {
	Notify(title, body string) error
}

// NoopNotifier discards every notification; the default when no webhook is
// configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(string, string) error { return nil }

// SlackNotifier posts to an incoming webhook URL.
type SlackNotifier struct {
	WebhookURL string
}

func (n SlackNotifier) Notify(title, body string) error {
	msg := &slack.WebhookMessage{Text: fmt.Sprintf("*%s*\n%s", title, body)}
	return slack.PostWebhook(n.WebhookURL, msg)
}

// notifyBestEffort calls n.Notify and logs, rather than returns, any error —
// the caller's own state machine must never block on alert delivery.
func notifyBestEffort(n Notifier, logger *logrus.Logger, title, body string) {
	if n == nil {
		return
	}
	if err := n.Notify(title, body); err != nil {
		logger.WithError(err).Warn("supervisor: notification delivery failed")
	}
}
