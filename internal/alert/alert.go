// Package alert posts operator notifications to Slack when an agent turns
// unhealthy or a registration exhausts its retries.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/jobswitch-ai/switchboard/internal/orchestrator"
)

// Config holds Slack alerting settings.
type Config struct {
	Enabled  bool   `json:"enabled" envconfig:"ALERTS_ENABLED"`
	BotToken string `json:"botToken" envconfig:"ALERTS_BOT_TOKEN"`
	Channel  string `json:"channel" envconfig:"ALERTS_CHANNEL"`
}

// poster is the subset of the Slack client the notifier needs.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier implements orchestrator.Observer and forwards the alert-worthy
// subset to Slack. Posting is best-effort and never blocks the caller.
type Notifier struct {
	orchestrator.NopObserver
	api     poster
	channel string
	timeout time.Duration
}

// NewNotifier creates a Notifier using the configured bot token.
func NewNotifier(cfg Config) *Notifier {
	return newNotifier(slack.New(cfg.BotToken), cfg.Channel)
}

func newNotifier(api poster, channel string) *Notifier {
	return &Notifier{api: api, channel: channel, timeout: 10 * time.Second}
}

// HealthChanged posts when an agent flips to unhealthy.
func (n *Notifier) HealthChanged(h orchestrator.HealthStatus) {
	if h.Status != orchestrator.HealthUnhealthy {
		return
	}
	n.post(fmt.Sprintf(":rotating_light: Agent *%s* is unhealthy (success rate %.0f%%, %d errors)",
		h.AgentID, h.SuccessRate*100, h.ErrorCount))
}

// RegistrationResolved posts when a registration finally fails.
func (n *Notifier) RegistrationResolved(st orchestrator.RegistrationStatus) {
	if st.Registered {
		return
	}
	n.post(fmt.Sprintf(":warning: Agent *%s* failed to register after %d retries: %s",
		st.AgentID, st.RetryCount, st.ErrorMessage))
}

func (n *Notifier) post(text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		_, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
		if err != nil {
			slog.Warn("Slack alert failed", "error", err)
		}
	}()
}
