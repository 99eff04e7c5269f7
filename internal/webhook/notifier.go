package webhook

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Notifier fans a supervisor alert out to whichever webhook destinations
// are configured. Either destination may be left blank, in which case
// that leg is a no-op — the supervisor itself never branches on which
// channels are wired.
type Notifier struct {
	slack            *SlackClient
	pagerDuty        *PagerDutyClient
	slackWebhookURL  string
	pagerDutyRouting string
	logger           zerolog.Logger
}

// NewNotifier builds a Notifier from AlertingConfig's webhook fields.
func NewNotifier(slackWebhookURL, pagerDutyRoutingKey string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		slack:            NewSlackClient(),
		pagerDuty:        NewPagerDutyClient(),
		slackWebhookURL:  slackWebhookURL,
		pagerDutyRouting: pagerDutyRoutingKey,
		logger:           logger,
	}
}

// NotifyCritical fires a PagerDuty trigger and a Slack alert for a
// critical-severity supervisor event (emergency stop/isolate, spec §4.9).
func (n *Notifier) NotifyCritical(ctx context.Context, title, message, dedupKey string) {
	if n.slackWebhookURL != "" {
		if err := n.slack.SendAlert(ctx, n.slackWebhookURL, SlackAlert{
			Title:     title,
			Message:   message,
			Severity:  "critical",
			Metric:    dedupKey,
			StartedAt: time.Now(),
		}); err != nil {
			n.logger.Error().Err(err).Msg("slack notification failed")
		}
	}
	if n.pagerDutyRouting != "" {
		if err := n.pagerDuty.TriggerAlert(ctx, n.pagerDutyRouting, PagerDutyAlert{
			Summary:  title,
			Source:   "coreplane-supervisor",
			Severity: "critical",
			DedupKey: dedupKey,
			Details:  map[string]interface{}{"message": message},
		}); err != nil {
			n.logger.Error().Err(err).Msg("pagerduty notification failed")
		}
	}
}

// NotifyDegraded fires a Slack warning for a degraded (non-critical)
// health-check tick. PagerDuty is reserved for EmergencyStop/Isolate.
func (n *Notifier) NotifyDegraded(ctx context.Context, title, message string) {
	if n.slackWebhookURL == "" {
		return
	}
	if err := n.slack.SendAlert(ctx, n.slackWebhookURL, SlackAlert{
		Title:     title,
		Message:   message,
		Severity:  "warning",
		StartedAt: time.Now(),
	}); err != nil {
		n.logger.Error().Err(err).Msg("slack notification failed")
	}
}
