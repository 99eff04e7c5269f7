// Package webhook provides webhook clients for alert notifications.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/slack-go/slack"
)

func unixTs(t time.Time) json.Number {
	return json.Number(fmt.Sprintf("%d", t.Unix()))
}

// SlackClient handles Slack webhook notifications for C9 supervisor alerts.
type SlackClient struct{}

// NewSlackClient creates a new Slack webhook client.
func NewSlackClient() *SlackClient {
	return &SlackClient{}
}

// SlackAlert represents an alert to send to Slack.
type SlackAlert struct {
	Title     string
	Message   string
	Severity  string
	Value     float64
	Threshold float64
	Metric    string
	StartedAt time.Time
}

// SendAlert sends an alert notification to Slack.
func (c *SlackClient) SendAlert(ctx context.Context, webhookURL string, alert SlackAlert) error {
	msg := &slack.WebhookMessage{
		Username:  "coreplane",
		IconEmoji: ":warning:",
		Attachments: []slack.Attachment{
			{
				Color: c.getSeverityColor(alert.Severity),
				Title: fmt.Sprintf("[%s] %s", alert.Severity, alert.Title),
				Text:  alert.Message,
				Fields: []slack.AttachmentField{
					{Title: "Metric", Value: alert.Metric, Short: true},
					{Title: "Current Value", Value: fmt.Sprintf("%.2f", alert.Value), Short: true},
					{Title: "Threshold", Value: fmt.Sprintf("%.2f", alert.Threshold), Short: true},
					{Title: "Severity", Value: alert.Severity, Short: true},
				},
				Footer: "coreplane",
				Ts:     unixTs(alert.StartedAt),
			},
		},
	}
	return slack.PostWebhookContext(ctx, webhookURL, msg)
}

// SendResolution sends a resolution notification to Slack.
func (c *SlackClient) SendResolution(ctx context.Context, webhookURL string, title, message string, resolvedAt time.Time) error {
	msg := &slack.WebhookMessage{
		Username:  "coreplane",
		IconEmoji: ":white_check_mark:",
		Attachments: []slack.Attachment{
			{
				Color:  "#36a64f",
				Title:  fmt.Sprintf("[RESOLVED] %s", title),
				Text:   message,
				Footer: "coreplane",
				Ts:     unixTs(resolvedAt),
			},
		},
	}
	return slack.PostWebhookContext(ctx, webhookURL, msg)
}

func (c *SlackClient) getSeverityColor(severity string) string {
	switch severity {
	case "critical":
		return "#dc3545"
	case "warning":
		return "#ffc107"
	case "info":
		return "#17a2b8"
	default:
		return "#6c757d"
	}
}

// TestWebhook tests a Slack webhook URL.
func (c *SlackClient) TestWebhook(ctx context.Context, webhookURL string) error {
	msg := &slack.WebhookMessage{
		Text:      "coreplane alert webhook test - connection successful",
		Username:  "coreplane",
		IconEmoji: ":bell:",
	}
	return slack.PostWebhookContext(ctx, webhookURL, msg)
}
