// Package notify sends self-healing events of CRITICAL or EMERGENCY
// severity to an operator Slack channel via an incoming webhook. Entirely
// additive: a missing webhook URL or a delivery failure never blocks the
// recovery ladder or reboot gate that triggered the notification.
package notify

import (
	"fmt"

	"github.com/slack-go/slack"

	"github.com/cuemby/aegis/pkg/log"
)

type Notifier struct {
	webhookURL string
}

func New(webhookURL string) *Notifier {
	return &Notifier{webhookURL: webhookURL}
}

// Enabled reports whether a webhook URL was configured; callers can skip
// building a message entirely when it returns false.
func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

// SelfHealingEvent posts a single-attachment message colored by severity.
// Any error posting is logged and otherwise ignored.
func (n *Notifier) SelfHealingEvent(eventType, severity, description, unit string) {
	if !n.Enabled() {
		return
	}

	color := "warning"
	switch severity {
	case "CRITICAL", "EMERGENCY":
		color = "danger"
	case "INFO":
		color = "good"
	}

	fields := []slack.AttachmentField{
		{Title: "Event", Value: eventType, Short: true},
		{Title: "Severity", Value: severity, Short: true},
	}
	if unit != "" {
		fields = append(fields, slack.AttachmentField{Title: "Unit", Value: unit, Short: true})
	}

	msg := slack.WebhookMessage{
		Attachments: []slack.Attachment{
			{
				Color:  color,
				Title:  fmt.Sprintf("Self-healing: %s", eventType),
				Text:   description,
				Fields: fields,
			},
		},
	}

	if err := slack.PostWebhook(n.webhookURL, &msg); err != nil {
		log.WithComponent("notify").Warn().Err(err).Msg("slack webhook delivery failed")
	}
}
