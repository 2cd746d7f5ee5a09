// Package notify delivers best-effort Slack notifications for admin threat
// events (C8), mirroring the admin:new_threat_detected /
// admin:threat_updated events the realtime gateway pushes over the socket,
// for operators who are not actively connected.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/wisbric/tacops/internal/telemetry"
	"github.com/wisbric/tacops/pkg/store"
)

// ThreatEvent carries the fields needed to render a threat notification.
type ThreatEvent struct {
	ThreatID string
	Level    string
	Type     string
	Area     string
	Summary  string
	Updated  bool // false for a new threat, true for an update to an existing one
}

func ThreatEventFromRow(row store.ThreatRow, updated bool) ThreatEvent {
	return ThreatEvent{
		ThreatID: row.ID.String(),
		Level:    row.Level,
		Type:     row.Type,
		Area:     row.Area,
		Summary:  row.Summary,
		Updated:  updated,
	}
}

// Notifier sends admin threat notifications to a configured Slack channel.
// If botToken is empty, the notifier is a noop (logging only), so the rest
// of the system never needs to branch on whether Slack is configured.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// New creates a Notifier. If botToken is empty, notifications are logged at
// debug level and otherwise discarded.
func New(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{
		client:  client,
		channel: channel,
		logger:  logger,
	}
}

// IsEnabled returns true if the notifier has a valid Slack client and a
// destination channel.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// NotifyThreat posts a best-effort Slack notification for a threat event.
// Errors are never fatal to the caller's pipeline tick; callers should log
// and continue on a non-nil return.
func (n *Notifier) NotifyThreat(ctx context.Context, event ThreatEvent) error {
	if !n.IsEnabled() {
		n.logger.Debug("slack notifier disabled, skipping threat notification",
			"threat_id", event.ThreatID,
			"area", event.Area,
		)
		return nil
	}

	blocks := threatNotificationBlocks(event)
	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(blocks...),
		goslack.MsgOptionText(fmt.Sprintf("%s %s threat in %s", levelEmoji(event.Level), levelLabel(event.Level), event.Area), false),
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channel, opts...)
	if err != nil {
		telemetry.SlackNotificationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("posting threat notification to slack: %w", err)
	}

	telemetry.SlackNotificationsTotal.WithLabelValues("sent").Inc()
	n.logger.Info("posted threat notification to slack",
		"threat_id", event.ThreatID,
		"area", event.Area,
		"updated", event.Updated,
	)
	return nil
}
