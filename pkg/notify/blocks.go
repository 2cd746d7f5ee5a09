package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

func levelEmoji(level string) string {
	switch level {
	case "critical":
		return "🔴"
	case "elevated":
		return "🟠"
	case "guarded":
		return "🟡"
	default:
		return "⚪"
	}
}

func levelLabel(level string) string {
	switch level {
	case "critical":
		return "CRITICAL"
	case "elevated":
		return "ELEVATED"
	case "guarded":
		return "GUARDED"
	default:
		return level
	}
}

func threatNotificationBlocks(event ThreatEvent) []goslack.Block {
	verb := "New"
	if event.Updated {
		verb = "Updated"
	}
	header := goslack.NewHeaderBlock(
		goslack.NewTextBlockObject(goslack.PlainTextType,
			fmt.Sprintf("%s %s threat %s", levelEmoji(event.Level), verb, event.Area), true, false),
	)

	var fields []*goslack.TextBlockObject
	fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Level:* %s", levelLabel(event.Level)), false, false))
	if event.Type != "" {
		fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Type:* %s", event.Type), false, false))
	}
	fields = append(fields, goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Area:* %s", event.Area), false, false))

	blocks := []goslack.Block{header}
	if len(fields) > 0 {
		blocks = append(blocks, goslack.NewSectionBlock(nil, fields, nil))
	}
	if event.Summary != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncate(event.Summary, 2900), false, false),
			nil, nil,
		))
	}
	return blocks
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
