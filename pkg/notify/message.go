package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

// EventKind names the Overlord events that reach an operator's Slack
// channel: needs-attention issues, watchdog timeouts, and
// audit-trail tamper detection.
type EventKind string

const (
	EventNeedsAttention EventKind = "needs_attention"
	EventTimedOut       EventKind = "timed_out"
	EventTamperDetected EventKind = "tamper_detected"
)

var eventEmoji = map[EventKind]string{
	EventNeedsAttention: ":warning:",
	EventTimedOut:       ":hourglass:",
	EventTamperDetected: ":rotating_light:",
}

var eventLabel = map[EventKind]string{
	EventNeedsAttention: "Needs Attention",
	EventTimedOut:       "Minion Timed Out",
	EventTamperDetected: "Audit Trail Tamper Detected",
}

// EventInput carries the fields a notification message is built from.
type EventInput struct {
	Kind        EventKind
	Repo        string
	IssueNumber int
	MinionID    string
	Detail      string
	Fingerprint string
}

func issueRef(repo string, issueNumber int) string {
	if issueNumber == 0 {
		return repo
	}
	return fmt.Sprintf("%s#%d", repo, issueNumber)
}

// BuildEventMessage builds Block Kit blocks for one Overlord event.
func BuildEventMessage(input EventInput) []goslack.Block {
	emoji := eventEmoji[input.Kind]
	if emoji == "" {
		emoji = ":question:"
	}
	label := eventLabel[input.Kind]
	if label == "" {
		label = string(input.Kind)
	}

	header := fmt.Sprintf("%s *%s*", emoji, label)
	if ref := issueRef(input.Repo, input.IssueNumber); ref != "" {
		header += fmt.Sprintf(" — `%s`", ref)
	}
	if input.MinionID != "" {
		header += fmt.Sprintf(" (minion `%s`)", input.MinionID)
	}

	var blocks []goslack.Block
	blocks = append(blocks, goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
		nil, nil,
	))

	if input.Detail != "" {
		blocks = append(blocks, goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, truncateForSlack(input.Detail), false, false),
			nil, nil,
		))
	}

	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
