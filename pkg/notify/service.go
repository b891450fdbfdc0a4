// Package notify is the Overlord's operator-facing Slack notification sink
//, built as a session-notification service:
// one thread per distinct (repo, issue) fingerprint, threaded replies for
// repeat events on the same issue.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token   string
	Channel string
}

// Service handles Slack notification delivery. Nil-safe: every method is a
// no-op when the service itself is nil, so callers never have to check
// whether notifications are configured before using it.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates a new Slack notification service. Returns nil if Token
// or Channel is empty, so construction naturally degrades to "disabled".
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client: NewClient(cfg.Token, cfg.Channel),
		logger: slog.Default().With("component", "notify-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With("component", "notify-service"),
	}
}

func fingerprintFor(input EventInput) string {
	if input.Fingerprint != "" {
		return input.Fingerprint
	}
	return fmt.Sprintf("overlord:%s:%d", input.Repo, input.IssueNumber)
}

// NotifyEvent posts a needs-attention/timed_out/tamper-detected event,
// threading into any prior message for the same (repo, issue) fingerprint.
// Fail-open: delivery errors are logged, never returned — a notification
// failure must never block the Overlord's own state transition.
func (s *Service) NotifyEvent(ctx context.Context, input EventInput) {
	if s == nil {
		return
	}

	fp := fingerprintFor(input)
	threadTS, err := s.client.FindMessageByFingerprint(ctx, fp)
	if err != nil {
		s.logger.Warn("failed to find Slack thread for fingerprint",
			"fingerprint", fp, "error", err)
	}

	blocks := BuildEventMessage(input)
	if err := s.client.PostMessage(ctx, blocks, threadTS, 10*time.Second); err != nil {
		s.logger.Error("failed to send Slack notification",
			"kind", input.Kind, "repo", input.Repo, "issue", input.IssueNumber, "error", err)
	}
}
