package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceNilReceiverIsNoop(t *testing.T) {
	var s *Service
	// Must not panic.
	s.NotifyEvent(context.Background(), EventInput{
		Kind: EventTimedOut,
		Repo: "org/repo",
	})
}

func TestNewService(t *testing.T) {
	t.Run("returns nil when token empty", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "", Channel: "C123"})
		assert.Nil(t, svc)
	})

	t.Run("returns nil when channel empty", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "xoxb-test", Channel: ""})
		assert.Nil(t, svc)
	})

	t.Run("returns service when configured", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "xoxb-test", Channel: "C123"})
		assert.NotNil(t, svc)
	})
}

func TestFingerprintForDerivesFromRepoIssue(t *testing.T) {
	fp := fingerprintFor(EventInput{Repo: "org/repo", IssueNumber: 42})
	assert.Equal(t, "overlord:org/repo:42", fp)
}

func TestFingerprintForPrefersExplicit(t *testing.T) {
	fp := fingerprintFor(EventInput{Repo: "org/repo", IssueNumber: 42, Fingerprint: "custom"})
	assert.Equal(t, "custom", fp)
}
