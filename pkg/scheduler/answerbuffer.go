package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AnswerBuffer is the cross-process answer buffer keyed by
// (minion_id, question_id) that the question/answer protocol depends on.
// The operator's reply and the Minion's poll_answer request may land on
// different Overlord process instances behind a load balancer, so the
// buffer lives in Redis rather than in-process memory.
type AnswerBuffer struct {
	client *redis.Client
	ttl    time.Duration
}

const defaultAnswerBufferTTL = time.Hour

// NewAnswerBuffer builds an AnswerBuffer backed by client. ttl bounds how
// long an unclaimed answer is kept before expiring (defaults to 1 hour).
func NewAnswerBuffer(client *redis.Client, ttl time.Duration) *AnswerBuffer {
	if ttl <= 0 {
		ttl = defaultAnswerBufferTTL
	}
	return &AnswerBuffer{client: client, ttl: ttl}
}

func answerKey(minionID, questionID string) string {
	return fmt.Sprintf("overlord:answer:%s:%s", minionID, questionID)
}

// Put resolves the pending question with answer, to be picked up by the
// Minion's next poll_answer request.
func (b *AnswerBuffer) Put(ctx context.Context, minionID, questionID, answer string) error {
	if b == nil || b.client == nil {
		return fmt.Errorf("scheduler: answer buffer not configured")
	}
	return b.client.Set(ctx, answerKey(minionID, questionID), answer, b.ttl).Err()
}

// Get returns the buffered answer for (minionID, questionID), if any has
// been posted yet. A nil buffer degrades to "no answer yet" rather than
// an error; the Minion falls back to best judgment on poll timeout.
func (b *AnswerBuffer) Get(ctx context.Context, minionID, questionID string) (string, bool, error) {
	if b == nil || b.client == nil {
		return "", false, nil
	}
	val, err := b.client.Get(ctx, answerKey(minionID, questionID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
