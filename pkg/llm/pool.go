package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrAcquireTimeout is returned when a slot could not be acquired before the
// pool's acquire timeout elapsed.
var ErrAcquireTimeout = errors.New("llm: pool acquire timed out")

// Pool bounds the number of simultaneous in-flight requests against a
// backend. Every request acquires a slot (blocking up to AcquireTimeout) and
// releases it on completion or error; acquisitions are always paired with a
// guaranteed release.
type Pool struct {
	slots          chan struct{}
	acquireTimeout time.Duration

	mu            sync.Mutex
	waiting       int
	totalRequests int
	totalErrors   int
	totalRetries  int
}

// PoolStats is a point-in-time snapshot of pool activity.
type PoolStats struct {
	Active        int
	Waiting       int
	TotalRequests int
	TotalErrors   int
	TotalRetries  int
}

// NewPool builds a pool with the given concurrency limit and acquire
// timeout. maxConcurrent defaults to 2 and acquireTimeout to 60s when given
// as zero, matching the configured defaults.
func NewPool(maxConcurrent int, acquireTimeout time.Duration) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	if acquireTimeout <= 0 {
		acquireTimeout = 60 * time.Second
	}
	return &Pool{
		slots:          make(chan struct{}, maxConcurrent),
		acquireTimeout: acquireTimeout,
	}
}

// release is returned by Acquire; callers must call it exactly once.
type release func()

// Acquire blocks until a slot is free, the pool's acquire timeout elapses,
// or ctx is cancelled — whichever comes first.
func (p *Pool) Acquire(ctx context.Context) (release, error) {
	p.mu.Lock()
	p.waiting++
	p.totalRequests++
	p.mu.Unlock()

	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	select {
	case p.slots <- struct{}{}:
		p.mu.Lock()
		p.waiting--
		p.mu.Unlock()
		var once sync.Once
		return func() {
			once.Do(func() { <-p.slots })
		}, nil
	case <-acquireCtx.Done():
		p.mu.Lock()
		p.waiting--
		p.totalErrors++
		p.mu.Unlock()
		slog.Warn("llm pool: acquire timed out", "timeout", p.acquireTimeout)
		return nil, ErrAcquireTimeout
	}
}

// RecordError bumps the pool's error counter. Call on any request failure,
// acquired slot or not.
func (p *Pool) RecordError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalErrors++
}

// RecordRetry bumps the pool's retry counter.
func (p *Pool) RecordRetry() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalRetries++
}

// Stats returns a snapshot of current pool activity.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Active:        len(p.slots),
		Waiting:       p.waiting,
		TotalRequests: p.totalRequests,
		TotalErrors:   p.totalErrors,
		TotalRetries:  p.totalRetries,
	}
}
