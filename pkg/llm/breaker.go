package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "overlord",
		Subsystem: "llm",
		Name:      "requests_total",
		Help:      "Total LLM chat requests by provider and outcome.",
	}, []string{"provider", "outcome"})

	poolActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "overlord",
		Subsystem: "llm",
		Name:      "pool_active",
		Help:      "In-flight LLM requests currently holding a pool slot.",
	}, []string{"provider"})

	breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "overlord",
		Subsystem: "llm",
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
	}, []string{"provider"})
)

// MustRegisterMetrics registers the package's Prometheus collectors against
// reg. Call once at process start.
func MustRegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(requestsTotal, poolActive, breakerState)
}

// BreakerClient wraps a Client with a per-provider circuit breaker so a
// failing backend stops absorbing request latency once its failure ratio
// crosses the configured threshold.
type BreakerClient struct {
	provider string
	inner    Client
	cb       *gobreaker.CircuitBreaker
	pool     *Pool
}

// NewBreakerClient wraps inner with a circuit breaker identified by
// provider (used as a metrics label and breaker name).
func NewBreakerClient(provider string, inner Client, pool *Pool) *BreakerClient {
	settings := gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerState.WithLabelValues(name).Set(float64(to))
		},
	}
	return &BreakerClient{
		provider: provider,
		inner:    inner,
		cb:       gobreaker.NewCircuitBreaker(settings),
		pool:     pool,
	}
}

// Chat routes through the circuit breaker, recording outcome metrics.
func (b *BreakerClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if b.pool != nil {
		poolActive.WithLabelValues(b.provider).Set(float64(b.pool.Stats().Active))
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Chat(ctx, req)
	})
	if err != nil {
		requestsTotal.WithLabelValues(b.provider, "error").Inc()
		return nil, fmt.Errorf("llm: %s request failed: %w", b.provider, err)
	}
	requestsTotal.WithLabelValues(b.provider, "success").Inc()
	return result.(*ChatResponse), nil
}

// Stream routes through the circuit breaker for the initial connection; once
// a stream is open, mid-stream ErrorChunks do not themselves trip the
// breaker (the underlying request already succeeded).
func (b *BreakerClient) Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Stream(ctx, req)
	})
	if err != nil {
		requestsTotal.WithLabelValues(b.provider, "error").Inc()
		return nil, fmt.Errorf("llm: %s stream failed: %w", b.provider, err)
	}
	requestsTotal.WithLabelValues(b.provider, "success").Inc()
	return result.(<-chan Chunk), nil
}
