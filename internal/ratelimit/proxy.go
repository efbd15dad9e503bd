package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RequestFunc is a function that performs the actual API request
type RequestFunc func(ctx context.Context) (interface{}, error)

// Config holds the rate limit settings for one upstream provider
type Config struct {
	RequestsPerSecond float64
	Burst             int
	// MaxQueueTime bounds how long a caller waits for a token
	MaxQueueTime time.Duration
}

// Proxy defines the interface for rate-limiting outbound provider calls
//
//go:generate mockgen -source=proxy.go -destination=../mocks/ratelimit_proxy.go -package=mocks -mock_names=Proxy=MockRateLimitProxy
type Proxy interface {
	// Request submits a rate-limited request for execution
	Request(ctx context.Context, providerName string, fn RequestFunc) (interface{}, error)

	// Close shuts down the proxy
	Close() error
}

// proxy is a process-local token bucket keyed by provider name
type proxy struct {
	limiters map[string]*providerLimiter
	closed   atomic.Bool
}

type providerLimiter struct {
	config  Config
	limiter *rate.Limiter
}

// NewProxy creates a rate-limiting proxy for the given providers
func NewProxy(providers map[string]Config) (Proxy, error) {
	limiters := make(map[string]*providerLimiter, len(providers))
	for name, cfg := range providers {
		if cfg.RequestsPerSecond <= 0 {
			return nil, fmt.Errorf("provider %q: requests per second must be positive", name)
		}
		if cfg.Burst <= 0 {
			cfg.Burst = 1
		}
		if cfg.MaxQueueTime <= 0 {
			cfg.MaxQueueTime = 30 * time.Second
		}
		limiters[name] = &providerLimiter{
			config:  cfg,
			limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		}
	}
	return &proxy{limiters: limiters}, nil
}

// Request is a typed helper that wraps Proxy.Request. A nil proxy executes
// the function directly, which keeps tests simple.
func Request[T any](ctx context.Context, p Proxy, providerName string, fn func(ctx context.Context) (T, error)) (T, error) {
	if p == nil {
		return fn(ctx)
	}

	var zero T
	result, err := p.Request(ctx, providerName, func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	return result.(T), nil
}

// Request blocks until a token is acquired, then executes fn. It returns
// early when the context is canceled or the provider's max queue time is
// exceeded.
func (p *proxy) Request(ctx context.Context, providerName string, fn RequestFunc) (interface{}, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("proxy is closed")
	}

	limiter, ok := p.limiters[providerName]
	if !ok {
		return nil, fmt.Errorf("provider '%s' not configured", providerName)
	}

	queueCtx, cancel := context.WithTimeout(ctx, limiter.config.MaxQueueTime)
	defer cancel()

	if err := limiter.limiter.Wait(queueCtx); err != nil {
		return nil, fmt.Errorf("failed to acquire rate limit token for '%s': %w", providerName, err)
	}

	// The token only gates admission; the HTTP adapter owns request timeouts
	return fn(ctx)
}

// Close marks the proxy closed. In-flight requests complete.
func (p *proxy) Close() error {
	p.closed.Store(true)
	return nil
}
