// ABOUTME: Fixed-window rate limiter keyed by client address
// ABOUTME: Counts in Redis behind a circuit breaker; an unreachable Redis fails open

package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-io/meridian/internal/observability"
	"github.com/meridian-io/meridian/internal/resilience"
)

// Default rate limiter configuration values.
const (
	DefaultRateLimit  = 100
	DefaultRateWindow = time.Minute
)

// RateLimiterConfig configures the rate limiter.
type RateLimiterConfig struct {
	// Limit is the number of requests allowed per client per window.
	// Zero uses DefaultRateLimit.
	Limit int

	// Window is the fixed accounting window. Counters expire with the
	// window, so a quiet client costs nothing. Zero uses DefaultRateWindow.
	Window time.Duration

	// Audit receives violation events. Optional.
	Audit *observability.AuditLogger

	// Logger for structured logging.
	Logger *slog.Logger
}

// Decision is the outcome of a rate limit check, shaped for response headers.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int

	// RetryAfter is how long until the window resets. Only set on denial.
	RetryAfter time.Duration
}

// RateLimiter counts requests per client address in fixed windows. The
// counter lives in Redis so every replica sees the same budget. Redis sits
// behind a circuit breaker and every failure mode allows the request: rate
// limiting protects the service, it is not something lookups depend on.
type RateLimiter struct {
	client  *Client
	breaker *resilience.Breaker
	config  RateLimiterConfig
}

// NewRateLimiter creates a rate limiter backed by the given client.
func NewRateLimiter(client *Client, config RateLimiterConfig) *RateLimiter {
	if config.Limit == 0 {
		config.Limit = DefaultRateLimit
	}
	if config.Window == 0 {
		config.Window = DefaultRateWindow
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Audit == nil {
		config.Audit = observability.NewAuditLogger(config.Logger)
	}

	logger := config.Logger
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name: "redis-ratelimit",
		OnStateChange: func(from, to resilience.State) {
			logger.Warn("rate limiter circuit state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &RateLimiter{
		client:  client,
		breaker: breaker,
		config:  config,
	}
}

// Allow records a request for the client address and decides whether it fits
// the window budget. Violations are written to the audit log. When Redis is
// unreachable or the circuit is open the request is allowed.
func (l *RateLimiter) Allow(ctx context.Context, clientAddr, endpoint string) Decision {
	key := l.client.PrefixedKey("ratelimit:" + clientAddr)

	var count int64
	var retryAfter time.Duration
	err := l.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		count, retryAfter, err = l.take(ctx, key)
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrOpen) {
			l.config.Logger.Warn("rate limiter unavailable, allowing request",
				slog.Any("error", err),
			)
		}
		return Decision{Allowed: true, Limit: l.config.Limit, Remaining: l.config.Limit}
	}

	remaining := l.config.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if count > int64(l.config.Limit) {
		l.config.Audit.LogRateLimitViolation(ctx, clientAddr, endpoint, l.config.Limit)
		return Decision{Limit: l.config.Limit, RetryAfter: retryAfter}
	}

	return Decision{Allowed: true, Limit: l.config.Limit, Remaining: remaining}
}

// take increments the client's window counter, arming the expiry on the
// window's first request. The TTL is read only for denials, where it becomes
// the Retry-After hint.
func (l *RateLimiter) take(ctx context.Context, key string) (int64, time.Duration, error) {
	rdb := l.client.Redis()

	count, err := rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("incrementing window counter: %w", err)
	}
	if count == 1 {
		if err := rdb.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, 0, fmt.Errorf("arming window expiry: %w", err)
		}
	}

	var retryAfter time.Duration
	if count > int64(l.config.Limit) {
		if ttl, err := rdb.TTL(ctx, key).Result(); err == nil && ttl > 0 {
			retryAfter = ttl
		}
	}
	return count, retryAfter, nil
}

// Stats returns the breaker snapshot for health reporting.
func (l *RateLimiter) Stats() resilience.Stats {
	return l.breaker.Stats()
}
