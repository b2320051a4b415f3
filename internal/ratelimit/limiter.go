// Package ratelimit implements per-category request quotas on Redis
// fixed windows. The limiter fails open: if the ephemeral store is down or
// slow, requests are allowed rather than turning a cache outage into a
// full denial of service.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Limiter categories.
const (
	CategoryAuth    = "auth"
	CategoryGeneral = "general"
	CategoryQueue   = "queue"
	CategoryAdmin   = "admin"
	CategoryUpload  = "upload"
)

// Rule defines the quota for one category.
type Rule struct {
	Points int           // consumptions allowed per window
	Window time.Duration // quota window
	Block  time.Duration // how long exhaustion blocks further consumption
}

// ErrUnknownCategory is returned for categories without a configured rule.
var ErrUnknownCategory = errors.New("unknown rate limit category")

// RateLimitedError reports quota exhaustion with a retry hint.
type RateLimitedError struct {
	Category   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (%s), retry after %s", e.Category, e.RetryAfter)
}

// scripter is the subset of the Redis client the limiter needs.
type scripter interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// consumeScript counts consumptions in a fixed window. On the consumption
// that crosses the limit the key TTL is extended to the block duration so
// the window stays closed until the block elapses.
// KEYS[1] window key, ARGV: window_ms, points, block_ms, cost.
// Returns {allowed(0|1), retry_after_ms}.
const consumeScript = `
local count = redis.call("INCRBY", KEYS[1], ARGV[4])
if count == tonumber(ARGV[4]) then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if count > tonumber(ARGV[2]) then
	if count - tonumber(ARGV[4]) <= tonumber(ARGV[2]) then
		redis.call("PEXPIRE", KEYS[1], ARGV[3])
	end
	local ttl = redis.call("PTTL", KEYS[1])
	if ttl < 0 then
		ttl = tonumber(ARGV[3])
	end
	return {0, ttl}
end
return {1, 0}
`

var rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "codearena_ratelimit_rejections_total",
	Help: "Requests rejected by the rate limiter, per category.",
}, []string{"category"})

// Limiter enforces per-identifier quotas for configured categories.
type Limiter struct {
	redis          scripter
	rules          map[string]Rule
	consumeTimeout time.Duration
	logger         zerolog.Logger
}

// NewLimiter creates a limiter with the given per-category rules.
func NewLimiter(client scripter, rules map[string]Rule, consumeTimeout time.Duration, logger zerolog.Logger) *Limiter {
	if consumeTimeout <= 0 {
		consumeTimeout = 5 * time.Second
	}
	return &Limiter{
		redis:          client,
		rules:          rules,
		consumeTimeout: consumeTimeout,
		logger:         logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Consume spends cost points of identifier's quota in category. It returns
// nil when allowed, a *RateLimitedError when exhausted, and nil (fail-open)
// when the store errors or the bounded call times out.
func (l *Limiter) Consume(ctx context.Context, category, identifier string, cost int) error {
	rule, ok := l.rules[category]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}
	if cost <= 0 {
		cost = 1
	}

	ctx, cancel := context.WithTimeout(ctx, l.consumeTimeout)
	defer cancel()

	key := fmt.Sprintf("rl:%s:%s", category, identifier)
	res, err := l.redis.Eval(ctx, consumeScript, []string{key},
		rule.Window.Milliseconds(), rule.Points, rule.Block.Milliseconds(), cost).Result()
	if err != nil {
		l.logger.Warn().Err(err).Str("category", category).Msg("limiter store error, failing open")
		return nil
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		l.logger.Warn().Str("category", category).Msg("unexpected limiter script reply, failing open")
		return nil
	}

	allowed, _ := vals[0].(int64)
	if allowed == 1 {
		return nil
	}

	retryMS, _ := vals[1].(int64)
	rejectionsTotal.WithLabelValues(category).Inc()
	return &RateLimitedError{
		Category:   category,
		RetryAfter: time.Duration(retryMS) * time.Millisecond,
	}
}
