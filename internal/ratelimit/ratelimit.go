// Package ratelimit throttles action executions per user.
//
// The engine consults a Limiter before resolving anything, so a denied
// request costs no store reads. The default implementation is a token
// bucket keyed by user id; AllowAll backs contexts where throttling
// happens upstream.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// Decision is the outcome of a limiter check. RetryAfter is a hint for
// the caller, set only on denials.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter decides whether a user's next execution may proceed.
type Limiter interface {
	Check(userID string) Decision
}

// Config tunes the per-user token bucket.
type Config struct {
	// PerSecond is the sustained execution rate per user.
	PerSecond int64

	// Burst is how many executions a user may spend ahead of the
	// sustained rate.
	Burst int64

	// TTL expires idle users from the backing store.
	TTL time.Duration
}

func (c *Config) fillDefaults() {
	if c.PerSecond <= 0 {
		c.PerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.TTL <= 0 {
		c.TTL = time.Minute
	}
}

// UserLimiter is a token-bucket Limiter keyed by user id.
type UserLimiter struct {
	bucket *limiter.TokenBucket
	window time.Duration
}

var _ Limiter = (*UserLimiter)(nil)

// NewUserLimiter builds a limiter from cfg, substituting defaults for
// unset fields.
func NewUserLimiter(cfg Config) (*UserLimiter, error) {
	cfg.fillDefaults()
	bucket, err := limiter.NewTokenBucket(
		limiter.Config{
			Rate:     cfg.PerSecond,
			Duration: time.Second,
			Burst:    cfg.Burst,
		},
		store.NewMemoryStore(cfg.TTL),
	)
	if err != nil {
		return nil, fmt.Errorf("building token bucket: %w", err)
	}
	return &UserLimiter{bucket: bucket, window: time.Second}, nil
}

// Check implements Limiter. RetryAfter on denials is the refill window;
// the bucket does not expose a per-key refill instant.
func (l *UserLimiter) Check(userID string) Decision {
	if l.bucket.Allow(userID) {
		return Decision{Allowed: true}
	}
	return Decision{Allowed: false, RetryAfter: l.window}
}

// AllowAll is a Limiter that never denies.
type AllowAll struct{}

var _ Limiter = AllowAll{}

// Check implements Limiter.
func (AllowAll) Check(string) Decision { return Decision{Allowed: true} }
