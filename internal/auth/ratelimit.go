package auth

import (
	"context"
	"time"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter enforces the relay's per-token caps, keyed by an arbitrary
// caller-chosen string (typically token_id+endpoint-class).
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}
