package auth

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterAllowsUpToLimit(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return base }})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := limiter.Allow(ctx, "token-1", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !got.Allowed {
			t.Fatalf("request %d should be allowed, got %+v", i, got)
		}
	}

	got, err := limiter.Allow(ctx, "token-1", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if got.Allowed {
		t.Fatalf("4th request should be denied, got %+v", got)
	}
}

func TestMemoryLimiterResetsAfterWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewMemoryLimiter(MemoryLimiterConfig{Now: func() time.Time { return now }})
	ctx := context.Background()

	if got, _ := limiter.Allow(ctx, "token-1", 1, time.Minute); !got.Allowed {
		t.Fatalf("first request should be allowed")
	}
	if got, _ := limiter.Allow(ctx, "token-1", 1, time.Minute); got.Allowed {
		t.Fatalf("second request within window should be denied")
	}

	now = now.Add(2 * time.Minute)
	got, err := limiter.Allow(ctx, "token-1", 1, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !got.Allowed {
		t.Fatalf("request after window reset should be allowed, got %+v", got)
	}
}

func TestMemoryLimiterZeroLimitAlwaysAllows(t *testing.T) {
	limiter := NewMemoryLimiter(MemoryLimiterConfig{})
	got, err := limiter.Allow(context.Background(), "token-1", 0, time.Minute)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !got.Allowed {
		t.Fatalf("zero limit should always allow")
	}
}
