//go:build integration

package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/message"
)

// TestRedisStorePeekAckAndDepth exercises redisStore against a real
// Redis instance, skipped unless REDIS_ADDR is set, mirroring the
// Postgres suite's POSTGRES_DSN gate in internal/repo/postgres.
func TestRedisStorePeekAckAndDepth(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}

	store := NewRedisStore(client)
	base := time.Now()
	precedence := message.PrecedenceFlash
	first := newTestMessage("it-m1", precedence, base, time.Hour)
	second := newTestMessage("it-m2", precedence, base.Add(time.Second), time.Hour)

	t.Cleanup(func() {
		client.Del(context.Background(), queueKey(precedence), seqKey(precedence), messageKey(first.ID), messageKey(second.ID))
	})

	if err := store.Enqueue(ctx, first); err != nil {
		t.Fatalf("Enqueue first: %v", err)
	}
	if err := store.Enqueue(ctx, second); err != nil {
		t.Fatalf("Enqueue second: %v", err)
	}

	depth, err := store.Depth(ctx, precedence)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 2 {
		t.Fatalf("Depth = %d, want 2", depth)
	}

	got, err := store.Peek(ctx, precedence)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("Peek = %q, want %q (FIFO by admission order)", got.ID, first.ID)
	}

	if err := store.Ack(ctx, precedence, first.ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	depth, err = store.Depth(ctx, precedence)
	if err != nil {
		t.Fatalf("Depth after ack: %v", err)
	}
	if depth != 1 {
		t.Fatalf("Depth after ack = %d, want 1", depth)
	}

	acked, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get acked message: %v", err)
	}
	if acked.Status != message.StatusDelivered {
		t.Fatalf("acked status = %v, want DELIVERED", acked.Status)
	}
}
