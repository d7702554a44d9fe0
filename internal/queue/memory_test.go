package queue

import (
	"context"
	"testing"
	"time"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/message"
)

func newTestMessage(id string, precedence message.Precedence, submittedAt time.Time, ttl time.Duration) *message.Message {
	return &message.Message{
		ID:            id,
		Precedence:    precedence,
		SubmittedAt:   submittedAt,
		NextAttemptAt: submittedAt,
		ExpiresAt:     submittedAt.Add(ttl),
		Status:        message.StatusQueued,
	}
}

func TestMemoryStorePeekIsFIFOByAdmissionOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Unix(1_700_000_000, 0)

	first := newTestMessage("m1", message.PrecedenceFlash, base, time.Hour)
	second := newTestMessage("m2", message.PrecedenceFlash, base.Add(time.Second), time.Hour)
	if err := store.Enqueue(ctx, first); err != nil {
		t.Fatalf("Enqueue first: %v", err)
	}
	if err := store.Enqueue(ctx, second); err != nil {
		t.Fatalf("Enqueue second: %v", err)
	}

	got, err := store.Peek(ctx, message.PrecedenceFlash)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if got.ID != "m1" {
		t.Fatalf("Peek returned %q, want m1 (first admitted)", got.ID)
	}
}

func TestMemoryStorePeekDoesNotGateOnReadiness(t *testing.T) {
	// Readiness (NextAttemptAt vs now) is the dispatcher's concern;
	// Peek always returns the strict head regardless of whether it is
	// yet due, so a caller can decide to wait rather than skip ahead.
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Unix(1_700_000_000, 0)

	deferred := newTestMessage("deferred", message.PrecedencePriority, base, time.Hour)
	deferred.NextAttemptAt = base.Add(time.Hour)

	if err := store.Enqueue(ctx, deferred); err != nil {
		t.Fatalf("Enqueue deferred: %v", err)
	}

	got, err := store.Peek(ctx, message.PrecedencePriority)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if got.ID != "deferred" {
		t.Fatalf("Peek returned %q, want deferred", got.ID)
	}
}

func TestMemoryStoreAckRemoves(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Unix(1_700_000_000, 0)
	msg := newTestMessage("m1", message.PrecedenceRoutine, base, time.Hour)
	if err := store.Enqueue(ctx, msg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := store.Ack(ctx, message.PrecedenceRoutine, "m1"); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if _, err := store.Peek(ctx, message.PrecedenceRoutine); err != ErrEmpty {
		t.Fatalf("Peek after Ack = %v, want ErrEmpty", err)
	}
	if err := store.Ack(ctx, message.PrecedenceRoutine, "m1"); err != ErrNotFound {
		t.Fatalf("double Ack = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreRequeueMovesToTail(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Unix(1_700_000_000, 0)

	a := newTestMessage("A", message.PrecedenceRoutine, base, time.Hour)
	b := newTestMessage("B", message.PrecedenceRoutine, base.Add(10*time.Millisecond), time.Hour)
	c := newTestMessage("C", message.PrecedenceRoutine, base.Add(20*time.Millisecond), time.Hour)
	for _, m := range []*message.Message{a, b, c} {
		if err := store.Enqueue(ctx, m); err != nil {
			t.Fatalf("Enqueue %s: %v", m.ID, err)
		}
	}

	// A dispatches successfully and is acked.
	got, err := store.Peek(ctx, message.PrecedenceRoutine)
	if err != nil || got.ID != "A" {
		t.Fatalf("Peek = %v, %v, want A", got, err)
	}
	if err := store.Ack(ctx, message.PrecedenceRoutine, "A"); err != nil {
		t.Fatalf("Ack A: %v", err)
	}

	// B transiently fails and is requeued to the tail, behind C.
	got, err = store.Peek(ctx, message.PrecedenceRoutine)
	if err != nil || got.ID != "B" {
		t.Fatalf("Peek = %v, %v, want B", got, err)
	}
	got.AttemptCount++
	got.NextAttemptAt = base.Add(time.Minute)
	if err := store.Requeue(ctx, got); err != nil {
		t.Fatalf("Requeue B: %v", err)
	}

	order := []string{}
	for {
		head, err := store.Peek(ctx, message.PrecedenceRoutine)
		if err == ErrEmpty {
			break
		}
		if err != nil {
			t.Fatalf("Peek: %v", err)
		}
		order = append(order, head.ID)
		if err := store.Ack(ctx, message.PrecedenceRoutine, head.ID); err != nil {
			t.Fatalf("Ack %s: %v", head.ID, err)
		}
	}
	if len(order) != 2 || order[0] != "C" || order[1] != "B" {
		t.Fatalf("dispatch order = %v, want [C B]", order)
	}
}

func TestMemoryStoreGetReturnsTerminalRecordAfterAckOrReject(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Unix(1_700_000_000, 0)

	delivered := newTestMessage("delivered", message.PrecedenceFlash, base, time.Hour)
	failed := newTestMessage("failed", message.PrecedenceFlash, base, time.Hour)
	if err := store.Enqueue(ctx, delivered); err != nil {
		t.Fatalf("Enqueue delivered: %v", err)
	}
	if err := store.Enqueue(ctx, failed); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if err := store.Ack(ctx, message.PrecedenceFlash, "delivered"); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if err := store.Reject(ctx, message.PrecedenceFlash, "failed", message.StatusFailed); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	got, err := store.Get(ctx, "delivered")
	if err != nil {
		t.Fatalf("Get(delivered): %v", err)
	}
	if got.Status != message.StatusDelivered {
		t.Fatalf("Status = %v, want DELIVERED", got.Status)
	}

	got, err = store.Get(ctx, "failed")
	if err != nil {
		t.Fatalf("Get(failed): %v", err)
	}
	if got.Status != message.StatusFailed {
		t.Fatalf("Status = %v, want FAILED", got.Status)
	}

	if _, err := store.Get(ctx, "unknown"); err != ErrNotFound {
		t.Fatalf("Get(unknown) = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreRemoveLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Unix(1_700_000_000, 0)

	msg := newTestMessage("m1", message.PrecedenceImmediate, base, time.Hour)
	if err := store.Enqueue(ctx, msg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := store.Remove(ctx, message.PrecedenceImmediate, "m1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := store.Peek(ctx, message.PrecedenceImmediate); err != ErrEmpty {
		t.Fatalf("Peek after Remove = %v, want ErrEmpty", err)
	}
	if _, err := store.Get(ctx, "m1"); err != ErrNotFound {
		t.Fatalf("Get after Remove = %v, want ErrNotFound (no terminal record left behind)", err)
	}
	if err := store.Remove(ctx, message.PrecedenceImmediate, "m1"); err != ErrNotFound {
		t.Fatalf("double Remove = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreDepthsAndScanExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Unix(1_700_000_000, 0)

	alive := newTestMessage("alive", message.PrecedenceFlash, base, time.Hour)
	expired := newTestMessage("expired", message.PrecedenceFlash, base, time.Second)
	if err := store.Enqueue(ctx, alive); err != nil {
		t.Fatalf("Enqueue alive: %v", err)
	}
	if err := store.Enqueue(ctx, expired); err != nil {
		t.Fatalf("Enqueue expired: %v", err)
	}

	depths, err := store.Depths(ctx)
	if err != nil {
		t.Fatalf("Depths: %v", err)
	}
	if depths[message.PrecedenceFlash] != 2 {
		t.Fatalf("depth = %d, want 2", depths[message.PrecedenceFlash])
	}

	gone, err := store.ScanExpired(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("ScanExpired: %v", err)
	}
	if len(gone) != 1 || gone[0].ID != "expired" {
		t.Fatalf("ScanExpired = %+v, want [expired]", gone)
	}

	depth, err := store.Depth(ctx, message.PrecedenceFlash)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("depth after scan = %d, want 1", depth)
	}

	archived, err := store.Get(ctx, "expired")
	if err != nil {
		t.Fatalf("Get(expired): %v", err)
	}
	if archived.Status != message.StatusExpired {
		t.Fatalf("Status = %v, want EXPIRED", archived.Status)
	}
}
