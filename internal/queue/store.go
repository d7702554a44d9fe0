// Package queue implements the four-partition, strict-precedence
// store-and-forward queue: one FIFO lane per precedence level, backed by
// Redis when configured and by an in-process fallback otherwise.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/message"
)

var (
	ErrEmpty    = errors.New("queue: no eligible message")
	ErrNotFound = errors.New("queue: message not found in partition")
)

// Store is the persistence contract for the precedence queue. All
// operations are partition-scoped except Depths and ScanExpired, which
// span every partition.
type Store interface {
	// Enqueue admits msg at the tail of the partition named by
	// msg.Precedence, behind every message already in it, whatever their
	// NextAttemptAt.
	Enqueue(ctx context.Context, msg *message.Message) error

	// Peek returns the head of the given partition without removing it,
	// in strict FIFO order: the oldest surviving enqueue or requeue.
	// Readiness (whether the head's NextAttemptAt has elapsed) is the
	// dispatcher's concern, not the store's — Peek never skips ahead to
	// a later, more-ready message. It returns ErrEmpty if the partition
	// holds nothing.
	Peek(ctx context.Context, precedence message.Precedence) (*message.Message, error)

	// Ack removes a message from its partition after successful delivery
	// and records it as DELIVERED.
	Ack(ctx context.Context, precedence message.Precedence, id string) error

	// Requeue re-admits msg into its partition under an updated
	// NextAttemptAt/AttemptCount, implementing exponential-backoff retry.
	Requeue(ctx context.Context, msg *message.Message) error

	// Reject permanently removes a message from its partition and
	// records terminalStatus (FAILED or EXPIRED) against it.
	Reject(ctx context.Context, precedence message.Precedence, id string, terminalStatus message.Status) error

	// Get returns the message for id regardless of its current
	// partition membership, including terminal records retained after
	// Ack/Reject. It returns ErrNotFound if id was never admitted.
	Get(ctx context.Context, id string) (*message.Message, error)

	// Remove deletes id from its partition and its side record entirely,
	// leaving no trace it was ever admitted. Used to undo an Enqueue
	// whose admission could not be completed durably, so a caller can
	// honor "no record is created" on that failure path rather than
	// leaving a dangling terminal record the way Reject would.
	Remove(ctx context.Context, precedence message.Precedence, id string) error

	// Depth returns the current size of one partition.
	Depth(ctx context.Context, precedence message.Precedence) (int, error)

	// Depths returns the current size of every partition.
	Depths(ctx context.Context) (map[message.Precedence]int, error)

	// ScanExpired removes and returns every message across all
	// partitions whose ExpiresAt is at or before now.
	ScanExpired(ctx context.Context, now time.Time) ([]*message.Message, error)
}
