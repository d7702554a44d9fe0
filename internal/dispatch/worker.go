// Package dispatch implements the strict-priority background delivery
// loop: a fixed-cadence ticker drains each precedence partition in
// FLASH→IMMEDIATE→PRIORITY→ROUTINE order, attempting delivery through a
// Transport and resolving each attempt to an ack, a backoff requeue, or
// a terminal failure. The queue itself is the durability boundary, so
// the loop is a plain goroutine rather than a workflow engine.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/audit"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/message"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/queue"
)

// Outcome is the three-way result of a single delivery attempt.
type Outcome int

const (
	// OutcomeDelivered means the recipient accepted the message; it is
	// acked and removed from its partition.
	OutcomeDelivered Outcome = iota
	// OutcomeRetryable means the attempt failed but may succeed later;
	// the message is requeued with exponential backoff.
	OutcomeRetryable
	// OutcomeFailed means the attempt failed permanently; the message
	// is rejected with a terminal FAILED status.
	OutcomeFailed
)

// Transport delivers a sealed message to its recipient. Implementations
// must respect ctx's deadline and return promptly on cancellation.
type Transport interface {
	Deliver(ctx context.Context, msg *message.Message) (Outcome, error)
}

// Sink receives the AU-family audit events the worker emits.
type Sink interface {
	Append(event audit.Event)
}

// Defaults for the tick interval, per-precedence attempt timeouts,
// retry backoff, and attempt cap. All are overridable via the With*
// options below.
const (
	defaultFlashAttemptTimeout   = 5 * time.Second
	defaultOtherAttemptTimeout   = 30 * time.Second
	defaultTickInterval          = 2 * time.Second
	defaultBackoffBase           = 500 * time.Millisecond
	defaultBackoffMax            = 60 * time.Second
	defaultMaxAttempts           = 5
)

// Worker is the single per-process dispatcher. A single instance must
// own each Store; running two instances against the same store requires
// partition-level mutual exclusion, which this type does not provide.
type Worker struct {
	store     queue.Store
	transport Transport
	sink      Sink
	now       func() time.Time

	tickInterval        time.Duration
	flashAttemptTimeout time.Duration
	otherAttemptTimeout time.Duration
	backoffBase         time.Duration
	backoffMax          time.Duration
	maxAttempts         int

	flashSignal chan struct{}

	stop chan struct{}
	done chan struct{}
}

type Option func(*Worker)

func WithTickInterval(d time.Duration) Option {
	return func(w *Worker) { w.tickInterval = d }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func WithAttemptTimeouts(flash, other time.Duration) Option {
	return func(w *Worker) { w.flashAttemptTimeout = flash; w.otherAttemptTimeout = other }
}

func WithBackoff(base, max time.Duration) Option {
	return func(w *Worker) { w.backoffBase = base; w.backoffMax = max }
}

func WithMaxAttempts(n int) Option {
	return func(w *Worker) { w.maxAttempts = n }
}

func NewWorker(store queue.Store, transport Transport, sink Sink, opts ...Option) *Worker {
	w := &Worker{
		store:               store,
		transport:           transport,
		sink:                sink,
		now:                 time.Now,
		tickInterval:        defaultTickInterval,
		flashAttemptTimeout: defaultFlashAttemptTimeout,
		otherAttemptTimeout: defaultOtherAttemptTimeout,
		backoffBase:         defaultBackoffBase,
		backoffMax:          defaultBackoffMax,
		maxAttempts:         defaultMaxAttempts,
		flashSignal:         make(chan struct{}, 1),
		stop:                make(chan struct{}),
		done:                make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SignalFlash short-circuits the wait for the next tick. Call it after
// enqueueing a FLASH message so it gets a near-immediate delivery
// attempt without shrinking the tick interval for every message.
func (w *Worker) SignalFlash() {
	select {
	case w.flashSignal <- struct{}{}:
	default:
	}
}

// Run drives the dispatch loop until ctx is canceled or Stop is called.
// On exit it lets any in-flight delivery attempt finish before
// returning, so a shutdown never abandons a message mid-transmission.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.drainAll(ctx)
		case <-w.flashSignal:
			w.drainAll(ctx)
		}
	}
}

// Stop requests the loop exit and blocks until Run has returned.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

// drainAll walks every partition in strict priority order, fully
// draining each ready partition before moving to the next, then runs the
// expiry sweep. A partition that keeps receiving due messages while it is
// being drained holds the loop there, so sustained FLASH traffic starves
// the lower precedences.
func (w *Worker) drainAll(ctx context.Context) {
	for _, precedence := range message.Order {
		w.drainPartition(ctx, precedence)
	}
	w.sweepExpired(ctx)
}

// sweepExpired implements the tick's step 2: scan every partition for
// expirations beyond just the head, since a message buried behind an
// unready head in drainPartition is never Peeked until it becomes the
// head.
func (w *Worker) sweepExpired(ctx context.Context) {
	expired, err := w.store.ScanExpired(ctx, w.now())
	if err != nil {
		return
	}
	for _, msg := range expired {
		w.emit(audit.EventMessageExpired, audit.OutcomeFailure, msg, nil)
	}
}

func (w *Worker) drainPartition(ctx context.Context, precedence message.Precedence) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := w.store.Peek(ctx, precedence)
		if err == queue.ErrEmpty {
			return
		}
		if err != nil {
			return
		}

		now := w.now()
		if msg.NextAttemptAt.After(now) {
			// Head not yet due. FIFO within a partition is tail-only, so
			// we do not skip ahead to a later message behind it.
			return
		}
		if msg.Expired(now) {
			w.expire(ctx, msg)
			continue
		}

		w.attempt(ctx, msg)
	}
}

func (w *Worker) attempt(ctx context.Context, msg *message.Message) {
	// Shutdown cancels ctx; an attempt already started still runs to its
	// own timeout and records its outcome.
	ctx = context.WithoutCancel(ctx)
	timeout := w.otherAttemptTimeout
	if msg.Precedence == message.PrecedenceFlash {
		timeout = w.flashAttemptTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg.Status = message.StatusInFlight
	msg.AttemptCount++

	outcome, err := w.transport.Deliver(attemptCtx, msg)

	switch outcome {
	case OutcomeDelivered:
		w.deliver(ctx, msg)
	case OutcomeFailed:
		w.fail(ctx, msg, err)
	default:
		w.backoff(ctx, msg, err)
	}
}

func (w *Worker) deliver(ctx context.Context, msg *message.Message) {
	if err := w.store.Ack(ctx, msg.Precedence, msg.ID); err != nil {
		return
	}
	msg.Status = message.StatusDelivered
	w.emit(audit.EventMessageDelivered, audit.OutcomeSuccess, msg, nil)
}

func (w *Worker) fail(ctx context.Context, msg *message.Message, cause error) {
	if err := w.store.Reject(ctx, msg.Precedence, msg.ID, message.StatusFailed); err != nil {
		return
	}
	msg.Status = message.StatusFailed
	w.emit(audit.EventMessageFailed, audit.OutcomeFailure, msg, cause)
}

func (w *Worker) backoff(ctx context.Context, msg *message.Message, cause error) {
	if msg.AttemptCount >= w.maxAttempts {
		w.fail(ctx, msg, cause)
		return
	}
	msg.Status = message.StatusQueued
	msg.NextAttemptAt = w.now().Add(w.backoffDelay(msg.AttemptCount))
	if err := w.store.Requeue(ctx, msg); err != nil {
		return
	}
	// A retryable failure is audited as MESSAGE_DELIVERED/FAILURE, not
	// MESSAGE_FAILED — that event is reserved for the terminal case.
	w.emit(audit.EventMessageDelivered, audit.OutcomeFailure, msg, cause)
}

func (w *Worker) expire(ctx context.Context, msg *message.Message) {
	if err := w.store.Reject(ctx, msg.Precedence, msg.ID, message.StatusExpired); err != nil {
		return
	}
	msg.Status = message.StatusExpired
	w.emit(audit.EventMessageExpired, audit.OutcomeFailure, msg, nil)
}

// backoffDelay implements exponential backoff with a hard ceiling:
// backoffBase, 2x, 4x, ... capped at backoffMax.
func (w *Worker) backoffDelay(attemptCount int) time.Duration {
	delay := w.backoffBase
	for i := 1; i < attemptCount && delay < w.backoffMax; i++ {
		delay *= 2
	}
	if delay > w.backoffMax {
		delay = w.backoffMax
	}
	return delay
}

func (w *Worker) emit(eventType audit.EventType, outcome audit.Outcome, msg *message.Message, cause error) {
	if w.sink == nil {
		return
	}
	ctx := map[string]any{
		"message_id": msg.ID,
		"precedence": string(msg.Precedence),
		"attempt":    msg.AttemptCount,
	}
	if cause != nil {
		ctx["error"] = cause.Error()
	}
	w.sink.Append(audit.Event{
		EventID:       uuid.NewString(),
		Timestamp:     w.now().UTC(),
		ControlFamily: audit.Family[eventType],
		EventType:     eventType,
		Actor:         audit.Actor{NodeID: msg.Recipient},
		Action:        audit.Action{Operation: string(eventType), Resource: msg.ID, Outcome: outcome},
		Context:       ctx,
	})
}
