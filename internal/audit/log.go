// Package audit implements the append-only audit log: a capacity-bounded
// in-memory ring indexed by control family, event type, and actor node,
// backed by an optional durable mirror for events that need to survive a
// crash.
package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/audit"
)

// Mirror durably persists events appended to the log. For a plain
// Append, a mirror failure is logged but never blocks the in-memory
// write; AppendDurable instead surfaces the failure to its caller.
type Mirror interface {
	Append(ctx context.Context, event audit.Event) error
}

// Log is the append-only, indexed audit event store. Writes are
// serialized under a single mutex; reads copy out from the ring rather
// than return internal slices, so a caller can never observe or mutate
// the log's backing storage.
//
// byControlFamily/byEventType/byActor hold *audit.Event pointers in the
// same relative append order as events itself, so a query that narrows on
// one of those fields scans only its matching bucket instead of the full
// ring. Eviction pops the corresponding bucket's front entries in lockstep
// with the main ring, since a bucket is always an order-preserving
// subsequence of events.
type Log struct {
	mu       sync.Mutex
	capacity int
	events   []*audit.Event

	byControlFamily map[audit.ControlFamily][]*audit.Event
	byEventType     map[audit.EventType][]*audit.Event
	byActor         map[string][]*audit.Event

	mirror        Mirror
	onMirrorError func(error)
}

// New constructs a Log bounded to capacity events. When capacity is
// reached, the oldest event is evicted from memory (though it remains
// durable in the mirror, if one is configured). A capacity of 0 means
// unbounded.
func New(capacity int, mirror Mirror) *Log {
	return &Log{
		capacity:        capacity,
		byControlFamily: make(map[audit.ControlFamily][]*audit.Event),
		byEventType:     make(map[audit.EventType][]*audit.Event),
		byActor:         make(map[string][]*audit.Event),
		mirror:          mirror,
		onMirrorError:   func(error) {},
	}
}

// OnMirrorError installs a callback invoked whenever the durable mirror
// fails to persist an event. Intended for wiring to the process logger.
func (l *Log) OnMirrorError(f func(error)) {
	if f == nil {
		f = func(error) {}
	}
	l.mu.Lock()
	l.onMirrorError = f
	l.mu.Unlock()
}

// Append adds event to the log. It satisfies crypto.Sink and any other
// in-process component that emits audit events. The mirror write, if
// one is configured, happens after the in-memory insert and never blocks
// or fails the append — callers on the durability-sensitive submission
// path should use AppendDurable instead.
func (l *Log) Append(event audit.Event) {
	l.mu.Lock()
	mirror := l.mirror
	onErr := l.onMirrorError
	l.insertLocked(&event)
	l.mu.Unlock()

	if mirror != nil {
		if err := mirror.Append(context.Background(), event); err != nil {
			onErr(err)
		}
	}
}

// AppendDurable writes event to the mirror first and only inserts it
// into the in-memory log once that write succeeds, so a caller on a
// durability-sensitive path (message submission) can tell whether the
// record actually landed rather than only living in the capacity-bounded
// ring. When no mirror is configured, the in-memory ring is the only
// store there is, so the insert always succeeds; a deployment that needs
// this guarantee enforced must wire a mirror.
func (l *Log) AppendDurable(ctx context.Context, event audit.Event) error {
	l.mu.Lock()
	mirror := l.mirror
	l.mu.Unlock()

	if mirror != nil {
		if err := mirror.Append(ctx, event); err != nil {
			return err
		}
	}

	l.mu.Lock()
	l.insertLocked(&event)
	l.mu.Unlock()
	return nil
}

// insertLocked appends stored to the ring and its index buckets,
// evicting the oldest entries once capacity is exceeded. Must be called
// with l.mu held.
func (l *Log) insertLocked(stored *audit.Event) {
	l.events = append(l.events, stored)
	l.byControlFamily[stored.ControlFamily] = append(l.byControlFamily[stored.ControlFamily], stored)
	l.byEventType[stored.EventType] = append(l.byEventType[stored.EventType], stored)
	if stored.Actor.NodeID != "" {
		l.byActor[stored.Actor.NodeID] = append(l.byActor[stored.Actor.NodeID], stored)
	}

	if l.capacity > 0 && len(l.events) > l.capacity {
		evicted := l.events[:len(l.events)-l.capacity]
		l.events = l.events[len(l.events)-l.capacity:]
		for _, e := range evicted {
			l.byControlFamily[e.ControlFamily] = popFront(l.byControlFamily[e.ControlFamily], e)
			l.byEventType[e.EventType] = popFront(l.byEventType[e.EventType], e)
			if e.Actor.NodeID != "" {
				l.byActor[e.Actor.NodeID] = popFront(l.byActor[e.Actor.NodeID], e)
			}
		}
	}
}

// popFront removes e from the front of bucket. Eviction always proceeds
// oldest-first on both the main ring and every bucket it appears in, so e
// is always at index 0 when this is called.
func popFront(bucket []*audit.Event, e *audit.Event) []*audit.Event {
	if len(bucket) > 0 && bucket[0] == e {
		return bucket[1:]
	}
	return bucket
}

// Query returns the events matching filter, newest first, honoring
// filter.Limit (0 means unlimited, capped at 1000). When filter narrows
// on control family, event type, or node, the matching index bucket is
// scanned instead of the full ring.
func (l *Log) Query(filter audit.Filter) []audit.Event {
	l.mu.Lock()
	candidates := l.candidatesLocked(filter)
	snapshot := make([]*audit.Event, len(candidates))
	copy(snapshot, candidates)
	l.mu.Unlock()

	var out []audit.Event
	for i := len(snapshot) - 1; i >= 0; i-- {
		event := *snapshot[i]
		if !matches(event, filter) {
			continue
		}
		out = append(out, event)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// candidatesLocked picks the smallest applicable index bucket for
// filter's equality fields, falling back to the full ring when none are
// set. Must be called with l.mu held.
func (l *Log) candidatesLocked(filter audit.Filter) []*audit.Event {
	best := l.events
	narrowed := false
	consider := func(bucket []*audit.Event) {
		if !narrowed || len(bucket) < len(best) {
			best = bucket
			narrowed = true
		}
	}
	if filter.ControlFamily != "" {
		consider(l.byControlFamily[filter.ControlFamily])
	}
	if filter.EventType != "" {
		consider(l.byEventType[filter.EventType])
	}
	if filter.NodeID != "" {
		consider(l.byActor[filter.NodeID])
	}
	return best
}

func matches(event audit.Event, filter audit.Filter) bool {
	if filter.ControlFamily != "" && event.ControlFamily != filter.ControlFamily {
		return false
	}
	if filter.EventType != "" && event.EventType != filter.EventType {
		return false
	}
	if filter.NodeID != "" && event.Actor.NodeID != filter.NodeID {
		return false
	}
	if !filter.Start.IsZero() && event.Timestamp.Before(filter.Start) {
		return false
	}
	if !filter.End.IsZero() && event.Timestamp.After(filter.End) {
		return false
	}
	return true
}

// Stats summarizes the current in-memory log.
type Stats struct {
	TotalEvents     int
	ByControlFamily map[audit.ControlFamily]int
	ByOutcome       map[audit.Outcome]int
	TopActors       []ActorCount
}

type ActorCount struct {
	NodeID string
	Count  int
}

func (l *Log) Stats() Stats {
	l.mu.Lock()
	snapshot := make([]*audit.Event, len(l.events))
	copy(snapshot, l.events)
	l.mu.Unlock()

	stats := Stats{
		ByControlFamily: make(map[audit.ControlFamily]int),
		ByOutcome:       make(map[audit.Outcome]int),
	}
	actorCounts := make(map[string]int)
	for _, event := range snapshot {
		stats.TotalEvents++
		stats.ByControlFamily[event.ControlFamily]++
		stats.ByOutcome[event.Action.Outcome]++
		if event.Actor.NodeID != "" {
			actorCounts[event.Actor.NodeID]++
		}
	}
	for nodeID, count := range actorCounts {
		stats.TopActors = append(stats.TopActors, ActorCount{NodeID: nodeID, Count: count})
	}
	sort.Slice(stats.TopActors, func(i, j int) bool {
		if stats.TopActors[i].Count != stats.TopActors[j].Count {
			return stats.TopActors[i].Count > stats.TopActors[j].Count
		}
		return stats.TopActors[i].NodeID < stats.TopActors[j].NodeID
	})
	if len(stats.TopActors) > 10 {
		stats.TopActors = stats.TopActors[:10]
	}
	return stats
}
