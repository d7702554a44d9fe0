package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	auditdomain "github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/audit"
)

func event(id string, ts time.Time, family auditdomain.ControlFamily, eventType auditdomain.EventType, nodeID string) auditdomain.Event {
	return auditdomain.Event{
		EventID:       id,
		Timestamp:     ts,
		ControlFamily: family,
		EventType:     eventType,
		Actor:         auditdomain.Actor{NodeID: nodeID},
		Action:        auditdomain.Action{Operation: string(eventType), Outcome: auditdomain.OutcomeSuccess},
	}
}

func TestLogQueryFiltersAndOrdersNewestFirst(t *testing.T) {
	log := New(0, nil)
	base := time.Unix(1_700_000_000, 0)

	log.Append(event("e1", base, auditdomain.FamilyAC, auditdomain.EventRBACCheck, "node-a"))
	log.Append(event("e2", base.Add(time.Second), auditdomain.FamilyAU, auditdomain.EventMessageSubmitted, "node-b"))
	log.Append(event("e3", base.Add(2*time.Second), auditdomain.FamilyAC, auditdomain.EventPermissionDenied, "node-a"))

	got := log.Query(auditdomain.Filter{ControlFamily: auditdomain.FamilyAC})
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].EventID != "e3" || got[1].EventID != "e1" {
		t.Fatalf("events not newest-first: %+v", got)
	}

	byNode := log.Query(auditdomain.Filter{NodeID: "node-b"})
	if len(byNode) != 1 || byNode[0].EventID != "e2" {
		t.Fatalf("node filter = %+v, want [e2]", byNode)
	}
}

func TestLogQueryHonorsTimeRange(t *testing.T) {
	log := New(0, nil)
	base := time.Unix(1_700_000_000, 0)
	log.Append(event("early", base, auditdomain.FamilyAU, auditdomain.EventAuditStart, ""))
	log.Append(event("late", base.Add(time.Hour), auditdomain.FamilyAU, auditdomain.EventAuditStart, ""))

	got := log.Query(auditdomain.Filter{Start: base.Add(time.Minute)})
	if len(got) != 1 || got[0].EventID != "late" {
		t.Fatalf("got %+v, want [late]", got)
	}
}

func TestLogEvictsOldestPastCapacity(t *testing.T) {
	log := New(2, nil)
	base := time.Unix(1_700_000_000, 0)
	log.Append(event("e1", base, auditdomain.FamilyAU, auditdomain.EventAuditStart, ""))
	log.Append(event("e2", base.Add(time.Second), auditdomain.FamilyAU, auditdomain.EventAuditStart, ""))
	log.Append(event("e3", base.Add(2*time.Second), auditdomain.FamilyAU, auditdomain.EventAuditStart, ""))

	got := log.Query(auditdomain.Filter{})
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2 (capacity-bounded)", len(got))
	}
	for _, e := range got {
		if e.EventID == "e1" {
			t.Fatalf("evicted event e1 still present: %+v", got)
		}
	}
}

type failingMirror struct{}

func (failingMirror) Append(ctx context.Context, event auditdomain.Event) error {
	return errors.New("mirror unavailable")
}

func TestMirrorFailureDoesNotBlockAppend(t *testing.T) {
	log := New(0, failingMirror{})
	var gotErr error
	log.OnMirrorError(func(err error) { gotErr = err })

	log.Append(event("e1", time.Unix(0, 0), auditdomain.FamilyAU, auditdomain.EventAuditStart, ""))

	if gotErr == nil {
		t.Fatalf("expected mirror error callback to fire")
	}
	if len(log.Query(auditdomain.Filter{})) != 1 {
		t.Fatalf("event should remain queryable despite mirror failure")
	}
}

func TestAppendDurableFailsWithoutInsertingOnMirrorError(t *testing.T) {
	log := New(0, failingMirror{})

	err := log.AppendDurable(context.Background(), event("e1", time.Unix(0, 0), auditdomain.FamilyAU, auditdomain.EventMessageSubmitted, ""))
	if err == nil {
		t.Fatalf("expected AppendDurable to surface the mirror error")
	}
	if len(log.Query(auditdomain.Filter{})) != 0 {
		t.Fatalf("event should not be queryable when the durable write failed")
	}
}

func TestAppendDurableSucceedsWithoutMirror(t *testing.T) {
	log := New(0, nil)

	if err := log.AppendDurable(context.Background(), event("e1", time.Unix(0, 0), auditdomain.FamilyAU, auditdomain.EventMessageSubmitted, "")); err != nil {
		t.Fatalf("AppendDurable without a mirror: %v", err)
	}
	if len(log.Query(auditdomain.Filter{})) != 1 {
		t.Fatalf("event should be queryable")
	}
}

func TestStatsAggregates(t *testing.T) {
	log := New(0, nil)
	base := time.Unix(1_700_000_000, 0)
	log.Append(event("e1", base, auditdomain.FamilyAC, auditdomain.EventRBACCheck, "node-a"))
	log.Append(event("e2", base, auditdomain.FamilyAC, auditdomain.EventRBACCheck, "node-a"))
	log.Append(event("e3", base, auditdomain.FamilyAU, auditdomain.EventAuditStart, "node-b"))

	stats := log.Stats()
	if stats.TotalEvents != 3 {
		t.Fatalf("TotalEvents = %d, want 3", stats.TotalEvents)
	}
	if stats.ByControlFamily[auditdomain.FamilyAC] != 2 {
		t.Fatalf("ByControlFamily[AC] = %d, want 2", stats.ByControlFamily[auditdomain.FamilyAC])
	}
	if len(stats.TopActors) == 0 || stats.TopActors[0].NodeID != "node-a" || stats.TopActors[0].Count != 2 {
		t.Fatalf("TopActors = %+v, want node-a first with count 2", stats.TopActors)
	}
}
