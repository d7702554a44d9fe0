package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/audit"
)

// AuditRepo mirrors appended audit events into an append-only Postgres
// table, giving the in-memory ring in internal/audit a durable backing
// store independent of process lifetime.
type AuditRepo struct {
	Pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{Pool: pool}
}

func (r *AuditRepo) Append(ctx context.Context, event audit.Event) error {
	if r == nil || r.Pool == nil {
		return fmt.Errorf("db not configured")
	}
	actorJSON, err := json.Marshal(event.Actor)
	if err != nil {
		return err
	}
	contextJSON, err := json.Marshal(event.Context)
	if err != nil {
		return err
	}
	query := `
INSERT INTO audit_events (event_id, occurred_at, control_family, event_type, actor_json, operation, resource, outcome, context_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (event_id) DO NOTHING`
	_, err = r.Pool.Exec(ctx, query,
		event.EventID,
		event.Timestamp,
		string(event.ControlFamily),
		string(event.EventType),
		actorJSON,
		event.Action.Operation,
		event.Action.Resource,
		string(event.Action.Outcome),
		contextJSON,
	)
	return err
}

func (r *AuditRepo) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	if r == nil || r.Pool == nil {
		return nil, fmt.Errorf("db not configured")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	query := `
SELECT event_id, occurred_at, control_family, event_type, actor_json, operation, resource, outcome, context_json
FROM audit_events
WHERE ($1 = '' OR control_family = $1)
  AND ($2 = '' OR event_type = $2)
  AND ($3 = '' OR actor_json->>'node_id' = $3)
ORDER BY occurred_at DESC
LIMIT $4`
	rows, err := r.Pool.Query(ctx, query, string(filter.ControlFamily), string(filter.EventType), filter.NodeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var event audit.Event
		var controlFamily, eventType, outcome string
		var actorJSON, contextJSON []byte
		if err := rows.Scan(
			&event.EventID,
			&event.Timestamp,
			&controlFamily,
			&eventType,
			&actorJSON,
			&event.Action.Operation,
			&event.Action.Resource,
			&outcome,
			&contextJSON,
		); err != nil {
			return nil, err
		}
		event.ControlFamily = audit.ControlFamily(controlFamily)
		event.EventType = audit.EventType(eventType)
		event.Action.Outcome = audit.Outcome(outcome)
		if len(actorJSON) > 0 {
			_ = json.Unmarshal(actorJSON, &event.Actor)
		}
		if len(contextJSON) > 0 {
			_ = json.Unmarshal(contextJSON, &event.Context)
		}
		out = append(out, event)
	}
	return out, rows.Err()
}
