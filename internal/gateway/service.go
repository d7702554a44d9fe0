package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/auth"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/audit"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/message"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/node"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/principal"
)

// RateLimits holds the per-token, per-category caps submit_message and
// the read endpoints enforce.
type RateLimits struct {
	FlashPerMinute int
	OtherPerMinute int
	ReadsPerMinute int
}

// Watermarks holds the per-partition backpressure thresholds:
// submit_message refuses new admissions once a partition's depth reaches
// its watermark, and keeps refusing until depth drops below 90% of it.
type Watermarks struct {
	Flash     int
	Immediate int
	Priority  int
	Routine   int
}

func (w Watermarks) forPrecedence(p message.Precedence) int {
	switch p {
	case message.PrecedenceFlash:
		return w.Flash
	case message.PrecedenceImmediate:
		return w.Immediate
	case message.PrecedencePriority:
		return w.Priority
	case message.PrecedenceRoutine:
		return w.Routine
	default:
		return 0
	}
}

// Service is the Gateway Front (C5): the single orchestration point that
// authenticates callers, runs the submission state machine, and fronts
// C1-C4 for every public operation.
type Service struct {
	Queue      Queue
	Audit      AuditLog
	Sealer     Sealer
	Tokens     TokenIssuer
	Limiter    RateLimiter
	Nodes      NodeDirectory
	Dispatcher FlashSignaler

	RateLimits RateLimits
	Watermarks Watermarks

	Now   func() time.Time
	NewID func() string

	// trippedMu/tripped implement the watermark recovery hysteresis:
	// once a partition's depth reaches its watermark, submissions stay
	// refused until depth falls back below 90% of it, rather than
	// clearing the instant depth dips by one.
	trippedMu sync.Mutex
	tripped   map[message.Precedence]bool
}

// NewService wires the five components into one orchestration point.
// A nil Dispatcher is replaced with a no-op signaler, so the service
// remains usable in tests that exercise only the submission pipeline.
func NewService(queue Queue, auditLog AuditLog, sealer Sealer, tokens TokenIssuer, limiter RateLimiter, nodes NodeDirectory, dispatcher FlashSignaler, rateLimits RateLimits, watermarks Watermarks) *Service {
	if dispatcher == nil {
		dispatcher = noopSignaler{}
	}
	return &Service{
		Queue:      queue,
		Audit:      auditLog,
		Sealer:     sealer,
		Tokens:     tokens,
		Limiter:    limiter,
		Nodes:      nodes,
		Dispatcher: dispatcher,
		RateLimits: rateLimits,
		Watermarks: watermarks,
		Now:        time.Now,
		NewID:      uuid.NewString,
		tripped:    make(map[message.Precedence]bool),
	}
}

// admitWithBackpressure applies the watermark hysteresis: a partition
// that has hit its watermark stays refused until depth drops below 90%
// of it, so a single successful drain doesn't immediately reopen a lane
// still effectively saturated.
func (s *Service) admitWithBackpressure(precedence message.Precedence, depth int) bool {
	watermark := s.Watermarks.forPrecedence(precedence)
	if watermark <= 0 {
		return true
	}

	s.trippedMu.Lock()
	defer s.trippedMu.Unlock()

	recoveryFloor := (watermark * 9) / 10
	if s.tripped[precedence] {
		if depth < recoveryFloor {
			delete(s.tripped, precedence)
			return true
		}
		return false
	}
	if depth >= watermark {
		s.tripped[precedence] = true
		return false
	}
	return true
}

// IssueToken mints a bearer credential for role, bound to nodeID. Requires
// no permission — it is the relay's entry point for a node to obtain
// credentials in the first place.
func (s *Service) IssueToken(ctx context.Context, req TokenRequest) (string, error) {
	role := principal.Role(req.Role)
	if !role.Valid() {
		s.emit(audit.EventValidationFailure, audit.OutcomeFailure, principal.Principal{}, "issue_token", "", nil)
		return "", ErrValidation
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	token, err := s.Tokens.IssueToken(req.Subject, req.NodeID, role, ttl)
	if err != nil {
		return "", err
	}
	s.emit(audit.EventTokenIssued, audit.OutcomeSuccess, principal.Principal{Subject: req.Subject, NodeID: req.NodeID, Role: role}, "issue_token", "", nil)
	return token, nil
}

// Authenticate verifies tokenString and, on success, bumps the caller's
// node liveness record: last_seen advances on any authenticated request
// from that node.
func (s *Service) Authenticate(ctx context.Context, tokenString, sourceAddress string) (principal.Principal, error) {
	p, err := s.Tokens.VerifyToken(tokenString)
	if err != nil {
		s.emit(audit.EventAuthFailure, audit.OutcomeFailure, principal.Principal{}, "authenticate", "", map[string]any{"reason": auth.Reason(err)})
		return principal.Principal{}, ErrInvalidToken
	}
	s.Nodes.Heartbeat(p.NodeID, sourceAddress, nil)
	s.emit(audit.EventAuthSuccess, audit.OutcomeSuccess, p, "authenticate", "", nil)
	return p, nil
}

// authorize checks permission against p and emits the AC-family audit
// events the catalog requires: RBAC_CHECK always, PERMISSION_DENIED
// additionally on denial.
func (s *Service) authorize(p principal.Principal, permission, operation string) error {
	if p.Has(permission) {
		s.emit(audit.EventRBACCheck, audit.OutcomeSuccess, p, operation, "", map[string]any{"permission": permission})
		return nil
	}
	s.emit(audit.EventRBACCheck, audit.OutcomeFailure, p, operation, "", map[string]any{"permission": permission})
	s.emit(audit.EventPermissionDenied, audit.OutcomeFailure, p, operation, "", map[string]any{"permission": permission})
	return ErrForbidden
}

// rateLimitKey scopes the fixed-window counter to one token's bucket for
// one traffic category.
func rateLimitKey(tokenID, category string) string {
	return tokenID + ":" + category
}

func (s *Service) checkRateLimit(ctx context.Context, p principal.Principal, category string, limit int) error {
	decision, err := s.Limiter.Allow(ctx, rateLimitKey(p.TokenID, category), limit, time.Minute)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		s.emit(audit.EventPermissionDenied, audit.OutcomeFailure, p, "rate_limit", "", map[string]any{"category": category, "limit": limit})
		return ErrRateLimited
	}
	return nil
}

// SubmitMessage runs the submission pipeline: authorize, validate,
// assign, seal, enqueue, audit, respond. Any failing step leaves no
// record behind. Permission, rate-limit, validation, backpressure and
// audit-durability failures each report an audit event; an error returned
// by the rate limiter, the queue or the sealer is passed back without a
// gateway audit event. The MESSAGE_SUBMITTED
// audit write is made durable before the caller sees success; if it
// can't be, the enqueue is undone and the caller gets ErrInternal rather
// than a 201 backed only by a ring buffer that won't survive a crash.
func (s *Service) SubmitMessage(ctx context.Context, p principal.Principal, in SubmitInput) (SubmitResult, error) {
	if err := s.authorize(p, principal.PermMessageSend, "submit_message"); err != nil {
		return SubmitResult{}, err
	}
	if in.Sender != p.NodeID {
		s.emit(audit.EventPermissionDenied, audit.OutcomeFailure, p, "submit_message", "", map[string]any{"reason": "sender mismatch"})
		return SubmitResult{}, ErrForbidden
	}

	category := "other"
	limit := s.RateLimits.OtherPerMinute
	if in.Precedence == message.PrecedenceFlash {
		category = "flash"
		limit = s.RateLimits.FlashPerMinute
	}
	if err := s.checkRateLimit(ctx, p, category, limit); err != nil {
		return SubmitResult{}, err
	}

	if err := message.ValidateSubmission(in.Precedence, in.Classification, len(in.Content), in.TTLSeconds); err != nil {
		s.emit(audit.EventValidationFailure, audit.OutcomeFailure, p, "submit_message", "", nil)
		return SubmitResult{}, ErrValidation
	}

	depth, err := s.Queue.Depth(ctx, in.Precedence)
	if err != nil {
		return SubmitResult{}, err
	}
	if !s.admitWithBackpressure(in.Precedence, depth) {
		s.emit(audit.EventAuditStart, audit.OutcomeFailure, p, "submit_message", "", map[string]any{"reason": "QUEUE_FULL", "precedence": string(in.Precedence)})
		return SubmitResult{}, ErrQueueFull
	}

	now := s.Now()
	id := s.NewID()
	sealed, err := s.Sealer.Seal(in.Content, in.Classification)
	if err != nil {
		return SubmitResult{}, err
	}

	msg := &message.Message{
		ID:             id,
		Precedence:     in.Precedence,
		Classification: in.Classification,
		Sender:         in.Sender,
		Recipient:      in.Recipient,
		SealedPayload:  sealed,
		SubmittedAt:    now,
		TTLSeconds:     in.TTLSeconds,
		ExpiresAt:      now.Add(time.Duration(in.TTLSeconds) * time.Second),
		Status:         message.StatusQueued,
		AttemptCount:   0,
		NextAttemptAt:  now,
	}
	if err := s.Queue.Enqueue(ctx, msg); err != nil {
		return SubmitResult{}, err
	}

	if err := s.emitDurable(ctx, audit.EventMessageSubmitted, p, "submit_message", id, map[string]any{
		"precedence":     string(in.Precedence),
		"classification": string(in.Classification),
	}); err != nil {
		if removeErr := s.Queue.Remove(ctx, in.Precedence, id); removeErr != nil {
			s.emit(audit.EventMessageFailed, audit.OutcomeFailure, p, "submit_message", id, map[string]any{
				"reason": "audit durability failure, enqueue rollback also failed",
				"error":  removeErr.Error(),
			})
			return SubmitResult{}, ErrInternal
		}
		s.emit(audit.EventMessageFailed, audit.OutcomeFailure, p, "submit_message", id, map[string]any{
			"reason": "audit durability failure",
		})
		return SubmitResult{}, ErrInternal
	}

	if in.Precedence == message.PrecedenceFlash {
		s.Dispatcher.SignalFlash()
	}

	return SubmitResult{ID: id, Status: message.StatusQueued, SubmittedAt: now}, nil
}

// GetStatus returns the message's current record (without payload) plus
// its audit trail, newest first.
func (s *Service) GetStatus(ctx context.Context, p principal.Principal, id string) (StatusView, error) {
	if err := s.authorize(p, principal.PermMessageRead, "get_status"); err != nil {
		return StatusView{}, err
	}
	if err := s.checkRateLimit(ctx, p, "reads", s.RateLimits.ReadsPerMinute); err != nil {
		return StatusView{}, err
	}
	msg, err := s.Queue.Get(ctx, id)
	if err != nil {
		return StatusView{}, ErrNotFound
	}
	view := *msg
	view.SealedPayload = nil
	return StatusView{Message: view, Audit: s.auditTrail(id)}, nil
}

// GetContent returns the decrypted plaintext of a message, enforcing the
// classification ceiling of the caller's role.
func (s *Service) GetContent(ctx context.Context, p principal.Principal, id string) ([]byte, error) {
	if err := s.authorize(p, principal.PermMessageRead, "get_content"); err != nil {
		return nil, err
	}
	if err := s.checkRateLimit(ctx, p, "reads", s.RateLimits.ReadsPerMinute); err != nil {
		return nil, err
	}
	msg, err := s.Queue.Get(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}
	if msg.Classification.Rank() > p.ClassificationCeiling().Rank() {
		s.emit(audit.EventPermissionDenied, audit.OutcomeFailure, p, "get_content", id, map[string]any{"reason": "classification ceiling"})
		return nil, ErrClassification
	}
	plaintext, err := s.Sealer.Open(msg.SealedPayload)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// Acknowledge is the recipient's idempotent confirmation that it received
// and processed a delivered message, distinct from C3's internal ack
// (which only removes the record from its partition after transmission
// succeeds). Calling it more than once is safe: nothing is recorded, and
// each call returns the message's current status with AcknowledgedAt set
// to the time of that call.
func (s *Service) Acknowledge(ctx context.Context, p principal.Principal, id string) (AckResult, error) {
	if err := s.authorize(p, principal.PermMessageSend, "acknowledge"); err != nil {
		return AckResult{}, err
	}
	msg, err := s.Queue.Get(ctx, id)
	if err != nil {
		return AckResult{}, ErrNotFound
	}
	if msg.Recipient != p.NodeID {
		return AckResult{}, ErrForbidden
	}
	return AckResult{ID: id, Status: msg.Status, AcknowledgedAt: s.Now()}, nil
}

// ListNodes returns every known node with its derived liveness status.
func (s *Service) ListNodes(ctx context.Context, p principal.Principal) ([]NodeSummary, error) {
	if err := s.authorize(p, principal.PermNodeStatus, "list_nodes"); err != nil {
		return nil, err
	}
	views := s.Nodes.List()
	out := make([]NodeSummary, 0, len(views))
	for _, v := range views {
		out = append(out, NodeSummary{
			NodeID:       v.NodeID,
			Address:      v.Address,
			LastSeen:     v.LastSeen,
			Capabilities: v.Capabilities,
			Status:       v.Status,
		})
	}
	return out, nil
}

// GetQueueDepths returns the current size of every precedence partition.
func (s *Service) GetQueueDepths(ctx context.Context, p principal.Principal) (map[message.Precedence]int, error) {
	if err := s.authorize(p, principal.PermNodeStatus, "get_queue_depths"); err != nil {
		return nil, err
	}
	return s.Queue.Depths(ctx)
}

// QueryAudit answers the observation dashboard's audit query. Only
// supervisor+ roles hold audit:read, so the permission check alone
// enforces the role floor.
func (s *Service) QueryAudit(ctx context.Context, p principal.Principal, filter audit.Filter) ([]audit.Event, error) {
	if err := s.authorize(p, principal.PermAuditRead, "query_audit"); err != nil {
		return nil, err
	}
	return s.Audit.Query(filter), nil
}

// auditTrail returns the audit events concerning a single message,
// newest first. The audit log is indexed by control family, event type,
// and actor, but not by message id, so the trail is taken from the
// newest 1000 events Query returns (its cap) and filtered by resource;
// events for the message older than those 1000 are not included.
func (s *Service) auditTrail(id string) []audit.Event {
	all := s.Audit.Query(audit.Filter{Limit: 1000})
	trail := make([]audit.Event, 0, 4)
	for _, e := range all {
		if e.Action.Resource == id {
			trail = append(trail, e)
		}
	}
	return trail
}

func (s *Service) emit(eventType audit.EventType, outcome audit.Outcome, p principal.Principal, operation, resource string, extra map[string]any) {
	s.Audit.Append(audit.Event{
		EventID:       s.NewID(),
		Timestamp:     s.Now().UTC(),
		ControlFamily: audit.Family[eventType],
		EventType:     eventType,
		Actor:         audit.Actor{NodeID: p.NodeID, Role: string(p.Role)},
		Action:        audit.Action{Operation: operation, Resource: resource, Outcome: outcome},
		Context:       extra,
	})
}

// emitDurable is emit's durability-checked counterpart, used only for
// MESSAGE_SUBMITTED. It returns an error if the event could not be
// persisted to the audit log's durable mirror.
func (s *Service) emitDurable(ctx context.Context, eventType audit.EventType, p principal.Principal, operation, resource string, extra map[string]any) error {
	return s.Audit.AppendDurable(ctx, audit.Event{
		EventID:       s.NewID(),
		Timestamp:     s.Now().UTC(),
		ControlFamily: audit.Family[eventType],
		EventType:     eventType,
		Actor:         audit.Actor{NodeID: p.NodeID, Role: string(p.Role)},
		Action:        audit.Action{Operation: operation, Resource: resource, Outcome: audit.OutcomeSuccess},
		Context:       extra,
	})
}

// NodeSummary is list_nodes' response shape.
type NodeSummary struct {
	NodeID       string
	Address      string
	LastSeen     time.Time
	Capabilities []message.Precedence
	Status       node.Status
}
