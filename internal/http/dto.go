package http

import (
	"time"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/audit"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/message"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/gateway"
)

// tokenRequest is POST /auth/token's body.
type tokenRequest struct {
	Subject string `json:"subject" binding:"required"`
	NodeID  string `json:"node_id"`
	Role    string `json:"role" binding:"required"`
	TTLSecs int    `json:"ttl_seconds"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// submitRequest is POST /messages' body.
type submitRequest struct {
	Precedence     string `json:"precedence" binding:"required"`
	Classification string `json:"classification" binding:"required"`
	Sender         string `json:"sender" binding:"required"`
	Recipient      string `json:"recipient" binding:"required"`
	Content        string `json:"content" binding:"required"`
	TTL            int    `json:"ttl"`
}

func (r submitRequest) toInput() gateway.SubmitInput {
	return gateway.SubmitInput{
		Precedence:     message.Precedence(r.Precedence),
		Classification: message.Classification(r.Classification),
		Sender:         r.Sender,
		Recipient:      r.Recipient,
		Content:        []byte(r.Content),
		TTLSeconds:     r.TTL,
	}
}

type submitResponse struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func toSubmitResponse(r gateway.SubmitResult) submitResponse {
	return submitResponse{ID: r.ID, Status: string(r.Status), SubmittedAt: r.SubmittedAt}
}

// messageView is get_status's non-payload message projection.
type messageView struct {
	ID             string    `json:"id"`
	Precedence     string    `json:"precedence"`
	Classification string    `json:"classification"`
	Sender         string    `json:"sender"`
	Recipient      string    `json:"recipient"`
	SubmittedAt    time.Time `json:"submitted_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Status         string    `json:"status"`
	AttemptCount   int       `json:"attempt_count"`
}

type auditEventView struct {
	EventID       string         `json:"event_id"`
	Timestamp     time.Time      `json:"timestamp"`
	ControlFamily string         `json:"control_family"`
	EventType     string         `json:"event_type"`
	NodeID        string         `json:"node_id,omitempty"`
	Role          string         `json:"role,omitempty"`
	Operation     string         `json:"operation"`
	Resource      string         `json:"resource,omitempty"`
	Outcome       string         `json:"outcome"`
	Context       map[string]any `json:"context,omitempty"`
}

func toAuditEventView(e audit.Event) auditEventView {
	return auditEventView{
		EventID:       e.EventID,
		Timestamp:     e.Timestamp,
		ControlFamily: string(e.ControlFamily),
		EventType:     string(e.EventType),
		NodeID:        e.Actor.NodeID,
		Role:          e.Actor.Role,
		Operation:     e.Action.Operation,
		Resource:      e.Action.Resource,
		Outcome:       string(e.Action.Outcome),
		Context:       e.Context,
	}
}

type statusResponse struct {
	Message messageView      `json:"message"`
	Audit   []auditEventView `json:"audit"`
}

func toStatusResponse(v gateway.StatusView) statusResponse {
	resp := statusResponse{
		Message: messageView{
			ID:             v.Message.ID,
			Precedence:     string(v.Message.Precedence),
			Classification: string(v.Message.Classification),
			Sender:         v.Message.Sender,
			Recipient:      v.Message.Recipient,
			SubmittedAt:    v.Message.SubmittedAt,
			ExpiresAt:      v.Message.ExpiresAt,
			Status:         string(v.Message.Status),
			AttemptCount:   v.Message.AttemptCount,
		},
	}
	for _, e := range v.Audit {
		resp.Audit = append(resp.Audit, toAuditEventView(e))
	}
	return resp
}

type contentResponse struct {
	Content string `json:"content"`
}

type ackResponse struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
}

func toAckResponse(r gateway.AckResult) ackResponse {
	return ackResponse{ID: r.ID, Status: string(r.Status), AcknowledgedAt: r.AcknowledgedAt}
}

type nodeView struct {
	NodeID       string   `json:"node_id"`
	Address      string   `json:"address,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
	Capabilities []string `json:"capabilities,omitempty"`
	Status       string   `json:"status"`
}

func toNodeView(n gateway.NodeSummary) nodeView {
	v := nodeView{NodeID: n.NodeID, Address: n.Address, LastSeen: n.LastSeen, Status: string(n.Status)}
	for _, c := range n.Capabilities {
		v.Capabilities = append(v.Capabilities, string(c))
	}
	return v
}
