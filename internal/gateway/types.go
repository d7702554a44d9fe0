package gateway

import (
	"time"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/audit"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/message"
)

// SubmitInput is submit_message's input.
type SubmitInput struct {
	Precedence     message.Precedence
	Classification message.Classification
	Sender         string
	Recipient      string
	Content        []byte
	TTLSeconds     int
}

// SubmitResult is submit_message's response body.
type SubmitResult struct {
	ID          string
	Status      message.Status
	SubmittedAt time.Time
}

// StatusView is get_status's response: the full message record minus
// the sealed payload, plus its audit trail.
type StatusView struct {
	Message message.Message
	Audit   []audit.Event
}

// AckResult is acknowledge's response body. Acknowledgment records
// nothing, so repeating it is safe and never errors on that account; each
// response carries the message's current status and the time of that call.
type AckResult struct {
	ID             string
	Status         message.Status
	AcknowledgedAt time.Time
}

// TokenRequest is issue_token's input: a requested role and, for
// service/operator credentials, the node_id the token binds to.
type TokenRequest struct {
	Subject string
	NodeID  string
	Role    string
	TTL     time.Duration
}
