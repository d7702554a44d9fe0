package dispatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/message"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/node"
)

// NodeLocator resolves a recipient node to its current registration, so
// the transport can decide between direct delivery and remote HTTP
// delivery.
type NodeLocator interface {
	Lookup(nodeID string) (node.Registration, bool)
}

// DirectTransport delivers to recipients that maintain a live, co-located
// inbox in this process (e.g. a long-poll or websocket session). It is
// the degenerate case of the relay acting as its own endpoint;
// cmd/tacedge-gateway does not wire it.
type DirectTransport struct {
	mu                 sync.Mutex
	inbox              map[string][]*message.Message
	locator            NodeLocator
	heartbeatThreshold time.Duration
}

func NewDirectTransport(locator NodeLocator) *DirectTransport {
	return &DirectTransport{
		inbox:              make(map[string][]*message.Message),
		locator:            locator,
		heartbeatThreshold: defaultHeartbeatThreshold,
	}
}

func (t *DirectTransport) Deliver(_ context.Context, msg *message.Message) (Outcome, error) {
	if t.locator != nil {
		reg, ok := t.locator.Lookup(msg.Recipient)
		if !ok || node.DeriveStatus(reg.LastSeen, time.Now(), t.heartbeatThreshold) != node.StatusConnected {
			return OutcomeRetryable, fmt.Errorf("dispatch: recipient %s not connected", msg.Recipient)
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inbox[msg.Recipient] = append(t.inbox[msg.Recipient], msg)
	return OutcomeDelivered, nil
}

// Drain returns and clears every message delivered to recipient,
// simulating the recipient picking up its inbox.
func (t *DirectTransport) Drain(recipient string) []*message.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := t.inbox[recipient]
	delete(t.inbox, recipient)
	return msgs
}

// HTTPTransport delivers to a remote node over its registered address,
// POSTing the sealed payload as a bearer-authenticated JSON envelope.
type HTTPTransport struct {
	client             *http.Client
	locator            NodeLocator
	bearerToken        func() string
	heartbeatThreshold time.Duration
}

// defaultHeartbeatThreshold is the time since a node's last heartbeat
// past which it is considered DISCONNECTED.
const defaultHeartbeatThreshold = 60 * time.Second

func NewHTTPTransport(client *http.Client, locator NodeLocator, bearerToken func() string) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: defaultOtherAttemptTimeout}
	}
	return &HTTPTransport{client: client, locator: locator, bearerToken: bearerToken, heartbeatThreshold: defaultHeartbeatThreshold}
}

type deliveryEnvelope struct {
	MessageID      string `json:"message_id"`
	Precedence     string `json:"precedence"`
	Classification string `json:"classification"`
	Sender         string `json:"sender"`
	SealedPayload  string `json:"sealed_payload"`
}

func (t *HTTPTransport) Deliver(ctx context.Context, msg *message.Message) (Outcome, error) {
	reg, ok := t.locator.Lookup(msg.Recipient)
	if !ok {
		return OutcomeRetryable, fmt.Errorf("dispatch: recipient %s has no registration", msg.Recipient)
	}
	if node.DeriveStatus(reg.LastSeen, time.Now(), t.heartbeatThreshold) != node.StatusConnected {
		return OutcomeRetryable, fmt.Errorf("dispatch: recipient %s disconnected", msg.Recipient)
	}

	body, err := json.Marshal(deliveryEnvelope{
		MessageID:      msg.ID,
		Precedence:     string(msg.Precedence),
		Classification: string(msg.Classification),
		Sender:         msg.Sender,
		SealedPayload:  base64.StdEncoding.EncodeToString(msg.SealedPayload),
	})
	if err != nil {
		return OutcomeFailed, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reg.Address+"/v1/inbox", bytes.NewReader(body))
	if err != nil {
		return OutcomeFailed, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.bearerToken != nil {
		if token := t.bearerToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return OutcomeRetryable, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return OutcomeDelivered, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return OutcomeFailed, fmt.Errorf("dispatch: recipient rejected delivery with status %d", resp.StatusCode)
	default:
		return OutcomeRetryable, fmt.Errorf("dispatch: recipient returned status %d", resp.StatusCode)
	}
}
