package gateway

import (
	"context"
	"time"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/auth"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/audit"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/message"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/node"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/principal"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/noderegistry"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/queue"
)

// Queue is the C3 contract the gateway orchestrates submissions and
// status lookups against. queue.Store already satisfies it.
type Queue = queue.Store

// AuditLog is the C1 contract: best-effort append, a durability-checked
// append for the submission path, and indexed query. *audit.Log
// satisfies it.
type AuditLog interface {
	Append(event audit.Event)
	AppendDurable(ctx context.Context, event audit.Event) error
	Query(filter audit.Filter) []audit.Event
}

// Sealer is the C2 contract. *crypto.Sealer satisfies it.
type Sealer interface {
	Seal(plaintext []byte, classification message.Classification) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// TokenIssuer mints and verifies bearer credentials. *auth.TokenManager
// satisfies it.
type TokenIssuer interface {
	IssueToken(subject, nodeID string, role principal.Role, ttl time.Duration) (string, error)
	VerifyToken(tokenString string) (principal.Principal, error)
}

// RateLimiter is auth.RateLimiter, re-exported so callers of this package
// need not import internal/auth directly.
type RateLimiter = auth.RateLimiter

// NodeDirectory is the node-liveness contract. *noderegistry.Registry
// satisfies it.
type NodeDirectory interface {
	Heartbeat(nodeID, address string, capabilities []message.Precedence)
	Lookup(nodeID string) (node.Registration, bool)
	Status(nodeID string) node.Status
	List() []noderegistry.NodeView
}

// FlashSignaler short-circuits the dispatcher's tick wait. *dispatch.Worker
// satisfies it; accepted as the narrowest interface so this package never
// needs to import dispatch.
type FlashSignaler interface {
	SignalFlash()
}

// noopSignaler satisfies FlashSignaler when no dispatcher is wired (e.g.
// in tests that only exercise the submission pipeline).
type noopSignaler struct{}

func (noopSignaler) SignalFlash() {}
