// Package noderegistry implements the node liveness registry: a
// read-biased lock over node registrations, with CONNECTED/DISCONNECTED
// derived purely from last_seen at read time. Lookups take RLock; only
// the rare Heartbeat write takes the full Lock.
package noderegistry

import (
	"sort"
	"sync"
	"time"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/message"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/node"
)

// Registry tracks every node that has ever authenticated, keyed by
// node_id. Heartbeat is the only write path; Lookup and List are pure
// reads taken under RLock.
type Registry struct {
	mu                sync.RWMutex
	nodes             map[string]node.Registration
	heartbeatThreshold time.Duration
	now               func() time.Time
}

func New(heartbeatThreshold time.Duration) *Registry {
	return &Registry{
		nodes:              make(map[string]node.Registration),
		heartbeatThreshold: heartbeatThreshold,
		now:                time.Now,
	}
}

// WithClock overrides the registry's time source, for deterministic
// tests of liveness derivation.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Heartbeat records that nodeID is reachable at address right now,
// bumping last_seen. Called on every authenticated request from that
// node, not just explicit liveness pings.
func (r *Registry) Heartbeat(nodeID, address string, capabilities []message.Precedence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg := r.nodes[nodeID]
	reg.NodeID = nodeID
	if address != "" {
		reg.Address = address
	}
	reg.LastSeen = r.now()
	if capabilities != nil {
		reg.Capabilities = capabilities
	}
	r.nodes[nodeID] = reg
}

// Lookup satisfies dispatch.NodeLocator and any other reader that needs
// a single node's current registration.
func (r *Registry) Lookup(nodeID string) (node.Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.nodes[nodeID]
	return reg, ok
}

// Status derives the node's current liveness without mutating state.
func (r *Registry) Status(nodeID string) node.Status {
	reg, ok := r.Lookup(nodeID)
	if !ok {
		return node.StatusDisconnected
	}
	return node.DeriveStatus(reg.LastSeen, r.now(), r.heartbeatThreshold)
}

// NodeView pairs a registration with its derived status, the shape
// list_nodes returns.
type NodeView struct {
	node.Registration
	Status node.Status
}

// List returns every known node, sorted by node_id, paired with its
// derived liveness status.
func (r *Registry) List() []NodeView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	out := make([]NodeView, 0, len(r.nodes))
	for _, reg := range r.nodes {
		out = append(out, NodeView{
			Registration: reg,
			Status:       node.DeriveStatus(reg.LastSeen, now, r.heartbeatThreshold),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}
