// Package node defines the node registration record used for liveness
// tracking and capability advertisement.
package node

import (
	"time"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/message"
)

type Status string

const (
	StatusConnected    Status = "CONNECTED"
	StatusDisconnected Status = "DISCONNECTED"
)

// Registration is a node's last-known liveness and capability record.
// Status is a pure function of LastSeen vs. a heartbeat threshold — it is
// never stored, only derived by DeriveStatus.
type Registration struct {
	NodeID       string
	Address      string
	LastSeen     time.Time
	Capabilities []message.Precedence
}

// DeriveStatus reports a node as CONNECTED iff now − last_seen is
// within threshold, and DISCONNECTED otherwise.
func DeriveStatus(lastSeen, now time.Time, threshold time.Duration) Status {
	if now.Sub(lastSeen) <= threshold {
		return StatusConnected
	}
	return StatusDisconnected
}

func (r Registration) Accepts(p message.Precedence) bool {
	if len(r.Capabilities) == 0 {
		return true
	}
	for _, c := range r.Capabilities {
		if c == p {
			return true
		}
	}
	return false
}
