// Package domain holds the peer types shared by discovery and the trust store.
// A PeerAnnouncement is a single sighting from the LAN discovery swarm;
// a FederatedPeer is a pub this node already trusts.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ─── Protocol Constants ─────────────────────────────────────────────────────
// These define swarm compatibility and are not user-configurable.

const (
	// SwarmIDPrefix starts every swarm identifier announced by a pub.
	SwarmIDPrefix = "easy-ssb-pub@"

	// SwarmChannel is the discovery channel all pubs join.
	SwarmChannel = "ssb-discovery-swarm"

	DefaultSwarmPort         = 8007
	DefaultReplicationPort   = 8008
	DefaultHTTPPort          = 80
	DefaultMaxFederatedPeers = 3
)

// PeerAnnouncement is one sighting of a candidate peer on the swarm.
// It is immutable once emitted by the transport.
type PeerAnnouncement struct {
	ID   []byte `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// IDString decodes the swarm identifier as text.
func (a PeerAnnouncement) IDString() string {
	return string(a.ID)
}

// String returns "host:port" for logging.
func (a PeerAnnouncement) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Connection is what the transport emits for each successful swarm
// handshake. Socket identifies the underlying connection; the transport
// owns its lifetime.
type Connection struct {
	Announcement PeerAnnouncement
	Socket       any
}

// ─── Federated Peers ────────────────────────────────────────────────────────

// ConnectionState tracks how the replication engine sees a federated peer.
type ConnectionState string

const (
	StateNotConnected  ConnectionState = ""
	StateConnecting    ConnectionState = "connecting"
	StateConnected     ConnectionState = "connected"
	StateDisconnecting ConnectionState = "disconnecting"
)

// ParseConnectionState maps a stored string to a ConnectionState.
// Unknown values read as not connected.
func ParseConnectionState(s string) ConnectionState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "connecting":
		return StateConnecting
	case "connected":
		return StateConnected
	case "disconnecting":
		return StateDisconnecting
	default:
		return StateNotConnected
	}
}

// String returns the state name, "not-connected" for the zero value.
func (s ConnectionState) String() string {
	if s == StateNotConnected {
		return "not-connected"
	}
	return string(s)
}

// PeerSource records how a federated peer became known.
type PeerSource string

const (
	SourceDiscovery PeerSource = "discovery"
	SourceManual    PeerSource = "manual"
)

// FederatedPeer is a pub this node holds an accepted invitation for.
type FederatedPeer struct {
	Key    string          `json:"key"`
	Host   string          `json:"host"`
	Port   int             `json:"port"`
	State  ConnectionState `json:"state"`
	Source PeerSource      `json:"source"`
	// Announced is the host discovery reached this pub at, which may differ
	// from the invitation address. Empty for manually added peers.
	Announced string    `json:"announced,omitempty"`
	AddedAt   time.Time `json:"added_at"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
}

// IsConnected returns true if the peer counts toward the federation cap.
func (p *FederatedPeer) IsConnected() bool {
	return p.State == StateConnected
}

// MatchesHost reports whether host names this peer, either as the host
// discovery announced it under or as its invitation address.
func (p *FederatedPeer) MatchesHost(host string) bool {
	return host != "" && (p.Announced == host || p.Host == host)
}

// Addr returns the replication address "host:port".
func (p *FederatedPeer) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}
