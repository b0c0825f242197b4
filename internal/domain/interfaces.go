package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the discovery pipeline depends on them.

// JoinOptions controls how a node joins a swarm channel.
type JoinOptions struct {
	Announce bool
}

// DiscoveryTransport abstracts the LAN swarm (implemented by infra/swarm).
type DiscoveryTransport interface {
	// Listen binds the swarm listener. Failure is fatal to discovery only.
	Listen(port int) error

	// Join enters a named channel; onJoined runs once the node is announced.
	Join(ctx context.Context, channel string, opts JoinOptions, onJoined func()) error

	// Connections streams one value per completed swarm handshake, in order.
	Connections() <-chan Connection

	// Close releases the listener and stops browsing.
	Close() error
}

// PeerRegistry is the read side of the trust store.
type PeerRegistry interface {
	// FederatedPeers returns the current federated peers and their state.
	FederatedPeers(ctx context.Context) ([]FederatedPeer, error)
}

// InvitationAcceptor redeems an invitation into the local trust store.
type InvitationAcceptor interface {
	AcceptInvitation(ctx context.Context, inv Invitation) error
}

// HostAcceptor is an InvitationAcceptor that also records the host the
// invitation was fetched from, so later announcements from that host
// match the stored peer.
type HostAcceptor interface {
	InvitationAcceptor
	AcceptInvitationFromHost(ctx context.Context, host string, inv Invitation) error
}

// InvitationIssuer creates invitations for remote pubs that discover us.
type InvitationIssuer interface {
	CreateInvitation(ctx context.Context, uses int) (Invitation, error)
}

// InvitationFetcher performs the HTTP GET against a remote /invited/json.
// It returns the raw invitation field, empty when absent or null.
type InvitationFetcher interface {
	FetchInvitation(ctx context.Context, url string) (Invitation, error)
}
