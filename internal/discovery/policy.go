package discovery

import (
	"context"

	"github.com/easypub/pubd/internal/domain"
)

// Policy answers the two federation questions the filter needs: how many
// pubs are connected right now, and whether a host is one of them. The
// registry is queried fresh on every call; nothing is cached.
type Policy struct {
	Max      int
	registry domain.PeerRegistry
}

// NewPolicy creates a policy capped at max connected pubs.
func NewPolicy(registry domain.PeerRegistry, max int) *Policy {
	if max <= 0 {
		max = domain.DefaultMaxFederatedPeers
	}
	return &Policy{Max: max, registry: registry}
}

// Snapshot reads the current federated peers from the registry.
func (p *Policy) Snapshot(ctx context.Context) ([]domain.FederatedPeer, error) {
	return p.registry.FederatedPeers(ctx)
}

// ConnectedCount returns how many peers are in the connected state.
func (p *Policy) ConnectedCount(peers []domain.FederatedPeer) int {
	n := 0
	for i := range peers {
		if peers[i].IsConnected() {
			n++
		}
	}
	return n
}

// IsFederated reports whether host is already a connected peer, matched by
// announced host or invitation address.
func (p *Policy) IsFederated(peers []domain.FederatedPeer, host string) bool {
	for i := range peers {
		if peers[i].IsConnected() && peers[i].MatchesHost(host) {
			return true
		}
	}
	return false
}

// HasCapacity reports whether another pub may be federated. reserved is
// the number of exchanges already in flight.
func (p *Policy) HasCapacity(peers []domain.FederatedPeer, reserved int) bool {
	return p.ConnectedCount(peers)+reserved < p.Max
}
