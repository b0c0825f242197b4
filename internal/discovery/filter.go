package discovery

import (
	"strings"

	"github.com/easypub/pubd/internal/domain"
)

// Predicate names, also used as metric labels and log reasons.
const (
	ReasonHostPresent       = "host-present"
	ReasonIDPrefix          = "id-prefix"
	ReasonNotSelf           = "not-self"
	ReasonVersionCompatible = "version-compatible"
	ReasonNotFederated      = "not-federated"
	ReasonCapacity          = "capacity"
	ReasonInFlight          = "in-flight"
)

// Candidate is one announcement under evaluation. The federated peer list
// is loaded at most once per candidate so every predicate sees the same
// snapshot.
type Candidate struct {
	Announcement domain.PeerAnnouncement

	// Reserved is the number of exchanges already in flight.
	Reserved int

	load   func() ([]domain.FederatedPeer, error)
	peers  []domain.FederatedPeer
	loaded bool
	err    error
}

// NewCandidate wraps an announcement. load may be nil for tests that only
// exercise the stateless predicates.
func NewCandidate(ann domain.PeerAnnouncement, load func() ([]domain.FederatedPeer, error)) *Candidate {
	return &Candidate{Announcement: ann, load: load}
}

// Peers returns the federated peer snapshot, loading it on first use.
func (c *Candidate) Peers() ([]domain.FederatedPeer, error) {
	if !c.loaded {
		c.loaded = true
		if c.load != nil {
			c.peers, c.err = c.load()
		}
	}
	return c.peers, c.err
}

// Err returns the error from loading the snapshot, if any.
func (c *Candidate) Err() error {
	return c.err
}

// Predicate is one named compatibility condition.
type Predicate struct {
	Name string
	Test func(c *Candidate) bool
}

// Filter is an ordered chain of predicates combined by short-circuit AND.
type Filter struct {
	predicates []Predicate
}

// NewFilter builds a filter from predicates evaluated in the given order.
func NewFilter(predicates ...Predicate) *Filter {
	return &Filter{predicates: predicates}
}

// DefaultFilter returns the standard chain: cheap stateless checks first,
// then the two registry-backed checks.
func DefaultFilter(localHost, localComVer string, policy *Policy) *Filter {
	return NewFilter(
		HostPresent(),
		IDPrefix(),
		NotSelf(localHost),
		VersionCompatible(localComVer),
		NotFederated(policy),
		CapacityAvailable(policy),
	)
}

// Evaluate runs the chain. On rejection it returns the failing predicate's
// name.
func (f *Filter) Evaluate(c *Candidate) (bool, string) {
	for _, p := range f.predicates {
		if !p.Test(c) {
			return false, p.Name
		}
	}
	return true, ""
}

// Names lists the predicates in evaluation order.
func (f *Filter) Names() []string {
	names := make([]string, len(f.predicates))
	for i, p := range f.predicates {
		names[i] = p.Name
	}
	return names
}

// ─── Predicates ─────────────────────────────────────────────────────────────

// HostPresent rejects announcements without a host.
func HostPresent() Predicate {
	return Predicate{Name: ReasonHostPresent, Test: func(c *Candidate) bool {
		return c.Announcement.Host != ""
	}}
}

// IDPrefix keeps only peers announcing in the pub namespace, so the swarm
// channel can be shared with unrelated applications.
func IDPrefix() Predicate {
	return Predicate{Name: ReasonIDPrefix, Test: func(c *Candidate) bool {
		return strings.HasPrefix(c.Announcement.IDString(), domain.SwarmIDPrefix)
	}}
}

// NotSelf rejects our own announcement echoed back by the swarm.
func NotSelf(localHost string) Predicate {
	return Predicate{Name: ReasonNotSelf, Test: func(c *Candidate) bool {
		return c.Announcement.Host != localHost
	}}
}

// VersionCompatible accepts peers whose major version equals ours.
// A prefixed identifier without a version fails closed.
func VersionCompatible(localComVer string) Predicate {
	localMajor := domain.Major(localComVer)
	return Predicate{Name: ReasonVersionCompatible, Test: func(c *Candidate) bool {
		remote, err := domain.RemoteVersion(c.Announcement.IDString())
		if err != nil {
			c.err = err
			return false
		}
		return domain.Major(remote) == localMajor
	}}
}

// NotFederated rejects hosts that are already connected peers.
func NotFederated(policy *Policy) Predicate {
	return Predicate{Name: ReasonNotFederated, Test: func(c *Candidate) bool {
		peers, err := c.Peers()
		if err != nil {
			return false
		}
		return !policy.IsFederated(peers, c.Announcement.Host)
	}}
}

// CapacityAvailable rejects once the connected count (plus reservations)
// has reached the cap.
func CapacityAvailable(policy *Policy) Predicate {
	return Predicate{Name: ReasonCapacity, Test: func(c *Candidate) bool {
		peers, err := c.Peers()
		if err != nil {
			return false
		}
		return policy.HasCapacity(peers, c.Reserved)
	}}
}
