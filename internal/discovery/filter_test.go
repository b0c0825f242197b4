package discovery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easypub/pubd/internal/domain"
)

func newTestFilter(reg *fakeRegistry) *Filter {
	return DefaultFilter(localHost, localComVer, NewPolicy(reg, 3))
}

func candidateFor(ann domain.PeerAnnouncement, reg *fakeRegistry) *Candidate {
	return NewCandidate(ann, func() ([]domain.FederatedPeer, error) {
		return reg.FederatedPeers(context.Background())
	})
}

func TestFilter_Evaluate(t *testing.T) {
	full := []domain.FederatedPeer{connected("a:80"), connected("b:80"), connected("c:80")}

	tests := []struct {
		name   string
		ann    domain.PeerAnnouncement
		peers  []domain.FederatedPeer
		ok     bool
		reason string
	}{
		{"compatible new pub", announcement("easy-ssb-pub@1.2", "bob.local"), nil, true, ""},
		{"minor version differs", announcement("easy-ssb-pub@1.9.9", "bob.local"), nil, true, ""},
		{"empty host", announcement("easy-ssb-pub@1.2", ""), nil, false, ReasonHostPresent},
		{"foreign namespace", announcement("BitTorrent", "bob.local"), nil, false, ReasonIDPrefix},
		{"self", announcement("easy-ssb-pub@1.2", localHost), nil, false, ReasonNotSelf},
		{"major version differs", announcement("easy-ssb-pub@0.123", "bob.local"), nil, false, ReasonVersionCompatible},
		{"malformed version", announcement("easy-ssb-pub@", "bob.local"), nil, false, ReasonVersionCompatible},
		{"already federated", announcement("easy-ssb-pub@1.2", "bob.local"), []domain.FederatedPeer{connected("bob.local")}, false, ReasonNotFederated},
		{"at capacity", announcement("easy-ssb-pub@1.2", "bob.local"), full, false, ReasonCapacity},
		{
			"connecting peer does not count",
			announcement("easy-ssb-pub@1.2", "bob.local"),
			[]domain.FederatedPeer{connected("a:80"), connected("b:80"), {Host: "bob.local", State: domain.StateConnecting}},
			true, "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &fakeRegistry{peers: tt.peers}
			ok, reason := newTestFilter(reg).Evaluate(candidateFor(tt.ann, reg))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestFilter_EmptyHostRejectedRegardless(t *testing.T) {
	reg := &fakeRegistry{}
	f := newTestFilter(reg)
	for _, id := range []string{"easy-ssb-pub@1.2", "BitTorrent", "", "easy-ssb-pub@"} {
		ok, reason := f.Evaluate(candidateFor(announcement(id, ""), reg))
		assert.False(t, ok, id)
		assert.Equal(t, ReasonHostPresent, reason, id)
	}
	assert.Zero(t, reg.Calls(), "registry must not be queried for hostless announcements")
}

func TestFilter_FederatedRejectedRegardlessOfCapacity(t *testing.T) {
	reg := &fakeRegistry{peers: []domain.FederatedPeer{connected("bob.local")}}
	f := DefaultFilter(localHost, localComVer, NewPolicy(reg, 100))

	ok, reason := f.Evaluate(candidateFor(announcement("easy-ssb-pub@1.0", "bob.local"), reg))
	assert.False(t, ok)
	assert.Equal(t, ReasonNotFederated, reason)
}

func TestFilter_SingleSnapshotPerCandidate(t *testing.T) {
	reg := &fakeRegistry{}
	ok, _ := newTestFilter(reg).Evaluate(candidateFor(announcement("easy-ssb-pub@1.2", "bob.local"), reg))
	require.True(t, ok)
	assert.Equal(t, 1, reg.Calls())
}

func TestFilter_RegistryErrorFailsClosed(t *testing.T) {
	reg := &fakeRegistry{err: errors.New("db locked")}
	c := candidateFor(announcement("easy-ssb-pub@1.2", "bob.local"), reg)

	ok, reason := newTestFilter(reg).Evaluate(c)
	assert.False(t, ok)
	assert.Equal(t, ReasonNotFederated, reason)
	assert.EqualError(t, c.Err(), "db locked")
}

func TestFilter_MalformedIdentifierRecorded(t *testing.T) {
	reg := &fakeRegistry{}
	c := candidateFor(announcement("easy-ssb-pub@", "bob.local"), reg)

	ok, _ := newTestFilter(reg).Evaluate(c)
	assert.False(t, ok)
	assert.ErrorIs(t, c.Err(), domain.ErrMalformedIdentifier)
}

func TestFilter_ReservationsCountTowardCapacity(t *testing.T) {
	reg := &fakeRegistry{peers: []domain.FederatedPeer{connected("a:80")}}
	f := newTestFilter(reg)

	c := candidateFor(announcement("easy-ssb-pub@1.2", "bob.local"), reg)
	c.Reserved = 1
	ok, _ := f.Evaluate(c)
	assert.True(t, ok)

	c = candidateFor(announcement("easy-ssb-pub@1.2", "bob.local"), reg)
	c.Reserved = 2
	ok, reason := f.Evaluate(c)
	assert.False(t, ok)
	assert.Equal(t, ReasonCapacity, reason)
}

func TestFilter_Names(t *testing.T) {
	f := newTestFilter(&fakeRegistry{})
	assert.Equal(t, []string{
		ReasonHostPresent,
		ReasonIDPrefix,
		ReasonNotSelf,
		ReasonVersionCompatible,
		ReasonNotFederated,
		ReasonCapacity,
	}, f.Names())
}

func TestNewFilter_CustomChain(t *testing.T) {
	f := NewFilter(HostPresent(), IDPrefix())
	ok, _ := f.Evaluate(NewCandidate(announcement("easy-ssb-pub@9.9", localHost), nil))
	assert.True(t, ok, "a chain without not-self accepts the local host")

	ok, reason := f.Evaluate(NewCandidate(announcement("ssb@1.0", "x"), nil))
	assert.False(t, ok)
	assert.Equal(t, ReasonIDPrefix, reason)
}
