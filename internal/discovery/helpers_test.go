package discovery

import (
	"context"
	"sync"

	"github.com/easypub/pubd/internal/domain"
)

// ─── Test Doubles ───────────────────────────────────────────────────────────

type fakeRegistry struct {
	mu    sync.Mutex
	peers []domain.FederatedPeer
	err   error
	calls int
}

func (r *fakeRegistry) FederatedPeers(ctx context.Context) ([]domain.FederatedPeer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	out := make([]domain.FederatedPeer, len(r.peers))
	copy(out, r.peers)
	return out, r.err
}

func (r *fakeRegistry) set(peers ...domain.FederatedPeer) {
	r.mu.Lock()
	r.peers = peers
	r.mu.Unlock()
}

func (r *fakeRegistry) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeFetcher struct {
	mu    sync.Mutex
	urls  []string
	inv   domain.Invitation
	err   error
	block chan struct{} // when set, fetches wait for it to close
}

func (f *fakeFetcher) FetchInvitation(ctx context.Context, url string) (domain.Invitation, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.inv, f.err
}

func (f *fakeFetcher) URLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type fakeAcceptor struct {
	mu       sync.Mutex
	accepted []domain.Invitation
	err      error
}

func (a *fakeAcceptor) AcceptInvitation(ctx context.Context, inv domain.Invitation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accepted = append(a.accepted, inv)
	return a.err
}

func (a *fakeAcceptor) Accepted() []domain.Invitation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Invitation(nil), a.accepted...)
}

type fakeTransport struct {
	mu        sync.Mutex
	conns     chan domain.Connection
	listenErr error
	joinErr   error
	port      int
	channel   string
	opts      domain.JoinOptions
	closed    bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{conns: make(chan domain.Connection, 16)}
}

func (t *fakeTransport) Listen(port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.port = port
	return t.listenErr
}

func (t *fakeTransport) Join(ctx context.Context, channel string, opts domain.JoinOptions, onJoined func()) error {
	t.mu.Lock()
	t.channel = channel
	t.opts = opts
	err := t.joinErr
	t.mu.Unlock()
	if err == nil && onJoined != nil {
		onJoined()
	}
	return err
}

func (t *fakeTransport) Connections() <-chan domain.Connection {
	return t.conns
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) announce(id, host string) {
	t.conns <- domain.Connection{Announcement: announcement(id, host)}
}

// ─── Fixtures ───────────────────────────────────────────────────────────────

const (
	localHost    = "localhost:4000"
	localVersion = "1.2.3"
	localComVer  = "1.2"
)

func announcement(id, host string) domain.PeerAnnouncement {
	return domain.PeerAnnouncement{ID: []byte(id), Host: host, Port: domain.DefaultSwarmPort}
}

func connected(host string) domain.FederatedPeer {
	return domain.FederatedPeer{Key: "@" + host, Host: host, Port: domain.DefaultReplicationPort, State: domain.StateConnected}
}
