// Package gossip keeps the connection state of federated pubs current.
// The prober dials each peer's replication address on an interval and
// records whether it answered, so the federation cap counts pubs that are
// actually reachable.
package gossip

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/easypub/pubd/internal/domain"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultDialTimeout = 3 * time.Second
	maxParallelProbes  = 8
)

// PeerStore is the registry the prober reads and updates.
type PeerStore interface {
	FederatedPeers(ctx context.Context) ([]domain.FederatedPeer, error)
	SetPeerState(ctx context.Context, key string, state domain.ConnectionState) error
	RemovePeer(ctx context.Context, key string) error
}

// InvitationPruner is implemented by stores that can drop stale issued
// invitations. The prober prunes them once per round.
type InvitationPruner interface {
	PruneInvitations(ctx context.Context, maxAge time.Duration) (int64, error)
}

// DialFunc opens a connection to addr.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config configures a Prober.
type Config struct {
	Interval    time.Duration
	DialTimeout time.Duration
	Dial        DialFunc // defaults to net.Dialer.DialContext

	// InvitationTTL is how long issued invitations are kept. Zero disables
	// pruning.
	InvitationTTL time.Duration
	Logger        *zap.Logger
}

// Result is the outcome of probing one peer.
type Result struct {
	Key   string
	Addr  string
	State domain.ConnectionState
	Err   error
}

// Prober periodically checks reachability of federated peers.
type Prober struct {
	store PeerStore
	cfg   Config
	log   *zap.SugaredLogger

	mu       sync.RWMutex
	lastRun  time.Time
	lastSeen []Result
}

// NewProber creates a prober over store.
func NewProber(store PeerStore, cfg Config) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Dial == nil {
		var d net.Dialer
		cfg.Dial = d.DialContext
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{store: store, cfg: cfg, log: logger.Named("gossip").Sugar()}
}

// Run probes immediately and then on every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.probe(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) {
	if _, err := p.ProbeOnce(ctx); err != nil && ctx.Err() == nil {
		p.log.Warnw("probe round failed", "error", err)
	}
	if _, err := p.PruneInvitations(ctx); err != nil && ctx.Err() == nil {
		p.log.Warnw("invitation pruning failed", "error", err)
	}
}

// PruneInvitations drops issued invitations older than InvitationTTL when
// the store supports it.
func (p *Prober) PruneInvitations(ctx context.Context) (int64, error) {
	pruner, ok := p.store.(InvitationPruner)
	if !ok || p.cfg.InvitationTTL <= 0 {
		return 0, nil
	}
	return pruner.PruneInvitations(ctx, p.cfg.InvitationTTL)
}

// ProbeOnce dials every federated peer once and records state changes.
// Peers being dropped (disconnecting) are left alone.
func (p *Prober) ProbeOnce(ctx context.Context) ([]Result, error) {
	peers, err := p.store.FederatedPeers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list federated peers: %w", err)
	}

	results := make([]Result, len(peers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelProbes)
	for i := range peers {
		i := i // per-iteration copy; module targets go 1.21 loop semantics
		peer := peers[i]
		if peer.State == domain.StateDisconnecting {
			results[i] = Result{Key: peer.Key, Addr: peer.Addr(), State: peer.State}
			continue
		}
		g.Go(func() error {
			results[i] = p.probePeer(gctx, peer)
			return nil
		})
	}
	g.Wait()

	p.mu.Lock()
	p.lastRun = time.Now()
	p.lastSeen = results
	p.mu.Unlock()
	return results, nil
}

func (p *Prober) probePeer(ctx context.Context, peer domain.FederatedPeer) Result {
	res := Result{Key: peer.Key, Addr: peer.Addr(), State: domain.StateConnected}

	dctx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	conn, err := p.cfg.Dial(dctx, "tcp", peer.Addr())
	cancel()
	if err != nil {
		res.State = domain.StateNotConnected
		res.Err = err
	} else {
		conn.Close()
	}

	if res.State == peer.State {
		return res
	}
	if err := p.store.SetPeerState(ctx, peer.Key, res.State); err != nil {
		p.log.Warnw("recording peer state failed", "peer", peer.Key, "error", err)
		return res
	}
	p.log.Infow("federated peer state changed",
		"peer", peer.Key, "addr", res.Addr,
		"from", peer.State.String(), "to", res.State.String())
	return res
}

// Forget marks a peer as disconnecting and then removes it.
func (p *Prober) Forget(ctx context.Context, key string) error {
	if err := p.store.SetPeerState(ctx, key, domain.StateDisconnecting); err != nil {
		return err
	}
	if err := p.store.RemovePeer(ctx, key); err != nil {
		return err
	}
	p.log.Infow("forgot federated peer", "peer", key)
	return nil
}

// LastRun returns when the last probe round finished and its results.
func (p *Prober) LastRun() (time.Time, []Result) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Result, len(p.lastSeen))
	copy(out, p.lastSeen)
	return p.lastRun, out
}
