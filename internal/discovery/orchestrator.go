package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/easypub/pubd/internal/domain"
	"github.com/easypub/pubd/internal/infra/metrics"
)

// Config configures the discovery orchestrator.
type Config struct {
	Enabled           bool
	Host              string // local host identity, used for self-exclusion
	Version           string // semantic version of this build
	Port              int    // swarm listen port
	MaxFederatedPeers int
	RequestTimeout    time.Duration
	MaxInFlight       int // concurrent invitation exchanges
}

// DefaultConfig returns defaults matching a stock pub.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Port:              domain.DefaultSwarmPort,
		MaxFederatedPeers: domain.DefaultMaxFederatedPeers,
		RequestTimeout:    DefaultRequestTimeout,
		MaxInFlight:       16,
	}
}

// Deps are the capabilities the orchestrator drives.
type Deps struct {
	Transport domain.DiscoveryTransport
	Registry  domain.PeerRegistry
	Fetcher   domain.InvitationFetcher
	Acceptor  domain.InvitationAcceptor
	Logger    *zap.Logger
}

// Stats is a point-in-time view of pipeline counters.
type Stats struct {
	Enabled   bool   `json:"enabled"`
	SwarmID   string `json:"swarm_id,omitempty"`
	Received  int64  `json:"received"`
	Rejected  int64  `json:"rejected"`
	Accepted  int64  `json:"accepted"`
	Federated int64  `json:"federated"`
	Abandoned int64  `json:"abandoned"`
	Dropped   int64  `json:"dropped"`
	InFlight  int    `json:"in_flight"`
}

// Orchestrator pumps swarm announcements through the filter chain and runs
// an invitation exchange for each survivor. Announcements are filtered in
// arrival order on one goroutine; exchanges run concurrently on a pool.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	swarmID string
	policy  *Policy
	filter  *Filter
	client  *InvitationClient
	log     *zap.SugaredLogger

	pool     *ants.Pool
	inflight *lru.Cache[string, time.Time] // host -> reserved at
	resMu    sync.Mutex                    // serializes reserve/release against inflight

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	received  atomic.Int64
	rejected  atomic.Int64
	accepted  atomic.Int64
	federated atomic.Int64
	abandoned atomic.Int64
	dropped   atomic.Int64
}

// New validates the configuration and builds an orchestrator. A disabled
// orchestrator needs no dependencies.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  logger.Named("discovery").Sugar(),
	}
	if !cfg.Enabled {
		return o, nil
	}

	if deps.Transport == nil || deps.Registry == nil || deps.Fetcher == nil || deps.Acceptor == nil {
		return nil, errors.New("discovery: transport, registry, fetcher and acceptor are required")
	}
	comver, err := domain.ComVer(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	if o.cfg.MaxInFlight <= 0 {
		o.cfg.MaxInFlight = DefaultConfig().MaxInFlight
	}
	if o.cfg.RequestTimeout <= 0 {
		o.cfg.RequestTimeout = DefaultRequestTimeout
	}

	o.swarmID = domain.SwarmID(comver)
	o.policy = NewPolicy(deps.Registry, cfg.MaxFederatedPeers)
	o.filter = DefaultFilter(cfg.Host, comver, o.policy)
	o.client = NewInvitationClient(deps.Fetcher, deps.Acceptor, o.log)
	// Reservations are released by exchange, never by age. The pool bounds
	// live entries to MaxInFlight plus the one being submitted.
	o.inflight, err = lru.New[string, time.Time](2 * o.cfg.MaxInFlight)
	if err != nil {
		return nil, fmt.Errorf("discovery: create reservation table: %w", err)
	}

	pool, err := ants.NewPool(o.cfg.MaxInFlight,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			o.log.Errorw("invitation exchange panicked", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("discovery: create pool: %w", err)
	}
	o.pool = pool
	return o, nil
}

// SwarmID returns the identifier this node announces, empty when disabled.
func (o *Orchestrator) SwarmID() string {
	return o.swarmID
}

// Enabled reports whether discovery is configured on.
func (o *Orchestrator) Enabled() bool {
	return o.cfg.Enabled
}

// Start binds the swarm listener, joins the discovery channel and begins
// consuming announcements. It returns immediately if discovery is disabled.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.cfg.Enabled {
		o.log.Infow("discovery disabled, not joining the swarm")
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}

	if err := o.deps.Transport.Listen(o.cfg.Port); err != nil {
		return fmt.Errorf("discovery: listen on swarm port %d: %w", o.cfg.Port, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	joined := func() {
		o.log.Infow("joined discovery swarm", "channel", domain.SwarmChannel, "id", o.swarmID)
	}
	if err := o.deps.Transport.Join(ctx, domain.SwarmChannel, domain.JoinOptions{Announce: true}, joined); err != nil {
		cancel()
		return fmt.Errorf("discovery: join %q: %w", domain.SwarmChannel, err)
	}

	o.cancel = cancel
	o.running = true
	o.wg.Add(1)
	go o.pump(ctx, o.deps.Transport.Connections())

	o.log.Infow("discovery started",
		"port", o.cfg.Port,
		"max_federated", o.policy.Max,
		"max_in_flight", o.cfg.MaxInFlight)
	return nil
}

// Stop closes the transport and abandons in-flight exchanges.
func (o *Orchestrator) Stop() {
	if !o.cfg.Enabled {
		return
	}

	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.cancel()
	o.mu.Unlock()

	if err := o.deps.Transport.Close(); err != nil {
		o.log.Debugw("closing swarm transport", "error", err)
	}
	o.wg.Wait()
	if err := o.pool.ReleaseTimeout(2 * time.Second); err != nil {
		o.log.Debugw("exchanges still running at shutdown", "error", err)
	}
	o.log.Infow("discovery stopped")
}

// Stats returns the pipeline counters.
func (o *Orchestrator) Stats() Stats {
	s := Stats{
		Enabled:   o.cfg.Enabled,
		SwarmID:   o.swarmID,
		Received:  o.received.Load(),
		Rejected:  o.rejected.Load(),
		Accepted:  o.accepted.Load(),
		Federated: o.federated.Load(),
		Abandoned: o.abandoned.Load(),
		Dropped:   o.dropped.Load(),
	}
	if o.inflight != nil {
		s.InFlight = o.inflight.Len()
	}
	return s
}

// ─── Event Pump ─────────────────────────────────────────────────────────────

func (o *Orchestrator) pump(ctx context.Context, conns <-chan domain.Connection) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case conn, ok := <-conns:
			if !ok {
				o.log.Infow("swarm connection stream closed")
				return
			}
			o.handle(ctx, conn.Announcement)
		}
	}
}

// handle filters one announcement and, if it survives, reserves its host
// and schedules the exchange. Counters are updated before returning so
// callers can observe that the announcement was processed.
func (o *Orchestrator) handle(ctx context.Context, ann domain.PeerAnnouncement) {
	cand := NewCandidate(ann, func() ([]domain.FederatedPeer, error) {
		return o.policy.Snapshot(ctx)
	})
	cand.Reserved = o.inflight.Len()

	ok, reason := o.filter.Evaluate(cand)
	if ok && !o.reserve(ann.Host) {
		ok, reason = false, ReasonInFlight
	}
	if !ok {
		o.log.Debugw("ignoring swarm peer", "peer", ann.String(), "id", ann.IDString(), "reason", reason, "error", cand.Err())
		metrics.Announcements.WithLabelValues(reason).Inc()
		o.rejected.Add(1)
		o.received.Add(1)
		return
	}

	o.log.Infow("found discovery swarm peer", "host", ann.Host, "port", ann.Port)
	metrics.Announcements.WithLabelValues("accepted").Inc()

	host := ann.Host
	if err := o.pool.Submit(func() { o.exchange(ctx, host) }); err != nil {
		o.release(host)
		o.log.Warnw("dropping swarm peer, too many exchanges in flight", "host", host, "error", err)
		metrics.Invitations.WithLabelValues("dropped").Inc()
		o.dropped.Add(1)
		o.received.Add(1)
		return
	}
	o.accepted.Add(1)
	o.received.Add(1)
}

// exchange runs the invitation exchange for one host.
func (o *Orchestrator) exchange(ctx context.Context, host string) {
	defer o.release(host)
	metrics.CandidatesInFlight.Inc()
	defer metrics.CandidatesInFlight.Dec()

	reqCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	err := o.client.Request(reqCtx, host)
	switch {
	case err == nil:
		metrics.Invitations.WithLabelValues("federated").Inc()
		o.federated.Add(1)
		return
	case errors.Is(err, domain.ErrNoInvitation):
		metrics.Invitations.WithLabelValues("no_invitation").Inc()
	case errors.Is(err, domain.ErrFetchInvitation):
		metrics.Invitations.WithLabelValues("fetch_failed").Inc()
	default:
		metrics.Invitations.WithLabelValues("accept_failed").Inc()
	}
	o.abandoned.Add(1)
}

func (o *Orchestrator) reserve(host string) bool {
	o.resMu.Lock()
	defer o.resMu.Unlock()
	if _, ok := o.inflight.Get(host); ok {
		return false
	}
	o.inflight.Add(host, time.Now())
	return true
}

func (o *Orchestrator) release(host string) {
	o.resMu.Lock()
	o.inflight.Remove(host)
	o.resMu.Unlock()
}
