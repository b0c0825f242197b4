package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/easypub/pubd/internal/api"
	"github.com/easypub/pubd/internal/discovery"
	"github.com/easypub/pubd/internal/domain"
	"github.com/easypub/pubd/internal/health"
	"github.com/easypub/pubd/internal/infra/gossip"
	_ "github.com/easypub/pubd/internal/infra/metrics" // Register Prometheus metrics
	"github.com/easypub/pubd/internal/infra/sqlite"
	"github.com/easypub/pubd/internal/infra/swarm"
	"github.com/easypub/pubd/internal/logging"
)

// Daemon is the pubd runtime. It wires together all services.
type Daemon struct {
	Config  Config
	Version string
	Host    string
	Log     *zap.Logger

	DB        *sqlite.DB
	Trust     *sqlite.TrustStore
	Swarm     *swarm.Transport
	Discovery *discovery.Orchestrator
	Prober    *gossip.Prober
	Health    *health.Checker
	Server    *api.Server

	cancel context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New(version string) (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg, version)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config, version string) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	host, err := resolveHost(cfg.Node.Host)
	if err != nil {
		return nil, err
	}

	// Open SQLite
	db, err := sqlite.Open(pubdHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := context.Background()
	trust, err := sqlite.NewTrustStore(ctx, db, sqlite.TrustConfig{
		Host:   host,
		Port:   cfg.Replication.Port,
		Logger: logger,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init trust store: %w", err)
	}

	d := &Daemon{
		Config:  cfg,
		Version: version,
		Host:    host,
		Log:     logger,
		DB:      db,
		Trust:   trust,
	}

	// ─── Discovery ─────────────────────────────────────────────────────

	timeout := parseDuration(cfg.Discovery.RequestTimeout, discovery.DefaultRequestTimeout)
	identity := localHost(host, cfg.HTTP.Port)
	discCfg := discovery.Config{
		Enabled:           cfg.Discovery.Enabled,
		Host:              identity,
		Version:           version,
		Port:              cfg.Discovery.Port,
		MaxFederatedPeers: cfg.Discovery.MaxFederatedPeers,
		RequestTimeout:    timeout,
		MaxInFlight:       cfg.Discovery.MaxInFlight,
	}
	deps := discovery.Deps{Logger: logger}
	if cfg.Discovery.Enabled {
		comver, err := domain.ComVer(version)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("discovery: %w", err)
		}
		d.Swarm = swarm.New(swarm.Config{
			ID:       domain.SwarmID(comver),
			Host:     identity,
			HTTPPort: cfg.HTTP.Port,
			Logger:   logger,
		})
		deps.Transport = d.Swarm
		deps.Registry = trust
		deps.Fetcher = discovery.NewRestyFetcher(timeout)
		deps.Acceptor = trust
	}
	d.Discovery, err = discovery.New(discCfg, deps)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("discovery: %w", err)
	}

	// Peer reachability
	d.Prober = gossip.NewProber(trust, gossip.Config{
		Interval:      parseDuration(cfg.Discovery.ProbeInterval, gossip.DefaultInterval),
		InvitationTTL: parseDuration(cfg.Replication.InviteTTL, 24*time.Hour),
		Logger:        logger,
	})

	// Health checker
	var listener health.Listener
	if d.Swarm != nil {
		listener = d.Swarm
	}
	d.Health = health.NewChecker(db, pubdHome(), listener, logger)

	// ─── HTTP ──────────────────────────────────────────────────────────

	srv := api.NewServer(trust, version, logger)
	srv.SetInviteUses(cfg.Replication.InviteUses)
	srv.SetHealth(d.Health)
	if d.Discovery.Enabled() {
		srv.SetDiscovery(d.Discovery)
	}
	// Enable Prometheus /metrics if configured
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	d.Server = srv

	return d, nil
}

// Serve starts the HTTP server and the background services, and blocks
// until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	log := d.Log.Sugar()
	addr := net.JoinHostPort(d.Config.HTTP.Host, strconv.Itoa(d.Config.HTTP.Port))

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			log.Infow("shutting down", "signal", sig.String())
		case <-gctx.Done():
		}
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		d.Discovery.Stop()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		log.Infow("pubd serving", "addr", addr, "host", d.Host, "version", d.Version)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		d.Health.Run(gctx)
		return nil
	})

	g.Go(func() error {
		d.Prober.Run(gctx)
		return nil
	})

	// A pub that cannot join the swarm still serves invitations.
	if d.Discovery.Enabled() {
		if err := d.Discovery.Start(gctx); err != nil {
			log.Errorw("discovery unavailable", "error", err)
		} else {
			log.Infow("discovery started", "swarm", d.Discovery.SwarmID(), "port", d.Config.Discovery.Port)
		}
	}

	return g.Wait()
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	var err error
	if d.Discovery != nil {
		d.Discovery.Stop()
	}
	if d.Swarm != nil {
		err = multierr.Append(err, d.Swarm.Close())
	}
	if d.DB != nil {
		err = multierr.Append(err, d.DB.Close())
	}
	if d.Log != nil {
		_ = d.Log.Sync()
	}
	return err
}

// localHost is the identity remote pubs see us under: the bare address on
// the default HTTP port, address:port otherwise.
func localHost(host string, httpPort int) string {
	if ip := net.ParseIP(host); ip != nil {
		return swarm.AnnouncedHost(ip, httpPort)
	}
	if httpPort == domain.DefaultHTTPPort || httpPort == 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(httpPort))
}
