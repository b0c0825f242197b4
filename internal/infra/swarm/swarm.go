// Package swarm is the LAN discovery transport. Pubs register a service on
// multicast DNS, browse for each other, and confirm every sighting with a
// short TCP handshake that carries the swarm identifier. Each completed
// handshake, inbound or outbound, is emitted as a domain.Connection.
package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grandcat/zeroconf"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/easypub/pubd/internal/domain"
	"github.com/easypub/pubd/internal/infra/metrics"
)

const (
	mdnsDomain = "local."

	// DefaultHandshakeTimeout bounds one handshake in either direction.
	DefaultHandshakeTimeout = 5 * time.Second

	// DefaultRedialInterval is how long a browsed instance is left alone
	// after it was dialed.
	DefaultRedialInterval = time.Minute

	maxHelloSize = 4096
)

// Config configures a Transport.
type Config struct {
	ID               string // swarm identifier sent in the handshake
	Host             string // host identity sent in the handshake; empty lets peers use our address
	HTTPPort         int    // web port remote pubs fetch invitations from
	HandshakeTimeout time.Duration
	RedialInterval   time.Duration
	Logger           *zap.Logger
}

// hello is the single JSON line each side writes after connecting.
type hello struct {
	ID       string `json:"id"`
	Instance string `json:"instance"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port"`
	HTTPPort int    `json:"http_port"`
}

// Transport implements domain.DiscoveryTransport.
type Transport struct {
	cfg      Config
	instance string
	log      *zap.SugaredLogger
	conns    chan domain.Connection
	recent   *lru.Cache[string, time.Time] // instance -> last dial
	closing  chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	ln     net.Listener
	port   int
	server *zeroconf.Server
	cancel context.CancelFunc
	closed bool
}

var _ domain.DiscoveryTransport = (*Transport)(nil)

// New creates a transport. Nothing touches the network until Listen.
func New(cfg Config) *Transport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.RedialInterval <= 0 {
		cfg.RedialInterval = DefaultRedialInterval
	}
	if cfg.HTTPPort <= 0 {
		cfg.HTTPPort = domain.DefaultHTTPPort
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	recent, _ := lru.New[string, time.Time](256)
	return &Transport{
		cfg:      cfg,
		instance: "pubd-" + uuid.NewString()[:8],
		log:      logger.Named("swarm").Sugar(),
		conns:    make(chan domain.Connection, 64),
		recent:   recent,
		closing:  make(chan struct{}),
	}
}

// Instance returns the mDNS instance name of this node.
func (t *Transport) Instance() string {
	return t.instance
}

// Connections returns the stream of completed handshakes. It is closed by
// Close.
func (t *Transport) Connections() <-chan domain.Connection {
	return t.conns
}

// Listen binds the swarm port and starts accepting handshakes.
func (t *Transport) Listen(port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTransportClosed
	}
	if t.ln != nil {
		return fmt.Errorf("swarm: already listening on port %d", t.port)
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("swarm: listen: %w", err)
	}
	t.ln = ln
	t.port = ln.Addr().(*net.TCPAddr).Port

	t.wg.Add(1)
	go t.acceptLoop(ln)
	t.log.Infow("listening for swarm peers", "port", t.port)
	return nil
}

// Listening reports whether the swarm listener is bound.
func (t *Transport) Listening() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ln != nil && !t.closed
}

// Port returns the bound swarm port, 0 before Listen.
func (t *Transport) Port() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port
}

// Join registers this node on mDNS (when announcing) and browses the
// channel for other pubs. onJoined runs once both are in place.
func (t *Transport) Join(ctx context.Context, channel string, opts domain.JoinOptions, onJoined func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.ErrTransportClosed
	}
	if t.ln == nil {
		return domain.ErrNotListening
	}
	if t.cancel != nil {
		return fmt.Errorf("swarm: already joined")
	}

	service := "_" + channel + "._tcp"
	if opts.Announce {
		txt := []string{"id=" + t.cfg.ID, "http_port=" + strconv.Itoa(t.cfg.HTTPPort)}
		server, err := zeroconf.Register(t.instance, service, mdnsDomain, t.port, txt, nil)
		if err != nil {
			return fmt.Errorf("swarm: register %s: %w", service, err)
		}
		t.server = server
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		t.shutdownServer()
		return fmt.Errorf("swarm: create resolver: %w", err)
	}

	browseCtx, cancel := context.WithCancel(ctx)
	entries := make(chan *zeroconf.ServiceEntry, 64)
	if err := resolver.Browse(browseCtx, service, mdnsDomain, entries); err != nil {
		cancel()
		t.shutdownServer()
		return fmt.Errorf("swarm: browse %s: %w", service, err)
	}
	t.cancel = cancel

	t.wg.Add(1)
	go t.browseLoop(browseCtx, entries)

	t.log.Infow("joined swarm channel", "service", service, "instance", t.instance, "announce", opts.Announce)
	if onJoined != nil {
		onJoined()
	}
	return nil
}

// Connect dials a swarm peer directly and performs the handshake. It fails
// with domain.ErrTransportClosed once Close has been called.
func (t *Transport) Connect(ctx context.Context, addr string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return domain.ErrTransportClosed
	}
	t.wg.Add(1)
	t.mu.Unlock()
	defer t.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		metrics.SwarmHandshakes.WithLabelValues("outbound", "dial_failed").Inc()
		return fmt.Errorf("swarm: dial %s: %w", addr, err)
	}
	return t.handshake(conn, "outbound")
}

// Close stops announcing and browsing, closes the listener and waits for
// handshakes to finish. The Connections channel is closed afterwards.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closing)
	if t.cancel != nil {
		t.cancel()
	}
	t.shutdownServer()
	var err error
	if t.ln != nil {
		err = t.ln.Close()
	}
	t.mu.Unlock()

	t.wg.Wait()
	close(t.conns)
	return err
}

// shutdownServer must be called with t.mu held.
func (t *Transport) shutdownServer() {
	if t.server != nil {
		t.server.Shutdown()
		t.server = nil
	}
}

// ─── Loops ──────────────────────────────────────────────────────────────────

func (t *Transport) acceptLoop(ln net.Listener) {
	defer t.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.log.Debugw("accept failed", "error", err)
			continue
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			if err := t.handshake(conn, "inbound"); err != nil {
				t.log.Debugw("inbound handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
			}
		}()
	}
}

func (t *Transport) browseLoop(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			t.handleEntry(ctx, entry)
		}
	}
}

func (t *Transport) handleEntry(ctx context.Context, entry *zeroconf.ServiceEntry) {
	if entry == nil || entry.Instance == t.instance {
		return
	}
	if t.seenRecently(entry.Instance) {
		return
	}

	ip := entryIP(entry)
	if ip == nil || entry.Port <= 0 {
		t.log.Debugw("skipping swarm entry without address", "instance", entry.Instance)
		return
	}
	t.markDialed(entry.Instance)

	addr := net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port))
	t.log.Debugw("browsed swarm peer", "instance", entry.Instance, "addr", addr)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.Connect(ctx, addr); err != nil {
			t.log.Debugw("outbound handshake failed", "addr", addr, "error", err)
		}
	}()
}

// seenRecently reports whether instance was dialed within the redial interval.
func (t *Transport) seenRecently(instance string) bool {
	at, ok := t.recent.Get(instance)
	return ok && time.Since(at) < t.cfg.RedialInterval
}

func (t *Transport) markDialed(instance string) {
	t.recent.Add(instance, time.Now())
}

// ─── Handshake ──────────────────────────────────────────────────────────────

func (t *Transport) handshake(conn net.Conn, direction string) error {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(t.cfg.HandshakeTimeout))

	ours := hello{
		ID:       t.cfg.ID,
		Instance: t.instance,
		Host:     t.cfg.Host,
		Port:     t.Port(),
		HTTPPort: t.cfg.HTTPPort,
	}
	if err := json.NewEncoder(conn).Encode(ours); err != nil {
		metrics.SwarmHandshakes.WithLabelValues(direction, "failed").Inc()
		return fmt.Errorf("%w: write: %v", domain.ErrHandshake, err)
	}

	var theirs hello
	if err := json.NewDecoder(io.LimitReader(conn, maxHelloSize)).Decode(&theirs); err != nil {
		metrics.SwarmHandshakes.WithLabelValues(direction, "failed").Inc()
		return fmt.Errorf("%w: read: %v", domain.ErrHandshake, err)
	}
	if theirs.Instance == t.instance {
		metrics.SwarmHandshakes.WithLabelValues(direction, "self").Inc()
		return fmt.Errorf("%w: connected to self", domain.ErrHandshake)
	}

	remote, _ := conn.RemoteAddr().(*net.TCPAddr)
	if remote == nil {
		metrics.SwarmHandshakes.WithLabelValues(direction, "failed").Inc()
		return fmt.Errorf("%w: no remote address", domain.ErrHandshake)
	}

	host := theirs.Host
	if host == "" {
		host = AnnouncedHost(remote.IP, theirs.HTTPPort)
	}

	metrics.SwarmHandshakes.WithLabelValues(direction, "ok").Inc()
	c := domain.Connection{
		Announcement: domain.PeerAnnouncement{
			ID:   []byte(theirs.ID),
			Host: host,
			Port: theirs.Port,
		},
		Socket: conn.RemoteAddr(),
	}
	select {
	case <-t.closing:
		return domain.ErrTransportClosed
	default:
	}
	select {
	case t.conns <- c:
	case <-t.closing:
		return domain.ErrTransportClosed
	}
	return nil
}

// AnnouncedHost returns the host other pubs use to reach a peer's web
// server when its handshake names none: the bare IP on the default HTTP
// port, ip:port otherwise.
func AnnouncedHost(ip net.IP, httpPort int) string {
	if ip == nil {
		return ""
	}
	if httpPort <= 0 || httpPort == domain.DefaultHTTPPort {
		if ip.To4() == nil {
			return "[" + ip.String() + "]"
		}
		return ip.String()
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(httpPort))
}

func entryIP(entry *zeroconf.ServiceEntry) net.IP {
	if len(entry.AddrIPv4) > 0 {
		return entry.AddrIPv4[0]
	}
	if len(entry.AddrIPv6) > 0 {
		return entry.AddrIPv6[0]
	}
	return nil
}
