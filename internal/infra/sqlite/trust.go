package sqlite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/easypub/pubd/internal/domain"
	"github.com/easypub/pubd/internal/infra/metrics"
)

const nodeKeyInfo = "node_key"

// TrustConfig configures a TrustStore.
type TrustConfig struct {
	Host   string // address written into issued invitations
	Port   int    // replication port written into issued invitations
	Logger *zap.Logger
}

// TrustStore is the local trust engine: it issues invitations for other
// pubs and accepts the ones they issue, keeping the federated peer
// registry. It implements domain.PeerRegistry, domain.InvitationAcceptor
// and domain.InvitationIssuer.
type TrustStore struct {
	db   *DB
	host string
	port int
	key  string
	log  *zap.SugaredLogger
}

var (
	_ domain.PeerRegistry       = (*TrustStore)(nil)
	_ domain.InvitationAcceptor = (*TrustStore)(nil)
	_ domain.HostAcceptor       = (*TrustStore)(nil)
	_ domain.InvitationIssuer   = (*TrustStore)(nil)
)

// NewTrustStore loads the node key from db, creating one on first use.
func NewTrustStore(ctx context.Context, db *DB, cfg TrustConfig) (*TrustStore, error) {
	if cfg.Host == "" {
		return nil, errors.New("trust store: host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = domain.DefaultReplicationPort
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	key, err := db.GetNodeInfo(ctx, nodeKeyInfo)
	if err != nil {
		return nil, fmt.Errorf("trust store: load node key: %w", err)
	}
	if key == "" {
		key = newNodeKey()
		if err := db.SetNodeInfo(ctx, nodeKeyInfo, key); err != nil {
			return nil, fmt.Errorf("trust store: save node key: %w", err)
		}
	}

	s := &TrustStore{
		db:   db,
		host: cfg.Host,
		port: cfg.Port,
		key:  key,
		log:  logger.Named("trust").Sugar(),
	}
	if err := s.RefreshMetrics(ctx); err != nil {
		return nil, fmt.Errorf("trust store: %w", err)
	}
	return s, nil
}

// Key returns this pub's public identifier.
func (s *TrustStore) Key() string {
	return s.key
}

// ─── Issuing ────────────────────────────────────────────────────────────────

// CreateInvitation issues an invitation redeemable uses times.
func (s *TrustStore) CreateInvitation(ctx context.Context, uses int) (domain.Invitation, error) {
	if uses <= 0 {
		uses = 1
	}
	secret, err := randomSecret()
	if err != nil {
		return "", fmt.Errorf("create invitation: %w", err)
	}
	if err := s.db.InsertInvitation(ctx, secret, uses); err != nil {
		return "", fmt.Errorf("create invitation: %w", err)
	}
	metrics.InvitationsIssued.Inc()

	code := domain.InvitationCode{Host: s.host, Port: s.port, Key: s.key, Secret: secret}
	s.log.Debugw("issued invitation", "uses", uses)
	return domain.Invitation(code.String()), nil
}

// RedeemInvitation consumes one use of an invitation this pub issued.
func (s *TrustStore) RedeemInvitation(ctx context.Context, inv domain.Invitation) error {
	code, err := domain.ParseInvitation(inv)
	if err != nil {
		return err
	}
	if code.Key != s.key {
		return fmt.Errorf("%w: issued by %s", domain.ErrInvitationNotFound, code.Key)
	}
	if err := s.db.ConsumeInvitation(ctx, code.Secret); err != nil {
		return err
	}
	s.log.Infow("invitation redeemed")
	return nil
}

// PruneInvitations forgets invitations older than maxAge. Each GET of the
// invitation endpoint issues one, so this keeps the table bounded.
func (s *TrustStore) PruneInvitations(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := s.db.PruneInvitations(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("prune invitations: %w", err)
	}
	if n > 0 {
		s.log.Debugw("pruned invitations", "count", n, "max_age", maxAge)
	}
	return n, nil
}

// ─── Accepting ──────────────────────────────────────────────────────────────

// AcceptInvitation accepts an invitation fetched by discovery.
func (s *TrustStore) AcceptInvitation(ctx context.Context, inv domain.Invitation) error {
	return s.accept(ctx, inv, domain.SourceDiscovery, "")
}

// AcceptInvitationFromHost accepts an invitation fetched from host and
// remembers host as the peer's announced identity.
func (s *TrustStore) AcceptInvitationFromHost(ctx context.Context, host string, inv domain.Invitation) error {
	return s.accept(ctx, inv, domain.SourceDiscovery, host)
}

// AcceptInvitationFrom records the issuing pub as a federated peer in the
// connecting state. The gossip prober promotes it once reachable.
func (s *TrustStore) AcceptInvitationFrom(ctx context.Context, inv domain.Invitation, source domain.PeerSource) error {
	return s.accept(ctx, inv, source, "")
}

func (s *TrustStore) accept(ctx context.Context, inv domain.Invitation, source domain.PeerSource, announced string) error {
	code, err := domain.ParseInvitation(inv)
	if err != nil {
		return err
	}
	if code.Key == s.key {
		return domain.ErrOwnInvitation
	}

	peer := domain.FederatedPeer{
		Key:       code.Key,
		Host:      code.Host,
		Port:      code.Port,
		State:     domain.StateConnecting,
		Source:    source,
		Announced: announced,
	}
	if err := s.db.UpsertFederatedPeer(ctx, peer, string(inv)); err != nil {
		return fmt.Errorf("accept invitation: %w", err)
	}
	s.log.Infow("accepted invitation", "peer", code.Key, "addr", peer.Addr(), "announced", announced, "source", source)
	return s.RefreshMetrics(ctx)
}

// ─── Registry ───────────────────────────────────────────────────────────────

// FederatedPeers returns every known federated peer.
func (s *TrustStore) FederatedPeers(ctx context.Context) ([]domain.FederatedPeer, error) {
	return s.db.ListFederatedPeers(ctx)
}

// Peer returns one federated peer by key.
func (s *TrustStore) Peer(ctx context.Context, key string) (*domain.FederatedPeer, error) {
	return s.db.GetFederatedPeer(ctx, key)
}

// SetPeerState records a connection state change.
func (s *TrustStore) SetPeerState(ctx context.Context, key string, state domain.ConnectionState) error {
	if err := s.db.UpdatePeerState(ctx, key, state); err != nil {
		return err
	}
	return s.RefreshMetrics(ctx)
}

// RemovePeer forgets a federated peer.
func (s *TrustStore) RemovePeer(ctx context.Context, key string) error {
	if err := s.db.DeleteFederatedPeer(ctx, key); err != nil {
		return err
	}
	s.log.Infow("removed federated peer", "peer", key)
	return s.RefreshMetrics(ctx)
}

// RefreshMetrics republishes the federated peer gauge.
func (s *TrustStore) RefreshMetrics(ctx context.Context) error {
	counts, err := s.db.CountPeersByState(ctx)
	if err != nil {
		return fmt.Errorf("count peers: %w", err)
	}
	for _, st := range []domain.ConnectionState{
		domain.StateNotConnected, domain.StateConnecting,
		domain.StateConnected, domain.StateDisconnecting,
	} {
		metrics.FederatedPeers.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// newNodeKey builds an opaque public identifier in the "@<base64>.ed25519"
// layout pubs exchange.
func newNodeKey() string {
	a, b := uuid.New(), uuid.New()
	raw := append(a[:], b[:]...)
	return "@" + base64.StdEncoding.EncodeToString(raw) + ".ed25519"
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
