package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/easypub/pubd/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// ─── Database Lifecycle ─────────────────────────────────────────────────────

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, "state.db")); os.IsNotExist(err) {
		t.Error("state.db should exist")
	}
}

func TestOpen_Ping(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestOpen_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := db.SetNodeInfo(ctx, "k", "v"); err != nil {
		t.Fatalf("SetNodeInfo() error: %v", err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db.Close()
	got, _ := db.GetNodeInfo(ctx, "k")
	if got != "v" {
		t.Errorf("GetNodeInfo after reopen = %q, want %q", got, "v")
	}
}

// ─── Node Info ──────────────────────────────────────────────────────────────

func TestNodeInfo(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	got, err := db.GetNodeInfo(ctx, "missing")
	if err != nil || got != "" {
		t.Errorf("GetNodeInfo(missing) = %q, %v; want empty, nil", got, err)
	}

	db.SetNodeInfo(ctx, "node_key", "a")
	db.SetNodeInfo(ctx, "node_key", "b")
	if got, _ := db.GetNodeInfo(ctx, "node_key"); got != "b" {
		t.Errorf("GetNodeInfo = %q, want %q", got, "b")
	}
}

// ─── Federated Peers ────────────────────────────────────────────────────────

func testPeer(key, host string, state domain.ConnectionState) domain.FederatedPeer {
	return domain.FederatedPeer{
		Key:     key,
		Host:    host,
		Port:    8008,
		State:   state,
		Source:  domain.SourceDiscovery,
		AddedAt: time.Now(),
	}
}

func TestUpsertFederatedPeer_Insert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.UpsertFederatedPeer(ctx, testPeer("@bob", "10.0.0.2", domain.StateConnecting), "code"); err != nil {
		t.Fatalf("UpsertFederatedPeer() error: %v", err)
	}

	got, err := db.GetFederatedPeer(ctx, "@bob")
	if err != nil {
		t.Fatalf("GetFederatedPeer() error: %v", err)
	}
	if got.Host != "10.0.0.2" || got.Port != 8008 {
		t.Errorf("address = %s, want 10.0.0.2:8008", got.Addr())
	}
	if got.State != domain.StateConnecting {
		t.Errorf("State = %v, want connecting", got.State)
	}
	if got.Source != domain.SourceDiscovery {
		t.Errorf("Source = %q, want discovery", got.Source)
	}
}

func TestUpsertFederatedPeer_KeepsConnected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	db.UpsertFederatedPeer(ctx, testPeer("@bob", "10.0.0.2", domain.StateConnected), "")
	db.UpsertFederatedPeer(ctx, testPeer("@bob", "10.0.0.9", domain.StateConnecting), "")

	got, _ := db.GetFederatedPeer(ctx, "@bob")
	if got.State != domain.StateConnected {
		t.Errorf("State = %v, want connected to survive re-accept", got.State)
	}
	if got.Host != "10.0.0.9" {
		t.Errorf("Host = %q, want updated address", got.Host)
	}
}

func TestUpsertFederatedPeer_ReplacesOtherStates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	db.UpsertFederatedPeer(ctx, testPeer("@bob", "10.0.0.2", domain.StateNotConnected), "")
	db.UpsertFederatedPeer(ctx, testPeer("@bob", "10.0.0.2", domain.StateConnecting), "")

	got, _ := db.GetFederatedPeer(ctx, "@bob")
	if got.State != domain.StateConnecting {
		t.Errorf("State = %v, want connecting", got.State)
	}
}

func TestGetFederatedPeer_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetFederatedPeer(context.Background(), "@nobody")
	if !errors.Is(err, domain.ErrPeerNotFound) {
		t.Errorf("err = %v, want ErrPeerNotFound", err)
	}
}

func TestListFederatedPeers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	peers, err := db.ListFederatedPeers(ctx)
	if err != nil || len(peers) != 0 {
		t.Fatalf("empty list = %d, %v", len(peers), err)
	}

	db.UpsertFederatedPeer(ctx, testPeer("@a", "10.0.0.1", domain.StateConnected), "")
	db.UpsertFederatedPeer(ctx, testPeer("@b", "10.0.0.2", domain.StateConnecting), "")
	db.UpsertFederatedPeer(ctx, testPeer("@c", "10.0.0.3", domain.StateNotConnected), "")

	peers, err = db.ListFederatedPeers(ctx)
	if err != nil {
		t.Fatalf("ListFederatedPeers() error: %v", err)
	}
	if len(peers) != 3 {
		t.Fatalf("len = %d, want 3", len(peers))
	}
}

func TestUpdatePeerState(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.UpsertFederatedPeer(ctx, testPeer("@bob", "10.0.0.2", domain.StateConnecting), "")

	if err := db.UpdatePeerState(ctx, "@bob", domain.StateConnected); err != nil {
		t.Fatalf("UpdatePeerState() error: %v", err)
	}
	got, _ := db.GetFederatedPeer(ctx, "@bob")
	if !got.IsConnected() {
		t.Errorf("State = %v, want connected", got.State)
	}
	if got.LastSeen.IsZero() {
		t.Error("LastSeen should be stamped on connect")
	}

	if err := db.UpdatePeerState(ctx, "@nobody", domain.StateConnected); !errors.Is(err, domain.ErrPeerNotFound) {
		t.Errorf("err = %v, want ErrPeerNotFound", err)
	}
}

func TestDeleteFederatedPeer(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.UpsertFederatedPeer(ctx, testPeer("@bob", "10.0.0.2", domain.StateConnected), "")

	if err := db.DeleteFederatedPeer(ctx, "@bob"); err != nil {
		t.Fatalf("DeleteFederatedPeer() error: %v", err)
	}
	if err := db.DeleteFederatedPeer(ctx, "@bob"); !errors.Is(err, domain.ErrPeerNotFound) {
		t.Errorf("second delete err = %v, want ErrPeerNotFound", err)
	}
}

func TestCountPeersByState(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.UpsertFederatedPeer(ctx, testPeer("@a", "10.0.0.1", domain.StateConnected), "")
	db.UpsertFederatedPeer(ctx, testPeer("@b", "10.0.0.2", domain.StateConnected), "")
	db.UpsertFederatedPeer(ctx, testPeer("@c", "10.0.0.3", domain.StateConnecting), "")

	counts, err := db.CountPeersByState(ctx)
	if err != nil {
		t.Fatalf("CountPeersByState() error: %v", err)
	}
	if counts[domain.StateConnected] != 2 || counts[domain.StateConnecting] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

// ─── Invitations ────────────────────────────────────────────────────────────

func TestConsumeInvitation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.InsertInvitation(ctx, "s3cret", 2); err != nil {
		t.Fatalf("InsertInvitation() error: %v", err)
	}
	if n, _ := db.CountOpenInvitations(ctx); n != 1 {
		t.Errorf("open invitations = %d, want 1", n)
	}

	for i := 0; i < 2; i++ {
		if err := db.ConsumeInvitation(ctx, "s3cret"); err != nil {
			t.Fatalf("ConsumeInvitation #%d error: %v", i+1, err)
		}
	}
	if err := db.ConsumeInvitation(ctx, "s3cret"); !errors.Is(err, domain.ErrInvitationUsed) {
		t.Errorf("third use err = %v, want ErrInvitationUsed", err)
	}

	inv, err := db.GetInvitation(ctx, "s3cret")
	if err != nil {
		t.Fatalf("GetInvitation() error: %v", err)
	}
	if inv.UsesLeft != 0 || inv.RedeemedAt.IsZero() {
		t.Errorf("invitation = %+v, want exhausted and redeemed", inv)
	}
	if n, _ := db.CountOpenInvitations(ctx); n != 0 {
		t.Errorf("open invitations = %d, want 0", n)
	}
}

func TestConsumeInvitation_NotFound(t *testing.T) {
	db := newTestDB(t)
	err := db.ConsumeInvitation(context.Background(), "nope")
	if !errors.Is(err, domain.ErrInvitationNotFound) {
		t.Errorf("err = %v, want ErrInvitationNotFound", err)
	}
}

func TestPruneInvitations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, secret := range []string{"a", "b"} {
		if err := db.InsertInvitation(ctx, secret, 1); err != nil {
			t.Fatalf("InsertInvitation() error: %v", err)
		}
	}
	db.ConsumeInvitation(ctx, "a")

	n, err := db.PruneInvitations(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneInvitations() error: %v", err)
	}
	if n != 0 {
		t.Errorf("pruned %d fresh invitations, want 0", n)
	}

	n, err = db.PruneInvitations(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneInvitations() error: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned %d, want 2 (redeemed and open)", n)
	}
	if _, err := db.GetInvitation(ctx, "b"); !errors.Is(err, domain.ErrInvitationNotFound) {
		t.Errorf("err = %v, want ErrInvitationNotFound", err)
	}
}
