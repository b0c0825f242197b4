package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/easypub/pubd/internal/infra/metrics"
	"github.com/easypub/pubd/internal/infra/sqlite"
)

func newTestDB(t *testing.T) (*sqlite.DB, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, dir
}

type fakeListener bool

func (l fakeListener) Listening() bool { return bool(l) }

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestNewChecker(t *testing.T) {
	db, dir := newTestDB(t)

	if c := NewChecker(db, dir, nil, nil); len(c.checks) != 2 {
		t.Errorf("checks without discovery = %d, want 2", len(c.checks))
	}
	if c := NewChecker(db, dir, fakeListener(true), nil); len(c.checks) != 3 {
		t.Errorf("checks with discovery = %d, want 3", len(c.checks))
	}
}

func TestChecker_RunAllHealthy(t *testing.T) {
	db, dir := newTestDB(t)

	c := NewChecker(db, dir, fakeListener(true), nil)
	c.runAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("Statuses() = %d, want 3", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
	if v := testutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("sqlite")); v != 1 {
		t.Errorf("sqlite gauge = %v, want 1", v)
	}
}

func TestChecker_DiscoveryNotListening(t *testing.T) {
	db, dir := newTestDB(t)

	c := NewChecker(db, dir, fakeListener(false), nil)
	c.runAll(context.Background())

	if c.IsHealthy() {
		t.Error("IsHealthy() should be false when the swarm listener is down")
	}
	if v := testutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("discovery")); v != 0 {
		t.Errorf("discovery gauge = %v, want 0", v)
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	db, dir := newTestDB(t)
	c := NewChecker(db, dir, nil, nil)

	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_RecoveryRuns(t *testing.T) {
	recovered := false
	c := New(nil, Check{
		Name:      "flaky",
		CheckFn:   func(ctx context.Context) error { return errors.New("down") },
		RecoverFn: func(ctx context.Context) error { recovered = true; return nil },
	})
	c.runAll(context.Background())

	if !recovered {
		t.Error("RecoverFn should run when a check fails")
	}
	s := c.Statuses()
	if len(s) != 1 || s[0].Healthy || s[0].Error != "down" {
		t.Errorf("Statuses() = %+v", s)
	}
}

func TestChecker_DataDirRecovers(t *testing.T) {
	db, _ := newTestDB(t)
	dir := filepath.Join(t.TempDir(), "missing")

	c := NewChecker(db, dir, nil, nil)
	c.runAll(context.Background())
	if c.IsHealthy() {
		t.Fatal("missing data dir should be unhealthy on first run")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("recovery should have created %s: %v", dir, err)
	}

	c.runAll(context.Background())
	if !c.IsHealthy() {
		t.Errorf("data dir should be healthy after recovery: %+v", c.Statuses())
	}
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	db, dir := newTestDB(t)
	c := NewChecker(db, dir, nil, nil)
	c.SetInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if len(c.Statuses()) != 2 {
		t.Errorf("Statuses() = %d, want 2", len(c.Statuses()))
	}
}
