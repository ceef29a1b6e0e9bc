package sessionmgr

import (
	"context"
	"testing"
	"time"

	"github.com/ble-mcp-test/bridge/pkg/bletransport"
	"github.com/ble-mcp-test/bridge/pkg/session"
)

func testManager() (*Manager, *bletransport.Stub) {
	stub := bletransport.NewStub()
	m := New(Config{
		SessionDefaults: session.Config{
			GracePeriod: 50 * time.Millisecond,
			IdleTimeout: 5 * time.Second,
		},
		SweepInterval: time.Hour, // tests drive sweeps manually
		NewTransport:  func() bletransport.Transport { return stub },
	}, nil)
	return m, stub
}

func TestGetOrCreateAdmitsFirstSession(t *testing.T) {
	m, _ := testManager()
	s, blocker, ok := m.GetOrCreate("s1", session.Config{})
	if !ok {
		t.Fatalf("expected admission, got blocker=%q", blocker)
	}
	if s.ID() != "s1" {
		t.Errorf("session id = %q, want s1", s.ID())
	}
}

func TestGetOrCreateReturnsSameSessionForSameID(t *testing.T) {
	m, _ := testManager()
	s1, _, _ := m.GetOrCreate("s1", session.Config{})
	s2, _, ok := m.GetOrCreate("s1", session.Config{})
	if !ok {
		t.Fatal("expected reconnect to be admitted")
	}
	if s1 != s2 {
		t.Error("expected the same session instance for a repeated id")
	}
}

func TestGetOrCreateDeniesSecondHolderWhileFirstIsLive(t *testing.T) {
	m, _ := testManager()
	s1, _, _ := m.GetOrCreate("s1", session.Config{})
	if _, err := s1.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected failed: %v", err)
	}

	_, blocker, ok := m.GetOrCreate("s2", session.Config{})
	if ok {
		t.Fatal("expected admission denial while s1 holds the transport")
	}
	if blocker != "s1" {
		t.Errorf("blocker = %q, want s1", blocker)
	}
}

func TestGetOrCreateAdmitsAfterBlockerCleanedUp(t *testing.T) {
	m, _ := testManager()
	s1, _, _ := m.GetOrCreate("s1", session.Config{})
	s1.EnsureConnected(context.Background())

	s1.ForceCleanup(session.ReasonForced)
	waitUntil(t, func() bool { return s1.IsTerminated() })

	_, _, ok := m.GetOrCreate("s2", session.Config{})
	if !ok {
		t.Fatal("expected admission after blocker's cleanup completed")
	}
}

func TestForceCleanupSessionAllowsTakeover(t *testing.T) {
	m, _ := testManager()
	s1, _, _ := m.GetOrCreate("s1", session.Config{})
	s1.EnsureConnected(context.Background())

	m.ForceCleanupSession("s1", session.ReasonForced)
	waitUntil(t, func() bool { return s1.IsTerminated() })

	_, _, ok := m.GetOrCreate("s2", session.Config{})
	if !ok {
		t.Fatal("expected admission after forced takeover")
	}
}

func TestForceCleanupAllClearsRegistry(t *testing.T) {
	m, _ := testManager()
	m.GetOrCreate("s1", session.Config{})
	m.ForceCleanupAll(session.ReasonForced)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(m.Statuses()) == 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected registry to be empty after ForceCleanupAll")
}

func TestSessionRemovedFromRegistryOnCleanup(t *testing.T) {
	m, _ := testManager()
	s1, _, _ := m.GetOrCreate("s1", session.Config{})
	s1.ForceCleanup(session.ReasonForced)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := m.Get("s1"); !ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected session to be removed from registry after cleanup")
}

// testSweepManager returns a manager whose sweeper thresholds are small
// enough to exercise without waiting out the real 30s/60s defaults.
func testSweepManager() (*Manager, *bletransport.Stub) {
	stub := bletransport.NewStub()
	m := New(Config{
		SessionDefaults: session.Config{
			GracePeriod: time.Hour,
			IdleTimeout: 20 * time.Millisecond,
		},
		SweepInterval:       time.Hour, // tests drive sweeps manually
		NewTransport:        func() bletransport.Transport { return stub },
		ZombieIdleThreshold: 20 * time.Millisecond,
		StaleGraceMargin:    20 * time.Millisecond,
	}, nil)
	return m, stub
}

// TestSweepEvictsStaleFormingSession exercises §4.4's stale definition —
// active_websockets == 0 && !grace_period && idle_time > idle_timeout+60
// — against a session that never attaches a WebSocket and never connects
// (StateForming), which the sweep previously had no case for at all.
func TestSweepEvictsStaleFormingSession(t *testing.T) {
	m, _ := testSweepManager()
	s, _, ok := m.GetOrCreate("s1", session.Config{})
	if !ok {
		t.Fatal("expected admission")
	}
	if s.Status().State != session.StateForming {
		t.Fatalf("state = %v, want StateForming", s.Status().State)
	}

	time.Sleep(50 * time.Millisecond) // past IdleTimeout + StaleGraceMargin
	m.WaitSweepOnce(context.Background())

	waitUntil(t, func() bool { return s.IsTerminated() })
	if _, ok := m.Get("s1"); ok {
		t.Error("expected stale forming session to be evicted from the registry")
	}
}

// TestSweepDoesNotEvictGracePeriodSession confirms the fix doesn't
// regress into re-adding the erroneous GracePeriod branch: a session
// sitting in its grace period must be left to its own grace timer, never
// evicted by the stale check, even past idle_timeout+margin.
func TestSweepDoesNotEvictGracePeriodSession(t *testing.T) {
	m, _ := testSweepManager()
	s, _, ok := m.GetOrCreate("s1", session.Config{})
	if !ok {
		t.Fatal("expected admission")
	}
	if _, err := s.EnsureConnected(context.Background()); err != nil {
		t.Fatalf("EnsureConnected failed: %v", err)
	}
	if err := s.Attach(fakeAttachment{id: "w1"}); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	s.Detach("w1")
	waitUntil(t, func() bool { return s.Status().State == session.StateGracePeriod })

	time.Sleep(50 * time.Millisecond) // past IdleTimeout + StaleGraceMargin
	m.WaitSweepOnce(context.Background())

	if s.IsTerminated() {
		t.Error("expected grace-period session to survive the sweep; it has its own timer")
	}
}

type fakeAttachment struct{ id string }

func (f fakeAttachment) ID() string            { return f.id }
func (f fakeAttachment) SendData([]byte) error { return nil }
func (f fakeAttachment) Close() error          { return nil }

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
