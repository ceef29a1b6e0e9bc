// Package sessionmgr implements the global session registry and admission
// policy (§4.4): one BLE radio, at most one session holding it at a time,
// a periodic sweeper for zombie and stale sessions, and the force-cleanup
// operations the observability and admin surfaces drive.
//
// The teacher's pkg/core.TransportRegistry/ProtocolRegistry is a plain
// sync.RWMutex-guarded map of factories keyed by type name. This package
// keeps that shape — a mutex-guarded map, Register/Get-style accessors —
// but keys it by session id instead of factory type, and layers the
// at-most-one-peripheral-holder admission policy and the sweeper on top,
// neither of which the teacher's registry needed.
package sessionmgr

import (
	"context"
	"sync"
	"time"

	"github.com/ble-mcp-test/bridge/pkg/bletransport"
	"github.com/ble-mcp-test/bridge/pkg/logger"
	"github.com/ble-mcp-test/bridge/pkg/metrics"
	"github.com/ble-mcp-test/bridge/pkg/session"
)

// defaultZombieIdleThreshold and defaultStaleGraceMargin are §4.4's
// sweeper thresholds, overridable via Config for tests that don't want to
// wait out the real defaults.
const (
	defaultZombieIdleThreshold = 30 * time.Second
	defaultStaleGraceMargin    = 60 * time.Second
)

// Config configures the manager and is used as the template for every
// session it creates.
type Config struct {
	SessionDefaults session.Config
	SweepInterval   time.Duration
	NewTransport    func() bletransport.Transport

	// LogSink, if set, receives every session's TX/RX/INFO trace for the
	// observability ring buffer (§"Observability data model"). Nil means
	// no tracing, which sessions treat as a no-op sink.
	LogSink session.LogSink

	// ZombieIdleThreshold and StaleGraceMargin tune the sweeper's §4.4
	// thresholds. Zero means use the package defaults (30s / 60s).
	ZombieIdleThreshold time.Duration
	StaleGraceMargin    time.Duration
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.NewTransport == nil {
		c.NewTransport = func() bletransport.Transport { return bletransport.New() }
	}
	if c.ZombieIdleThreshold <= 0 {
		c.ZombieIdleThreshold = defaultZombieIdleThreshold
	}
	if c.StaleGraceMargin <= 0 {
		c.StaleGraceMargin = defaultStaleGraceMargin
	}
	return c
}

// Manager is the global session registry.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session

	cfg Config
	log *logger.Logger

	stopCh  chan struct{}
	stopped bool
}

// New creates a Manager and starts its periodic sweeper.
func New(cfg Config, log *logger.Logger) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		sessions: make(map[string]*session.Session),
		cfg:      cfg,
		log:      log,
		stopCh:   make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// holderID returns the id of whichever session currently holds a
// transport (connected or in grace period), or "" if none does. Caller
// must hold at least a read lock on m.mu.
func (m *Manager) holderID(exclude string) string {
	for id, s := range m.sessions {
		if id == exclude {
			continue
		}
		switch s.Status().State {
		case session.StateConnecting, session.StateLive, session.StateGracePeriod:
			return id
		}
	}
	return ""
}

// mergeConfig overlays the BLE identity fields a caller supplies per
// connection (device prefix, service/write/notify UUIDs, UUID style) onto
// the manager's configured timer/queue/retry defaults, so every session
// gets the same grace period, idle timeout, and backoff schedule without
// every call site having to restate them.
func (m *Manager) mergeConfig(cfg session.Config) session.Config {
	merged := m.cfg.SessionDefaults
	merged.DevicePrefix = cfg.DevicePrefix
	merged.ServiceUUID = cfg.ServiceUUID
	merged.WriteUUID = cfg.WriteUUID
	merged.NotifyUUID = cfg.NotifyUUID
	merged.UUIDStyle = cfg.UUIDStyle
	return merged
}

// GetOrCreate implements §4.4 get_or_create. If sessionID already exists
// it is returned unconditionally (a reconnect is always welcome). If not,
// admission is denied when some other session currently holds a
// transport; otherwise a new session is created and registered.
func (m *Manager) GetOrCreate(sessionID string, cfg session.Config) (*session.Session, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok {
		return s, "", true
	}

	if blocker := m.holderID(sessionID); blocker != "" {
		metrics.IncAdmissionDenied()
		return nil, blocker, false
	}

	s := session.New(sessionID, m.mergeConfig(cfg), m.cfg.NewTransport, m.log.WithSession(sessionID), m.cfg.LogSink, func(ev session.CleanupEvent) {
		m.onSessionCleanup(ev)
	})
	m.sessions[sessionID] = s
	metrics.IncSessionCreated()
	metrics.SetSessionsActive(len(m.sessions))
	return s, "", true
}

// Get returns an existing session by id, if present.
func (m *Manager) Get(sessionID string) (*session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

func (m *Manager) onSessionCleanup(ev session.CleanupEvent) {
	m.mu.Lock()
	delete(m.sessions, ev.SessionID)
	active := len(m.sessions)
	m.mu.Unlock()

	metrics.IncCleanup(string(ev.Reason))
	metrics.SetSessionsActive(active)
	if ev.PossibleLeak {
		metrics.ResourceLeakTotal.Inc()
		m.log.WithSession(ev.SessionID).Error("resource leak suspected after cleanup", "reason", ev.Reason)
	}
}

// ForceCleanupAll implements §4.4 force_cleanup_all: best-effort cleanup
// across every session, clearing the registry.
func (m *Manager) ForceCleanupAll(reason session.CleanupReason) {
	m.mu.RLock()
	toClean := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		toClean = append(toClean, s)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range toClean {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			s.ForceCleanup(reason)
		}(s)
	}
	wg.Wait()
}

// ForceCleanupDevice implements §4.4 force_cleanup_device: cleanup any
// session whose device name matches.
func (m *Manager) ForceCleanupDevice(deviceName string, reason session.CleanupReason) {
	m.mu.RLock()
	var target *session.Session
	for _, s := range m.sessions {
		if s.Status().DeviceName == deviceName {
			target = s
			break
		}
	}
	m.mu.RUnlock()

	if target != nil {
		target.ForceCleanup(reason)
	}
}

// ForceCleanupSession evicts the blocking session so a "force takeover"
// admission retry can succeed (§4.4 admission rationale).
func (m *Manager) ForceCleanupSession(sessionID string, reason session.CleanupReason) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		s.ForceCleanup(reason)
	}
}

// Statuses returns a snapshot of every session for the observability
// surface.
func (m *Manager) Statuses() []session.Status {
	m.mu.RLock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]session.Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	return out
}

// Stop halts the sweeper. It does not clean up sessions; callers that
// want a full shutdown should call ForceCleanupAll first.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()
	close(m.stopCh)
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

// sweep implements §4.4's periodic zombie/stale detection. Stale is
// defined there as active_websockets == 0 && !grace_period && idle_time
// > idle_timeout + 60 — GracePeriod is excluded on purpose, since it
// self-heals via its own grace timer rather than the sweeper.
func (m *Manager) sweep() {
	m.mu.RLock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	now := time.Now()
	staleThreshold := m.cfg.SessionDefaults.IdleTimeout + m.cfg.StaleGraceMargin
	for _, s := range sessions {
		st := s.Status()
		idle := now.Sub(st.LastTxTime)

		switch st.State {
		case session.StateConnecting:
			if idle > m.cfg.ZombieIdleThreshold {
				m.log.WithSession(st.ID).Warn("zombie session detected", "idle", idle)
				s.ForceCleanup(session.ReasonForced)
				continue
			}
			fallthrough
		case session.StateForming:
			if st.AttachedCount == 0 && idle > staleThreshold {
				m.log.WithSession(st.ID).Warn("stale session detected", "idle", idle, "state", st.State)
				s.ForceCleanup(session.ReasonForced)
			}
		}
	}
}

// WaitSweepOnce runs one sweep pass synchronously, primarily for tests
// that don't want to wait out a real sweep interval.
func (m *Manager) WaitSweepOnce(ctx context.Context) {
	m.sweep()
}
