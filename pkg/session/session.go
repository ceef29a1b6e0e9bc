// Package session implements one logical client-side Web Bluetooth
// session: it owns at most one BLE transport, fans out notifications to
// every attached WebSocket, serializes writes, and enforces the grace and
// idle timers that govern its lifecycle.
//
// The teacher's pkg/core.Gateway protects its mutable fields with a single
// sync.RWMutex and drives state transitions from whichever goroutine calls
// in. This package generalizes that shape into the actor the design notes
// call for: every mutation of session-owned state (attachments, timers,
// transport handle) runs as a closure submitted to one serialized command
// channel, so "the implementation must exclude concurrent mutators" holds
// by construction rather than by careful locking discipline.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ble-mcp-test/bridge/pkg/bletransport"
	"github.com/ble-mcp-test/bridge/pkg/bridgeerr"
	"github.com/ble-mcp-test/bridge/pkg/logger"
	"github.com/ble-mcp-test/bridge/pkg/reassembler"
	"github.com/ble-mcp-test/bridge/pkg/uuidnorm"
)

// Escalation thresholds a post-cleanup resource snapshot is checked
// against before the session reports a possible leak to its owner.
const (
	maxScanListeners     = 90
	maxDiscoverListeners = 10
	maxPeripheralCount   = 100
)

// State is a session's point-in-time lifecycle state, always derivable
// from its fields rather than tracked as independent truth.
type State int

const (
	StateForming State = iota
	StateConnecting
	StateLive
	StateGracePeriod
	StateTerminating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateForming:
		return "forming"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateGracePeriod:
		return "grace_period"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MarshalJSON renders State as its name rather than its ordinal, since the
// observability surface exposes session status as JSON read by humans and
// scripts alike.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CleanupReason names why a session's cleanup protocol ran.
type CleanupReason string

const (
	ReasonGraceExpired CleanupReason = "grace period expired"
	ReasonIdleTimeout  CleanupReason = "idle timeout"
	ReasonDisconnected CleanupReason = "transport disconnected"
	ReasonForced       CleanupReason = "forced"
	ReasonAdmin        CleanupReason = "admin cleanup"
)

// CleanupEvent is emitted once per completed cleanup, to whatever owns
// the session (normally the session manager's registry).
type CleanupEvent struct {
	SessionID      string
	Reason         CleanupReason
	ResourcesAfter bletransport.ResourceState
	PossibleLeak   bool
}

// LogSink receives a copy of every TX/RX/INFO event for the observability
// ring buffer. pkg/observability.LogRing implements this; the session
// package depends only on the interface, never on pkg/observability
// itself, mirroring how pkg/metrics is called via free functions without
// pkg/session importing anything metrics-specific back.
type LogSink interface {
	Record(direction string, data []byte)
}

// Direction values passed to LogSink.Record. These mirror
// pkg/observability's DirectionTX/DirectionRX/DirectionINFO constants by
// value rather than by import, since the dependency only runs the other
// way (observability depends on session, not the reverse).
const (
	LogDirectionTX   = "tx"
	LogDirectionRX   = "rx"
	LogDirectionInfo = "info"
)

// Attachment is the session's view of one attached WebSocket: enough to
// fan out frames and to force-close on cleanup, without the session
// package depending on any particular WebSocket library.
type Attachment interface {
	ID() string
	SendData(frame []byte) error
	Close() error
}

// Config is the immutable-after-creation configuration for one session:
// the BLE config from §3 plus the timing knobs from §6.
type Config struct {
	DevicePrefix string
	ServiceUUID  string
	WriteUUID    string
	NotifyUUID   string
	UUIDStyle    uuidnorm.Style

	GracePeriod     time.Duration
	IdleTimeout     time.Duration
	ScanTimeout     time.Duration
	WriteQueueDepth int
	RetryBackoff    []time.Duration
	MaxRetries      int
	RingCapacity    int
}

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = 60 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 300 * time.Second
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = 15 * time.Second
	}
	if c.WriteQueueDepth <= 0 {
		c.WriteQueueDepth = 5
	}
	if len(c.RetryBackoff) == 0 {
		c.RetryBackoff = []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 5000 * time.Millisecond}
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RingCapacity <= 0 {
		c.RingCapacity = 65536
	}
	return c
}

func (c Config) bleConfig() bletransport.Config {
	return bletransport.Config{
		DevicePrefix: c.DevicePrefix,
		ServiceUUID:  c.ServiceUUID,
		WriteUUID:    c.WriteUUID,
		NotifyUUID:   c.NotifyUUID,
		ScanTimeout:  c.ScanTimeout,
		UUIDStyle:    c.UUIDStyle,
	}
}

// Status is a point-in-time snapshot for observability (§6).
type Status struct {
	ID              string
	State           State
	DeviceName      string
	AttachedCount   int
	LastTxTime      time.Time
	ReassemblerStat reassembler.Stats
}

type writeRequest struct {
	ctx    context.Context
	data   []byte
	result chan error
}

// TransportFactory builds the BLE transport a session will own; production
// callers pass bletransport.New, tests pass a closure returning a shared
// *bletransport.Stub.
type TransportFactory func() bletransport.Transport

// Session is one logical client session (§4.3).
type Session struct {
	id  string
	cfg Config

	newTransport TransportFactory
	log          *logger.Logger
	logSink      LogSink

	onCleanup func(CleanupEvent)

	commands chan func()
	writeCh  chan writeRequest

	// Fields below are mutated only by closures run on the commands
	// loop goroutine (started in New). The one field also read from
	// another goroutine is transport, which the write loop reads through
	// getTransport under transportMu.
	transportMu sync.RWMutex
	transport   bletransport.Transport

	attachments map[string]Attachment
	deviceName  string
	lastTxTime  time.Time
	terminating bool
	terminated  bool

	reasm *reassembler.Reassembler

	graceTimer *time.Timer
	graceGen   uint64
	idleTimer  *time.Timer
	idleGen    uint64
}

// New creates a session and starts its actor loop and write loop. onCleanup
// is invoked exactly once, on the commands-loop goroutine, when the
// session finishes its cleanup protocol.
func New(id string, cfg Config, newTransport TransportFactory, log *logger.Logger, logSink LogSink, onCleanup func(CleanupEvent)) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		id:           id,
		cfg:          cfg,
		newTransport: newTransport,
		log:          log,
		logSink:      logSink,
		onCleanup:    onCleanup,
		commands:     make(chan func(), 16),
		writeCh:      make(chan writeRequest, cfg.WriteQueueDepth),
		attachments:  make(map[string]Attachment),
		reasm:        reassembler.New(cfg.RingCapacity),
		lastTxTime:   time.Now(),
	}
	go s.runCommands()
	go s.runWrites()
	return s
}

// ID returns the session's immutable id.
func (s *Session) ID() string { return s.id }

func (s *Session) runCommands() {
	for cmd := range s.commands {
		cmd()
	}
}

func (s *Session) record(direction string, data []byte) {
	if s.logSink == nil {
		return
	}
	s.logSink.Record(direction, data)
}

func (s *Session) getTransport() bletransport.Transport {
	s.transportMu.RLock()
	defer s.transportMu.RUnlock()
	return s.transport
}

func (s *Session) setTransport(t bletransport.Transport) {
	s.transportMu.Lock()
	s.transport = t
	s.transportMu.Unlock()
}

func (s *Session) computeState() State {
	if s.terminated {
		return StateTerminated
	}
	if s.terminating {
		return StateTerminating
	}
	if s.transport == nil {
		return StateForming
	}
	if s.deviceName == "" {
		return StateConnecting
	}
	if len(s.attachments) > 0 {
		return StateLive
	}
	return StateGracePeriod
}

// Attach adds ws to the session's attachment set (§4.3 attach). Returns
// ErrSessionTerminating if cleanup has already started. The manager drops
// a session from its registry once cleanup completes but does not check
// for a cleanup in progress at admission, so this check is what keeps an
// attach off a session that is being torn down.
func (s *Session) Attach(a Attachment) error {
	done := make(chan error, 1)
	s.commands <- func() {
		if s.terminating || s.terminated {
			done <- bridgeerr.ErrSessionTerminating
			return
		}
		s.attachments[a.ID()] = a
		s.cancelGraceTimer()
		s.lastTxTime = time.Now()
		s.armIdleTimer()
		done <- nil
	}
	return <-done
}

// Detach removes ws from the attachment set; if that empties the set, the
// grace timer is armed (§4.3 detach).
func (s *Session) Detach(wsID string) {
	done := make(chan struct{})
	s.commands <- func() {
		delete(s.attachments, wsID)
		if len(s.attachments) == 0 && !s.terminating && !s.terminated {
			s.armGraceTimer()
		}
		close(done)
	}
	<-done
}

// EnsureConnected implements §4.3 ensure_connected: idempotent, returns
// the stored device name if a transport already exists, otherwise creates
// one and connects it.
func (s *Session) EnsureConnected(ctx context.Context) (string, error) {
	type outcome struct {
		name string
		err  error
	}
	resultCh := make(chan outcome, 1)
	s.commands <- func() {
		if s.transport != nil {
			resultCh <- outcome{name: s.deviceName}
			return
		}
		t := s.newTransport()
		name, err := t.Connect(ctx, s.cfg.bleConfig(), s.handleNotify, s.handleLinkDrop)
		if err != nil {
			resultCh <- outcome{err: err}
			return
		}
		s.setTransport(t)
		s.deviceName = name
		s.armIdleTimer()
		resultCh <- outcome{name: name}
	}
	o := <-resultCh
	return o.name, o.err
}

// handleNotify is passed to the transport as its NotifyFunc. It runs on
// whatever goroutine the transport delivers notifications from, so it
// only ever submits a command rather than touching session state
// directly; this keeps reassembler admission and frame broadcast ordered
// with every other session mutation.
func (s *Session) handleNotify(data []byte) {
	s.commands <- func() {
		s.record(LogDirectionRX, data)
		s.reasm.Admit(data)
		s.reasm.Run(s.broadcastFrame, s.handleFirmwareAbort)
	}
}

func (s *Session) broadcastFrame(f reassembler.Frame) {
	for _, a := range s.attachments {
		_ = a.SendData(f.Bytes)
	}
}

func (s *Session) handleFirmwareAbort(f reassembler.Frame) {
	s.log.Warn("firmware abort signature observed")
	s.record(LogDirectionInfo, []byte("firmware abort signature observed"))
}

// handleLinkDrop is the transport's DisconnectFunc: an unexpected link
// drop surfaces as a one-shot cleanup, exactly like a timer expiry.
func (s *Session) handleLinkDrop() {
	s.commands <- func() {
		if s.terminating || s.terminated {
			return
		}
		s.doCleanup(ReasonDisconnected)
	}
}

// Write implements §4.3 write and the FIFO write-queue discipline of
// §4.3/§5: at most WriteQueueDepth writes may wait in the queue behind the
// one being sent, and excess writes are rejected immediately rather than
// blocking.
func (s *Session) Write(ctx context.Context, data []byte) error {
	result := make(chan error, 1)
	req := writeRequest{ctx: ctx, data: data, result: result}
	select {
	case s.writeCh <- req:
	default:
		return bridgeerr.ErrWriteQueueFull
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) runWrites() {
	for req := range s.writeCh {
		touched := make(chan struct{})
		s.commands <- func() {
			s.lastTxTime = time.Now()
			s.armIdleTimer()
			close(touched)
		}
		<-touched
		req.result <- s.writeWithRetry(req.ctx, req.data)
	}
}

func (s *Session) writeWithRetry(ctx context.Context, data []byte) error {
	t := s.getTransport()
	if t == nil {
		return bridgeerr.ErrNotConnected
	}

	attempts := 0
	for {
		err := t.Write(ctx, data)
		if err == nil {
			s.record(LogDirectionTX, data)
			return nil
		}

		var te *bridgeerr.TransportError
		if errors.As(err, &te) && te.Retryable() && attempts < s.cfg.MaxRetries {
			idx := attempts
			if idx >= len(s.cfg.RetryBackoff) {
				idx = len(s.cfg.RetryBackoff) - 1
			}
			backoff := s.cfg.RetryBackoff[idx]
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			attempts++
			continue
		}
		return err
	}
}

// ForceCleanup drives the session to Terminated regardless of timers
// (§4.3 force_cleanup). Safe to call more than once (P3).
func (s *Session) ForceCleanup(reason CleanupReason) {
	done := make(chan struct{})
	s.commands <- func() {
		s.doCleanup(reason)
		close(done)
	}
	<-done
}

// doCleanup implements the seven-step cleanup protocol of §4.3. It must
// run on the commands-loop goroutine.
func (s *Session) doCleanup(reason CleanupReason) {
	if s.terminated {
		return
	}
	s.terminating = true
	s.record(LogDirectionInfo, []byte("cleanup: "+string(reason)))

	// Step 1: take the transport handle. No resource snapshot is sampled
	// before teardown; only the after snapshot (step 5) is taken and
	// reported.
	t := s.getTransport()

	// Step 2: cancel both timers.
	s.cancelGraceTimer()
	s.cancelIdleTimer()

	// Step 3: disconnect. bletransport.Transport.Disconnect is itself
	// unconditional and idempotent (it never returns an error), so there
	// is no separate "force path" to fall back to here; that guarantee
	// is what the force path would have bought us.
	if t != nil {
		t.Disconnect()
	}

	// Step 4: close every attached WebSocket, ignoring errors.
	for id, a := range s.attachments {
		_ = a.Close()
		delete(s.attachments, id)
	}

	// Step 5: verify resources.
	var after bletransport.ResourceState
	if t != nil {
		after = t.ResourceState()
	}
	leak := after.ScanListeners > maxScanListeners ||
		after.DiscoverListeners > maxDiscoverListeners ||
		after.PeripheralCount > maxPeripheralCount

	if resetter, ok := t.(AdapterResetter); ok && leak {
		if err := resetter.ResetAdapter(); err != nil {
			s.log.Error("adapter reset failed after cleanup", "error", err)
			s.record(LogDirectionInfo, []byte("adapter reset failed: "+err.Error()))
		}
	}

	// Step 6: clear device name and transport handle.
	s.deviceName = ""
	s.setTransport(nil)

	s.terminating = false
	s.terminated = true

	// Step 7: emit the cleanup event.
	if s.onCleanup != nil {
		s.onCleanup(CleanupEvent{
			SessionID:      s.id,
			Reason:         reason,
			ResourcesAfter: after,
			PossibleLeak:   leak,
		})
	}
}

// AdapterResetter is an optional capability a BLE transport may implement
// to support best-effort adapter-wide reset after a resource-leak
// cleanup (§4.4 escalation). Neither bletransport.Transport nor Stub are
// required to implement it.
type AdapterResetter interface {
	ResetAdapter() error
}

func (s *Session) armGraceTimer() {
	s.graceGen++
	gen := s.graceGen
	if s.graceTimer != nil {
		s.graceTimer.Stop()
	}
	s.graceTimer = time.AfterFunc(s.cfg.GracePeriod, func() {
		s.commands <- func() {
			if s.graceGen != gen || s.terminating || s.terminated {
				return
			}
			s.doCleanup(ReasonGraceExpired)
		}
	})
}

func (s *Session) cancelGraceTimer() {
	s.graceGen++
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

func (s *Session) armIdleTimer() {
	s.idleGen++
	gen := s.idleGen
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, func() {
		s.commands <- func() {
			if s.idleGen != gen || s.terminating || s.terminated {
				return
			}
			s.doCleanup(ReasonIdleTimeout)
		}
	})
}

func (s *Session) cancelIdleTimer() {
	s.idleGen++
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

// Status returns a point-in-time snapshot for observability.
func (s *Session) Status() Status {
	resultCh := make(chan Status, 1)
	s.commands <- func() {
		resultCh <- Status{
			ID:              s.id,
			State:           s.computeState(),
			DeviceName:      s.deviceName,
			AttachedCount:   len(s.attachments),
			LastTxTime:      s.lastTxTime,
			ReassemblerStat: s.reasm.Stats(),
		}
	}
	return <-resultCh
}

// IsTerminated reports whether cleanup has completed, without going
// through the full Status snapshot.
func (s *Session) IsTerminated() bool {
	resultCh := make(chan bool, 1)
	s.commands <- func() { resultCh <- s.terminated }
	return <-resultCh
}
