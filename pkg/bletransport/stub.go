package bletransport

import (
	"context"
	"sync"

	"github.com/ble-mcp-test/bridge/pkg/bridgeerr"
)

// Stub is a deterministic in-memory Transport double for tests that need a
// session to drive a real Connect/Write/Disconnect lifecycle without a
// host adapter. It records every write and lets the test script connect
// outcomes, busy/disconnected write errors, and simulated link drops.
type Stub struct {
	mu sync.Mutex

	// ConnectErr, if set, is returned by every Connect call instead of
	// succeeding; it stays set until the test clears it.
	ConnectErr error

	// DeviceName is returned by Connect on success.
	DeviceName string

	connected    bool
	onNotify     NotifyFunc
	onDisconnect DisconnectFunc

	// Writes records every payload passed to Write, in order.
	Writes [][]byte

	// nextWriteErr, if non-nil, is returned (and cleared) by the next
	// call to Write.
	nextWriteErr error

	resState ResourceState
}

// NewStub returns a Stub ready to Connect.
func NewStub() *Stub {
	return &Stub{DeviceName: "stub-device"}
}

// Connect implements Transport.
func (s *Stub) Connect(ctx context.Context, cfg Config, onNotify NotifyFunc, onDisconnect DisconnectFunc) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ConnectErr != nil {
		return "", s.ConnectErr
	}
	s.connected = true
	s.onNotify = onNotify
	s.onDisconnect = onDisconnect
	s.resState = ResourceState{PeripheralCount: 1, ScanListeners: 0, DiscoverListeners: 0, NotifyListeners: 1}
	return s.DeviceName, nil
}

// Write implements Transport.
func (s *Stub) Write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return &bridgeerr.TransportError{Kind: bridgeerr.KindDisconnected, Err: bridgeerr.ErrNotConnected}
	}
	if s.nextWriteErr != nil {
		err := s.nextWriteErr
		s.nextWriteErr = nil
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.Writes = append(s.Writes, cp)
	return nil
}

// Disconnect implements Transport. Idempotent.
func (s *Stub) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.resState = ResourceState{}
}

// ResourceState implements Transport.
func (s *Stub) ResourceState() ResourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resState
}

// FailNextWrite arranges for the next Write call to return err instead of
// recording the payload.
func (s *Stub) FailNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWriteErr = err
}

// Notify delivers data to whatever onNotify Connect registered, simulating
// an inbound BLE notification.
func (s *Stub) Notify(data []byte) {
	s.mu.Lock()
	cb := s.onNotify
	s.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// SimulateLinkDrop invokes the registered onDisconnect callback exactly as
// an unexpected peripheral-side disconnect would, without the session
// having called Disconnect.
func (s *Stub) SimulateLinkDrop() {
	s.mu.Lock()
	cb := s.onDisconnect
	s.connected = false
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// WrittenCount returns how many successful writes have been recorded.
func (s *Stub) WrittenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Writes)
}
