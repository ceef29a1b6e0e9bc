// Package bletransport encapsulates all OS-BLE interaction behind the
// narrow capability set a session needs: scan, connect, discover,
// subscribe, write, disconnect, resource_state. It generalizes the
// teacher's pkg/transport/ble.Transport (tinygo.org/x/bluetooth-backed,
// exact name/id match, fixed 10s scan timeout) into the device-prefix
// matching, configurable scan deadline, and typed busy/disconnected write
// errors spec.md §4.1 requires, and adds resource_state for leak
// detection which the teacher's transport.Statistics byte/message
// counters did not track.
package bletransport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/ble-mcp-test/bridge/pkg/bridgeerr"
	"github.com/ble-mcp-test/bridge/pkg/uuidnorm"
)

// Config is the BLE config a session passes to Connect: §3 {device_prefix,
// service_uuid, write_uuid, notify_uuid}.
type Config struct {
	DevicePrefix string
	ServiceUUID  string
	WriteUUID    string
	NotifyUUID   string

	// ScanTimeout bounds the scan phase of Connect. Default 15s per
	// spec.md §5; callers should fill this from the configuration
	// surface rather than rely on the zero value.
	ScanTimeout time.Duration

	// UUIDStyle selects how UUIDs are normalized for comparison (§6).
	UUIDStyle uuidnorm.Style
}

func (c Config) scanTimeout() time.Duration {
	if c.ScanTimeout <= 0 {
		return 15 * time.Second
	}
	return c.ScanTimeout
}

// ResourceState is a leak-detection probe snapshot (§4.1, §4.4).
type ResourceState struct {
	PeripheralCount   int
	ScanListeners     int
	DiscoverListeners int
	NotifyListeners   int
}

// NotifyFunc receives raw bytes exactly as delivered on the notify
// characteristic; the transport never inspects payload content, it only
// forwards to whatever the session registered.
type NotifyFunc func(data []byte)

// DisconnectFunc is invoked at most once if the peripheral link drops
// after a successful connect, without Disconnect having been called.
type DisconnectFunc func()

// Transport is the narrow capability interface pkg/session programs
// against; the production implementation binds tinygo.org/x/bluetooth to
// the host's central-role adapter, and pkg/bletransport/stub.go provides a
// deterministic in-memory double for tests.
type Transport interface {
	// Connect scans for, connects to, and discovers the configured
	// service/characteristics of a matching peripheral, then subscribes
	// to notifications, delivering each inbound chunk to onNotify. It
	// returns the peripheral's advertised local name (or its id if
	// unnamed). onDisconnect fires at most once if the link drops later.
	Connect(ctx context.Context, cfg Config, onNotify NotifyFunc, onDisconnect DisconnectFunc) (deviceName string, err error)

	// Write sends bytes without response on the write characteristic.
	Write(ctx context.Context, data []byte) error

	// Disconnect is idempotent: unsubscribes, disconnects, clears
	// listener registrations, and releases adapter-side resources.
	Disconnect()

	// ResourceState probes the transport for outstanding adapter
	// resources, for leak detection.
	ResourceState() ResourceState
}

// BLE is the production Transport, bound to a tinygo.org/x/bluetooth
// adapter; New always uses bluetooth.DefaultAdapter.
type BLE struct {
	mu sync.Mutex

	adapter *bluetooth.Adapter

	connected       bool
	device          *bluetooth.Device
	writeChar       *bluetooth.DeviceCharacteristic
	notifyChar      *bluetooth.DeviceCharacteristic
	onDisconnect    DisconnectFunc
	disconnectFired bool

	scanListeners     int
	discoverListeners int
	notifyListeners   int
}

// New returns a production BLE transport bound to the host's default
// adapter.
func New() *BLE {
	return &BLE{adapter: bluetooth.DefaultAdapter}
}

func matchesPrefix(prefix, localName, id string) bool {
	if prefix == "" {
		return true
	}
	if strings.HasPrefix(localName, prefix) {
		return true
	}
	return id == prefix
}

// Connect implements Transport.
func (t *BLE) Connect(ctx context.Context, cfg Config, onNotify NotifyFunc, onDisconnect DisconnectFunc) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return "", fmt.Errorf("already connected")
	}

	if err := t.adapter.Enable(); err != nil {
		return "", fmt.Errorf("%w: %v", bridgeerr.ErrAdapterOff, err)
	}

	deviceName, result, err := t.scan(ctx, cfg)
	if err != nil {
		return "", err
	}

	device, err := t.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return "", fmt.Errorf("connect failed: %w", err)
	}
	t.device = &device

	srvUUID, err := bluetooth.ParseUUID(uuidnorm.Normalize(cfg.ServiceUUID, cfg.UUIDStyle))
	if err != nil {
		t.cleanupHalfBuilt()
		return "", fmt.Errorf("%w: %v", bridgeerr.ErrServiceMissing, err)
	}
	services, err := device.DiscoverServices([]bluetooth.UUID{srvUUID})
	t.discoverListeners++
	if err != nil || len(services) == 0 {
		t.cleanupHalfBuilt()
		return "", bridgeerr.ErrServiceMissing
	}
	service := services[0]

	writeUUID, werr := bluetooth.ParseUUID(uuidnorm.Normalize(cfg.WriteUUID, cfg.UUIDStyle))
	notifyUUID, nerr := bluetooth.ParseUUID(uuidnorm.Normalize(cfg.NotifyUUID, cfg.UUIDStyle))
	if werr != nil || nerr != nil {
		t.cleanupHalfBuilt()
		return "", bridgeerr.ErrCharacteristicMissing
	}

	chars, err := service.DiscoverCharacteristics([]bluetooth.UUID{writeUUID, notifyUUID})
	t.discoverListeners++
	if err != nil || len(chars) < 2 {
		t.cleanupHalfBuilt()
		return "", bridgeerr.ErrCharacteristicMissing
	}

	var writeChar, notifyChar *bluetooth.DeviceCharacteristic
	for i := range chars {
		switch {
		case chars[i].UUID() == writeUUID:
			writeChar = &chars[i]
		case chars[i].UUID() == notifyUUID:
			notifyChar = &chars[i]
		}
	}
	if writeChar == nil || notifyChar == nil {
		t.cleanupHalfBuilt()
		return "", bridgeerr.ErrCharacteristicMissing
	}
	t.writeChar = writeChar
	t.notifyChar = notifyChar

	err = notifyChar.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		if onNotify != nil {
			onNotify(data)
		}
	})
	if err != nil {
		t.cleanupHalfBuilt()
		return "", fmt.Errorf("enable notifications: %w", err)
	}
	t.notifyListeners++

	t.connected = true
	t.onDisconnect = onDisconnect
	t.disconnectFired = false

	if deviceName == "" {
		deviceName = result.Address.String()
	}
	return deviceName, nil
}

// scan starts a duplicates-allowed scan and waits for a matching device or
// the scan deadline, whichever comes first.
func (t *BLE) scan(ctx context.Context, cfg Config) (string, bluetooth.ScanResult, error) {
	scanCtx, cancel := context.WithTimeout(ctx, cfg.scanTimeout())
	defer cancel()

	type found struct {
		name   string
		result bluetooth.ScanResult
	}
	resultCh := make(chan found, 1)

	t.scanListeners++
	err := t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if !matchesPrefix(cfg.DevicePrefix, name, result.Address.String()) {
			return
		}
		select {
		case resultCh <- found{name: name, result: result}:
			adapter.StopScan()
		default:
		}
	})
	if err != nil {
		return "", bluetooth.ScanResult{}, fmt.Errorf("start scan: %w", err)
	}

	select {
	case f := <-resultCh:
		return f.name, f.result, nil
	case <-scanCtx.Done():
		t.adapter.StopScan()
		return "", bluetooth.ScanResult{}, bridgeerr.ErrScanTimeout
	}
}

// cleanupHalfBuilt tears down whatever Connect had partially constructed
// before it failed, per spec.md §4.1 "any error during connect triggers an
// internal cleanup of whatever was half-built".
func (t *BLE) cleanupHalfBuilt() {
	if t.device != nil {
		t.device.Disconnect()
	}
	t.device = nil
	t.writeChar = nil
	t.notifyChar = nil
	t.connected = false
}

// Write implements Transport.
func (t *BLE) Write(ctx context.Context, data []byte) error {
	t.mu.Lock()
	if !t.connected || t.writeChar == nil {
		t.mu.Unlock()
		return &bridgeerr.TransportError{Kind: bridgeerr.KindDisconnected, Err: bridgeerr.ErrNotConnected}
	}

	_, err := t.writeChar.WriteWithoutResponse(data)
	if err == nil {
		t.mu.Unlock()
		return nil
	}

	kind := classifyWriteError(err)
	if kind == bridgeerr.KindDisconnected {
		// The adapter surfaced the drop as a failed write rather than
		// through a connection-state callback (§4.1). Mark the link down
		// and fire the one-shot disconnect event ourselves so the
		// session doesn't stay phantom-Live waiting on a notification
		// that will never arrive; fireDisconnect must run without t.mu
		// held since it takes the lock itself.
		t.connected = false
	}
	t.mu.Unlock()

	if kind == bridgeerr.KindDisconnected {
		t.fireDisconnect()
	}
	return &bridgeerr.TransportError{Kind: kind, Err: err}
}

// classifyWriteError maps an underlying adapter error to a WriteBusy or
// Disconnected kind when its text has that shape, so the session can
// decide whether to retry (§4.1 "retry policy the transport exposes").
func classifyWriteError(err error) bridgeerr.TransportErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "disconnect"):
		return bridgeerr.KindDisconnected
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in progress"), strings.Contains(msg, "in-progress"):
		return bridgeerr.KindWriteBusy
	default:
		return bridgeerr.KindOther
	}
}

// Disconnect implements Transport. Idempotent.
func (t *BLE) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnectLocked()
}

func (t *BLE) disconnectLocked() {
	if !t.connected && t.device == nil {
		return
	}
	if t.notifyChar != nil {
		t.notifyChar.EnableNotifications(nil)
		t.notifyListeners = 0
	}
	if t.device != nil {
		t.device.Disconnect()
	}
	t.device = nil
	t.writeChar = nil
	t.notifyChar = nil
	t.connected = false
	t.scanListeners = 0
	t.discoverListeners = 0
}

// ResourceState implements Transport.
func (t *BLE) ResourceState() ResourceState {
	t.mu.Lock()
	defer t.mu.Unlock()

	peripherals := 0
	if t.device != nil {
		peripherals = 1
	}
	return ResourceState{
		PeripheralCount:   peripherals,
		ScanListeners:     t.scanListeners,
		DiscoverListeners: t.discoverListeners,
		NotifyListeners:   t.notifyListeners,
	}
}

// fireDisconnect delivers the one-shot unexpected-disconnect event (§4.1)
// to whatever DisconnectFunc Connect registered. It is called from Write
// the moment a write fails with a disconnected-link error, since
// tinygo.org/x/bluetooth does not expose a connection-state callback
// consistently across every platform backend this package targets; a
// failed write is the one signal guaranteed to be available everywhere.
// disconnectFired makes a second call (e.g. from a retried write after
// the first failure) a no-op.
func (t *BLE) fireDisconnect() {
	t.mu.Lock()
	cb := t.onDisconnect
	already := t.disconnectFired
	t.disconnectFired = true
	t.mu.Unlock()

	if cb != nil && !already {
		cb()
	}
}
