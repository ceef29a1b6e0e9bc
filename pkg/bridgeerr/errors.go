// Package bridgeerr defines the error kinds produced by the session
// lifecycle and BLE transport core, shared across pkg/bletransport,
// pkg/session, pkg/sessionmgr, pkg/wshandler and pkg/bridgefront.
package bridgeerr

import "errors"

// Sentinel errors for conditions that carry no extra data.
var (
	// ErrScanTimeout is returned when no matching peripheral advertised
	// within the scan deadline.
	ErrScanTimeout = errors.New("scan timeout: device not found")

	// ErrServiceMissing is returned when the target GATT service UUID
	// was not found on the connected peripheral.
	ErrServiceMissing = errors.New("service not found on device")

	// ErrCharacteristicMissing is returned when the write or notify
	// characteristic UUID was not found under the service.
	ErrCharacteristicMissing = errors.New("characteristic not found on service")

	// ErrAdapterOff is returned when the host BLE adapter is not powered on.
	ErrAdapterOff = errors.New("BLE adapter is not powered on")

	// ErrNotConnected is returned by writes made before a connection
	// exists or after the link has dropped.
	ErrNotConnected = errors.New("transport not connected")

	// ErrProtocolError is returned for a malformed inbound WebSocket frame.
	ErrProtocolError = errors.New("malformed protocol frame")

	// ErrUnauthorized is returned when an admin operation presents a
	// missing or incorrect token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInternalResourceLeak is returned when post-cleanup resource
	// verification exceeds the configured thresholds.
	ErrInternalResourceLeak = errors.New("internal resource leak detected")

	// ErrSessionTerminating is returned by Session.Attach when the
	// session's cleanup has already started (P7).
	ErrSessionTerminating = errors.New("session is terminating")

	// ErrWriteQueueFull is returned when a session's bounded write queue
	// cannot accept another pending write.
	ErrWriteQueueFull = errors.New("write queue full")
)

// TransportErrorKind distinguishes transient write failures the caller may
// retry from permanent ones.
type TransportErrorKind int

const (
	// KindOther is a non-retryable transport failure.
	KindOther TransportErrorKind = iota
	// KindWriteBusy indicates the characteristic write is in progress or
	// the adapter reported a transient busy condition.
	KindWriteBusy
	// KindDisconnected indicates the peripheral link dropped.
	KindDisconnected
)

// TransportError wraps a transport failure with a kind the caller can
// branch on via errors.As, without losing the underlying error text.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "transport error"
	}
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether the session's write loop should retry on this
// error, per spec: WriteBusy and Disconnected are transient.
func (e *TransportError) Retryable() bool {
	return e.Kind == KindWriteBusy || e.Kind == KindDisconnected
}

// AdmissionDeniedError reports that the manager refused a new session
// because another session currently holds the radio.
type AdmissionDeniedError struct {
	BlockingSessionID string
}

func (e *AdmissionDeniedError) Error() string {
	return "device is busy with another session"
}
