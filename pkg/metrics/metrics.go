// Package metrics exposes the Prometheus series the bridge reports through
// the observability surface, following the teacher's promauto package-level
// counter/gauge pattern rather than threading a metrics struct through
// every call site.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blebridge_sessions_total",
		Help: "Session admission attempts, labeled by outcome (created or denied).",
	}, []string{"outcome"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blebridge_sessions_active",
		Help: "Sessions currently present in the registry.",
	})

	// The reassembler and write-path counters (ReassemblerFramesTotal,
	// ReassemblerDroppedTotal, ReassemblerResyncBytesTotal,
	// WriteRetriesTotal, WriteQueueRejectedTotal) are registered and
	// exported, but no code in this module increments them, so they stay
	// at zero.

	AdmissionDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blebridge_admission_denied_total",
		Help: "Session admission requests denied because the radio was already held.",
	})

	ReassemblerFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blebridge_reassembler_frames_total",
		Help: "Frames emitted by the packet reassembler.",
	})

	ReassemblerDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blebridge_reassembler_dropped_total",
		Help: "Notify chunks dropped by the reassembler because the ring was full.",
	})

	ReassemblerResyncBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blebridge_reassembler_resync_bytes_total",
		Help: "Bytes skipped by the reassembler while resynchronizing on an invalid header.",
	})

	CleanupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blebridge_cleanup_total",
		Help: "Session cleanups, labeled by reason.",
	}, []string{"reason"})

	WriteRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blebridge_write_retries_total",
		Help: "Write retries issued after a busy/disconnected transport error.",
	})

	WriteQueueRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blebridge_write_queue_rejected_total",
		Help: "Writes rejected because a session's write queue was full.",
	})

	ResourceLeakTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blebridge_resource_leak_total",
		Help: "Cleanups whose post-teardown resource snapshot still exceeded thresholds.",
	})
)

// Outcome labels for SessionsTotal.
const (
	OutcomeCreated = "created"
	OutcomeDenied  = "denied"
)

// IncSessionCreated records a session admitted into the registry.
func IncSessionCreated() {
	SessionsTotal.WithLabelValues(OutcomeCreated).Inc()
}

// IncAdmissionDenied records a denied admission and the matching sessions
// counter label.
func IncAdmissionDenied() {
	SessionsTotal.WithLabelValues(OutcomeDenied).Inc()
	AdmissionDeniedTotal.Inc()
}

// SetSessionsActive sets the live registry size gauge.
func SetSessionsActive(n int) {
	SessionsActive.Set(float64(n))
}

// IncCleanup records a completed cleanup under its reason label.
func IncCleanup(reason string) {
	CleanupTotal.WithLabelValues(reason).Inc()
}

// ObserveReassemblerStats folds a reassembler.Stats-shaped snapshot into
// the corresponding counters. Callers pass deltas, not cumulative totals.
// Nothing in this module calls it.
func ObserveReassemblerStats(framesEmitted, bytesResynced, chunksDropped uint64) {
	if framesEmitted > 0 {
		ReassemblerFramesTotal.Add(float64(framesEmitted))
	}
	if bytesResynced > 0 {
		ReassemblerResyncBytesTotal.Add(float64(bytesResynced))
	}
	if chunksDropped > 0 {
		ReassemblerDroppedTotal.Add(float64(chunksDropped))
	}
}
