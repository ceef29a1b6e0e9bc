// Package reassembler turns a notify byte stream, which may arrive
// fragmented or with several frames concatenated into one chunk, into a
// sequence of whole length-prefixed vendor packets. It is driven by
// pkg/ring and has no teacher analog: the example corpus's closest
// precedent, the teacher's pkg/parser length/header-CRC parsers, operate
// on a growable slice rather than a fixed ring with a non-destructive
// peek, so this package is grounded directly on spec.md's own framing
// description instead.
package reassembler

import (
	"time"

	"github.com/ble-mcp-test/bridge/pkg/ring"
)

const (
	// headerByte0 is the first byte of every valid frame header.
	headerByte0 = 0xA7

	// minHeaderBytes is how many bytes must be buffered before the parse
	// loop can even peek a header.
	minHeaderBytes = 3

	// headerSize is the fixed 8-byte header preceding the payload.
	headerSize = 8

	// maxFrameSize bounds 8 + payloadLength.
	maxFrameSize = 512

	// commandResponseMaxPayload is the payload length under which a frame
	// is a "command response" shape: non-fragmentable, so an embedded
	// header inside it is necessarily corruption rather than a
	// legitimately concatenated next frame.
	commandResponseMaxPayload = 12

	// maxFramesPerRun and maxRunDuration bound a single call to Run so a
	// burst of small frames can't monopolize the event loop.
	maxFramesPerRun = 50
	maxRunDuration  = 10 * time.Millisecond
)

// transportTags are the valid second header bytes.
var transportTags = [2]byte{0xB3, 0xE6}

// firmwareAbortSignature is the tail-of-payload byte sequence that marks a
// firmware abort condition; the frame carrying it is still emitted.
var firmwareAbortSignature = []byte{0x40, 0x03, 0xBF, 0xFC, 0xBF, 0xFC, 0xBF, 0xFC}

func isTransportTag(b byte) bool {
	return b == transportTags[0] || b == transportTags[1]
}

// Frame is one emitted, whole vendor packet.
type Frame struct {
	// Bytes is the complete frame: 8-byte header plus payload.
	Bytes []byte
}

// Payload returns the frame's payload, excluding the 8-byte header.
func (f Frame) Payload() []byte { return f.Bytes[headerSize:] }

// Stats tracks reassembler counters for observability.
type Stats struct {
	FramesEmitted  uint64
	BytesResynced  uint64 // bytes skipped while looking for a valid header
	ChunksDropped  uint64 // whole chunks dropped because the ring was full
	FirmwareAborts uint64
}

// Reassembler owns a ring buffer and the parse-loop state that turns its
// contents into emitted frames.
type Reassembler struct {
	buf   *ring.Buffer
	stats Stats
}

// New creates a Reassembler backed by a ring of the given capacity.
// Sessions default to 65536 bytes; New itself accepts any positive
// capacity.
func New(capacity int) *Reassembler {
	return &Reassembler{buf: ring.New(capacity)}
}

// Stats returns a snapshot of the reassembler's counters.
func (r *Reassembler) Stats() Stats { return r.stats }

// Admit copies an inbound notify chunk into the ring. If the chunk would
// overflow the ring, the whole chunk is dropped (spec.md §3 ring
// invariant) and Admit reports false; the ring is left unchanged.
func (r *Reassembler) Admit(chunk []byte) bool {
	if r.buf.Write(chunk) {
		return true
	}
	r.stats.ChunksDropped++
	return false
}

// FirmwareAbortFunc is invoked once per frame whose tail matches the
// firmware-abort signature, in addition to that frame being emitted
// normally.
type FirmwareAbortFunc func(frame Frame)

// Run executes the parse loop (spec.md §4.2 steps 1-8) against whatever is
// currently buffered, emitting each complete frame to emit in order. It
// stops after at most maxFramesPerRun frames or maxRunDuration wall time,
// whichever comes first, so the caller can reschedule the remainder
// without blocking the event loop. It returns the number of frames
// emitted during this call.
func (r *Reassembler) Run(emit func(Frame), onFirmwareAbort FirmwareAbortFunc) int {
	deadline := time.Now().Add(maxRunDuration)
	emitted := 0

	for emitted < maxFramesPerRun {
		if time.Now().After(deadline) {
			break
		}

		// Step 1: need at least 3 bytes to peek a header and its length byte.
		if r.buf.Len() < minHeaderBytes {
			break
		}

		// Step 2: validate the two header bytes; resync one byte at a time.
		b0 := r.buf.PeekByte(0)
		b1 := r.buf.PeekByte(1)
		if b0 != headerByte0 || !isTransportTag(b1) {
			r.buf.Discard(1)
			r.stats.BytesResynced++
			continue
		}

		// Step 3: payload length lives at offset 2; compute total frame size.
		payloadLength := int(r.buf.PeekByte(2))
		total := headerSize + payloadLength
		if total > maxFrameSize {
			r.buf.Discard(1)
			r.stats.BytesResynced++
			continue
		}

		// Step 4: wait for the rest of the frame to arrive.
		if r.buf.Len() < total {
			break
		}

		// Step 5: extract the whole frame.
		frameBytes := r.buf.Peek(total)

		// Step 6: command-response frames can't legitimately contain an
		// embedded header; if one is found, the frame is corrupt and we
		// rewind to just before it instead of emitting.
		if payloadLength <= commandResponseMaxPayload {
			if off, found := findEmbeddedHeader(frameBytes); found {
				r.buf.Discard(off)
				r.stats.BytesResynced += uint64(off)
				continue
			}
		}

		r.buf.Discard(total)

		// Step 7: a firmware-abort tail is a side-band signal, not a reason
		// to drop the frame.
		if hasFirmwareAbortTail(frameBytes) {
			r.stats.FirmwareAborts++
			if onFirmwareAbort != nil {
				onFirmwareAbort(Frame{Bytes: frameBytes})
			}
		}

		// Step 8: emit.
		emit(Frame{Bytes: frameBytes})
		r.stats.FramesEmitted++
		emitted++
	}

	return emitted
}

// findEmbeddedHeader scans bytes[headerSize : len(frame)-4] for an
// embedded A7 B3 ?? C2 header, per spec.md §4.2 step 6. It returns the
// offset from the start of frame at which the embedded header begins.
func findEmbeddedHeader(frame []byte) (int, bool) {
	end := len(frame) - 4
	if end <= headerSize {
		return 0, false
	}
	for i := headerSize; i < end; i++ {
		if frame[i] == 0xA7 && frame[i+1] == 0xB3 && frame[i+3] == 0xC2 {
			return i, true
		}
	}
	return 0, false
}

// hasFirmwareAbortTail reports whether the last 8 bytes of the payload
// equal the firmware-abort signature.
func hasFirmwareAbortTail(frame []byte) bool {
	payload := frame[headerSize:]
	if len(payload) < len(firmwareAbortSignature) {
		return false
	}
	tail := payload[len(payload)-len(firmwareAbortSignature):]
	for i, b := range firmwareAbortSignature {
		if tail[i] != b {
			return false
		}
	}
	return true
}
