// Package ring implements the fixed-capacity circular byte buffer that
// backs the notify-stream packet reassembler (pkg/reassembler). It is a
// deliberately minimal, stdlib-only component: no third-party ring buffer
// in the example corpus exposes the combination this framing parser needs
// — a non-destructive multi-byte Peek alongside a single-byte Discard used
// for header resynchronization — so it is built directly on a plain []byte
// and a pair of cursors, per the teacher's preference for small, explicit
// state over adopting a library shaped for a different use case.
package ring

// Buffer is a fixed-capacity circular byte buffer with independent read
// and write cursors. The write cursor never overtakes the read cursor by
// more than Cap bytes; Write refuses (and the caller must drop) any chunk
// that would make it do so, so partial frames are never written into the
// buffer — partial writes would desynchronize the framing parser that
// reads from it.
type Buffer struct {
	data  []byte
	cap   int
	read  int
	write int
	len   int // bytes currently buffered, 0 <= len <= cap
}

// New allocates a ring buffer of the given capacity. Capacity should be at
// least 65536 bytes per the reassembler's requirements, but New does not
// enforce a minimum so it can also be used directly in tests with a small
// capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Buffer{data: make([]byte, capacity), cap: capacity}
}

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int { return b.cap }

// Len returns the number of bytes currently buffered.
func (b *Buffer) Len() int { return b.len }

// Free returns the number of bytes that can still be written before the
// buffer is full.
func (b *Buffer) Free() int { return b.cap - b.len }

// Write appends chunk to the buffer. If chunk does not fit in the
// remaining free space, the entire chunk is dropped and Write reports
// false; the buffer and its cursors are left completely unchanged. A
// successful write copies every byte of chunk, wrapping the write cursor
// as needed, so the buffer never holds a partial frame fragment that
// wasn't already a partial fragment in the input.
func (b *Buffer) Write(chunk []byte) bool {
	if len(chunk) > b.Free() {
		return false
	}
	if len(chunk) == 0 {
		return true
	}
	n := copy(b.data[b.write:], chunk)
	if n < len(chunk) {
		copy(b.data[0:], chunk[n:])
	}
	b.write = (b.write + len(chunk)) % b.cap
	b.len += len(chunk)
	return true
}

// Peek returns a copy of the next n buffered bytes without consuming them.
// It panics if n exceeds Len; callers must check Len first (the
// reassembler always does, per its parse loop).
func (b *Buffer) Peek(n int) []byte {
	if n > b.len {
		panic("ring: peek beyond buffered length")
	}
	out := make([]byte, n)
	if n == 0 {
		return out
	}
	first := copy(out, b.data[b.read:])
	if first < n {
		copy(out[first:], b.data[:n-first])
	}
	return out
}

// PeekByte returns the single buffered byte at offset off from the read
// cursor (0 is the next unread byte). It panics if off is out of range.
func (b *Buffer) PeekByte(off int) byte {
	if off >= b.len {
		panic("ring: peek byte beyond buffered length")
	}
	return b.data[(b.read+off)%b.cap]
}

// Discard advances the read cursor by n bytes, releasing that space back
// to the writer. It panics if n exceeds Len.
func (b *Buffer) Discard(n int) {
	if n > b.len {
		panic("ring: discard beyond buffered length")
	}
	b.read = (b.read + n) % b.cap
	b.len -= n
}
