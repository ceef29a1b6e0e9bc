package ring

import (
	"bytes"
	"testing"
)

func TestWriteAndPeekRoundTrip(t *testing.T) {
	b := New(16)
	data := []byte("hello world")
	if !b.Write(data) {
		t.Fatal("Write reported failure for a chunk that fits")
	}
	if got := b.Peek(len(data)); !bytes.Equal(got, data) {
		t.Errorf("Peek = %q, want %q", got, data)
	}
	if b.Len() != len(data) {
		t.Errorf("Len = %d, want %d", b.Len(), len(data))
	}
}

func TestWriteWrapsAroundCursor(t *testing.T) {
	b := New(8)
	b.Write([]byte("abcdef")) // len 6, free 2
	b.Discard(6)              // read catches up to write
	if !b.Write([]byte("xy")) {
		t.Fatal("expected write to succeed")
	}
	if !b.Write([]byte("0123")) { // wraps around the 8-byte ring
		t.Fatal("expected wrapping write to succeed")
	}
	got := b.Peek(6)
	if !bytes.Equal(got, []byte("xy0123")) {
		t.Errorf("Peek after wrap = %q, want %q", got, "xy0123")
	}
}

func TestOverflowDropsWholeChunkAndLeavesCursorsUnchanged(t *testing.T) {
	b := New(8)
	b.Write([]byte("abcd")) // 4 bytes buffered, 4 free

	readBefore, writeBefore, lenBefore := b.read, b.write, b.len

	if b.Write([]byte("0123456789")) {
		t.Fatal("expected overflowing write to be rejected")
	}

	if b.read != readBefore || b.write != writeBefore || b.len != lenBefore {
		t.Error("ring cursors changed after a dropped chunk")
	}
	if got := b.Peek(4); !bytes.Equal(got, []byte("abcd")) {
		t.Errorf("buffer contents changed after dropped chunk: %q", got)
	}
}

func TestDiscardAdvancesReadCursor(t *testing.T) {
	b := New(8)
	b.Write([]byte("abcdef"))
	b.Discard(2)
	if got := b.Peek(4); !bytes.Equal(got, []byte("cdef")) {
		t.Errorf("Peek after discard = %q, want %q", got, "cdef")
	}
	if b.Len() != 4 {
		t.Errorf("Len after discard = %d, want 4", b.Len())
	}
}

func TestPeekByteDoesNotConsume(t *testing.T) {
	b := New(8)
	b.Write([]byte{0xA7, 0xB3})
	if b.PeekByte(0) != 0xA7 || b.PeekByte(1) != 0xB3 {
		t.Fatal("PeekByte returned unexpected bytes")
	}
	if b.Len() != 2 {
		t.Errorf("PeekByte mutated length: %d", b.Len())
	}
}

func TestFreeAndCap(t *testing.T) {
	b := New(10)
	if b.Cap() != 10 {
		t.Errorf("Cap() = %d, want 10", b.Cap())
	}
	b.Write([]byte("abc"))
	if b.Free() != 7 {
		t.Errorf("Free() = %d, want 7", b.Free())
	}
}
