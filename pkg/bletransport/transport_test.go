package bletransport

import (
	"testing"

	"github.com/ble-mcp-test/bridge/pkg/bridgeerr"
)

func TestMatchesPrefixEmptyMatchesAny(t *testing.T) {
	if !matchesPrefix("", "anything", "00:11:22:33:44:55") {
		t.Error("empty prefix should match any device")
	}
}

func TestMatchesPrefixByLocalNamePrefix(t *testing.T) {
	if !matchesPrefix("Widget", "Widget-42", "id") {
		t.Error("local name with matching prefix should match")
	}
	if matchesPrefix("Widget", "Gadget-42", "id") {
		t.Error("local name without matching prefix should not match")
	}
}

func TestMatchesPrefixByExactID(t *testing.T) {
	if !matchesPrefix("00:11:22:33:44:55", "unrelated-name", "00:11:22:33:44:55") {
		t.Error("exact id match should match regardless of local name")
	}
}

type stringErr struct{ msg string }

func (e *stringErr) Error() string { return e.msg }

func TestClassifyWriteErrorDisconnected(t *testing.T) {
	if got := classifyWriteError(&stringErr{"peripheral disconnected"}); got != bridgeerr.KindDisconnected {
		t.Errorf("classifyWriteError = %v, want KindDisconnected", got)
	}
}

func TestClassifyWriteErrorBusy(t *testing.T) {
	if got := classifyWriteError(&stringErr{"write in progress"}); got != bridgeerr.KindWriteBusy {
		t.Errorf("classifyWriteError = %v, want KindWriteBusy", got)
	}
}

func TestClassifyWriteErrorOther(t *testing.T) {
	if got := classifyWriteError(&stringErr{"some unrelated failure"}); got != bridgeerr.KindOther {
		t.Errorf("classifyWriteError = %v, want KindOther", got)
	}
}

func TestStubConnectAndWrite(t *testing.T) {
	s := NewStub()
	name, err := s.Connect(nil, Config{}, nil, nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if name != "stub-device" {
		t.Errorf("device name = %q, want %q", name, "stub-device")
	}

	if err := s.Write(nil, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if s.WrittenCount() != 1 {
		t.Errorf("WrittenCount = %d, want 1", s.WrittenCount())
	}
}

func TestStubWriteBeforeConnectFails(t *testing.T) {
	s := NewStub()
	err := s.Write(nil, []byte{0x01})
	if err == nil {
		t.Fatal("expected write before connect to fail")
	}
	var te *bridgeerr.TransportError
	if !asTransportError(err, &te) {
		t.Fatalf("expected a *bridgeerr.TransportError, got %T", err)
	}
	if te.Kind != bridgeerr.KindDisconnected {
		t.Errorf("Kind = %v, want KindDisconnected", te.Kind)
	}
}

func asTransportError(err error, target **bridgeerr.TransportError) bool {
	te, ok := err.(*bridgeerr.TransportError)
	if !ok {
		return false
	}
	*target = te
	return true
}

func TestStubNotifyDeliversToRegisteredCallback(t *testing.T) {
	s := NewStub()
	var received []byte
	s.Connect(nil, Config{}, func(data []byte) { received = data }, nil)
	s.Notify([]byte{0xAA, 0xBB})
	if len(received) != 2 || received[0] != 0xAA {
		t.Errorf("received = % x, want aa bb", received)
	}
}

func TestStubSimulateLinkDropFiresOnDisconnectOnce(t *testing.T) {
	s := NewStub()
	fired := 0
	s.Connect(nil, Config{}, nil, func() { fired++ })
	s.SimulateLinkDrop()
	if fired != 1 {
		t.Errorf("onDisconnect fired %d times, want 1", fired)
	}
	if s.WrittenCount() != 0 {
		t.Errorf("unexpected writes recorded")
	}
	if err := s.Write(nil, []byte{0x01}); err == nil {
		t.Error("expected write after link drop to fail")
	}
}

func TestStubDisconnectIsIdempotent(t *testing.T) {
	s := NewStub()
	s.Connect(nil, Config{}, nil, nil)
	s.Disconnect()
	s.Disconnect()
	if s.ResourceState().PeripheralCount != 0 {
		t.Error("expected resource state cleared after disconnect")
	}
}
