package wsproto

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestDecodeDataFrame(t *testing.T) {
	f, err := Decode([]byte(`{"type":"data","data":[1,2,3]}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(f.Data, []byte{1, 2, 3}) {
		t.Errorf("Data = %v, want [1 2 3]", f.Data)
	}
}

func TestDecodeDataFrameTooLargeRejected(t *testing.T) {
	big := make([]int, maxDataFrameBytes+1)
	raw, _ := encodeIntsAsDataFrame(big)
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected oversized data frame to be rejected")
	}
}

func encodeIntsAsDataFrame(ints []int) ([]byte, error) {
	type frame struct {
		Type string `json:"type"`
		Data []int  `json:"data"`
	}
	return json.Marshal(frame{Type: "data", Data: ints})
}

func TestDecodeRPCRequestRequiresFields(t *testing.T) {
	_, err := Decode([]byte(`{"type":"rpc_request","method":"requestDevice","params":{"filters":[]}}`))
	if err == nil {
		t.Fatal("expected missing rpc_id to be rejected")
	}

	f, err := Decode([]byte(`{"type":"rpc_request","rpc_id":"r1","method":"requestDevice","params":{"filters":[{"namePrefix":"CS108","services":["9800"]}]}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f.Params.Filters[0].NamePrefix != "CS108" {
		t.Errorf("NamePrefix = %q, want CS108", f.Params.Filters[0].NamePrefix)
	}
}

func TestDecodeAdminCleanupRequiresAuthAndAction(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"admin_cleanup","auth":"tok"}`)); err == nil {
		t.Fatal("expected missing action to be rejected")
	}
	f, err := Decode([]byte(`{"type":"admin_cleanup","auth":"tok","action":"cleanup_all"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f.Action != AdminActionCleanupAll {
		t.Errorf("Action = %q, want %q", f.Action, AdminActionCleanupAll)
	}
}

func TestDecodeUnknownTypeRejected(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"nonsense"}`)); err == nil {
		t.Fatal("expected unknown frame type to be rejected")
	}
}

func TestDecodeMalformedJSONRejected(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Fatal("expected malformed JSON to be rejected")
	}
}

func TestForceCleanupHasNoRequiredFields(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"force_cleanup"}`)); err != nil {
		t.Fatalf("expected bare force_cleanup to decode: %v", err)
	}
}

func TestEncodeRoundTripConnected(t *testing.T) {
	f := NewConnected("Stub")
	raw, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Device != "Stub" || got.Type != TypeConnected {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestEncodeRPCResponseOK(t *testing.T) {
	f := NewRPCResponseOK("r1", "Stub", "S2")
	raw, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := `{"type":"rpc_response","rpc_id":"r1","method":"requestDevice","result":{"device":"Stub","sessionId":"S2"}}`
	if string(raw) != want {
		t.Errorf("Encode = %s, want %s", raw, want)
	}
}

func TestAdmissionDeniedFrame(t *testing.T) {
	f := NewAdmissionDenied("Device is busy with another session", "S1")
	if f.Type != TypeError || f.BlockingSessionID != "S1" {
		t.Errorf("unexpected frame: %+v", f)
	}
}
