package protocol

import (
	"bytes"
	"testing"
)

func TestDecode_RejectsUnknownKind(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"mystery"}`)); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, err := Decode([]byte("{not json")); err == nil {
		t.Fatalf("expected error for bad json")
	}
}

func TestDecode_SnapshotRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x01, 0xfe, 0xff}
	data, err := Snapshot("doc-1", "alice", payload).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != KindSnapshot || env.Room != "doc-1" || env.UserID != "alice" {
		t.Fatalf("lost fields: %+v", env)
	}
	if !bytes.Equal(env.Data, payload) {
		t.Fatalf("payload mangled: %x", env.Data)
	}
}

func TestEmptyStateResponse_MarksEmpty(t *testing.T) {
	data, _ := EmptyStateResponse("room-7").Encode()
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != KindFullStateResponse || !env.IsEmpty || len(env.Data) != 0 {
		t.Fatalf("expected empty marker, got %+v", env)
	}
}
