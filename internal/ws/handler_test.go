package ws

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/UGOtang/meeting-flow/internal/hub"
	"github.com/UGOtang/meeting-flow/pkg/protocol"
)

func dial(t *testing.T, wsURL, room string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL+"?room="+room, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn, within time.Duration) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("undecodable frame: %v", err)
	}
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestHandler_EndToEndRelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := hub.NewHub(ctx, zap.NewNop())
	srv := httptest.NewServer(Handler(h, zap.NewNop()))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	a := dial(t, wsURL, "doc-1")
	if env := readEnvelope(t, a, time.Second); env.Type != protocol.KindWelcome || env.Room != "doc-1" {
		t.Fatalf("expected welcome for doc-1, got %+v", env)
	}
	b := dial(t, wsURL, "doc-1")
	readEnvelope(t, b, time.Second) // welcome

	payload := []byte("presence-bytes")
	writeEnvelope(t, a, protocol.Snapshot("doc-1", "alice", payload))

	env := readEnvelope(t, b, 2*time.Second)
	if env.Type != protocol.KindSnapshot {
		t.Fatalf("expected relayed snapshot, got %s", env.Type)
	}
	if !bytes.Equal(env.Data, payload) {
		t.Fatalf("payload mangled in transit: %q", env.Data)
	}

	// ping answered over the same socket
	writeEnvelope(t, a, protocol.Ping())
	if env := readEnvelope(t, a, 2*time.Second); env.Type != protocol.KindPong {
		t.Fatalf("expected pong, got %s", env.Type)
	}
}

func TestHandler_DefaultsRoom(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := hub.NewHub(ctx, zap.NewNop())
	srv := httptest.NewServer(Handler(h, zap.NewNop()))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil) // no room parameter
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	if env := readEnvelope(t, conn, time.Second); env.Room != hub.DefaultRoom {
		t.Fatalf("expected default room, got %q", env.Room)
	}
}
