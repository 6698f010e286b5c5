package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/UGOtang/meeting-flow/internal/hub"
	"github.com/UGOtang/meeting-flow/pkg/protocol"
)

// Every exit path runs drainHub, so members must get their shutdown notice
// even when the process is dying from a fault rather than a signal.
func TestDrainHub_NotifiesMembers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := hub.NewHub(ctx, zap.NewNop())

	c := hub.NewConn()
	h.Inbox() <- hub.Join{Conn: c, Room: "doc-1"}
	select {
	case <-c.Outbox(): // welcome
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for welcome")
	}

	drainHub(h)

	select {
	case data, ok := <-c.Outbox():
		if !ok {
			t.Fatalf("outbox closed before the shutdown notice")
		}
		env, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("undecodable frame: %v", err)
		}
		if env.Type != protocol.KindServerShutdown {
			t.Fatalf("expected shutdown notice, got %s", env.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for shutdown notice")
	}
	if _, ok := <-c.Outbox(); ok {
		t.Fatalf("expected outbox closed after drain")
	}
}
