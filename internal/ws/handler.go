package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/UGOtang/meeting-flow/internal/hub"
)

const writeTimeout = 3 * time.Second

// Handler upgrades the request, registers the connection with the hub under
// the room named by the "room" query parameter, and runs the read/write
// pumps. The handler never parses payloads; raw frames go to the hub loop.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room := r.URL.Query().Get("room")
		if room == "" {
			room = hub.DefaultRoom
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// Presence payloads are opaque blobs from any origin; the relay
			// carries no credentials worth protecting.
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Warn("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusInternalError, "handler exit")

		hc := hub.NewConn()
		h.Inbox() <- hub.Join{Conn: hc, Room: room}
		defer func() { h.Inbox() <- hub.Leave{Conn: hc} }()

		// Write pump: drains the hub outbox until the hub closes it.
		go func() {
			for data := range hc.Outbox() {
				ctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					log.Debug("write failed", zap.String("conn", hc.ID), zap.Error(err))
					return
				}
			}
			// Hub dropped us: shutdown notice or prune. Close cleanly.
			conn.Close(websocket.StatusNormalClosure, "bye")
		}()

		// Read pump: forward raw frames to the hub loop.
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read ended", zap.String("conn", hc.ID), zap.Error(err))
				}
				return
			}
			h.Inbox() <- hub.Inbound{Conn: hc, Data: data}
		}
	}
}
