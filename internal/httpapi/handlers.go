package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/UGOtang/meeting-flow/internal/hub"
)

// RoomStats reports the live rooms, their populations, and whether a cached
// snapshot exists. Handy for eyeballing the relay; carries no payload data.
func RoomStats(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []hub.RoomStats, 1)
		h.Inbox() <- hub.GetStats{Reply: reply}
		stats := <-reply

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Rooms []hub.RoomStats `json:"rooms"`
		}{Rooms: stats})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
