package httpapi

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/UGOtang/meeting-flow/internal/hub"
	"github.com/UGOtang/meeting-flow/internal/ws"
)

func SetupRoutes(h *hub.Hub, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(log))

	r.Get("/healthz", Healthz)
	r.Get("/rooms", RoomStats(h))
	r.Get("/ws", ws.Handler(h, log))
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			log.Info("handled",
				zap.String("method", r.Method),
				zap.String("url", r.URL.String()),
				zap.Duration("duration", m.Duration),
				zap.Int("status", m.Code))
		})
	}
}
