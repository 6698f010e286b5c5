// Command presence-agent is a headless client: it joins a room, walks a
// synthetic cursor around, and logs the peers it sees. Useful for soaking
// the relay and for demoing rooms without a browser.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/UGOtang/meeting-flow/internal/config"
	"github.com/UGOtang/meeting-flow/internal/engine"
	"github.com/UGOtang/meeting-flow/internal/presence"
)

func main() {
	_ = godotenv.Load()
	cfg := config.ClientFromEnv()

	log := buildLogger(cfg.Debug)
	defer log.Sync()

	userID := cfg.UserID
	if userID == "" {
		userID = "agent-" + ulid.Make().String()
	}

	doc := presence.NewDoc(userID)
	eng := engine.New(engine.Config{
		URL:                       cfg.RelayURL,
		Room:                      cfg.Room,
		UserID:                    userID,
		RequestFullStateOnConnect: true,
	}, doc, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go wander(ctx, doc, userID, log)
	go watchPeers(ctx, doc, userID, log)

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	log.Info("signal caught", zap.String("sig", sig.String()))

	cancel()
	eng.Close()
}

// wander moves the cursor in a bounded random walk. Every move mutates the
// document; the engine's throttle decides how often that becomes a publish.
func wander(ctx context.Context, doc presence.Document, userID string, log *zap.Logger) {
	x, y := rand.Float64()*800, rand.Float64()*600
	color := fmt.Sprintf("#%06x", rand.Intn(0x1000000))
	t := time.NewTicker(30 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			x = clamp(x+rand.Float64()*20-10, 0, 800)
			y = clamp(y+rand.Float64()*20-10, 0, 600)
			err := doc.SetCursor(presence.CursorRecord{
				ID:           userID,
				X:            x,
				Y:            y,
				Color:        color,
				Name:         userID,
				LastUpdateMs: time.Now().UnixMilli(),
			})
			if err != nil {
				log.Warn("failed to move cursor", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

func watchPeers(ctx context.Context, doc presence.Document, userID string, log *zap.Logger) {
	t := time.NewTicker(2 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			recs, err := doc.Cursors()
			if err != nil {
				log.Warn("failed to list cursors", zap.Error(err))
				continue
			}
			peers := make([]string, 0, len(recs))
			for _, rec := range recs {
				if rec.ID == userID {
					continue
				}
				peers = append(peers, fmt.Sprintf("%s@(%.0f,%.0f)", rec.ID, rec.X, rec.Y))
			}
			log.Info("peers", zap.Int("count", len(peers)), zap.Strings("cursors", peers))
		case <-ctx.Done():
			return
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func buildLogger(debug bool) *zap.Logger {
	if debug {
		log, _ := zap.NewDevelopment()
		return log
	}
	log, _ := zap.NewProduction()
	return log
}
