package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/UGOtang/meeting-flow/internal/config"
	"github.com/UGOtang/meeting-flow/internal/httpapi"
	"github.com/UGOtang/meeting-flow/internal/hub"
)

// shutdownGrace lets outbox write pumps flush the shutdown notices before
// the process exits.
const shutdownGrace = 250 * time.Millisecond

func main() {
	_ = godotenv.Load()
	cfg := config.ServerFromEnv()

	log := buildLogger(cfg.Debug)
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := hub.NewHub(ctx, log)
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpapi.SetupRoutes(h, log),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		exit := make(chan os.Signal, 1)
		signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-exit:
			log.Info("signal caught", zap.String("sig", sig.String()))
		case <-ctx.Done():
			return ctx.Err()
		}

		drainHub(h)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		// Unexpected fault: still give every room member the shutdown
		// notice before the process dies.
		drainHub(h)
		log.Fatal("relay exited", zap.Error(err))
	}
	log.Info("bye")
}

// drainHub notifies every member of every room, waits for the hub to wind
// down, then allows the write pumps a moment to flush. The waits are bounded
// so a hub that already wound down cannot hold up process exit.
func drainHub(h *hub.Hub) {
	done := make(chan struct{})
	select {
	case h.Inbox() <- hub.Shutdown{Done: done}:
		select {
		case <-done:
		case <-time.After(3 * time.Second):
		}
		time.Sleep(shutdownGrace)
	default:
	}
}

func buildLogger(debug bool) *zap.Logger {
	if debug {
		log, _ := zap.NewDevelopment()
		return log
	}
	log, _ := zap.NewProduction()
	return log
}
