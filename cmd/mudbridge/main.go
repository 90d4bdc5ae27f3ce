// mudbridge is the bridge-relay process of spec §4.5: a small,
// separate process that owns the long-lived upstream TCP sockets to
// each MUD, so restarting the mudproxy process does not drop players
// mid-game. It speaks only the bridge WebSocket protocol
// (internal/bridge) to one or more mudproxy instances.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/duskproxy/mudproxy/internal/bridge"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	addr := os.Getenv("BRIDGE_LISTEN_ADDR")
	if addr == "" {
		addr = ":8090"
	}

	relay := bridge.NewRelay(logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Get("/bridge", relay.ServeHTTP)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("bridge relay listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("bridge relay failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	slog.Info("shutting down bridge relay...")

	// Upstream TCP sockets intentionally survive this process: a
	// mudproxy restart resumes them over a new connection. Only the
	// HTTP listener is torn down here.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("bridge relay forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("bridge relay stopped successfully")
}
