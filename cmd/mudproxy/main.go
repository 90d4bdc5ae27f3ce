// mudproxy is the browser-facing WebSocket proxy (spec §4, §6). It
// authenticates browser connections, runs the scripting engine against
// upstream MUD traffic, and optionally dials through a separate bridge
// relay process so a restart does not drop players mid-game.
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
	"golang.org/x/sync/errgroup"

	"github.com/duskproxy/mudproxy/internal/adminapi"
	"github.com/duskproxy/mudproxy/internal/adminlog"
	"github.com/duskproxy/mudproxy/internal/bridge"
	"github.com/duskproxy/mudproxy/internal/config"
	"github.com/duskproxy/mudproxy/internal/domain"
	"github.com/duskproxy/mudproxy/internal/persistence"
	"github.com/duskproxy/mudproxy/internal/prefs"
	"github.com/duskproxy/mudproxy/internal/session"
	"github.com/duskproxy/mudproxy/internal/wsproxy"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("starting mudproxy", "addr", cfg.ListenAddr, "bridge_mode", cfg.BridgeAddr != "")

	sm := session.New(logger)
	sm.StartIdleSweeper()
	defer sm.StopIdleSweeper()

	logs := adminlog.New()

	var client *prefs.Client
	if cfg.PrefsAPIURL != "" {
		client = prefs.New(cfg.PrefsAPIURL, cfg.PrefsAPIKey, cfg.Timeout.PrefsAPIDeadline)
	} else {
		slog.Info("PREFS_API_URL not set, preference persistence disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var bridgeConn *bridge.Conn
	var dispatcher *bridge.Dispatcher
	if cfg.BridgeAddr != "" {
		bridgeConn, err = bridge.Dial(ctx, cfg.BridgeAddr)
		if err != nil {
			slog.Error("failed to dial bridge relay", "error", err)
			os.Exit(1)
		}
		dispatcher = bridge.NewDispatcher(bridgeConn)
		go func() {
			if err := dispatcher.Run(ctx); err != nil {
				slog.Error("bridge dispatcher stopped", "error", err)
			}
		}()
		slog.Info("bridge mode enabled", "bridge_addr", cfg.BridgeAddr)
	}

	wsHandler := wsproxy.New(sm, cfg, logs, client, bridgeConn, dispatcher, logger)

	if client != nil {
		restoreSessions(ctx, sm, wsHandler, client, cfg, logger)
	}

	adminHandler := adminapi.New(sm, logs, cfg.AdminKey)
	adminHandler.SetBroadcastFunc(wsHandler.Broadcast)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/ws", wsHandler.ServeHTTP)
	adminHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-lived WebSocket connections
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	slog.Info("shutting down gracefully...")

	saveSessionsOnShutdown(sm, client, bridgeConn != nil, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if bridgeConn != nil {
		_ = bridgeConn.Close()
	}
	slog.Info("server stopped successfully")
}

// restoreSessions implements the boot half of spec §4.6: fetch the
// snapshot saved by the previous process generation's shutdown
// handler, drop stale or already-active records, and reconnect each
// survivor's upstream before the HTTP server starts accepting
// browsers.
func restoreSessions(ctx context.Context, sm *session.Manager, wsHandler *wsproxy.Handler, client *prefs.Client, cfg *config.Config, logger *slog.Logger) {
	loadCtx, cancel := context.WithTimeout(ctx, cfg.Timeout.PrefsAPIDeadline)
	defer cancel()
	records, err := client.LoadPersistentSessions(loadCtx)
	if err != nil {
		logger.Warn("failed to load persistent sessions", "error", err)
		return
	}
	restorable := persistence.FilterRestorable(records, time.Now(), sm.HasActive)
	logger.Info("restoring persistent sessions", "found", len(records), "restorable", len(restorable))

	g, gctx := errgroup.WithContext(ctx)
	for _, rec := range restorable {
		g.Go(func() error {
			wsHandler.RestoreSession(gctx, rec)
			return nil
		})
	}
	_ = g.Wait()
}

// saveSessionsOnShutdown implements the SIGTERM half of spec §4.6: every
// session with a live upstream is snapshotted to the external
// preferences store so it can be restored on the next boot.
func saveSessionsOnShutdown(sm *session.Manager, client *prefs.Client, bridgeMode bool, logger *slog.Logger) {
	if client == nil {
		return
	}
	records := persistence.BuildShutdownRecords(sm.AllSessions(), time.Now(), func(s *domain.Session) string {
		if bridgeMode {
			return s.Token
		}
		return ""
	})
	if len(records) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.SavePersistentSessions(ctx, records); err != nil {
		logger.Error("failed to save persistent sessions", "error", err)
		return
	}
	logger.Info("saved persistent sessions", "count", len(records))
}
