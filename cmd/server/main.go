// Voiceguard client platform - live vishing analysis and the scam
// training simulation, fed to the UI over HTTP and WebSocket.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voiceguard/platform/internal/backend"
	"github.com/voiceguard/platform/internal/config"
	"github.com/voiceguard/platform/internal/server"
	"github.com/voiceguard/platform/internal/session"
	"github.com/voiceguard/platform/internal/simulation"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rest := backend.New(cfg.BackendURL, cfg.BackendTimeout)
	ctrl := session.NewController(cfg, session.Deps{})
	runner := simulation.NewRunner(cfg, rest, simulation.Deps{})

	srv := server.New(ctx, ctrl, runner, rest)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("platform server starting", "http", cfg.HTTPAddr, "analysis", cfg.AnalysisWS, "backend", cfg.BackendURL)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	runner.Stop()
	ctrl.Stop()
	slog.Info("shutdown complete")
}
