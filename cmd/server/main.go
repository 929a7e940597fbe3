package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dhrumil1411/Web-Chat-App/internal/config"
	"github.com/Dhrumil1411/Web-Chat-App/internal/handlers"
	"github.com/Dhrumil1411/Web-Chat-App/internal/services"
	"github.com/Dhrumil1411/Web-Chat-App/internal/store"
	"github.com/Dhrumil1411/Web-Chat-App/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize store backend
	st, err := newStore(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store: %v", err)
	}
	defer st.Close()

	// Initialize handlers
	storeHandlers := handlers.NewStoreHandlers(st)

	// Setup routes
	mux := http.NewServeMux()
	mux.HandleFunc("/store", storeHandlers.HandleStore)
	mux.HandleFunc("/healthz", storeHandlers.HandleHealth)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// The Postgres backend has no connection-scoped deferred writes, so
	// clients heartbeat and the gateway sweeps stale presence.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if cfg.Store.Backend == "postgres" {
		go runPresenceSweep(sweepCtx, st, cfg.Presence)
	}

	// Start server
	logger.Info("🚀 Store gateway started on http://localhost%s", cfg.Server.Port)
	logger.Info("📡 WebSocket endpoint: ws://localhost%s/store", cfg.Server.Port)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
	}
}

func newStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		return store.NewPostgres(context.Background(), cfg.Store.DatabaseURL)
	default:
		logger.Info("Using in-memory store backend")
		return store.NewMemory(), nil
	}
}

func runPresenceSweep(ctx context.Context, st store.Store, cfg config.PresenceConfig) {
	presence := services.NewPresenceService(st, cfg.Heartbeat)
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			swept, err := presence.SweepStale(ctx, cfg.StaleAfter)
			if err != nil {
				logger.Error("Presence sweep failed: %v", err)
				continue
			}
			if swept > 0 {
				logger.Info("Presence sweep marked %d user(s) offline", swept)
			}
		case <-ctx.Done():
			return
		}
	}
}
