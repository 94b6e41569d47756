package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/xelth-com/eckpick/internal/config"
	"github.com/xelth-com/eckpick/internal/database"
	"github.com/xelth-com/eckpick/internal/handlers"
	"github.com/xelth-com/eckpick/internal/metrics"
	"github.com/xelth-com/eckpick/internal/picking"
	"github.com/xelth-com/eckpick/internal/services/odoo"
	"github.com/xelth-com/eckpick/internal/utils"
	"github.com/xelth-com/eckpick/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := utils.NewLogger("", "info")
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := utils.NewLogger(cfg.Env, cfg.LogLevel)

	// 2. Open the session store backend (Detects Embedded vs External PostgreSQL automatically)
	stores, err := database.OpenSessionStores(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("Failed to open session store")
	}

	// 3. Odoo gateway behind a circuit breaker
	client := odoo.NewClient(cfg.Odoo.URL, cfg.Odoo.Database, cfg.Odoo.Username, cfg.Odoo.Password, cfg.Odoo.Timeout)
	gateway := odoo.NewGateway(client, cfg.Zones, odoo.DefaultBreakerConfig(), log)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Odoo.Timeout)
		defer cancel()
		if _, err := client.Authenticate(ctx); err != nil {
			log.Warn().Err(err).Str("url", cfg.Odoo.URL).Msg("⚠️  Odoo login failed, retrying on first call")
			return
		}
		log.Info().Str("url", cfg.Odoo.URL).Msg("✅ Odoo authenticated")
	}()

	// 4. Metrics, websocket hub and picking sessions
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := websocket.NewHub(log)
	go hub.Run(hubCtx)

	sessions := picking.NewManager(picking.Deps{
		Gateway: gateway,
		Zones:   cfg.Zones,
		Timing:  cfg.Timing,
		Locale:  cfg.Locale,
		Retry:   picking.BackoffRetry{Attempts: 3, Initial: time.Second, Max: 10 * time.Second},
		Events:  hub,
		Metrics: collector,
		Logger:  log,
	}, stores.Factory)

	// 5. Set up HTTP router
	router := handlers.NewRouter(handlers.Options{
		Sessions: sessions,
		Hub:      hub,
		Gatherer: reg,
		Health: func() map[string]string {
			return map[string]string{"odoo": gateway.State(), "store": cfg.Store.Backend}
		},
		Logger: log,
	})

	// 6. Start server with graceful shutdown
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Port).Int("zones", len(cfg.Zones)).Msg("🚀 Picking server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Warn().Str("signal", sig.String()).Msg("⚠️  Shutting down gracefully...")

	// Create context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Sessions keep their stores so a restart comes back warm
	sessions.Shutdown()
	stopHub()

	// Close the store (this also stops embedded PostgreSQL)
	log.Info().Msg("🛑 Closing session store...")
	if err := stores.Close(); err != nil {
		log.Error().Err(err).Msg("Session store close error")
	}

	log.Info().Msg("✅ Shutdown complete")
}
