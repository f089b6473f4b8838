/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the feedlot operations server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from environment (.env supported)
  2. Initialize structured logger
  3. Initialize SQLite store
  4. Wire domain services (plans, resolver, ledger, audit, inventory)
  5. Start expiry alert scheduler
  6. Start HTTP server with graceful shutdown

CONFIGURATION:
  APP_PORT                 HTTP server port (default: 8080)
  DB_PATH                  SQLite database path (default: feedlot.db)
                           Use ":memory:" for in-memory database
  CORRECTION_WINDOW_DAYS   Amendment window for non-elevated actors (default: 7)
  ALERT_CRON_SCHEDULE      Cron expression for the expiry scan (default: 0 6 * * *)
  ALERT_WINDOW_DAYS        Look-ahead window for expiry alerts (default: 30)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the alert scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  DB_PATH=./data/feedlot.db ./server

  # Run with in-memory database
  DB_PATH=":memory:" ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/feedlot-engine/alerts"
	"github.com/warp/feedlot-engine/api"
	"github.com/warp/feedlot-engine/config"
	"github.com/warp/feedlot-engine/feeding"
	"github.com/warp/feedlot-engine/inventory"
	"github.com/warp/feedlot-engine/logger"
	"github.com/warp/feedlot-engine/store/sqlite"
)

func main() {
	envFile := flag.String("env", "", "optional .env file path")
	flag.Parse()

	log := logger.Must(logger.New())
	defer log.Sync()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	// Initialize store
	store, err := sqlite.New(cfg.Store.DBPath)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Wire domain services
	engine := inventory.NewEngine(store)
	view := inventory.NewView(store)
	plans := feeding.NewPlanService(store)
	resolver := &feeding.DayResolver{Store: store}
	ledger := feeding.NewExecutionLedger(store, engine)
	audit := feeding.NewCorrectionAudit(store, engine, feeding.WindowPolicy{
		Window: cfg.Audit.CorrectionWindow,
	})

	handler := api.NewHandler(api.Services{
		Store:    store,
		Tx:       store,
		Plans:    plans,
		Resolver: resolver,
		Ledger:   ledger,
		Audit:    audit,
		Engine:   engine,
		View:     view,
	}, logger.Named(log, "api"))

	router := api.NewRouter(handler)

	// Expiry alert scheduler
	scheduler := alerts.NewScheduler(view, cfg.Alerts.CronSchedule,
		cfg.Alerts.WindowDays, logger.Named(log, "alerts"))
	if err := scheduler.Start(); err != nil {
		log.Fatal("failed to start alert scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
