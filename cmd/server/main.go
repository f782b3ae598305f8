/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the intake ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config file, apply flag overrides, validate
  2. Build the logger
  3. Open the store (sqlite, postgres or memory)
  4. Wire Tracker, replay Engine, StatsService, API handler
  5. Start the replay scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    HTTP server port (default: 8080)
  -driver  sqlite | postgres | memory (default: sqlite)
  -db      SQLite path or PostgreSQL DSN (default: intake.db)
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the replay scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  ./server -db="./data/intake.db"
  ./server -driver=postgres -db="host=localhost dbname=intake sslmode=disable"
  ./server -config=intake.yaml -port=3000

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/intake-ledger/api"
	"github.com/warp/intake-ledger/config"
	"github.com/warp/intake-ledger/intake"
	"github.com/warp/intake-ledger/intake/store"
	"github.com/warp/intake-ledger/store/postgres"
	"github.com/warp/intake-ledger/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	driver := flag.String("driver", "", "Store driver: sqlite, postgres or memory (overrides config)")
	dsn := flag.String("db", "", "SQLite path or PostgreSQL DSN (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *driver != "" {
		cfg.Database.Driver = *driver
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	// Initialize store
	st, closeStore, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer closeStore()

	tracker := intake.NewTracker(st, logger)
	engine := intake.NewEngine(st, logger, cfg.Replay.Concurrency)
	stats := intake.NewStatsService(st, loc)
	handler := api.NewHandler(st, tracker, engine, stats, logger)
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	scheduler := api.NewReplayScheduler(engine, logger)
	scheduler.Interval = cfg.Replay.Interval
	scheduler.Enabled = cfg.Replay.Enabled
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", fmt.Sprintf("http://localhost:%d", cfg.Server.Port),
			"driver", cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(db config.DatabaseConfig) (intake.TxStore, func(), error) {
	switch db.Driver {
	case config.DriverPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := postgres.New(ctx, db.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case config.DriverMemory:
		return store.NewMemory(), func() {}, nil
	default:
		s, err := sqlite.New(db.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}
