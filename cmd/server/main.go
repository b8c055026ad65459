/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the pharmacy supply ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Build the zap logger
  3. Open the SQLite store (runs migrations)
  4. Create API handler and router
  5. Start the ledger audit scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the audit scheduler
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/supply.db"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - config/config.go: environment keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/supply-ledger/api"
	"github.com/warp/supply-ledger/config"
	"github.com/warp/supply-ledger/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Flags
	port := flag.Int("port", cfg.Server.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.SQLite.Path, "SQLite database path")
	flag.Parse()
	cfg.Server.Port = *port
	cfg.SQLite.Path = *dbPath
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	store, err := sqlite.Open(cfg.SQLite.Path, sqlite.Options{
		MaxOpenConns:  cfg.SQLite.MaxOpenConns,
		BusyTimeoutMS: cfg.SQLite.BusyTimeoutMS,
	})
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	handler := api.NewHandler(store, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		JWTSecret:      cfg.JWT.Secret,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	scheduler := api.NewAuditScheduler(store, logger)
	scheduler.Interval = cfg.Audit.Interval
	scheduler.Enabled = cfg.Audit.Enabled
	scheduler.Start()
	defer scheduler.Stop()

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
			zap.Int("port", cfg.Server.Port),
			zap.String("db", cfg.SQLite.Path),
			zap.String("env", cfg.Server.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
