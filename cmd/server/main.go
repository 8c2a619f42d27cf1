/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Warp Credit Engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the logger, lending policy and business clock
  3. Initialize SQLite store
  4. Create the servicing engine and API handler
  5. Start the overdue sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config     YAML configuration file (optional)
  -port       HTTP server port override
  -db         SQLite database path override
              Use ":memory:" for in-memory database
  -log-level  Log level override (debug, info, warn, error)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper (waits for a running sweep)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -config=./credit.yaml -db="./data/credits.db"

  # Run with in-memory database
  ./server -db=":memory:"

ENVIRONMENT:
  Every configuration key can be overridden with CREDIT_<SECTION>_<KEY>,
  e.g. CREDIT_SERVER_PORT=3000, CREDIT_AUTH_JWT_SECRET=...

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - servicing/service.go: Servicing engine
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/warp/credit-engine/api"
	"github.com/warp/credit-engine/config"
	"github.com/warp/credit-engine/servicing"
	"github.com/warp/credit-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "path to configuration file")
	port := flag.Int("port", 0, "HTTP server port override")
	dbPath := flag.String("db", "", "SQLite database path override")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	logger, err := config.NewLogger(cfg.Logging, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	clock, err := cfg.Clock()
	if err != nil {
		return err
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	svc := servicing.NewService(store, policy,
		servicing.WithClock(clock),
		servicing.WithLogger(logger.Named("servicing")),
		servicing.WithNotifier(&servicing.LogNotifier{Logger: logger.Named("receipts")}))

	handler := api.NewHandler(svc, logger.Named("api"))

	sweeper := api.NewOverdueSweeper(svc, logger.Named("sweeper"))
	sweeper.Schedule = cfg.Sweep.Schedule
	sweeper.Enabled = cfg.Sweep.Enabled
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()
	handler.Sweeper = sweeper

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		JWTSecret:      cfg.Auth.JWTSecret,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("database", cfg.Database.Path),
			zap.String("timezone", clock.Location.String()),
			zap.Bool("jwt_roles", cfg.Auth.JWTSecret != ""))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	}

	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
