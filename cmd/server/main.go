/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the mass-balance ledger server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Resolve configuration (defaults, optional file, MASSBALANCE_* env)
  2. Set up structured logging
  3. Open the SQLite store
  4. Construct the ledger engine (replays the event log)
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Optional path to a config file (JSON/YAML/TOML via viper)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with defaults (massbalance.db, port 8080)
  ./server

  # Run with a config file
  ./server -config=./massbalance.yaml

  # Override a single knob from the environment
  MASSBALANCE_PORT=3000 ./server

SEE ALSO:
  - config/config.go: Configuration resolution
  - api/server.go: Router configuration
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

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/certflow/massbalance-engine/api"
	"github.com/certflow/massbalance-engine/config"
	"github.com/certflow/massbalance-engine/ledger"
	"github.com/certflow/massbalance-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.DBPath).Msg("failed to open database")
	}
	defer store.Close()

	engine, err := ledger.NewEngine(context.Background(), store, ledger.Config{
		SystemPoolID:           ledger.PoolID(cfg.SystemPoolID),
		Tolerance:              decimal.NewFromFloat(cfg.Tolerance),
		RejectBoundViolations:  cfg.RejectBoundViolations,
		CarbonFactor:           decimal.NewFromFloat(cfg.CarbonFactor),
		SliceWidth:             cfg.SliceWidth,
		MinSustainabilityRatio: decimal.NewFromFloat(cfg.MinSustainabilityRatio),
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct ledger engine")
	}

	handler := api.NewHandler(engine)
	router := api.NewRouter(handler, log)

	if cfg.SliceWidth > 0 {
		roller := api.NewSliceRoller(engine, log)
		roller.Start()
		defer roller.Stop()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
