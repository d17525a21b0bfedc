package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/budgetflow/internal/api/handlers"
	"github.com/dvloznov/budgetflow/internal/app"
	"github.com/dvloznov/budgetflow/internal/config"
	"github.com/dvloznov/budgetflow/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", "", "Path to YAML config (or set "+config.EnvConfigPath+")")
		addr       = flag.String("addr", "", "HTTP listen address (overrides admin.addr)")
	)
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *addr != "" {
		cfg.Admin.Addr = *addr
	}

	configured, err := logger.NewWithConfig(cfg.LogLevel, cfg.LogFormat, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid logger config")
	}
	log = configured

	ctx := logger.WithContext(context.Background(), log)

	set, err := app.LoadCategories(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load categories")
	}

	led, err := app.OpenLedger(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger")
	}
	defer led.Close()

	server := &http.Server{
		Addr:         cfg.Admin.Addr,
		Handler:      handlers.NewRouter(led, set, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", cfg.Admin.Addr).Str("ledger", cfg.Ledger.Backend).Msg("Starting admin API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
