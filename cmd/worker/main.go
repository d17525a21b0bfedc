package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/budgetflow/internal/api/handlers"
	"github.com/dvloznov/budgetflow/internal/app"
	"github.com/dvloznov/budgetflow/internal/config"
	"github.com/dvloznov/budgetflow/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config (or set "+config.EnvConfigPath+")")
		admin      = flag.Bool("admin", false, "Also serve the admin API on admin.addr")
	)
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	configured, err := logger.NewWithConfig(cfg.LogLevel, cfg.LogFormat, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid logger config")
	}
	log = configured

	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise service")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to release resources")
		}
	}()

	var server *http.Server
	if *admin {
		server = &http.Server{
			Addr:         cfg.Admin.Addr,
			Handler:      handlers.NewRouter(a.Ledger, a.Categories, log),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.Admin.Addr).Msg("Starting admin API server")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Admin API server stopped")
			}
		}()
	}

	log.Info().
		Str("root_folder_id", cfg.RootFolderID).
		Str("storage", cfg.Storage.Backend).
		Str("ledger", cfg.Ledger.Backend).
		Msg("Starting worker service")

	if err := a.Orchestrator.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Orchestrator stopped with error")
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Admin API forced to shutdown")
		}
	}

	log.Info().Msg("Worker service exited")
}
