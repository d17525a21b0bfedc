package main

import (
	"context"
	"flag"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/budgetflow/internal/config"
	infrabq "github.com/dvloznov/budgetflow/internal/infra/bigquery"
	"github.com/dvloznov/budgetflow/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config (or set "+config.EnvConfigPath+")")
		projectID  = flag.String("project", "", "GCP project ID (default: mirrors.bigquery.project_id, then categories.project_id)")
		datasetID  = flag.String("dataset", "", "BigQuery dataset ID (default: mirrors.bigquery.dataset, then categories.dataset)")
		appliedBy  = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	)
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	target := infrabq.Target{
		ProjectID:      firstNonEmpty(*projectID, cfg.Mirrors.BigQuery.ProjectID, cfg.Categories.ProjectID),
		Dataset:        firstNonEmpty(*datasetID, cfg.Mirrors.BigQuery.Dataset, cfg.Categories.Dataset),
		LineItemsTable: cfg.Mirrors.BigQuery.Table,
	}
	if target.ProjectID == "" || target.Dataset == "" {
		log.Fatal().Msg("A project and dataset are required: pass -project and -dataset or configure mirrors.bigquery")
	}

	ctx := logger.WithContext(context.Background(), log)

	client, err := bigquery.NewClient(ctx, target.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	log.Info().Str("project", target.ProjectID).Str("dataset", target.Dataset).Msg("Connected to BigQuery")

	n, err := infrabq.NewMigrator(client, target, *appliedBy).Up(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	if n == 0 {
		log.Info().Msg("No new migrations to apply. Dataset is up to date.")
		return
	}
	log.Info().Int("applied", n).Msg("Applied migrations")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
