// Package app builds the service's collaborators from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/budgetflow/internal/config"
	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/extract"
	infrabq "github.com/dvloznov/budgetflow/internal/infra/bigquery"
	"github.com/dvloznov/budgetflow/internal/ledger"
	ledgerdynamo "github.com/dvloznov/budgetflow/internal/ledger/dynamodb"
	ledgerfs "github.com/dvloznov/budgetflow/internal/ledger/firestore"
	"github.com/dvloznov/budgetflow/internal/ledger/sqlite"
	"github.com/dvloznov/budgetflow/internal/logger"
	"github.com/dvloznov/budgetflow/internal/notionsync"
	"github.com/dvloznov/budgetflow/internal/orchestrator"
	"github.com/dvloznov/budgetflow/internal/report"
	"github.com/dvloznov/budgetflow/internal/report/gsheets"
	"github.com/dvloznov/budgetflow/internal/storage"
	"github.com/dvloznov/budgetflow/internal/storage/drive"
	"github.com/dvloznov/budgetflow/internal/storage/gcs"
	"github.com/dvloznov/budgetflow/internal/vendorcache"
)

// App holds the long-lived collaborators of a running service.
type App struct {
	Config       config.Config
	Ledger       ledger.Store
	Categories   domain.CategorySet
	VendorCache  *vendorcache.Cache
	Orchestrator *orchestrator.Orchestrator

	closers []func() error
}

// New wires every collaborator described by cfg. cfg must already be valid.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	log := logger.FromContext(ctx)

	set, err := LoadCategories(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Int("categories", len(set.Names())).Str("source", cfg.CategorySource()).Msg("Loaded categories")

	led, err := OpenLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Ledger: led, Categories: set}
	a.closers = append(a.closers, led.Close)

	gemini, err := extract.NewGemini(ctx, cfg.Extraction.APIKey, cfg.Extraction.Model, set)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("New: %w", err)
	}

	mirrors, closers, err := NewMirrors(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closers...)

	a.VendorCache = vendorcache.New(cfg.VendorCache.Dir, cfg.VendorCache.Threshold)

	a.Orchestrator = orchestrator.New(
		orchestrator.Config{
			RootFolderID:           cfg.RootFolderID,
			OutputFolder:           cfg.OutputFolderName,
			PollingInterval:        cfg.PollingInterval(),
			MaxConcurrentCustomers: cfg.MaxConcurrentCustomers,
			ScratchDir:             cfg.ScratchDir,
		},
		orchestrator.Deps{
			Factory:     NewClientFactory(cfg, set),
			Ledger:      led,
			Extractor:   extract.WithRetry(gemini, cfg.RetryPolicy()),
			Categories:  set,
			VendorCache: a.VendorCache,
			Mirrors:     mirrors,
		},
	)

	return a, nil
}

// Close releases everything New opened.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// OpenLedger opens the configured ledger backend.
func OpenLedger(ctx context.Context, cfg config.Config) (ledger.Store, error) {
	var (
		st  ledger.Store
		err error
	)
	switch cfg.Ledger.Backend {
	case config.LedgerSQLite:
		st, err = sqlite.New(cfg.Ledger.Path)
	case config.LedgerFirestore:
		st, err = ledgerfs.New(ctx, cfg.Ledger.ProjectID, cfg.Ledger.Collection)
	case config.LedgerDynamoDB:
		st, err = ledgerdynamo.New(ctx, ledgerdynamo.Config{
			Region:   cfg.Ledger.Region,
			Table:    cfg.Ledger.Table,
			Endpoint: cfg.Ledger.Endpoint,
		})
	default:
		return nil, fmt.Errorf("OpenLedger: %w: unknown backend %q", domain.ErrValidation, cfg.Ledger.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("OpenLedger: %s: %w", cfg.Ledger.Backend, err)
	}
	return st, nil
}

// LoadCategories builds the category set from the configured source.
func LoadCategories(ctx context.Context, cfg config.Config) (domain.CategorySet, error) {
	switch cfg.CategorySource() {
	case config.CategoriesFile:
		return domain.LoadCategorySet(cfg.CategoriesPath, cfg.FallbackCategory)
	case config.CategoriesBigQuery:
		return infrabq.LoadCategorySet(ctx, cfg.Categories.ProjectID, cfg.Categories.Dataset, cfg.FallbackCategory)
	case config.CategoriesDefault:
		return domain.NewCategorySet(domain.DefaultCategories, cfg.FallbackCategory)
	default:
		return domain.CategorySet{}, fmt.Errorf("LoadCategories: %w: unknown source %q", domain.ErrValidation, cfg.Categories.Source)
	}
}

// NewStorage opens the configured storage backend wrapped in the retry
// policy. The returned func releases it.
func NewStorage(ctx context.Context, cfg config.Config) (storage.Storage, func() error, error) {
	switch cfg.Storage.Backend {
	case config.StorageDrive:
		st, err := drive.New(ctx, cfg.Storage.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return storage.WithRetry(st, cfg.RetryPolicy()), func() error { return nil }, nil
	case config.StorageGCS:
		st, err := gcs.New(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return storage.WithRetry(st, cfg.RetryPolicy()), st.Close, nil
	default:
		return nil, nil, fmt.Errorf("NewStorage: %w: unknown backend %q", domain.ErrValidation, cfg.Storage.Backend)
	}
}

// ReportLocation decides where customer reports live. Drive customers keep
// the report in their own folder; GCS customers share the configured Drive
// folder.
func ReportLocation(cfg config.Config) gsheets.Location {
	if cfg.Storage.Backend == config.StorageGCS {
		return gsheets.InSharedFolder(cfg.Report.FolderID, cfg.Report.Name)
	}
	return gsheets.InCustomerFolder(cfg.Report.Name)
}

// NewClientFactory returns a factory creating fresh storage and sheets
// clients per unit of work.
func NewClientFactory(cfg config.Config, set domain.CategorySet) orchestrator.ClientFactory {
	locate := ReportLocation(cfg)

	return func(ctx context.Context) (orchestrator.Clients, error) {
		st, closeStorage, err := NewStorage(ctx, cfg)
		if err != nil {
			return orchestrator.Clients{}, fmt.Errorf("ClientFactory: storage: %w", err)
		}

		sheets, err := gsheets.New(ctx, cfg.Storage.CredentialsFile, set, locate)
		if err != nil {
			closeStorage()
			return orchestrator.Clients{}, fmt.Errorf("ClientFactory: sheets: %w", err)
		}

		return orchestrator.Clients{
			Storage: st,
			Sheets:  report.WithRetry(sheets, cfg.RetryPolicy()),
			Close:   closeStorage,
		}, nil
	}
}

// NewMirrors creates the enabled raw-data mirrors.
func NewMirrors(ctx context.Context, cfg config.Config) ([]report.RawSink, []func() error, error) {
	var (
		sinks   []report.RawSink
		closers []func() error
	)

	if m := cfg.Mirrors.BigQuery; m.Enabled {
		sink, err := infrabq.NewLineItemSink(ctx, m.ProjectID, m.Dataset, m.Table)
		if err != nil {
			return nil, nil, fmt.Errorf("NewMirrors: %w", err)
		}
		sinks = append(sinks, sink)
		closers = append(closers, sink.Close)
	}

	if m := cfg.Mirrors.Notion; m.Enabled {
		sinks = append(sinks, notionsync.NewMirror(notionsync.NewNotionClient(m.Token), m.DatabaseID))
	}

	return sinks, closers, nil
}
