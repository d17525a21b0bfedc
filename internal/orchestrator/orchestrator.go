// Package orchestrator runs polling cycles: it discovers customers, processes
// each customer's statements on a bounded worker pool and publishes the
// aggregated results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/budgetflow/internal/aggregate"
	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/extract"
	"github.com/dvloznov/budgetflow/internal/ledger"
	"github.com/dvloznov/budgetflow/internal/logger"
	"github.com/dvloznov/budgetflow/internal/pipeline"
	"github.com/dvloznov/budgetflow/internal/report"
	"github.com/dvloznov/budgetflow/internal/storage"
	"github.com/dvloznov/budgetflow/internal/vendorcache"
)

// Defaults applied by New for zero config values.
const (
	DefaultPollingInterval        = 5 * time.Minute
	DefaultMaxConcurrentCustomers = 3
)

// ErrCustomerPanicked wraps a panic raised while processing a customer.
var ErrCustomerPanicked = errors.New("customer task panicked")

// Clients is one unit of work's set of remote clients. Clients are never
// shared between customer tasks.
type Clients struct {
	Storage storage.Storage
	Sheets  report.Sheets
	// Close releases the clients; may be nil.
	Close func() error
}

// ClientFactory builds a fresh Clients for a unit of work.
type ClientFactory func(ctx context.Context) (Clients, error)

// Config holds the orchestrator settings.
type Config struct {
	RootFolderID           string
	OutputFolder           string
	PollingInterval        time.Duration
	MaxConcurrentCustomers int
	ScratchDir             string
}

// Deps are the collaborators shared by every customer task.
type Deps struct {
	Factory     ClientFactory
	Ledger      ledger.Store
	Extractor   extract.Extractor
	Categories  domain.CategorySet
	VendorCache *vendorcache.Cache
	Mirrors     []report.RawSink
	// PageCount overrides PDF preflight; nil uses pipeline.PDFPageCount.
	PageCount func(path string) (int, error)
}

// Result summarises one customer's cycle.
type Result struct {
	CustomerID            string
	FilesProcessed        int
	FilesDuplicate        int
	FilesFailed           int
	TransactionsExtracted int
	Err                   error
}

// Orchestrator drives polling cycles.
type Orchestrator struct {
	cfg         Config
	deps        Deps
	categorizer *extract.Categorizer
	now         func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = DefaultPollingInterval
	}
	if cfg.MaxConcurrentCustomers <= 0 {
		cfg.MaxConcurrentCustomers = DefaultMaxConcurrentCustomers
	}
	if cfg.OutputFolder == "" {
		cfg.OutputFolder = storage.DefaultOutputFolder
	}

	return &Orchestrator{
		cfg:         cfg,
		deps:        deps,
		categorizer: extract.NewCategorizer(deps.Categories, deps.VendorCache),
		now:         time.Now,
	}
}

// Run executes cycles until ctx is cancelled. A cycle already running when
// ctx is cancelled finishes its in-flight documents first.
func (o *Orchestrator) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("polling_interval", o.cfg.PollingInterval).
		Int("max_concurrent_customers", o.cfg.MaxConcurrentCustomers).
		Msg("Starting orchestrator")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("Orchestrator stopped")
			return nil
		}

		o.RunOnce(ctx)

		timer := time.NewTimer(o.cfg.PollingInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Orchestrator stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunOnce runs a single cycle and logs its summary.
func (o *Orchestrator) RunOnce(ctx context.Context) []Result {
	cycleID := uuid.NewString()
	ctx, log := logger.WithStr(ctx, "cycle_id", cycleID)

	start := o.now()
	results := o.RunCycle(ctx)
	s := Summarize(results)

	log.Info().
		Int("customers", s.Customers).
		Int("files_processed", s.FilesProcessed).
		Int("files_duplicate", s.FilesDuplicate).
		Int("files_failed", s.FilesFailed).
		Int("transactions", s.TransactionsExtracted).
		Dur("elapsed", o.now().Sub(start)).
		Msg("Cycle complete")
	return results
}

// RunCycle discovers customers and processes them on the worker pool. It
// returns nil when discovery fails.
func (o *Orchestrator) RunCycle(ctx context.Context) []Result {
	log := logger.FromContext(ctx)

	customers, err := o.discover(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to discover customers")
		return nil
	}
	if len(customers) == 0 {
		log.Info().Msg("No customers found")
		return nil
	}

	work := context.WithoutCancel(ctx)

	var (
		mu      sync.Mutex
		results = make([]Result, 0, len(customers))
	)

	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrentCustomers)
	for i, c := range customers {
		if ctx.Err() != nil {
			log.Info().Int("skipped", len(customers)-i).Msg("Shutdown requested, not starting remaining customers")
			break
		}
		g.Go(func() error {
			res := o.runCustomer(work, ctx, c)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (o *Orchestrator) discover(ctx context.Context) ([]*domain.Customer, error) {
	clients, err := o.deps.Factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover: create clients: %w", err)
	}
	defer closeClients(ctx, clients)

	return storage.NewDiscovery(clients.Storage, o.cfg.RootFolderID, o.cfg.OutputFolder).Customers(ctx)
}

// runCustomer runs one customer task under work. stop is only consulted
// between documents.
func (o *Orchestrator) runCustomer(work, stop context.Context, c *domain.Customer) (res Result) {
	ctx, log := logger.WithStr(work, "customer_id", c.ID)
	res = Result{CustomerID: c.ID}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Customer task panicked")
			res = Result{CustomerID: c.ID, FilesFailed: 1, Err: fmt.Errorf("%w: %v", ErrCustomerPanicked, r)}
		}
	}()

	log.Info().Msg("Starting customer")
	if err := o.processCustomer(ctx, stop, c, &res); err != nil {
		log.Error().Err(err).Msg("Customer task failed")
		res.Err = err
		if res.FilesProcessed+res.FilesDuplicate+res.FilesFailed == 0 {
			res.FilesFailed = 1
		}
		return res
	}

	log.Info().
		Int("files_processed", res.FilesProcessed).
		Int("files_duplicate", res.FilesDuplicate).
		Int("files_failed", res.FilesFailed).
		Int("transactions", res.TransactionsExtracted).
		Msg("Finished customer")
	return res
}

func (o *Orchestrator) processCustomer(ctx, stop context.Context, c *domain.Customer, res *Result) error {
	log := logger.FromContext(ctx)

	clients, err := o.deps.Factory(ctx)
	if err != nil {
		return fmt.Errorf("create clients: %w", err)
	}
	defer closeClients(ctx, clients)

	if err := storage.EnsureSubfolders(ctx, clients.Storage, c); err != nil {
		return err
	}

	reportID, err := clients.Sheets.GetOrCreateReport(ctx, c)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	docs, err := storage.NewDiscovery(clients.Storage, o.cfg.RootFolderID, o.cfg.OutputFolder).Scan(ctx, c)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		log.Debug().Msg("No new statements")
		return nil
	}

	proc := pipeline.NewProcessor(pipeline.Deps{
		Storage:     clients.Storage,
		Ledger:      o.deps.Ledger,
		Extractor:   o.deps.Extractor,
		Categorizer: o.categorizer,
		ScratchDir:  o.cfg.ScratchDir,
		PageCount:   o.deps.PageCount,
	})

	var (
		items []domain.LineItem
		raw   []report.RawRow
	)
	for i, doc := range docs {
		if stop.Err() != nil {
			log.Info().Int("remaining", len(docs)-i).Msg("Shutdown requested, leaving remaining statements")
			break
		}

		out := proc.Process(ctx, c, doc)
		switch out.Status {
		case pipeline.StatusSucceeded:
			res.FilesProcessed++
			res.TransactionsExtracted += len(out.Items)
			items = append(items, out.Items...)
			raw = append(raw, report.RawRowsFrom(out.Items, doc.Name, o.now())...)
		case pipeline.StatusDuplicate:
			res.FilesDuplicate++
		default:
			res.FilesFailed++
		}
	}

	o.saveVendorCache(ctx, c.ID)

	if len(items) == 0 {
		return nil
	}
	return o.publish(ctx, clients.Sheets, c, reportID, items, raw)
}

func (o *Orchestrator) publish(ctx context.Context, sheets report.Sheets, c *domain.Customer, reportID string, items []domain.LineItem, raw []report.RawRow) error {
	log := logger.FromContext(ctx)

	delta, err := aggregate.Aggregate(items)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}

	pub := report.NewPublisher(sheets, o.deps.Categories)
	if err := pub.PublishBudget(ctx, reportID, delta); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if err := pub.AppendRaw(ctx, reportID, raw); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	log.Info().
		Int("buckets", len(delta)).
		Str("total", delta.Total().StringFixed(2)).
		Int("raw_rows", len(raw)).
		Msg("Published report")

	for _, m := range o.deps.Mirrors {
		if err := m.AppendRaw(ctx, c.ID, raw); err != nil {
			log.Warn().Err(err).Str("mirror", m.Name()).Msg("Failed to mirror raw rows")
		}
	}
	return nil
}

func (o *Orchestrator) saveVendorCache(ctx context.Context, customerID string) {
	if o.deps.VendorCache == nil {
		return
	}
	if err := o.deps.VendorCache.Save(ctx, customerID); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to save vendor cache")
	}
}

func closeClients(ctx context.Context, c Clients) {
	if c.Close == nil {
		return
	}
	if err := c.Close(); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to close clients")
	}
}

// Summary totals a cycle's results.
type Summary struct {
	Customers             int
	FilesProcessed        int
	FilesDuplicate        int
	FilesFailed           int
	TransactionsExtracted int
}

// Summarize adds up results.
func Summarize(results []Result) Summary {
	s := Summary{Customers: len(results)}
	for _, r := range results {
		s.FilesProcessed += r.FilesProcessed
		s.FilesDuplicate += r.FilesDuplicate
		s.FilesFailed += r.FilesFailed
		s.TransactionsExtracted += r.TransactionsExtracted
	}
	return s
}
