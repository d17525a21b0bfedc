package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/budgetflow/internal/app"
	"github.com/dvloznov/budgetflow/internal/config"
	"github.com/dvloznov/budgetflow/internal/extract"
	"github.com/dvloznov/budgetflow/internal/ledger"
	"github.com/dvloznov/budgetflow/internal/logger"
	"github.com/dvloznov/budgetflow/internal/orchestrator"
	"github.com/dvloznov/budgetflow/internal/pipeline"
	"github.com/dvloznov/budgetflow/internal/storage/gcs"
	"github.com/dvloznov/budgetflow/internal/vendorcache"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run-once":
		runOnce(log)
	case "history":
		runHistory(log)
	case "clear":
		runClear(log)
	case "hash":
		runHash(log)
	case "upload":
		runUpload(log)
	case "extract":
		runExtract(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("BudgetFlow CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  run-once  Run a single processing cycle over every customer")
	fmt.Println("  history   List processed-file ledger records")
	fmt.Println("  clear     Purge ledger records for one customer or all customers")
	fmt.Println("  hash      Print the SHA-256 used to deduplicate a statement")
	fmt.Println("  upload    Upload a statement into a customer folder (GCS backend)")
	fmt.Println("  extract   Extract and categorise a local statement without touching any state")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// loadConfig loads the layered config and switches to the configured logger.
func loadConfig(log zerolog.Logger, path string) (config.Config, zerolog.Logger) {
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	configured, err := logger.NewWithConfig(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid logger config")
	}
	return cfg, configured
}

func openLedger(ctx context.Context, log zerolog.Logger, cfg config.Config) ledger.Store {
	led, err := app.OpenLedger(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger")
	}
	return led
}

func runOnce(log zerolog.Logger) {
	fs := flag.NewFlagSet("run-once", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config")
	fs.Parse(os.Args[2:])

	cfg, log := loadConfig(log, *configPath)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise service")
	}
	results := a.Orchestrator.RunOnce(ctx)
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to release resources")
	}

	printResults(results)

	for _, r := range results {
		if r.Err != nil {
			os.Exit(1)
		}
	}
}

func printResults(results []orchestrator.Result) {
	sort.Slice(results, func(i, j int) bool { return results[i].CustomerID < results[j].CustomerID })

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Customer", "Processed", "Duplicate", "Failed", "Transactions", "Error"})
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		table.Append([]string{
			r.CustomerID,
			strconv.Itoa(r.FilesProcessed),
			strconv.Itoa(r.FilesDuplicate),
			strconv.Itoa(r.FilesFailed),
			strconv.Itoa(r.TransactionsExtracted),
			errText,
		})
	}

	s := orchestrator.Summarize(results)
	table.SetFooter([]string{
		fmt.Sprintf("%d customers", s.Customers),
		strconv.Itoa(s.FilesProcessed),
		strconv.Itoa(s.FilesDuplicate),
		strconv.Itoa(s.FilesFailed),
		strconv.Itoa(s.TransactionsExtracted),
		"",
	})
	table.Render()
}

func runHistory(log zerolog.Logger) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config")
	customerID := fs.String("customer", "", "Only show this customer (default: all)")
	fs.Parse(os.Args[2:])

	cfg, log := loadConfig(log, *configPath)
	ctx := logger.WithContext(context.Background(), log)

	led := openLedger(ctx, log, cfg)
	defer led.Close()

	var (
		records []ledger.Record
		err     error
	)
	if *customerID == "" {
		records, err = led.History(ctx)
	} else {
		records, err = led.CustomerHistory(ctx, *customerID)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read ledger")
	}

	if len(records) == 0 {
		fmt.Println("No processed files recorded.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Customer", "File", "Outcome", "Processed At", "Hash"})
	for _, r := range records {
		table.Append([]string{
			r.CustomerID,
			r.FileName,
			string(r.Outcome),
			r.ProcessedAt.Local().Format(time.DateTime),
			shortHash(r.Hash),
		})
	}
	table.Render()
	fmt.Printf("%d records\n", len(records))
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func runClear(log zerolog.Logger) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config")
	customerID := fs.String("customer", "", "Customer whose records are purged")
	all := fs.Bool("all", false, "Purge every customer's records")
	fs.Parse(os.Args[2:])

	if (*customerID == "") == !*all {
		log.Fatal().Msg("Usage: cli clear -customer ID | -all")
	}

	cfg, log := loadConfig(log, *configPath)
	ctx := logger.WithContext(context.Background(), log)

	led := openLedger(ctx, log, cfg)
	defer led.Close()

	n, err := led.Clear(ctx, *customerID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to clear ledger")
	}

	if *all {
		fmt.Printf("Cleared %d records for all customers.\n", n)
		return
	}
	fmt.Printf("Cleared %d records for %s.\n", n, *customerID)
}

func runHash(log zerolog.Logger) {
	fs := flag.NewFlagSet("hash", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to local file")
	fs.Parse(os.Args[2:])

	if *filePath == "" {
		log.Fatal().Msg("Usage: cli hash -file PATH")
	}

	h, err := ledger.HashFile(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash file")
	}
	fmt.Printf("%s  %s\n", h, *filePath)
}

func runUpload(log zerolog.Logger) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config")
	customerID := fs.String("customer", "", "Customer folder name")
	filePath := fs.String("file", "", "Path to local statement")
	fs.Parse(os.Args[2:])

	if *customerID == "" || *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -customer NAME -file PATH")
	}

	cfg, log := loadConfig(log, *configPath)
	if cfg.Storage.Backend != config.StorageGCS {
		log.Fatal().Str("backend", cfg.Storage.Backend).Msg("upload requires the gcs storage backend")
	}
	if cfg.Storage.Bucket == "" {
		log.Fatal().Msg("storage.bucket is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store, err := gcs.New(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage client")
	}
	defer store.Close()

	folderID, found, err := store.FindFolder(ctx, cfg.RootFolderID, *customerID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to look up customer folder")
	}
	if !found {
		if folderID, err = store.CreateFolder(ctx, cfg.RootFolderID, *customerID); err != nil {
			log.Fatal().Err(err).Msg("Failed to create customer folder")
		}
	}

	log.Info().
		Str("bucket", cfg.Storage.Bucket).
		Str("customer_id", *customerID).
		Str("file", *filePath).
		Msg("Uploading statement")

	object, err := store.Upload(ctx, folderID, *filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Printf("Uploaded %s to gs://%s/%s\n", *filePath, cfg.Storage.Bucket, object)
}

func runExtract(log zerolog.Logger) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config")
	filePath := fs.String("file", "", "Path to local statement (PDF or image)")
	customerID := fs.String("customer", "", "Apply this customer's vendor cache (read-only)")
	fs.Parse(os.Args[2:])

	if *filePath == "" {
		log.Fatal().Msg("Usage: cli extract -file PATH [-customer NAME]")
	}

	cfg, log := loadConfig(log, *configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	if strings.EqualFold(filepath.Ext(*filePath), ".pdf") {
		pages, err := pipeline.PDFPageCount(*filePath)
		if err != nil {
			log.Fatal().Err(err).Msg("PDF preflight failed")
		}
		log.Info().Int("pages", pages).Msg("PDF preflight passed")
	}

	set, err := app.LoadCategories(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load categories")
	}

	gemini, err := extract.NewGemini(ctx, cfg.Extraction.APIKey, cfg.Extraction.Model, set)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create extractor")
	}

	items, err := extract.WithRetry(gemini, cfg.RetryPolicy()).Extract(ctx, *filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Extraction failed")
	}

	var cache *vendorcache.Cache
	if *customerID != "" {
		cache = vendorcache.New(cfg.VendorCache.Dir, cfg.VendorCache.Threshold)
	}
	extract.NewCategorizer(set, cache).Assign(ctx, *customerID, items)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Date", "Description", "Amount", "Category"})
	total := decimal.Zero
	for _, it := range items {
		table.Append([]string{
			it.Date.Format(time.DateOnly),
			it.Description,
			it.Amount.StringFixed(2),
			it.Category,
		})
		total = total.Add(it.Amount)
	}
	table.SetFooter([]string{"", fmt.Sprintf("%d items", len(items)), total.StringFixed(2), ""})
	table.Render()
}
