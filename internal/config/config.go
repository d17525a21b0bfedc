// Package config loads service configuration from defaults, an optional YAML
// file and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/extract"
	"github.com/dvloznov/budgetflow/internal/logger"
	"github.com/dvloznov/budgetflow/internal/report"
	"github.com/dvloznov/budgetflow/internal/retry"
	"github.com/dvloznov/budgetflow/internal/storage"
	"github.com/dvloznov/budgetflow/internal/vendorcache"
)

// EnvConfigPath names the YAML file when no -config flag is given.
const EnvConfigPath = "BUDGETFLOW_CONFIG"

// Backends.
const (
	StorageDrive = "drive"
	StorageGCS   = "gcs"

	LedgerSQLite    = "sqlite"
	LedgerFirestore = "firestore"
	LedgerDynamoDB  = "dynamodb"

	CategoriesFile     = "file"
	CategoriesBigQuery = "bigquery"
	CategoriesDefault  = "default"
)

// Config defines service configuration.
type Config struct {
	RootFolderID           string `yaml:"root_folder_id"`
	OutputFolderName       string `yaml:"output_folder_name"`
	PollingIntervalMinutes int    `yaml:"polling_interval_minutes"`
	MaxConcurrentCustomers int    `yaml:"max_concurrent_customers"`
	LogLevel               string `yaml:"log_level"`
	LogFormat              string `yaml:"log_format"`
	ScratchDir             string `yaml:"scratch_dir"`
	CategoriesPath         string `yaml:"categories_path"`
	FallbackCategory       string `yaml:"fallback_category"`

	Storage     StorageConfig     `yaml:"storage"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Extraction  ExtractionConfig  `yaml:"extraction"`
	Report      ReportConfig      `yaml:"report"`
	Retry       RetryConfig       `yaml:"retry"`
	Categories  CategoriesConfig  `yaml:"categories"`
	Mirrors     MirrorsConfig     `yaml:"mirrors"`
	VendorCache VendorCacheConfig `yaml:"vendor_cache"`
	Admin       AdminConfig       `yaml:"admin"`
}

type StorageConfig struct {
	Backend         string `yaml:"backend"`
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
}

type LedgerConfig struct {
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
	Table      string `yaml:"table"`
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"`
}

type ExtractionConfig struct {
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
}

type ReportConfig struct {
	Name     string `yaml:"name"`
	FolderID string `yaml:"folder_id"`
}

type RetryConfig struct {
	MaxRetries  int `yaml:"max_retries"`
	BaseDelayMS int `yaml:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms"`
}

type CategoriesConfig struct {
	Source    string `yaml:"source"`
	ProjectID string `yaml:"project_id"`
	Dataset   string `yaml:"dataset"`
}

type MirrorsConfig struct {
	BigQuery BigQueryMirrorConfig `yaml:"bigquery"`
	Notion   NotionMirrorConfig   `yaml:"notion"`
}

type BigQueryMirrorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ProjectID string `yaml:"project_id"`
	Dataset   string `yaml:"dataset"`
	Table     string `yaml:"table"`
}

type NotionMirrorConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"database_id"`
}

type VendorCacheConfig struct {
	Dir       string `yaml:"dir"`
	Threshold int    `yaml:"threshold"`
}

type AdminConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		OutputFolderName:       storage.DefaultOutputFolder,
		PollingIntervalMinutes: 5,
		MaxConcurrentCustomers: 3,
		LogLevel:               "info",
		LogFormat:              logger.FormatConsole,
		ScratchDir:             os.TempDir(),
		FallbackCategory:       domain.DefaultFallbackCategory,
		Storage: StorageConfig{
			Backend: StorageDrive,
		},
		Ledger: LedgerConfig{
			Backend:    LedgerSQLite,
			Path:       "budgetflow.db",
			Collection: "processed_files",
			Table:      "processed_files",
		},
		Extraction: ExtractionConfig{
			Model: extract.DefaultModelName,
		},
		Report: ReportConfig{
			Name: report.DefaultReportName,
		},
		Retry: RetryConfig{
			MaxRetries:  retry.DefaultMaxRetries,
			BaseDelayMS: int(retry.DefaultBaseDelay / time.Millisecond),
			MaxDelayMS:  int(retry.DefaultMaxDelay / time.Millisecond),
		},
		Mirrors: MirrorsConfig{
			BigQuery: BigQueryMirrorConfig{Table: "line_items"},
		},
		VendorCache: VendorCacheConfig{
			Threshold: vendorcache.DefaultThreshold,
		},
		Admin: AdminConfig{
			Addr: ":8080",
		},
	}
}

// Load applies defaults, the YAML file at path (or $BUDGETFLOW_CONFIG when
// path is empty) and environment overrides. It does not validate.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"BUDGETFLOW_ROOT_FOLDER_ID", &cfg.RootFolderID},
		{"BUDGETFLOW_OUTPUT_FOLDER_NAME", &cfg.OutputFolderName},
		{"BUDGETFLOW_LOG_LEVEL", &cfg.LogLevel},
		{"BUDGETFLOW_LOG_FORMAT", &cfg.LogFormat},
		{"BUDGETFLOW_SCRATCH_DIR", &cfg.ScratchDir},
		{"BUDGETFLOW_CATEGORIES_PATH", &cfg.CategoriesPath},
		{"BUDGETFLOW_STORAGE_BACKEND", &cfg.Storage.Backend},
		{"BUDGETFLOW_STORAGE_BUCKET", &cfg.Storage.Bucket},
		{"BUDGETFLOW_CREDENTIALS_FILE", &cfg.Storage.CredentialsFile},
		{"BUDGETFLOW_LEDGER_BACKEND", &cfg.Ledger.Backend},
		{"BUDGETFLOW_LEDGER_PATH", &cfg.Ledger.Path},
		{"BUDGETFLOW_LEDGER_PROJECT_ID", &cfg.Ledger.ProjectID},
		{"BUDGETFLOW_LEDGER_TABLE", &cfg.Ledger.Table},
		{"BUDGETFLOW_LEDGER_REGION", &cfg.Ledger.Region},
		{"BUDGETFLOW_LEDGER_ENDPOINT", &cfg.Ledger.Endpoint},
		{"BUDGETFLOW_MODEL", &cfg.Extraction.Model},
		{"BUDGETFLOW_REPORT_FOLDER_ID", &cfg.Report.FolderID},
		{"BUDGETFLOW_VENDOR_CACHE_DIR", &cfg.VendorCache.Dir},
		{"BUDGETFLOW_ADMIN_ADDR", &cfg.Admin.Addr},
		{"GEMINI_API_KEY", &cfg.Extraction.APIKey},
		{"NOTION_TOKEN", &cfg.Mirrors.Notion.Token},
	}
	for _, s := range strs {
		if v := getenv(s.key); v != "" {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"BUDGETFLOW_POLLING_INTERVAL_MINUTES", &cfg.PollingIntervalMinutes},
		{"BUDGETFLOW_MAX_CONCURRENT_CUSTOMERS", &cfg.MaxConcurrentCustomers},
		{"BUDGETFLOW_MAX_RETRIES", &cfg.Retry.MaxRetries},
	}
	for _, n := range ints {
		v := getenv(n.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", n.key, err)
		}
		*n.dst = parsed
	}
	return nil
}

// Validate reports every invalid setting in one error wrapping
// domain.ErrValidation.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.RootFolderID) == "" {
		add("root_folder_id is required")
	}
	if c.PollingIntervalMinutes < 1 {
		add("polling_interval_minutes must be at least 1")
	}
	if c.MaxConcurrentCustomers < 1 {
		add("max_concurrent_customers must be at least 1")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		add("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", logger.FormatConsole, logger.FormatJSON:
	default:
		add("log_format %q is not one of console, json", c.LogFormat)
	}

	switch c.Storage.Backend {
	case StorageDrive:
	case StorageGCS:
		if c.Storage.Bucket == "" {
			add("storage.bucket is required for the gcs backend")
		}
		if c.Report.FolderID == "" {
			add("report.folder_id is required for the gcs backend")
		}
	default:
		add("storage.backend %q is not one of drive, gcs", c.Storage.Backend)
	}

	switch c.Ledger.Backend {
	case LedgerSQLite:
		if c.Ledger.Path == "" {
			add("ledger.path is required for the sqlite backend")
		}
	case LedgerFirestore:
		if c.Ledger.ProjectID == "" {
			add("ledger.project_id is required for the firestore backend")
		}
		if c.Ledger.Collection == "" {
			add("ledger.collection is required for the firestore backend")
		}
	case LedgerDynamoDB:
		if c.Ledger.Table == "" {
			add("ledger.table is required for the dynamodb backend")
		}
		if c.Ledger.Region == "" {
			add("ledger.region is required for the dynamodb backend")
		}
	default:
		add("ledger.backend %q is not one of sqlite, firestore, dynamodb", c.Ledger.Backend)
	}

	switch c.CategorySource() {
	case CategoriesDefault:
	case CategoriesFile:
		if c.CategoriesPath == "" {
			add("categories_path is required for the file category source")
		}
	case CategoriesBigQuery:
		if c.Categories.ProjectID == "" || c.Categories.Dataset == "" {
			add("categories.project_id and categories.dataset are required for the bigquery category source")
		}
	default:
		add("categories.source %q is not one of file, bigquery, default", c.Categories.Source)
	}

	if c.Retry.MaxRetries < 0 {
		add("retry.max_retries must not be negative")
	}
	if c.Retry.BaseDelayMS <= 0 {
		add("retry.base_delay_ms must be positive")
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		add("retry.max_delay_ms must be at least retry.base_delay_ms")
	}

	if m := c.Mirrors.BigQuery; m.Enabled && (m.ProjectID == "" || m.Dataset == "") {
		add("mirrors.bigquery.project_id and mirrors.bigquery.dataset are required when enabled")
	}
	if m := c.Mirrors.Notion; m.Enabled && (m.Token == "" || m.DatabaseID == "") {
		add("mirrors.notion.token and mirrors.notion.database_id are required when enabled")
	}
	if c.VendorCache.Threshold < 0 {
		add("vendor_cache.threshold must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

// CategorySource resolves the configured taxonomy source. Without an explicit
// source a categories_path selects the file source.
func (c Config) CategorySource() string {
	if c.Categories.Source != "" {
		return c.Categories.Source
	}
	if c.CategoriesPath != "" {
		return CategoriesFile
	}
	return CategoriesDefault
}

// PollingInterval is the wait between cycles.
func (c Config) PollingInterval() time.Duration {
	return time.Duration(c.PollingIntervalMinutes) * time.Minute
}

// RetryPolicy builds the retry policy for external calls.
func (c Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = c.Retry.MaxRetries
	p.BaseDelay = time.Duration(c.Retry.BaseDelayMS) * time.Millisecond
	p.MaxDelay = time.Duration(c.Retry.MaxDelayMS) * time.Millisecond
	return p
}
