package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/budgetflow/internal/domain"
)

func validConfig() Config {
	cfg := Default()
	cfg.RootFolderID = "root-folder"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "Outputs", cfg.OutputFolderName)
	assert.Equal(t, 5, cfg.PollingIntervalMinutes)
	assert.Equal(t, 3, cfg.MaxConcurrentCustomers)
	assert.Equal(t, StorageDrive, cfg.Storage.Backend)
	assert.Equal(t, LedgerSQLite, cfg.Ledger.Backend)
	assert.Equal(t, "budgetflow.db", cfg.Ledger.Path)
	assert.Equal(t, "gemini-2.5-flash", cfg.Extraction.Model)
	assert.Equal(t, "BudgetFlow Report", cfg.Report.Name)
	assert.Equal(t, 3, cfg.VendorCache.Threshold)
	assert.Equal(t, ":8080", cfg.Admin.Addr)
	assert.Equal(t, 5*time.Minute, cfg.PollingInterval())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "budgetflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
root_folder_id: from-file
max_concurrent_customers: 5
storage:
  backend: gcs
  bucket: statements
ledger:
  backend: dynamodb
  table: ledger
  region: eu-west-1
mirrors:
  notion:
    enabled: true
    database_id: db-1
`), 0o600))

	t.Setenv(EnvConfigPath, "")
	t.Setenv("BUDGETFLOW_ROOT_FOLDER_ID", "from-env")
	t.Setenv("BUDGETFLOW_MAX_RETRIES", "2")
	t.Setenv("NOTION_TOKEN", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.RootFolderID, "env overrides file")
	assert.Equal(t, 5, cfg.MaxConcurrentCustomers)
	assert.Equal(t, 5, cfg.PollingIntervalMinutes, "defaults survive")
	assert.Equal(t, StorageGCS, cfg.Storage.Backend)
	assert.Equal(t, "statements", cfg.Storage.Bucket)
	assert.Equal(t, LedgerDynamoDB, cfg.Ledger.Backend)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, "secret", cfg.Mirrors.Notion.Token)
	assert.True(t, cfg.Mirrors.Notion.Enabled)
}

func TestLoad_PathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("root_folder_id: via-env-path\n"), 0o600))
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "via-env-path", cfg.RootFolderID)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv(EnvConfigPath, "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("root_folder_id: [unclosed"), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)

	t.Setenv("BUDGETFLOW_MAX_CONCURRENT_CUSTOMERS", "many")
	_, err = Load("")
	assert.ErrorContains(t, err, "BUDGETFLOW_MAX_CONCURRENT_CUSTOMERS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "no root", mutate: func(c *Config) { c.RootFolderID = " " }, wantErr: "root_folder_id"},
		{name: "zero pool", mutate: func(c *Config) { c.MaxConcurrentCustomers = 0 }, wantErr: "max_concurrent_customers"},
		{name: "zero interval", mutate: func(c *Config) { c.PollingIntervalMinutes = 0 }, wantErr: "polling_interval_minutes"},
		{name: "bad level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log_level"},
		{name: "bad format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "log_format"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "s3" }, wantErr: "storage.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) {
			c.Storage.Backend = StorageGCS
			c.Report.FolderID = "shared"
		}, wantErr: "storage.bucket"},
		{name: "gcs without report folder", mutate: func(c *Config) {
			c.Storage.Backend = StorageGCS
			c.Storage.Bucket = "b"
		}, wantErr: "report.folder_id"},
		{name: "unknown ledger", mutate: func(c *Config) { c.Ledger.Backend = "redis" }, wantErr: "ledger.backend"},
		{name: "firestore without project", mutate: func(c *Config) { c.Ledger.Backend = LedgerFirestore }, wantErr: "ledger.project_id"},
		{name: "dynamodb without region", mutate: func(c *Config) { c.Ledger.Backend = LedgerDynamoDB }, wantErr: "ledger.region"},
		{name: "file source without path", mutate: func(c *Config) { c.Categories.Source = CategoriesFile }, wantErr: "categories_path"},
		{name: "bigquery source without dataset", mutate: func(c *Config) { c.Categories.Source = CategoriesBigQuery }, wantErr: "categories.project_id"},
		{name: "negative retries", mutate: func(c *Config) { c.Retry.MaxRetries = -1 }, wantErr: "retry.max_retries"},
		{name: "max below base", mutate: func(c *Config) { c.Retry.MaxDelayMS = 10 }, wantErr: "retry.max_delay_ms"},
		{name: "bigquery mirror incomplete", mutate: func(c *Config) { c.Mirrors.BigQuery.Enabled = true }, wantErr: "mirrors.bigquery"},
		{name: "notion mirror incomplete", mutate: func(c *Config) { c.Mirrors.Notion.Enabled = true }, wantErr: "mirrors.notion"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.MaxConcurrentCustomers = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root_folder_id")
	assert.Contains(t, err.Error(), "max_concurrent_customers")
}

func TestCategorySource(t *testing.T) {
	cfg := Default()
	assert.Equal(t, CategoriesDefault, cfg.CategorySource())

	cfg.CategoriesPath = "categories.json"
	assert.Equal(t, CategoriesFile, cfg.CategorySource())

	cfg.Categories.Source = CategoriesBigQuery
	assert.Equal(t, CategoriesBigQuery, cfg.CategorySource())
}

func TestRetryPolicy(t *testing.T) {
	cfg := Default()
	cfg.Retry = RetryConfig{MaxRetries: 2, BaseDelayMS: 250, MaxDelayMS: 4000}

	p := cfg.RetryPolicy()
	assert.Equal(t, 2, p.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 4*time.Second, p.MaxDelay)
	assert.Equal(t, 2.0, p.Multiplier)
}
