package bigquery

import (
	"context"
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/budgetflow/internal/logger"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// migrationPattern matches migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// Migration is one schema migration file.
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration is a row of schema_migrations.
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Target names the dataset migrations are applied to.
type Target struct {
	ProjectID      string
	Dataset        string
	LineItemsTable string
}

func (t Target) render(sql string) string {
	table := t.LineItemsTable
	if table == "" {
		table = DefaultLineItemsTable
	}
	return strings.NewReplacer(
		"{{PROJECT_ID}}", t.ProjectID,
		"{{DATASET_ID}}", t.Dataset,
		"{{LINE_ITEMS_TABLE}}", table,
	).Replace(sql)
}

// ReadMigrations parses every migration file in dir of fsys, sorted by
// version. Files not matching NNNN_name.sql are skipped. The checksum covers
// the raw file, before placeholders are replaced.
func ReadMigrations(fsys fs.FS, dir string, target Target) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("ReadMigrations: reading %q: %w", dir, err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := migrationPattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		version, _ := strconv.Atoi(m[1])
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("ReadMigrations: version %04d used by %s and %s", version, prev, e.Name())
		}
		seen[version] = e.Name()

		content, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("ReadMigrations: reading %s: %w", e.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     m[2],
			Filename: e.Name(),
			SQL:      target.render(string(content)),
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Pending returns the migrations whose version has not been applied.
func Pending(all []Migration, applied []AppliedMigration) []Migration {
	done := make(map[int]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
	}

	var pending []Migration
	for _, m := range all {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending
}

// Drifted returns applied migrations whose file has changed since.
func Drifted(all []Migration, applied []AppliedMigration) []Migration {
	sums := make(map[int]string, len(applied))
	for _, a := range applied {
		sums[a.Version] = a.Checksum
	}

	var drifted []Migration
	for _, m := range all {
		if sum, ok := sums[m.Version]; ok && sum != "" && sum != m.Checksum {
			drifted = append(drifted, m)
		}
	}
	return drifted
}

// Migrator applies the embedded schema migrations for the line-item mirror
// and the category taxonomy.
type Migrator struct {
	client    *bigquery.Client
	target    Target
	appliedBy string
}

// NewMigrator creates a migrator for target.
func NewMigrator(client *bigquery.Client, target Target, appliedBy string) *Migrator {
	return &Migrator{client: client, target: target, appliedBy: appliedBy}
}

// Up applies every pending migration in version order and returns how many
// were applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)

	if err := m.ensureSchemaMigrationsTable(ctx); err != nil {
		return 0, fmt.Errorf("Up: ensure schema_migrations: %w", err)
	}

	all, err := ReadMigrations(embeddedMigrations, "migrations", m.target)
	if err != nil {
		return 0, err
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return 0, fmt.Errorf("Up: %w", err)
	}

	for _, d := range Drifted(all, applied) {
		log.Warn().Str("migration", d.Filename).Msg("Applied migration has changed since it ran")
	}

	pending := Pending(all, applied)
	for _, mig := range pending {
		log.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("Applying migration")

		if err := m.exec(ctx, m.client.Query(mig.SQL)); err != nil {
			return 0, fmt.Errorf("Up: migration %s: %w", mig.Filename, err)
		}
		if err := m.record(ctx, mig); err != nil {
			return 0, fmt.Errorf("Up: record %s: %w", mig.Filename, err)
		}
	}
	return len(pending), nil
}

func (m *Migrator) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", m.target.ProjectID, m.target.Dataset, name)
}

func (m *Migrator) ensureSchemaMigrationsTable(ctx context.Context) error {
	q := m.client.Query(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)`, m.table("schema_migrations")))
	return m.exec(ctx, q)
}

func (m *Migrator) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	q := m.client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC`, m.table("schema_migrations")))

	it, err := q.Read(ctx)
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating applied migrations: %w", err)
		}

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

func (m *Migrator) record(ctx context.Context, mig Migration) error {
	q := m.client.Query(fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)`, m.table("schema_migrations")))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: mig.Version},
		{Name: "name", Value: mig.Name},
		{Name: "checksum", Value: mig.Checksum},
		{Name: "applied_by", Value: m.appliedBy},
	}
	return m.exec(ctx, q)
}

func (m *Migrator) exec(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
