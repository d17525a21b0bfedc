// Package sqlite is the default ledger backend: a single local database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dvloznov/budgetflow/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed_files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    customer_id TEXT NOT NULL,
    file_hash TEXT NOT NULL,
    file_name TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL CHECK(outcome IN ('success', 'failed')),
    processed_at INTEGER NOT NULL,
    UNIQUE(customer_id, file_hash, outcome)
);
CREATE INDEX IF NOT EXISTS idx_processed_customer ON processed_files(customer_id, processed_at);
`

// Store is a ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

// New opens (creating if needed) the ledger database at dsn and applies the schema.
// ":memory:" gives a private in-memory ledger.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger/sqlite: open %q: %w", dsn, err)
	}

	// One connection serialises writers from concurrent customer workers and
	// keeps an in-memory database alive for the life of the store.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger/sqlite: set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger/sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger/sqlite: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// IsProcessed reports whether a success record exists for the key.
func (s *Store) IsProcessed(ctx context.Context, customerID, hash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_files WHERE customer_id = ? AND file_hash = ? AND outcome = ? LIMIT 1`,
		customerID, hash, string(ledger.OutcomeSuccess),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger/sqlite: IsProcessed: %w", err)
	}
	return true, nil
}

// MarkProcessed upserts rec keyed by (customer, hash, outcome).
func (s *Store) MarkProcessed(ctx context.Context, rec ledger.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec = ledger.Stamp(rec)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_files (customer_id, file_hash, file_name, outcome, processed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(customer_id, file_hash, outcome) DO UPDATE SET
			file_name = excluded.file_name,
			processed_at = excluded.processed_at`,
		rec.CustomerID, rec.Hash, rec.FileName, string(rec.Outcome), rec.ProcessedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("ledger/sqlite: MarkProcessed: %w", err)
	}
	return nil
}

// CustomerHistory returns one customer's records, most recent first.
func (s *Store) CustomerHistory(ctx context.Context, customerID string) ([]ledger.Record, error) {
	return s.query(ctx, `
		SELECT customer_id, file_hash, file_name, outcome, processed_at
		FROM processed_files
		WHERE customer_id = ?
		ORDER BY processed_at DESC, id DESC`, customerID)
}

// History returns every record, most recent first.
func (s *Store) History(ctx context.Context) ([]ledger.Record, error) {
	return s.query(ctx, `
		SELECT customer_id, file_hash, file_name, outcome, processed_at
		FROM processed_files
		ORDER BY processed_at DESC, id DESC`)
}

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]ledger.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger/sqlite: query history: %w", err)
	}
	defer rows.Close()

	var records []ledger.Record
	for rows.Next() {
		var (
			rec     ledger.Record
			outcome string
			nanos   int64
		)
		if err := rows.Scan(&rec.CustomerID, &rec.Hash, &rec.FileName, &outcome, &nanos); err != nil {
			return nil, fmt.Errorf("ledger/sqlite: scan history: %w", err)
		}
		rec.Outcome = ledger.Outcome(outcome)
		rec.ProcessedAt = time.Unix(0, nanos).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger/sqlite: iterate history: %w", err)
	}
	return records, nil
}

// Clear deletes one customer's records, or every record for an empty id.
func (s *Store) Clear(ctx context.Context, customerID string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if customerID == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM processed_files`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM processed_files WHERE customer_id = ?`, customerID)
	}
	if err != nil {
		return 0, fmt.Errorf("ledger/sqlite: Clear: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger/sqlite: Clear rows affected: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
