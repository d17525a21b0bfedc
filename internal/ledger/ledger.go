// Package ledger records which statement contents have been processed for
// which customer, keyed by the SHA-256 of the file bytes.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// HashChunkSize is the read size used while hashing.
const HashChunkSize = 64 * 1024

// Outcome is the result recorded for one processing attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailed
}

// ErrInvalidRecord is returned by MarkProcessed for incomplete records.
var ErrInvalidRecord = errors.New("ledger: invalid record")

// Record is one ledger row. Records are unique per (CustomerID, Hash, Outcome);
// writing the same key again replaces FileName and ProcessedAt.
type Record struct {
	CustomerID  string    `json:"customer_id"`
	Hash        string    `json:"file_hash"`
	FileName    string    `json:"file_name"`
	Outcome     Outcome   `json:"outcome"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Validate checks the fields every backend relies on.
func (r Record) Validate() error {
	switch {
	case r.CustomerID == "":
		return fmt.Errorf("%w: customer id is required", ErrInvalidRecord)
	case r.Hash == "":
		return fmt.Errorf("%w: hash is required", ErrInvalidRecord)
	case !r.Outcome.Valid():
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidRecord, r.Outcome)
	}
	return nil
}

// Store is the durable dedup ledger. Implementations must be safe for
// concurrent use by workers handling different customers.
type Store interface {
	// IsProcessed is true iff a success record exists for exactly this key.
	IsProcessed(ctx context.Context, customerID, hash string) (bool, error)
	// MarkProcessed upserts rec; duplicates are never an error.
	MarkProcessed(ctx context.Context, rec Record) error
	// CustomerHistory returns the customer's records, most recent first.
	CustomerHistory(ctx context.Context, customerID string) ([]Record, error)
	// History returns every record, most recent first.
	History(ctx context.Context) ([]Record, error)
	// Clear deletes the customer's records, or all records when customerID
	// is empty, and returns how many were removed.
	Clear(ctx context.Context, customerID string) (int64, error)
	Close() error
}

// HashReader returns the hex SHA-256 of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, HashChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("HashReader: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("HashFile: open %q: %w", path, err)
	}
	defer f.Close()

	return HashReader(f)
}

// stamp fills ProcessedAt for records written without one.
func stamp(rec Record, now func() time.Time) Record {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = now()
	}
	rec.ProcessedAt = rec.ProcessedAt.UTC()
	return rec
}

// Stamp is the exported form of stamp used by backends in sub-packages.
func Stamp(rec Record) Record {
	return stamp(rec, time.Now)
}
