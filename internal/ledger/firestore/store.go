// Package firestore stores the ledger in a Cloud Firestore collection so that
// several service instances can share one dedup history.
package firestore

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dvloznov/budgetflow/internal/ledger"
)

// DefaultCollection is used when no collection name is configured.
const DefaultCollection = "processed_files"

type recordDoc struct {
	CustomerID  string    `firestore:"customer_id"`
	FileHash    string    `firestore:"file_hash"`
	FileName    string    `firestore:"file_name"`
	Outcome     string    `firestore:"outcome"`
	ProcessedAt time.Time `firestore:"processed_at"`
}

// Store is a ledger.Store backed by Firestore. Each (customer, hash, outcome)
// is one document, so Set is the upsert.
type Store struct {
	client     *firestore.Client
	collection string
}

var _ ledger.Store = (*Store)(nil)

// New connects to Firestore in projectID.
func New(ctx context.Context, projectID, collection string) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("ledger/firestore: create client: %w", err)
	}
	return NewWithClient(client, collection), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *firestore.Client, collection string) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{client: client, collection: collection}
}

// docID keeps customer names with slashes or spaces usable as document ids.
func docID(customerID, hash string, outcome ledger.Outcome) string {
	return fmt.Sprintf("%s_%s_%s", url.PathEscape(customerID), hash, outcome)
}

func (s *Store) col() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

// IsProcessed is a point read of the success document.
func (s *Store) IsProcessed(ctx context.Context, customerID, hash string) (bool, error) {
	_, err := s.col().Doc(docID(customerID, hash, ledger.OutcomeSuccess)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger/firestore: IsProcessed: %w", err)
	}
	return true, nil
}

// MarkProcessed overwrites the document for the record's key.
func (s *Store) MarkProcessed(ctx context.Context, rec ledger.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec = ledger.Stamp(rec)

	_, err := s.col().Doc(docID(rec.CustomerID, rec.Hash, rec.Outcome)).Set(ctx, recordDoc{
		CustomerID:  rec.CustomerID,
		FileHash:    rec.Hash,
		FileName:    rec.FileName,
		Outcome:     string(rec.Outcome),
		ProcessedAt: rec.ProcessedAt,
	})
	if err != nil {
		return fmt.Errorf("ledger/firestore: MarkProcessed: %w", err)
	}
	return nil
}

// CustomerHistory returns one customer's records, most recent first. Sorting
// happens client-side so no composite index is needed.
func (s *Store) CustomerHistory(ctx context.Context, customerID string) ([]ledger.Record, error) {
	records, _, err := s.collect(ctx, s.col().Where("customer_id", "==", customerID).Documents(ctx))
	return records, err
}

// History returns every record, most recent first.
func (s *Store) History(ctx context.Context) ([]ledger.Record, error) {
	records, _, err := s.collect(ctx, s.col().Documents(ctx))
	return records, err
}

func (s *Store) collect(ctx context.Context, it *firestore.DocumentIterator) ([]ledger.Record, []*firestore.DocumentRef, error) {
	defer it.Stop()

	var (
		records []ledger.Record
		refs    []*firestore.DocumentRef
	)
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("ledger/firestore: iterate: %w", err)
		}

		var d recordDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, nil, fmt.Errorf("ledger/firestore: decode %s: %w", snap.Ref.ID, err)
		}
		records = append(records, ledger.Record{
			CustomerID:  d.CustomerID,
			Hash:        d.FileHash,
			FileName:    d.FileName,
			Outcome:     ledger.Outcome(d.Outcome),
			ProcessedAt: d.ProcessedAt.UTC(),
		})
		refs = append(refs, snap.Ref)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ProcessedAt.After(records[j].ProcessedAt)
	})
	return records, refs, nil
}

// Clear deletes one customer's documents, or the whole collection.
func (s *Store) Clear(ctx context.Context, customerID string) (int64, error) {
	q := s.col().Query
	if customerID != "" {
		q = s.col().Where("customer_id", "==", customerID)
	}
	_, refs, err := s.collect(ctx, q.Documents(ctx))
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("ledger/firestore: queue delete %s: %w", ref.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var deleted int64
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return deleted, fmt.Errorf("ledger/firestore: delete: %w", err)
		}
		deleted++
	}
	return deleted, nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}
