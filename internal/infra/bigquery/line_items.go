// Package bigquery mirrors raw line items into BigQuery and loads the
// category taxonomy from it.
package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/dvloznov/budgetflow/internal/logger"
	"github.com/dvloznov/budgetflow/internal/report"
)

// DefaultLineItemsTable is used when no table name is configured.
const DefaultLineItemsTable = "line_items"

// LineItemRow is one row of the line_items table.
type LineItemRow struct {
	LineItemID string `bigquery:"line_item_id"` // REQUIRED
	CustomerID string `bigquery:"customer_id"`  // REQUIRED

	TransactionDate civil.Date `bigquery:"transaction_date"` // REQUIRED
	Amount          *big.Rat   `bigquery:"amount"`           // REQUIRED NUMERIC

	RawDescription string              `bigquery:"raw_description"` // REQUIRED
	CategoryName   bigquery.NullString `bigquery:"category_name"`   // NULLABLE

	SourceFile  string    `bigquery:"source_file"`  // REQUIRED
	ProcessedTS time.Time `bigquery:"processed_ts"` // REQUIRED
}

// Save implements bigquery.ValueSaver. The row id is also the insert id.
func (r *LineItemRow) Save() (map[string]bigquery.Value, string, error) {
	return map[string]bigquery.Value{
		"line_item_id":     r.LineItemID,
		"customer_id":      r.CustomerID,
		"transaction_date": r.TransactionDate,
		"amount":           r.Amount,
		"raw_description":  r.RawDescription,
		"category_name":    r.CategoryName,
		"source_file":      r.SourceFile,
		"processed_ts":     r.ProcessedTS,
	}, r.LineItemID, nil
}

// rowInserter is satisfied by *bigquery.Inserter.
type rowInserter interface {
	Put(ctx context.Context, src interface{}) error
}

// LineItemSink is a report.RawSink backed by a BigQuery table.
type LineItemSink struct {
	client   *bigquery.Client
	inserter rowInserter
	newID    func() string
}

var _ report.RawSink = (*LineItemSink)(nil)

// NewLineItemSink creates a sink that streams rows into projectID.dataset.table.
func NewLineItemSink(ctx context.Context, projectID, dataset, table string) (*LineItemSink, error) {
	if table == "" {
		table = DefaultLineItemsTable
	}

	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewLineItemSink: bigquery client: %w", err)
	}

	return &LineItemSink{
		client:   client,
		inserter: client.DatasetInProject(projectID, dataset).Table(table).Inserter(),
		newID:    uuid.NewString,
	}, nil
}

func newLineItemSink(ins rowInserter) *LineItemSink {
	return &LineItemSink{inserter: ins, newID: uuid.NewString}
}

// Name identifies the sink in logs.
func (s *LineItemSink) Name() string { return "bigquery" }

// AppendRaw inserts one row per raw row.
func (s *LineItemSink) AppendRaw(ctx context.Context, customerID string, rows []report.RawRow) error {
	if len(rows) == 0 {
		return nil
	}

	out := toLineItemRows(customerID, rows, s.newID)
	if err := s.inserter.Put(ctx, out); err != nil {
		return fmt.Errorf("AppendRaw: inserting %d rows: %w", len(out), err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("customer_id", customerID).
		Int("rows", len(out)).
		Msg("Mirrored line items to BigQuery")
	return nil
}

// Close releases the BigQuery client.
func (s *LineItemSink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func toLineItemRows(customerID string, rows []report.RawRow, newID func() string) []*LineItemRow {
	out := make([]*LineItemRow, 0, len(rows))
	for _, r := range rows {
		row := &LineItemRow{
			LineItemID:      newID(),
			CustomerID:      customerID,
			TransactionDate: civil.DateOf(r.Date),
			Amount:          r.Amount.Rat(),
			RawDescription:  r.Description,
			SourceFile:      r.SourceFile,
			ProcessedTS:     r.ProcessedAt.UTC(),
		}
		if r.Category != "" {
			row.CategoryName = bigquery.NullString{StringVal: r.Category, Valid: true}
		}
		out = append(out, row)
	}
	return out
}
