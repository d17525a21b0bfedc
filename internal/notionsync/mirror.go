// Package notionsync mirrors raw line items into a Notion database.
package notionsync

import (
	"context"
	"fmt"

	"github.com/dvloznov/budgetflow/internal/logger"
	"github.com/dvloznov/budgetflow/internal/report"
)

// BatchSize is the number of rows logged as one batch.
const BatchSize = 100

// Mirror is a report.RawSink that creates one Notion page per row.
type Mirror struct {
	client     NotionService
	databaseID string
}

var _ report.RawSink = (*Mirror)(nil)

// NewMirror creates a mirror writing into databaseID.
func NewMirror(client NotionService, databaseID string) *Mirror {
	return &Mirror{client: client, databaseID: databaseID}
}

// Name identifies the sink in logs.
func (m *Mirror) Name() string { return "notion" }

// AppendRaw creates a page per row. Rows that fail are logged and skipped;
// the returned error reports how many failed.
func (m *Mirror) AppendRaw(ctx context.Context, customerID string, rows []report.RawRow) error {
	log := logger.FromContext(ctx)

	var created, failed int
	var firstErr error
	for i := 0; i < len(rows); i += BatchSize {
		end := i + BatchSize
		if end > len(rows) {
			end = len(rows)
		}

		log.Debug().
			Int("batch_start", i).
			Int("batch_end", end).
			Msg("Processing batch")

		for _, row := range rows[i:end] {
			props := RawRowToNotionProperties(customerID, row)
			page, err := m.client.CreatePage(ctx, m.databaseID, props)
			if err != nil {
				log.Warn().
					Err(err).
					Str("description", row.Description).
					Msg("Failed to create Notion page")
				failed++
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			log.Debug().
				Str("page_id", string(page.ID)).
				Msg("Created Notion page")
			created++
		}
	}

	log.Info().
		Int("created", created).
		Int("failed", failed).
		Int("total", len(rows)).
		Msg("Notion mirror completed")

	if failed > 0 {
		return fmt.Errorf("AppendRaw: %d of %d pages failed: %w", failed, len(rows), firstErr)
	}
	return nil
}
