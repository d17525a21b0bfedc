package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/budgetflow/internal/aggregate"
	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/logger"
)

// Publisher applies deltas to the Budget sheet and appends Raw Data rows.
type Publisher struct {
	sheets Sheets
	set    domain.CategorySet
}

// NewPublisher creates a Publisher. set provides ids for new category rows.
func NewPublisher(sheets Sheets, set domain.CategorySet) *Publisher {
	return &Publisher{sheets: sheets, set: set}
}

// PublishBudget adds each bucket amount to its Budget cell. Buckets are
// applied one at a time and every cell is read immediately before it is
// written.
func (p *Publisher) PublishBudget(ctx context.Context, reportID string, delta aggregate.Delta) error {
	if len(delta) == 0 {
		return nil
	}
	log := logger.FromContext(ctx)

	names, err := p.sheets.ReadRange(ctx, reportID, BudgetSheet+"!B:B")
	if err != nil {
		return fmt.Errorf("PublishBudget: read category column: %w", err)
	}

	rowOf := make(map[string]int, len(names))
	for i, r := range names {
		if i == 0 || len(r) == 0 {
			continue
		}
		key := rowKey(r[0])
		if _, dup := rowOf[key]; !dup {
			rowOf[key] = i + 1
		}
	}
	nextRow := len(names) + 1
	if nextRow < 2 {
		nextRow = 2
	}

	for _, b := range delta.Buckets() {
		row, ok := rowOf[rowKey(b.Category)]
		if !ok {
			row = nextRow
			nextRow++

			id := ""
			if c, found := p.set.Lookup(b.Category); found {
				id = c.ID
			}
			rng := fmt.Sprintf("%s!A%d:%s%d", BudgetSheet, row, MonthColumn(12), row)
			if err := p.sheets.WriteRange(ctx, reportID, rng, [][]interface{}{BudgetRow(id, b.Category)}); err != nil {
				return fmt.Errorf("PublishBudget: add row for %q: %w", b.Category, err)
			}
			rowOf[rowKey(b.Category)] = row
			log.Info().Str("category", b.Category).Int("row", row).Msg("Added budget category row")
		}

		cell := fmt.Sprintf("%s!%s%d", BudgetSheet, MonthColumn(b.Month), row)
		current, err := p.sheets.ReadRange(ctx, reportID, cell)
		if err != nil {
			return fmt.Errorf("PublishBudget: read %s: %w", cell, err)
		}

		prev := ParseAmount(firstCell(current))
		next := prev.Add(b.Amount)
		if err := p.sheets.WriteRange(ctx, reportID, cell, [][]interface{}{{next.StringFixed(2)}}); err != nil {
			return fmt.Errorf("PublishBudget: write %s: %w", cell, err)
		}

		log.Debug().
			Str("cell", cell).
			Str("previous", prev.String()).
			Str("delta", b.Amount.String()).
			Str("value", next.StringFixed(2)).
			Msg("Updated budget cell")
	}
	return nil
}

// AppendRaw appends rows to the Raw Data sheet.
func (p *Publisher) AppendRaw(ctx context.Context, reportID string, rows []RawRow) error {
	if len(rows) == 0 {
		return nil
	}

	values := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		values = append(values, r.Values())
	}
	if err := p.sheets.AppendRows(ctx, reportID, RawSheet, values); err != nil {
		return fmt.Errorf("AppendRaw: %w", err)
	}
	return nil
}

func rowKey(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func firstCell(values [][]string) string {
	if len(values) == 0 || len(values[0]) == 0 {
		return ""
	}
	return values[0][0]
}
