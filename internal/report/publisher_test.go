package report_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/dvloznov/budgetflow/internal/aggregate"
	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/report"
	"github.com/dvloznov/budgetflow/internal/report/reporttest"
	"github.com/dvloznov/budgetflow/internal/retry"
)

func categories(t *testing.T) domain.CategorySet {
	t.Helper()
	set, err := domain.NewCategorySet([]domain.Category{
		{ID: "1", Name: "Food"},
		{ID: "2", Name: "Transport"},
	}, "Other")
	require.NoError(t, err)
	return set
}

func newReport(t *testing.T, sheets *reporttest.Sheets) string {
	t.Helper()
	id, err := sheets.GetOrCreateReport(context.Background(), &domain.Customer{ID: "Acme"})
	require.NoError(t, err)
	return id
}

func TestPublishBudget_AcmeDelta(t *testing.T) {
	ctx := context.Background()
	set := categories(t)
	sheets := reporttest.New(set)
	id := newReport(t, sheets)

	delta := aggregate.Delta{
		{Category: "Food", Month: time.May}:  decimal.RequireFromString("-100.00"),
		{Category: "Food", Month: time.June}: decimal.RequireFromString("-50.00"),
	}

	pub := report.NewPublisher(sheets, set)
	require.NoError(t, pub.PublishBudget(ctx, id, delta))

	assert.Equal(t, "-100.00", sheets.Cell(id, "Budget!G2"))
	assert.Equal(t, "-50.00", sheets.Cell(id, "Budget!H2"))
	assert.Equal(t, "0", sheets.Cell(id, "Budget!G3"), "other categories untouched")
}

func TestPublishBudget_AddsToExistingValue(t *testing.T) {
	ctx := context.Background()
	set := categories(t)
	sheets := reporttest.New(set)
	id := newReport(t, sheets)

	// A formatted value entered by hand.
	sheets.SetCell(id, "Budget!C3", "₪1,000.50")

	delta := aggregate.Delta{{Category: "Transport", Month: time.January}: decimal.RequireFromString("-0.50")}
	require.NoError(t, report.NewPublisher(sheets, set).PublishBudget(ctx, id, delta))

	assert.Equal(t, "1000.00", sheets.Cell(id, "Budget!C3"))
}

func TestPublishBudget_RepeatedPublishAccumulates(t *testing.T) {
	ctx := context.Background()
	set := categories(t)
	sheets := reporttest.New(set)
	id := newReport(t, sheets)
	pub := report.NewPublisher(sheets, set)

	delta := aggregate.Delta{{Category: "Food", Month: time.March}: decimal.RequireFromString("-10.10")}
	require.NoError(t, pub.PublishBudget(ctx, id, delta))
	require.NoError(t, pub.PublishBudget(ctx, id, delta))

	assert.Equal(t, "-20.20", sheets.Cell(id, "Budget!E2"))
}

func TestPublishBudget_AppendsMissingCategory(t *testing.T) {
	ctx := context.Background()
	set := categories(t)
	sheets := reporttest.New(set)
	id := newReport(t, sheets)

	delta := aggregate.Delta{
		{Category: "Pets", Month: time.February}: decimal.RequireFromString("-30"),
		{Category: "Pets", Month: time.April}:    decimal.RequireFromString("-5"),
		{Category: "food", Month: time.February}: decimal.RequireFromString("-1"),
	}
	require.NoError(t, report.NewPublisher(sheets, set).PublishBudget(ctx, id, delta))

	rows := sheets.Rows(id, report.BudgetSheet)
	require.Len(t, rows, 5, "header, Food, Transport, Other, Pets")
	assert.Equal(t, "Pets", rows[4][1])
	assert.Equal(t, "", rows[4][0])
	assert.Equal(t, "-30.00", sheets.Cell(id, "Budget!D5"))
	assert.Equal(t, "-5.00", sheets.Cell(id, "Budget!F5"))
	assert.Equal(t, "-1.00", sheets.Cell(id, "Budget!D2"), "category match is case-insensitive")
}

func TestPublishBudget_EmptyDeltaIsNoop(t *testing.T) {
	sheets := reporttest.New(categories(t))
	require.NoError(t, report.NewPublisher(sheets, categories(t)).PublishBudget(context.Background(), "r", nil))
	assert.Equal(t, 0, sheets.Calls("ReadRange"))
}

func TestPublishBudget_WriteFailure(t *testing.T) {
	ctx := context.Background()
	set := categories(t)
	sheets := reporttest.New(set)
	id := newReport(t, sheets)
	sheets.WriteErr = func(string) error { return errors.New("permission denied") }

	delta := aggregate.Delta{{Category: "Food", Month: time.May}: decimal.RequireFromString("-1")}
	err := report.NewPublisher(sheets, set).PublishBudget(ctx, id, delta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Budget!G2")
}

func TestAppendRaw(t *testing.T) {
	ctx := context.Background()
	set := categories(t)
	sheets := reporttest.New(set)
	id := newReport(t, sheets)
	pub := report.NewPublisher(sheets, set)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	items := []domain.LineItem{
		{Date: time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC), Description: "SuperMarket", Amount: decimal.RequireFromString("-100"), Category: "Food"},
		{Date: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), Description: "Bakery", Amount: decimal.RequireFromString("-50"), Category: "Food"},
	}
	require.NoError(t, pub.AppendRaw(ctx, id, report.RawRowsFrom(items, "may.pdf", at)))
	require.NoError(t, pub.AppendRaw(ctx, id, report.RawRowsFrom(items[:1], "june.pdf", at)))

	rows := sheets.Rows(id, report.RawSheet)
	require.Len(t, rows, 4)
	assert.Equal(t, "Date", rows[0][0])
	assert.Equal(t, []string{"2025-05-03", "SuperMarket", "-100.00", "Food", "2025-06-01 12:00:00", "may.pdf"}, rows[1])
	assert.Equal(t, "june.pdf", rows[3][5])

	require.NoError(t, pub.AppendRaw(ctx, id, nil))
	assert.Equal(t, 2, sheets.Calls("AppendRows"))
}

func TestWithRetry_RetriesTransientRead(t *testing.T) {
	ctx := context.Background()
	set := categories(t)
	sheets := reporttest.New(set)
	id := newReport(t, sheets)

	failures := 1
	sheets.ReadErr = func(string) error {
		if failures > 0 {
			failures--
			return &googleapi.Error{Code: 429}
		}
		return nil
	}

	p := retry.DefaultPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }

	delta := aggregate.Delta{{Category: "Food", Month: time.May}: decimal.RequireFromString("-1")}
	require.NoError(t, report.NewPublisher(report.WithRetry(sheets, p), set).PublishBudget(ctx, id, delta))
	assert.Equal(t, "-1.00", sheets.Cell(id, "Budget!G2"))
}

// appliedThenUnavailable applies an append and then reports a transient error,
// as a server that timed out after committing would.
type appliedThenUnavailable struct {
	*reporttest.Sheets
	failures int
}

func (s *appliedThenUnavailable) AppendRows(ctx context.Context, reportID, sheet string, values [][]interface{}) error {
	if err := s.Sheets.AppendRows(ctx, reportID, sheet, values); err != nil {
		return err
	}
	if s.failures > 0 {
		s.failures--
		return &googleapi.Error{Code: 503}
	}
	return nil
}

func TestWithRetry_AppendIsAtLeastOnce(t *testing.T) {
	ctx := context.Background()
	set := categories(t)
	sheets := reporttest.New(set)
	id := newReport(t, sheets)

	p := retry.DefaultPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }

	inner := &appliedThenUnavailable{Sheets: sheets, failures: 1}
	pub := report.NewPublisher(report.WithRetry(inner, p), set)

	items := []domain.LineItem{
		{Date: time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC), Description: "SuperMarket", Amount: decimal.RequireFromString("-100"), Category: "Food"},
	}
	require.NoError(t, pub.AppendRaw(ctx, id, report.RawRowsFrom(items, "may.pdf", time.Now())))

	rows := sheets.Rows(id, report.RawSheet)
	require.Len(t, rows, 3, "header plus the same row written twice")
	assert.Equal(t, rows[1], rows[2])
	assert.Equal(t, 2, sheets.Calls("AppendRows"))
}
