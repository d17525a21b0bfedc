// Package report publishes aggregated deltas and raw line items to the
// customer's spreadsheet report.
package report

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/budgetflow/internal/domain"
)

// Report layout.
const (
	DefaultReportName = "BudgetFlow Report"
	BudgetSheet       = "Budget"
	RawSheet          = "Raw Data"

	// firstMonthColumn is the 0-based column holding January.
	firstMonthColumn = 2
)

var monthHeaders = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

// RawHeader is the first row of the Raw Data sheet.
var RawHeader = []interface{}{"Date", "Description", "Amount", "Category", "Processed At", "Source File"}

// Sheets is the spreadsheet collaborator. Ranges use A1 notation.
type Sheets interface {
	// GetOrCreateReport returns the customer's report id, creating and
	// initialising the spreadsheet when it does not exist yet.
	GetOrCreateReport(ctx context.Context, c *domain.Customer) (string, error)
	ReadRange(ctx context.Context, reportID, rng string) ([][]string, error)
	WriteRange(ctx context.Context, reportID, rng string, values [][]interface{}) error
	AppendRows(ctx context.Context, reportID, sheet string, values [][]interface{}) error
}

// RawRow is one line of the Raw Data sheet.
type RawRow struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Category    string
	ProcessedAt time.Time
	SourceFile  string
}

// RawSink receives raw rows in addition to the spreadsheet.
type RawSink interface {
	Name() string
	AppendRaw(ctx context.Context, customerID string, rows []RawRow) error
}

// RawRowsFrom converts a document's items into raw rows.
func RawRowsFrom(items []domain.LineItem, sourceFile string, processedAt time.Time) []RawRow {
	rows := make([]RawRow, 0, len(items))
	for _, it := range items {
		rows = append(rows, RawRow{
			Date:        it.Date,
			Description: it.Description,
			Amount:      it.Amount,
			Category:    it.Category,
			ProcessedAt: processedAt,
			SourceFile:  sourceFile,
		})
	}
	return rows
}

// Values renders the row in RawHeader order.
func (r RawRow) Values() []interface{} {
	return []interface{}{
		r.Date.Format("2006-01-02"),
		r.Description,
		r.Amount.StringFixed(2),
		r.Category,
		r.ProcessedAt.Format("2006-01-02 15:04:05"),
		r.SourceFile,
	}
}

// BudgetHeader is the first row of the Budget sheet.
func BudgetHeader() []interface{} {
	row := []interface{}{"Category ID", "Category Name"}
	for _, m := range monthHeaders {
		row = append(row, m)
	}
	return row
}

// BudgetRow is a fresh category row with twelve zero months.
func BudgetRow(id, name string) []interface{} {
	row := []interface{}{id, name}
	for range monthHeaders {
		row = append(row, 0)
	}
	return row
}

// BudgetTemplate is the initial Budget sheet content for set.
func BudgetTemplate(set domain.CategorySet) [][]interface{} {
	values := [][]interface{}{BudgetHeader()}
	for _, c := range set.Categories() {
		values = append(values, BudgetRow(c.ID, c.Name))
	}
	return values
}

// MonthColumn returns the column letter holding month m.
func MonthColumn(m time.Month) string {
	return ColumnLetter(firstMonthColumn + int(m) - 1)
}

// ColumnLetter converts a 0-based column index to A1 letters (0 → A, 26 → AA).
func ColumnLetter(index int) string {
	if index < 0 {
		return ""
	}
	var b []byte
	for n := index + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

var amountReplacer = strings.NewReplacer(
	"₪", "", "$", "", "€", "", "£", "",
	",", "",
	" ", "", "\u00a0", "", "\t", "",
)

// ParseAmount reads a formatted cell value. Blank or unparseable cells
// count as zero.
func ParseAmount(s string) decimal.Decimal {
	clean := amountReplacer.Replace(strings.TrimSpace(s))
	if clean == "" {
		return decimal.Zero
	}

	neg := false
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		neg = true
		clean = clean[1 : len(clean)-1]
	}

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero
	}
	if neg {
		d = d.Neg()
	}
	return d
}
