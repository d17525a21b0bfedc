package report

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/budgetflow/internal/domain"
)

func TestColumnLetter(t *testing.T) {
	tests := []struct {
		index int
		want  string
	}{
		{0, "A"},
		{1, "B"},
		{2, "C"},
		{25, "Z"},
		{26, "AA"},
		{27, "AB"},
		{51, "AZ"},
		{52, "BA"},
		{701, "ZZ"},
		{702, "AAA"},
		{-1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ColumnLetter(tt.index))
		})
	}
}

func TestMonthColumn(t *testing.T) {
	assert.Equal(t, "C", MonthColumn(time.January))
	assert.Equal(t, "G", MonthColumn(time.May))
	assert.Equal(t, "H", MonthColumn(time.June))
	assert.Equal(t, "N", MonthColumn(time.December))
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "0"},
		{"0", "0"},
		{"-155.00", "-155"},
		{"₪1,234.50", "1234.5"},
		{"$ -20", "-20"},
		{"€1 000.00", "1000"},
		{"£(35.10)", "-35.1"},
		{" -12.5 ", "-12.5"},
		{"n/a", "0"},
		{"#REF!", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAmount(tt.in).String())
		})
	}
}

func TestRawRowValues(t *testing.T) {
	row := RawRow{
		Date:        time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC),
		Description: "SuperMarket",
		Amount:      decimal.RequireFromString("-100"),
		Category:    "Food",
		ProcessedAt: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
		SourceFile:  "may.pdf",
	}

	assert.Equal(t, []interface{}{"2025-05-03", "SuperMarket", "-100.00", "Food", "2025-06-01 09:30:00", "may.pdf"}, row.Values())
	assert.Len(t, row.Values(), len(RawHeader))
}

func TestBudgetTemplate(t *testing.T) {
	set, err := domain.NewCategorySet([]domain.Category{{ID: "1", Name: "Food"}}, "Other")
	if err != nil {
		t.Fatalf("NewCategorySet: %v", err)
	}

	values := BudgetTemplate(set)
	assert.Len(t, values, 3)
	assert.Len(t, values[0], 14)
	assert.Equal(t, "Category ID", values[0][0])
	assert.Equal(t, "Dec", values[0][13])
	assert.Equal(t, []interface{}{"1", "Food", 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, values[1])
	assert.Equal(t, "Other", values[2][1])
}

func TestRawRowsFrom(t *testing.T) {
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := RawRowsFrom([]domain.LineItem{{Description: "a"}, {Description: "b"}}, "may.pdf", at)
	assert.Len(t, rows, 2)
	assert.Equal(t, "may.pdf", rows[1].SourceFile)
	assert.Equal(t, at, rows[0].ProcessedAt)
}
