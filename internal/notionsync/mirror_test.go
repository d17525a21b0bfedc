package notionsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/budgetflow/internal/report"
)

// MockNotionService records created pages.
type MockNotionService struct {
	CreatePageFunc func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
	Created        []notionapi.Properties
	DatabaseIDs    []string
}

func (m *MockNotionService) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if m.CreatePageFunc != nil {
		if _, err := m.CreatePageFunc(ctx, databaseID, properties); err != nil {
			return nil, err
		}
	}
	m.Created = append(m.Created, properties)
	m.DatabaseIDs = append(m.DatabaseIDs, databaseID)
	return &notionapi.Page{ID: notionapi.ObjectID("page-1")}, nil
}

func sampleRow(desc string) report.RawRow {
	return report.RawRow{
		Date:        time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC),
		Description: desc,
		Amount:      decimal.RequireFromString("-100.00"),
		Category:    "Food",
		ProcessedAt: time.Date(2025, 6, 30, 9, 0, 0, 0, time.UTC),
		SourceFile:  "may.pdf",
	}
}

func TestRawRowToNotionProperties(t *testing.T) {
	props := RawRowToNotionProperties("acme", sampleRow("Shufersal"))

	title, ok := props["Description"].(notionapi.TitleProperty)
	require.True(t, ok)
	require.Len(t, title.Title, 1)
	assert.Equal(t, "Shufersal", title.Title[0].Text.Content)

	amount, ok := props["Amount"].(notionapi.NumberProperty)
	require.True(t, ok)
	assert.Equal(t, -100.0, amount.Number)

	date, ok := props["Date"].(notionapi.DateProperty)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 5, 3, 0, 0, 0, 0, time.UTC), time.Time(*date.Date.Start))

	assert.Equal(t, "acme", props["Customer"].(notionapi.SelectProperty).Select.Name)
	assert.Equal(t, "Food", props["Category"].(notionapi.SelectProperty).Select.Name)
	assert.Contains(t, props, "Processed At")
}

func TestRawRowToNotionProperties_OptionalFields(t *testing.T) {
	row := sampleRow("Unknown")
	row.Category = ""
	row.ProcessedAt = time.Time{}

	props := RawRowToNotionProperties("acme", row)
	assert.NotContains(t, props, "Category")
	assert.NotContains(t, props, "Processed At")
}

func TestMirror_AppendRaw(t *testing.T) {
	svc := &MockNotionService{}
	m := NewMirror(svc, "db-123")

	rows := []report.RawRow{sampleRow("a"), sampleRow("b"), sampleRow("c")}
	require.NoError(t, m.AppendRaw(context.Background(), "acme", rows))

	assert.Equal(t, "notion", m.Name())
	assert.Len(t, svc.Created, 3)
	assert.Equal(t, []string{"db-123", "db-123", "db-123"}, svc.DatabaseIDs)
}

func TestMirror_AppendRawContinuesAfterFailure(t *testing.T) {
	boom := errors.New("rate limited")
	calls := 0
	svc := &MockNotionService{
		CreatePageFunc: func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
			calls++
			if calls == 1 {
				return nil, boom
			}
			return nil, nil
		},
	}

	rows := []report.RawRow{sampleRow("a"), sampleRow("b")}
	err := NewMirror(svc, "db").AppendRaw(context.Background(), "acme", rows)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Len(t, svc.Created, 1)
}
