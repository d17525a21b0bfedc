package notionsync

import (
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/budgetflow/internal/report"
)

// RawRowToNotionProperties converts a raw row to properties of the line
// items database.
func RawRowToNotionProperties(customerID string, row report.RawRow) notionapi.Properties {
	props := notionapi.Properties{
		"Description": notionapi.TitleProperty{
			Title: richText(row.Description),
		},
		"Date": notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: dateOf(row.Date)},
		},
		"Amount": notionapi.NumberProperty{
			Number: row.Amount.InexactFloat64(),
		},
		"Customer": notionapi.SelectProperty{
			Select: notionapi.Option{Name: customerID},
		},
		"Source File": notionapi.RichTextProperty{
			RichText: richText(row.SourceFile),
		},
	}

	if row.Category != "" {
		props["Category"] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: row.Category},
		}
	}

	if !row.ProcessedAt.IsZero() {
		at := notionapi.Date(row.ProcessedAt.UTC())
		props["Processed At"] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &at},
		}
	}

	return props
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: content},
		},
	}
}

func dateOf(t time.Time) *notionapi.Date {
	d := notionapi.Date(time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC))
	return &d
}
