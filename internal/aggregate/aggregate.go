// Package aggregate sums line items into (category, month) buckets.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/budgetflow/internal/domain"
)

// Bucket identifies one budget cell.
type Bucket struct {
	Category string
	Month    time.Month
}

// Delta is the amount to add to each bucket.
type Delta map[Bucket]decimal.Decimal

// BucketAmount is one entry of Delta.Buckets.
type BucketAmount struct {
	Bucket
	Amount decimal.Decimal
}

// Aggregate sums items by their own category and month. Items from several
// months land in several buckets.
func Aggregate(items []domain.LineItem) (Delta, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("Aggregate: %w: no line items", domain.ErrValidation)
	}

	delta := make(Delta)
	for i, item := range items {
		if item.Date.IsZero() {
			return nil, fmt.Errorf("Aggregate: %w: item %d (%q) has no date", domain.ErrValidation, i, item.Description)
		}
		if item.Category == "" {
			return nil, fmt.Errorf("Aggregate: %w: item %d (%q) has no category", domain.ErrValidation, i, item.Description)
		}

		b := Bucket{Category: item.Category, Month: item.Month()}
		delta[b] = delta[b].Add(item.Amount)
	}
	return delta, nil
}

// Total is the sum over every bucket.
func (d Delta) Total() decimal.Decimal {
	total := decimal.Zero
	for _, amt := range d {
		total = total.Add(amt)
	}
	return total
}

// Buckets returns the entries ordered by category, then month.
func (d Delta) Buckets() []BucketAmount {
	out := make([]BucketAmount, 0, len(d))
	for b, amt := range d {
		out = append(out, BucketAmount{Bucket: b, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Month < out[j].Month
	})
	return out
}
