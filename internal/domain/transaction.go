package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one transaction extracted from a statement.
// Amount is signed: money in is positive, money out is negative.
type LineItem struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Category    string
}

// Month returns the calendar month the item belongs to.
func (li LineItem) Month() time.Month {
	return li.Date.Month()
}
