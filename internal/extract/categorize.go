package extract

import (
	"context"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/logger"
	"github.com/dvloznov/budgetflow/internal/vendorcache"
)

// Categorizer settles the final category of each item.
type Categorizer struct {
	set   domain.CategorySet
	cache *vendorcache.Cache
}

// NewCategorizer creates a Categorizer. cache may be nil.
func NewCategorizer(set domain.CategorySet, cache *vendorcache.Cache) *Categorizer {
	return &Categorizer{set: set, cache: cache}
}

// Assign rewrites item categories in place. A vendor already known for the
// customer keeps its cached category; otherwise a valid model label is used
// and learned, and anything else becomes the fallback category.
func (c *Categorizer) Assign(ctx context.Context, customerID string, items []domain.LineItem) {
	log := logger.FromContext(ctx)

	for i := range items {
		item := &items[i]

		if c.cache != nil {
			if cached, ok := c.cache.Lookup(ctx, customerID, item.Description); ok {
				item.Category = c.set.Coerce(cached)
				continue
			}
		}

		cat, ok := c.set.Lookup(item.Category)
		if !ok {
			log.Warn().
				Str("category", item.Category).
				Str("description", item.Description).
				Str("fallback", c.set.Fallback()).
				Msg("Unknown category, using fallback")
			item.Category = c.set.Fallback()
			continue
		}

		item.Category = cat.Name
		if c.cache != nil {
			c.cache.Learn(ctx, customerID, item.Description, cat.Name)
		}
	}
}
