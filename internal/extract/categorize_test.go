package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/vendorcache"
)

func TestCategorizer_Assign(t *testing.T) {
	ctx := context.Background()
	set := testSet(t)
	cache := vendorcache.New("", vendorcache.DefaultThreshold)
	cache.Learn(ctx, "acme", "Shell Station", "Transport")

	items := []domain.LineItem{
		{Description: "Shell Station", Category: "Food"},
		{Description: "Shell Statio", Category: "Food"},
		{Description: "Corner Bakery", Category: "food"},
		{Description: "Mystery Vendor", Category: "Gadgets"},
	}

	NewCategorizer(set, cache).Assign(ctx, "acme", items)

	assert.Equal(t, "Transport", items[0].Category, "cached category wins")
	assert.Equal(t, "Transport", items[1].Category, "fuzzy cache hit")
	assert.Equal(t, "Food", items[2].Category, "canonical casing")
	assert.Equal(t, "Other", items[3].Category, "unknown label falls back")

	learned := cache.Mappings(ctx, "acme")
	assert.Equal(t, "Food", learned["corner bakery"])
	_, ok := learned["mystery vendor"]
	assert.False(t, ok, "fallback assignments are not learned")
}

func TestCategorizer_NilCache(t *testing.T) {
	items := []domain.LineItem{{Description: "Bus", Category: "TRANSPORT"}}
	NewCategorizer(testSet(t), nil).Assign(context.Background(), "acme", items)
	assert.Equal(t, "Transport", items[0].Category)
}
