// Package extract turns statement files into line items and assigns each one
// a category from the configured taxonomy.
package extract

import (
	"context"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/retry"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

// Extractor reads one local statement file. Category labels on the returned
// items are the model's suggestions and are not yet validated.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]domain.LineItem, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, path string) ([]domain.LineItem, error)

func (f ExtractorFunc) Extract(ctx context.Context, path string) ([]domain.LineItem, error) {
	return f(ctx, path)
}

type retrying struct {
	inner  Extractor
	policy retry.Policy
}

// WithRetry retries transient extraction failures such as rate limits.
func WithRetry(e Extractor, p retry.Policy) Extractor {
	return &retrying{inner: e, policy: p}
}

func (r *retrying) Extract(ctx context.Context, path string) ([]domain.LineItem, error) {
	return retry.DoValue(ctx, r.policy, "extract", func(ctx context.Context) ([]domain.LineItem, error) {
		return r.inner.Extract(ctx, path)
	})
}
