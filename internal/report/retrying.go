package report

import (
	"context"

	"github.com/dvloznov/budgetflow/internal/domain"
	"github.com/dvloznov/budgetflow/internal/retry"
)

// Retrying decorates every Sheets call with a retry policy.
type Retrying struct {
	inner  Sheets
	policy retry.Policy
}

var _ Sheets = (*Retrying)(nil)

// WithRetry wraps s so transient failures are retried under p.
func WithRetry(s Sheets, p retry.Policy) *Retrying {
	return &Retrying{inner: s, policy: p}
}

func (r *Retrying) GetOrCreateReport(ctx context.Context, c *domain.Customer) (string, error) {
	return retry.DoValue(ctx, r.policy, "sheets.GetOrCreateReport", func(ctx context.Context) (string, error) {
		return r.inner.GetOrCreateReport(ctx, c)
	})
}

func (r *Retrying) ReadRange(ctx context.Context, reportID, rng string) ([][]string, error) {
	return retry.DoValue(ctx, r.policy, "sheets.ReadRange", func(ctx context.Context) ([][]string, error) {
		return r.inner.ReadRange(ctx, reportID, rng)
	})
}

func (r *Retrying) WriteRange(ctx context.Context, reportID, rng string, values [][]interface{}) error {
	return retry.Do(ctx, r.policy, "sheets.WriteRange", func(ctx context.Context) error {
		return r.inner.WriteRange(ctx, reportID, rng, values)
	})
}

// AppendRows is at-least-once: retrying an append the server already applied
// writes the rows twice.
func (r *Retrying) AppendRows(ctx context.Context, reportID, sheet string, values [][]interface{}) error {
	return retry.Do(ctx, r.policy, "sheets.AppendRows", func(ctx context.Context) error {
		return r.inner.AppendRows(ctx, reportID, sheet, values)
	})
}
