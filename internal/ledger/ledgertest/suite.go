// Package ledgertest holds the behaviour every ledger.Store backend must share.
package ledgertest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/budgetflow/internal/ledger"
)

// RunStoreTests exercises a fresh store returned by newStore for each subtest.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) ledger.Store) {
	t.Helper()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("unknown key is not processed", func(t *testing.T) {
		s := newStore(t)
		ok, err := s.IsProcessed(context.Background(), "acme", "deadbeef")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("success marks processed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.MarkProcessed(ctx, ledger.Record{
			CustomerID: "acme", Hash: "h1", FileName: "may.pdf", Outcome: ledger.OutcomeSuccess, ProcessedAt: base,
		}))

		ok, err := s.IsProcessed(ctx, "acme", "h1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("failed does not block retry", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.MarkProcessed(ctx, ledger.Record{
			CustomerID: "acme", Hash: "h1", FileName: "may.pdf", Outcome: ledger.OutcomeFailed, ProcessedAt: base,
		}))

		ok, err := s.IsProcessed(ctx, "acme", "h1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("customer isolation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.MarkProcessed(ctx, ledger.Record{
			CustomerID: "acme", Hash: "shared", Outcome: ledger.OutcomeSuccess, ProcessedAt: base,
		}))

		ok, err := s.IsProcessed(ctx, "globex", "shared")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("duplicate marks upsert with last write winning", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := ledger.Record{CustomerID: "acme", Hash: "h1", FileName: "first.pdf", Outcome: ledger.OutcomeSuccess, ProcessedAt: base}
		require.NoError(t, s.MarkProcessed(ctx, rec))

		rec.FileName = "second.pdf"
		rec.ProcessedAt = base.Add(time.Hour)
		require.NoError(t, s.MarkProcessed(ctx, rec))

		history, err := s.CustomerHistory(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "second.pdf", history[0].FileName)
		assert.True(t, history[0].ProcessedAt.Equal(base.Add(time.Hour)))
	})

	t.Run("failed then succeeded keeps both outcomes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.MarkProcessed(ctx, ledger.Record{
			CustomerID: "acme", Hash: "h1", FileName: "may.pdf", Outcome: ledger.OutcomeFailed, ProcessedAt: base,
		}))
		require.NoError(t, s.MarkProcessed(ctx, ledger.Record{
			CustomerID: "acme", Hash: "h1", FileName: "may.pdf", Outcome: ledger.OutcomeSuccess, ProcessedAt: base.Add(time.Minute),
		}))

		history, err := s.CustomerHistory(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, ledger.OutcomeSuccess, history[0].Outcome)
		assert.Equal(t, ledger.OutcomeFailed, history[1].Outcome)

		ok, err := s.IsProcessed(ctx, "acme", "h1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("history is most recent first", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i, name := range []string{"jan.pdf", "feb.pdf", "mar.pdf"} {
			require.NoError(t, s.MarkProcessed(ctx, ledger.Record{
				CustomerID:  "acme",
				Hash:        name + "-hash",
				FileName:    name,
				Outcome:     ledger.OutcomeSuccess,
				ProcessedAt: base.Add(time.Duration(i) * time.Hour),
			}))
		}
		require.NoError(t, s.MarkProcessed(ctx, ledger.Record{
			CustomerID: "globex", Hash: "g", FileName: "g.pdf", Outcome: ledger.OutcomeFailed, ProcessedAt: base.Add(10 * time.Hour),
		}))

		history, err := s.CustomerHistory(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, []string{"mar.pdf", "feb.pdf", "jan.pdf"},
			[]string{history[0].FileName, history[1].FileName, history[2].FileName})

		all, err := s.History(ctx)
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, "globex", all[0].CustomerID)
	})

	t.Run("clear by customer and globally", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, rec := range []ledger.Record{
			{CustomerID: "acme", Hash: "a1", Outcome: ledger.OutcomeSuccess, ProcessedAt: base},
			{CustomerID: "acme", Hash: "a2", Outcome: ledger.OutcomeFailed, ProcessedAt: base},
			{CustomerID: "globex", Hash: "g1", Outcome: ledger.OutcomeSuccess, ProcessedAt: base},
		} {
			require.NoError(t, s.MarkProcessed(ctx, rec))
		}

		n, err := s.Clear(ctx, "acme")
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		ok, err := s.IsProcessed(ctx, "acme", "a1")
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = s.IsProcessed(ctx, "globex", "g1")
		require.NoError(t, err)
		assert.True(t, ok)

		n, err = s.Clear(ctx, "")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		all, err := s.History(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("rejects incomplete records", func(t *testing.T) {
		s := newStore(t)
		err := s.MarkProcessed(context.Background(), ledger.Record{CustomerID: "acme", Outcome: ledger.OutcomeSuccess})
		assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
	})

	t.Run("concurrent writers for different customers", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make(chan error, 30)
		for _, customer := range []string{"acme", "globex", "initech"} {
			wg.Add(1)
			go func(customer string) {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					errs <- s.MarkProcessed(ctx, ledger.Record{
						CustomerID: customer,
						Hash:       customer + string(rune('a'+i)),
						Outcome:    ledger.OutcomeSuccess,
					})
				}
			}(customer)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		all, err := s.History(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 30)
	})
}
