// Package ledgertest holds the behaviour every port.Ledger backend must share.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmirror/internal/application/port"
	"agentmirror/internal/domain/model"
)

// Run exercises newLedger against the ledger contract. Each subtest gets a fresh ledger.
func Run(t *testing.T, newLedger func(t *testing.T) port.Ledger) {
	t.Helper()
	base := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

	entry := func(agent, symbol string, id int64, side model.Side, qty float64, at time.Time) *model.LedgerEntry {
		return &model.LedgerEntry{
			EntryID:   id,
			Symbol:    symbol,
			Agent:     agent,
			Timestamp: at,
			Side:      side,
			Quantity:  qty,
			Price:     45000,
			OrderID:   "o-1",
		}
	}

	t.Run("EmptyLedger", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		done, err := l.IsProcessed(ctx, "agent-a", 1)
		require.NoError(t, err)
		assert.False(t, done)

		got, err := l.GetActiveEntry(ctx, "agent-a", "BTCUSDT")
		require.NoError(t, err)
		assert.Nil(t, got)

		list, err := l.ListActiveEntries(ctx, "agent-a")
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("CommitMakesEntryActiveAndProcessed", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		require.NoError(t, l.Commit(ctx, entry("agent-a", "BTCUSDT", 1, model.SideBuy, 0.1, base)))

		done, err := l.IsProcessed(ctx, "agent-a", 1)
		require.NoError(t, err)
		assert.True(t, done)

		other, err := l.IsProcessed(ctx, "agent-b", 1)
		require.NoError(t, err)
		assert.False(t, other, "processed ids are scoped per agent")

		got, err := l.GetActiveEntry(ctx, "agent-a", "BTCUSDT")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(1), got.EntryID)
		assert.Equal(t, model.SideBuy, got.Side)
		assert.InDelta(t, 0.1, got.Quantity, 1e-12)
		assert.Equal(t, "o-1", got.OrderID)
		assert.True(t, got.Active())
	})

	t.Run("CommitSupersedesOlderActiveEntry", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		require.NoError(t, l.Commit(ctx, entry("agent-a", "BTCUSDT", 12345, model.SideBuy, 0.1, base)))
		require.NoError(t, l.Commit(ctx, entry("agent-a", "BTCUSDT", 99999, model.SideSell, 0.2, base.Add(time.Minute))))

		got, err := l.GetActiveEntry(ctx, "agent-a", "BTCUSDT")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(99999), got.EntryID)

		active, err := l.ListActiveEntries(ctx, "agent-a")
		require.NoError(t, err)
		assert.Len(t, active, 1)

		all, err := l.ListEntries(ctx, "agent-a")
		require.NoError(t, err)
		assert.Len(t, all, 2, "superseded entries are kept")
	})

	t.Run("MarkClosedKeepsHistory", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		require.NoError(t, l.Commit(ctx, entry("agent-a", "ETHUSDT", 7, model.SideSell, 2, base)))
		require.NoError(t, l.MarkClosed(ctx, "agent-a", "ETHUSDT", 7, model.ReasonClosedByAgent, base.Add(time.Hour)))

		got, err := l.GetActiveEntry(ctx, "agent-a", "ETHUSDT")
		require.NoError(t, err)
		assert.Nil(t, got)

		done, err := l.IsProcessed(ctx, "agent-a", 7)
		require.NoError(t, err)
		assert.True(t, done, "closed entries stay processed")

		all, err := l.ListEntries(ctx, "agent-a")
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.NotNil(t, all[0].ClosedAt)
		assert.Equal(t, model.ReasonClosedByAgent, all[0].CloseReason)
	})

	t.Run("DuplicateCommitIsNoop", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		require.NoError(t, l.Commit(ctx, entry("agent-a", "BTCUSDT", 1, model.SideBuy, 0.1, base)))
		require.NoError(t, l.Commit(ctx, entry("agent-a", "BTCUSDT", 1, model.SideBuy, 0.1, base.Add(time.Second))))

		all, err := l.ListEntries(ctx, "agent-a")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("AgentsAreIsolated", func(t *testing.T) {
		l := newLedger(t)
		ctx := context.Background()

		require.NoError(t, l.Commit(ctx, entry("agent-a", "BTCUSDT", 1, model.SideBuy, 0.1, base)))
		require.NoError(t, l.Commit(ctx, entry("agent-b", "BTCUSDT", 2, model.SideSell, 0.3, base)))
		require.NoError(t, l.MarkClosed(ctx, "agent-a", "BTCUSDT", 1, "done", base.Add(time.Minute)))

		a, err := l.GetActiveEntry(ctx, "agent-a", "BTCUSDT")
		require.NoError(t, err)
		assert.Nil(t, a)

		b, err := l.GetActiveEntry(ctx, "agent-b", "BTCUSDT")
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, int64(2), b.EntryID)
	})

	t.Run("CreatedAt", func(t *testing.T) {
		l := newLedger(t)
		at, err := l.CreatedAt(context.Background())
		require.NoError(t, err)
		assert.False(t, at.IsZero())
	})
}
