package composite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmirror/internal/application/port"
	"agentmirror/internal/domain/model"
	"agentmirror/internal/infrastructure/storage/ledgertest"
	"agentmirror/internal/infrastructure/storage/memory"
)

type failingLedger struct {
	*memory.Ledger
}

func (failingLedger) Commit(context.Context, *model.LedgerEntry) error {
	return errors.New("mirror down")
}

func TestCompositeLedger(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) port.Ledger {
		return New(memory.NewLedger(), memory.NewLedger(), nil)
	})
}

func TestCompositeWritesReachMirrors(t *testing.T) {
	ctx := context.Background()
	primary, mirror := memory.NewLedger(), memory.NewLedger()
	r := New(primary, mirror)

	require.NoError(t, r.Commit(ctx, &model.LedgerEntry{EntryID: 5, Symbol: "BTCUSDT", Agent: "a", Side: model.SideBuy, Quantity: 1, Price: 1}))
	done, err := mirror.IsProcessed(ctx, "a", 5)
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, r.MarkClosed(ctx, "a", "BTCUSDT", 5, "x", time.Now()))
	got, err := mirror.GetActiveEntry(ctx, "a", "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCompositeMirrorFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	primary := memory.NewLedger()
	r := New(primary, failingLedger{memory.NewLedger()})

	require.NoError(t, r.Commit(ctx, &model.LedgerEntry{EntryID: 1, Symbol: "ETHUSDT", Agent: "a", Side: model.SideSell, Quantity: 1, Price: 1}))
	done, err := r.IsProcessed(ctx, "a", 1)
	require.NoError(t, err)
	assert.True(t, done)
}
