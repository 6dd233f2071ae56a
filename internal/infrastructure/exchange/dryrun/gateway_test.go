package dryrun

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmirror/internal/domain/model"
)

func TestMarketOrdersMoveVirtualBook(t *testing.T) {
	g := New(nil, 1000)
	ctx := context.Background()

	res, err := g.PlaceOrder(ctx, model.OrderRequest{Symbol: "btcusdt", Side: model.SideBuy, Type: model.OrderTypeMarket, Quantity: 0.1})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.OrderID, "dry-run-"))

	open, err := g.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.InDelta(t, 0.1, open[0].Quantity, 1e-12)

	_, err = g.PlaceOrder(ctx, model.OrderRequest{Symbol: "BTCUSDT", Side: model.SideSell, Type: model.OrderTypeMarket, Quantity: 0.5, ReduceOnly: true})
	require.NoError(t, err)

	open, err = g.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, open, "reduce-only is capped at the position size")

	all, err := g.GetAllPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReduceOnlyCannotOpen(t *testing.T) {
	g := New(nil, 0)
	_, err := g.PlaceOrder(context.Background(), model.OrderRequest{Symbol: "ETHUSDT", Side: model.SideSell, Type: model.OrderTypeMarket, Quantity: 1, ReduceOnly: true})
	assert.Error(t, err)
}

func TestProtectiveOrdersAreTrackedAndCancelled(t *testing.T) {
	g := New(nil, 0)
	ctx := context.Background()

	tp, err := g.PlaceOrder(ctx, model.OrderRequest{Symbol: "BTCUSDT", Side: model.SideSell, Type: model.OrderTypeTakeProfitMarket, StopPrice: 50000, ClosePosition: true})
	require.NoError(t, err)
	_, err = g.PlaceOrder(ctx, model.OrderRequest{Symbol: "ETHUSDT", Side: model.SideSell, Type: model.OrderTypeStopMarket, StopPrice: 2000, ClosePosition: true})
	require.NoError(t, err)

	orders, err := g.GetOpenOrders(ctx, "")
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	require.NoError(t, g.CancelOrder(ctx, "BTCUSDT", tp.OrderID))
	assert.Error(t, g.CancelOrder(ctx, "BTCUSDT", tp.OrderID))

	require.NoError(t, g.CancelAllOrders(ctx, "ETHUSDT"))
	orders, err = g.GetOpenOrders(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestAccountInfoUsesStartingBalance(t *testing.T) {
	acct, err := New(nil, 250).GetAccountInfo(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 250, acct.AvailableBalance, 1e-12)
}
