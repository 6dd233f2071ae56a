package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmirror/internal/domain/model"
	domainservice "agentmirror/internal/domain/service"
)

// fakeGateway is a scriptable port.ExchangeGateway.
type fakeGateway struct {
	mu sync.Mutex

	positions   map[string]float64
	orders      []model.OpenOrder
	placed      []model.OrderRequest
	cancelled   []string
	leverage    map[string]int
	balance     float64
	markPrice   float64
	filters     *model.SymbolFilters
	fillsClose  bool // reduce-only orders flatten the position
	seq         int
	placeErr    func(req model.OrderRequest) error
	cancelAll   error
	cancelOrder map[string]error
	accountErr  error
	leverageErr error
	panicOnMark bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		positions:   map[string]float64{},
		leverage:    map[string]int{},
		balance:     10000,
		markPrice:   60000,
		fillsClose:  true,
		cancelOrder: map[string]error{},
	}
}

func (g *fakeGateway) GetPositions(ctx context.Context) ([]model.ExchangePosition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []model.ExchangePosition
	for s, q := range g.positions {
		if q != 0 {
			out = append(out, model.ExchangePosition{Symbol: s, Quantity: q})
		}
	}
	return out, nil
}

func (g *fakeGateway) GetAllPositions(ctx context.Context) ([]model.ExchangePosition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []model.ExchangePosition
	for s, q := range g.positions {
		out = append(out, model.ExchangePosition{Symbol: s, Quantity: q})
	}
	return out, nil
}

func (g *fakeGateway) GetOpenOrders(ctx context.Context, symbol string) ([]model.OpenOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.OpenOrder(nil), g.orders...), nil
}

func (g *fakeGateway) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.placed = append(g.placed, req)
	if g.placeErr != nil {
		if err := g.placeErr(req); err != nil {
			return nil, err
		}
	}
	g.seq++
	id := fmt.Sprintf("%d", g.seq)
	switch {
	case req.ClosePosition:
	case req.ReduceOnly:
		if g.fillsClose {
			g.positions[req.Symbol] = 0
		}
	case req.Side == model.SideBuy:
		g.positions[req.Symbol] += req.Quantity
	default:
		g.positions[req.Symbol] -= req.Quantity
	}
	return &model.OrderResult{OrderID: id, ClientOrderID: req.ClientOrderID, AvgPrice: g.markPrice}, nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.cancelOrder[orderID]; err != nil {
		return err
	}
	g.cancelled = append(g.cancelled, orderID)
	return nil
}

func (g *fakeGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	return g.cancelAll
}

func (g *fakeGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.leverageErr != nil {
		return g.leverageErr
	}
	g.leverage[symbol] = leverage
	return nil
}

func (g *fakeGateway) GetAccountInfo(ctx context.Context) (*model.AccountInfo, error) {
	if g.accountErr != nil {
		return nil, g.accountErr
	}
	return &model.AccountInfo{AvailableBalance: g.balance}, nil
}

func (g *fakeGateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	if g.panicOnMark {
		panic("nil client")
	}
	return g.markPrice, nil
}

func (g *fakeGateway) GetSymbolFilters(ctx context.Context, symbol string) (*model.SymbolFilters, error) {
	if g.filters == nil {
		return nil, errors.New("unknown symbol")
	}
	return g.filters, nil
}

type staticPrices map[string]float64

func (p staticPrices) LastPrice(symbol string) (float64, bool) {
	px, ok := p[symbol]
	return px, ok
}

func newTestCoordinator(g *fakeGateway, prices staticPrices) *ExecutionCoordinator {
	c := NewExecutionCoordinator(g, prices, ExecutionConfig{
		CloseVerifyAttempts: 3,
		CloseVerifyDelay:    time.Millisecond,
		ProtectiveOrders:    true,
	})
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	n := 0
	c.newClientID = func() string { n++; return fmt.Sprintf("cid-%d", n) }
	return c
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name                      string
		qty, leverage, entryPrice float64
		wantMsg                   string
	}{
		{"zero quantity", 0, 10, 100, "Position quantity cannot be zero"},
		{"zero leverage", 1, 0, 100, "Leverage must be greater than zero"},
		{"negative leverage", 1, -2, 100, "Leverage must be greater than zero"},
		{"zero entry price", 1, 10, 0, "Entry price must be greater than zero"},
		{"short is valid", -1, 10, 100, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.qty, tt.leverage, tt.entryPrice)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantMsg, err.Error())
			assert.True(t, domainservice.IsValidation(err))
		})
	}
}

func TestOpenValidationMakesNoCalls(t *testing.T) {
	g := newFakeGateway()
	c := newTestCoordinator(g, nil)

	_, err := c.Open(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: 0.1, Leverage: 0, EntryPrice: 60000})
	require.Error(t, err)
	assert.Empty(t, g.placed)
	assert.Empty(t, g.leverage)
}

func TestOpenPlacesMarketOrderAndProtectiveLegs(t *testing.T) {
	g := newFakeGateway()
	g.filters = &model.SymbolFilters{StepSize: 0.001, TickSize: 0.1}
	c := newTestCoordinator(g, staticPrices{"BTCUSDT": 60010})

	res, err := c.Open(context.Background(), OpenRequest{
		Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: 0.12345, Leverage: 9.6, EntryPrice: 60000,
		ExitPlan: &model.ExitPlan{ProfitTarget: 65000.04, StopLoss: 58000.06},
	})
	require.NoError(t, err)

	assert.Equal(t, "1", res.OrderID)
	assert.Equal(t, "cid-1", res.ClientOrderID)
	assert.Equal(t, 0.123, res.Quantity)
	assert.Equal(t, "2", res.TakeProfitOrderID)
	assert.Equal(t, "3", res.StopLossOrderID)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 10, g.leverage["BTCUSDT"])

	require.Len(t, g.placed, 3)
	market, tp, sl := g.placed[0], g.placed[1], g.placed[2]
	assert.Equal(t, model.OrderTypeMarket, market.Type)
	assert.Equal(t, model.SideBuy, market.Side)
	assert.Equal(t, 0.123, market.Quantity)

	assert.Equal(t, model.OrderTypeTakeProfitMarket, tp.Type)
	assert.Equal(t, model.SideSell, tp.Side)
	assert.True(t, tp.ClosePosition)
	assert.Equal(t, 65000.0, tp.StopPrice)

	assert.Equal(t, model.OrderTypeStopMarket, sl.Type)
	assert.Equal(t, model.SideSell, sl.Side)
	assert.Equal(t, 58000.1, sl.StopPrice)
}

func TestOpenQuantityBelowLotStep(t *testing.T) {
	g := newFakeGateway()
	g.filters = &model.SymbolFilters{StepSize: 0.001}
	c := newTestCoordinator(g, nil)

	_, err := c.Open(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: 0.0004, Leverage: 5, EntryPrice: 60000})
	require.Error(t, err)
	assert.True(t, domainservice.IsValidation(err))
	assert.Empty(t, g.placed)
}

func TestOpenDowngradesAuxiliaryFailures(t *testing.T) {
	g := newFakeGateway()
	g.accountErr = errors.New("account endpoint down")
	g.leverageErr = errors.New("leverage not changed")
	g.panicOnMark = true
	c := newTestCoordinator(g, nil)

	res, err := c.Open(context.Background(), OpenRequest{Symbol: "ETHUSDT", Side: model.SideSell, Quantity: 1, Leverage: 5, EntryPrice: 2500})
	require.NoError(t, err)
	assert.Equal(t, "1", res.OrderID)
	assert.Len(t, res.Warnings, 4) // mark price panic, filters, balance, leverage
	assert.Equal(t, -1.0, g.positions["ETHUSDT"])
}

func TestOpenPlacementFailure(t *testing.T) {
	g := newFakeGateway()
	g.placeErr = func(req model.OrderRequest) error { return errors.New("Margin is insufficient.") }
	c := newTestCoordinator(g, nil)

	res, err := c.Open(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: 0.1, Leverage: 5, EntryPrice: 60000})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "Margin is insufficient.")
}

func TestOpenBalanceWarning(t *testing.T) {
	g := newFakeGateway()
	g.balance = 10
	c := newTestCoordinator(g, nil)

	res, err := c.Open(context.Background(), OpenRequest{Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: 0.1, Leverage: 10, EntryPrice: 60000})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 2) // filters, balance
	assert.Contains(t, res.Warnings[1], "below required margin 600.00")
}

func TestProtectivePartialFailure(t *testing.T) {
	g := newFakeGateway()
	g.placeErr = func(req model.OrderRequest) error {
		if req.Type == model.OrderTypeStopMarket {
			return errors.New("Order would immediately trigger.")
		}
		return nil
	}
	c := newTestCoordinator(g, nil)

	res, err := c.Open(context.Background(), OpenRequest{
		Symbol: "BTCUSDT", Side: model.SideSell, Quantity: 0.1, Leverage: 5, EntryPrice: 60000,
		ExitPlan: &model.ExitPlan{ProfitTarget: 55000, StopLoss: 59000},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TakeProfitOrderID)
	assert.Empty(t, res.StopLossOrderID)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[len(res.Warnings)-1], "Order would immediately trigger.")
	assert.Equal(t, model.SideBuy, g.placed[1].Side)
}

func TestProtectiveOrdersDisabled(t *testing.T) {
	g := newFakeGateway()
	c := NewExecutionCoordinator(g, nil, ExecutionConfig{ProtectiveOrders: false})

	res, err := c.Open(context.Background(), OpenRequest{
		Symbol: "BTCUSDT", Side: model.SideBuy, Quantity: 0.1, Leverage: 5, EntryPrice: 60000,
		ExitPlan: &model.ExitPlan{ProfitTarget: 65000, StopLoss: 55000},
	})
	require.NoError(t, err)
	assert.Empty(t, res.TakeProfitOrderID)
	assert.Len(t, g.placed, 1)
}

func TestCloseFlattensAndVerifies(t *testing.T) {
	g := newFakeGateway()
	g.positions["BTCUSDT"] = -0.5
	c := newTestCoordinator(g, nil)

	res, err := c.Close(context.Background(), "BTCUSDT", "test")
	require.NoError(t, err)
	assert.False(t, res.AlreadyFlat)
	assert.Equal(t, []string{"1"}, res.OrderIDs)
	assert.Equal(t, 1, res.Attempts)
	assert.Zero(t, res.Residual)

	require.Len(t, g.placed, 1)
	assert.True(t, g.placed[0].ReduceOnly)
	assert.Equal(t, model.SideBuy, g.placed[0].Side)
	assert.Equal(t, 0.5, g.placed[0].Quantity)
}

func TestCloseAlreadyFlat(t *testing.T) {
	g := newFakeGateway()
	c := newTestCoordinator(g, nil)

	res, err := c.Close(context.Background(), "BTCUSDT", "test")
	require.NoError(t, err)
	assert.True(t, res.AlreadyFlat)
	assert.Empty(t, g.placed)
}

func TestCloseVerificationExhausted(t *testing.T) {
	g := newFakeGateway()
	g.positions["BTCUSDT"] = 0.3
	g.fillsClose = false
	c := newTestCoordinator(g, nil)

	res, err := c.Close(context.Background(), "BTCUSDT", "test")
	require.ErrorIs(t, err, domainservice.ErrPositionsRemainOpen)
	assert.Equal(t, "Some positions still remain open", err.Error())
	require.NotNil(t, res)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 0.3, res.Residual)
}

func TestCloseCancelFailureAborts(t *testing.T) {
	g := newFakeGateway()
	g.positions["BTCUSDT"] = 0.3
	g.cancelAll = errors.New("timeout")
	c := newTestCoordinator(g, nil)

	_, err := c.Close(context.Background(), "BTCUSDT", "test")
	require.ErrorIs(t, err, domainservice.ErrCancelOrders)
	assert.Contains(t, err.Error(), "Failed to cancel open orders")
	assert.Empty(t, g.placed)
}

func TestCleanOrphanedOrdersContinuesAfterErrors(t *testing.T) {
	g := newFakeGateway()
	g.positions["ETHUSDT"] = 1
	g.positions["SOLUSDT"] = 0
	g.orders = []model.OpenOrder{
		{OrderID: "1", Symbol: "BTCUSDT", Type: model.OrderTypeTakeProfitMarket},
		{OrderID: "2", Symbol: "BTCUSDT", Type: model.OrderTypeStopMarket},
		{OrderID: "3", Symbol: "ETHUSDT", Type: model.OrderTypeStopMarket},
		{OrderID: "4", Symbol: "SOLUSDT", Type: model.OrderTypeStopMarket},
		{OrderID: "5", Symbol: "SOLUSDT", Type: "LIMIT"},
	}
	g.cancelOrder["2"] = errors.New("Unknown order sent.")
	c := newTestCoordinator(g, nil)

	res, err := c.CleanOrphanedOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.CancelledCount)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Unknown order sent.")
	assert.False(t, res.Success())
	assert.ElementsMatch(t, []string{"1", "4"}, g.cancelled)
}
