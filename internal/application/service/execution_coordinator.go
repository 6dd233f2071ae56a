package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"agentmirror/internal/application/port"
	"agentmirror/internal/domain/model"
	domainservice "agentmirror/internal/domain/service"
)

// ExecutionConfig 执行参数
type ExecutionConfig struct {
	CloseVerifyAttempts int           // bounded close verification polls
	CloseVerifyDelay    time.Duration // fixed delay between polls
	ProtectiveOrders    bool          // attach TP/SL after an open
}

// DefaultExecutionConfig returns the production defaults.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		CloseVerifyAttempts: 5,
		CloseVerifyDelay:    time.Second,
		ProtectiveOrders:    true,
	}
}

// ExecutionCoordinator drives the exchange: validation, market orders,
// protective orders, verified closes and orphan cleanup.
type ExecutionCoordinator struct {
	gateway port.ExchangeGateway
	prices  port.PriceLookup
	cfg     ExecutionConfig

	newClientID func() string
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewExecutionCoordinator creates a coordinator. prices may be nil.
func NewExecutionCoordinator(gateway port.ExchangeGateway, prices port.PriceLookup, cfg ExecutionConfig) *ExecutionCoordinator {
	if cfg.CloseVerifyAttempts <= 0 {
		cfg.CloseVerifyAttempts = DefaultExecutionConfig().CloseVerifyAttempts
	}
	if cfg.CloseVerifyDelay < 0 {
		cfg.CloseVerifyDelay = 0
	}
	return &ExecutionCoordinator{
		gateway:     gateway,
		prices:      prices,
		cfg:         cfg,
		newClientID: uuid.NewString,
		sleep:       sleepCtx,
	}
}

// OpenRequest is one position open.
type OpenRequest struct {
	Symbol     string
	Side       model.Side
	Quantity   float64
	Leverage   float64
	EntryPrice float64
	Margin     float64
	Reason     string
	ExitPlan   *model.ExitPlan
}

// OpenResult is a successful open. Protective leg ids are set only for legs that succeeded.
type OpenResult struct {
	OrderID           string
	ClientOrderID     string
	Quantity          float64
	Price             float64
	TakeProfitOrderID string
	StopLossOrderID   string
	Warnings          []string
}

// CloseResult is the outcome of a close.
type CloseResult struct {
	AlreadyFlat bool
	OrderIDs    []string
	Residual    float64
	Attempts    int
}

// ProtectiveResult 止盈止损挂单结果
type ProtectiveResult struct {
	TakeProfitOrderID string
	StopLossOrderID   string
	Errors            []string
}

// Validate runs the pre-checks done before any network call.
func Validate(quantity, leverage, entryPrice float64) error {
	if quantity == 0 || math.IsNaN(quantity) {
		return domainservice.NewValidationError("quantity", "Position quantity cannot be zero")
	}
	if !(leverage > 0) {
		return domainservice.NewValidationError("leverage", "Leverage must be greater than zero")
	}
	if !(entryPrice > 0) {
		return domainservice.NewValidationError("entry_price", "Entry price must be greater than zero")
	}
	return nil
}

// Open places a market order for req. Failures of balance, leverage, price and
// filter lookups are downgraded to warnings; a placement failure is returned.
func (c *ExecutionCoordinator) Open(ctx context.Context, req OpenRequest) (*OpenResult, error) {
	if err := Validate(req.Quantity, req.Leverage, req.EntryPrice); err != nil {
		return nil, err
	}
	if !req.Side.Valid() {
		return nil, domainservice.NewValidationError("side", fmt.Sprintf("invalid side %q", req.Side))
	}

	res := &OpenResult{}
	logger := log.With().Str("symbol", req.Symbol).Str("side", string(req.Side)).Logger()

	// 1. price (stream cache, then REST, then the agent's entry price)
	price := c.lookupPrice(ctx, req.Symbol, req.EntryPrice, &res.Warnings)
	res.Price = price

	// 2. quantity rounding to the lot step
	qty := math.Abs(req.Quantity)
	filters, err := c.symbolFilters(ctx, req.Symbol)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("symbol filters unavailable: %v", err))
	} else if filters != nil {
		qty = domainservice.RoundToStep(qty, filters.StepSize)
		if qty == 0 {
			return nil, domainservice.NewValidationError("quantity",
				fmt.Sprintf("Position quantity cannot be zero (%.8g below lot step %.8g)", math.Abs(req.Quantity), filters.StepSize))
		}
		if filters.MinQty > 0 && qty < filters.MinQty {
			res.Warnings = append(res.Warnings, fmt.Sprintf("quantity %.8g below exchange minimum %.8g", qty, filters.MinQty))
		}
	}
	res.Quantity = qty

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 3. balance check
	leverage := int(math.Max(1, math.Round(req.Leverage)))
	if acct, err := c.accountInfo(ctx); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("balance check failed: %v", err))
	} else {
		required := qty * price / float64(leverage)
		if acct.AvailableBalance < required {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("available balance %.2f below required margin %.2f", acct.AvailableBalance, required))
		}
	}

	// 4. leverage
	if err := domainservice.SafeCall("set leverage", func() error {
		return c.gateway.SetLeverage(ctx, req.Symbol, leverage)
	}); err != nil {
		res.Warnings = append(res.Warnings, err.Error())
	}

	for _, w := range res.Warnings {
		logger.Warn().Msg(w)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 5. order placement, the only critical step
	order := model.OrderRequest{
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          model.OrderTypeMarket,
		Quantity:      qty,
		ClientOrderID: c.newClientID(),
	}
	var placed *model.OrderResult
	if err := domainservice.SafeCall("place order", func() error {
		var e error
		placed, e = c.gateway.PlaceOrder(ctx, order)
		return e
	}); err != nil {
		logger.Error().Err(err).Float64("quantity", qty).Msg("open order failed")
		return nil, err
	}
	if placed == nil {
		return nil, &domainservice.GatewayError{Op: "place order", Err: errors.New("empty order response")}
	}

	res.OrderID = placed.OrderID
	res.ClientOrderID = order.ClientOrderID
	if placed.AvgPrice > 0 {
		res.Price = placed.AvgPrice
	}

	logger.Info().
		Str("orderID", res.OrderID).
		Float64("quantity", qty).
		Int("leverage", leverage).
		Str("reason", req.Reason).
		Msg("position opened")

	// 6. protective orders
	if c.cfg.ProtectiveOrders && req.ExitPlan != nil {
		pr := c.AttachProtectiveOrders(ctx, req.Symbol, req.Side, qty, req.ExitPlan)
		res.TakeProfitOrderID = pr.TakeProfitOrderID
		res.StopLossOrderID = pr.StopLossOrderID
		res.Warnings = append(res.Warnings, pr.Errors...)
	}

	return res, nil
}

// AttachProtectiveOrders places the take-profit and stop-loss legs for a
// position opened with side. Each leg is attempted regardless of the other.
func (c *ExecutionCoordinator) AttachProtectiveOrders(
	ctx context.Context,
	symbol string,
	side model.Side,
	quantity float64,
	plan *model.ExitPlan,
) ProtectiveResult {
	var res ProtectiveResult
	if plan == nil {
		return res
	}

	tick := 0.0
	if filters, err := c.symbolFilters(ctx, symbol); err == nil && filters != nil {
		tick = filters.TickSize
	}

	legs := []struct {
		name      string
		orderType string
		price     float64
		id        *string
	}{
		{"take profit", model.OrderTypeTakeProfitMarket, plan.ProfitTarget, &res.TakeProfitOrderID},
		{"stop loss", model.OrderTypeStopMarket, plan.StopLoss, &res.StopLossOrderID},
	}

	for _, leg := range legs {
		if leg.price <= 0 {
			continue
		}
		req := model.OrderRequest{
			Symbol:        symbol,
			Side:          side.Opposite(),
			Type:          leg.orderType,
			Quantity:      quantity,
			StopPrice:     domainservice.RoundToTick(leg.price, tick),
			ClosePosition: true,
			ClientOrderID: c.newClientID(),
		}
		var placed *model.OrderResult
		err := domainservice.SafeCall("place "+leg.name+" order", func() error {
			var e error
			placed, e = c.gateway.PlaceOrder(ctx, req)
			return e
		})
		if err == nil && placed == nil {
			err = fmt.Errorf("place %s order: empty order response", leg.name)
		}
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Float64("stopPrice", req.StopPrice).Msg(leg.name + " order failed")
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		*leg.id = placed.OrderID
		log.Info().Str("symbol", symbol).Str("orderID", placed.OrderID).Float64("stopPrice", req.StopPrice).Msg(leg.name + " order placed")
	}
	return res
}

// Close cancels the symbol's open orders, flattens any open position and
// verifies with bounded polling that the position reached exactly zero.
func (c *ExecutionCoordinator) Close(ctx context.Context, symbol, reason string) (*CloseResult, error) {
	logger := log.With().Str("symbol", symbol).Str("reason", reason).Logger()

	if err := domainservice.SafeCall("cancel all orders", func() error {
		return c.gateway.CancelAllOrders(ctx, symbol)
	}); err != nil {
		logger.Error().Err(err).Msg("cancel open orders failed, close aborted")
		return nil, fmt.Errorf("%w: %v", domainservice.ErrCancelOrders, err)
	}

	open, err := c.openPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	res := &CloseResult{}
	if len(open) == 0 {
		res.AlreadyFlat = true
		logger.Info().Msg("no open position, nothing to close")
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, p := range open {
		side := model.SideSell
		if p.Quantity < 0 {
			side = model.SideBuy
		}
		req := model.OrderRequest{
			Symbol:        symbol,
			Side:          side,
			Type:          model.OrderTypeMarket,
			Quantity:      math.Abs(p.Quantity),
			ReduceOnly:    true,
			ClientOrderID: c.newClientID(),
		}
		var placed *model.OrderResult
		if err := domainservice.SafeCall("place close order", func() error {
			var e error
			placed, e = c.gateway.PlaceOrder(ctx, req)
			return e
		}); err != nil {
			logger.Error().Err(err).Float64("quantity", req.Quantity).Msg("close order failed")
			return res, err
		}
		if placed != nil {
			res.OrderIDs = append(res.OrderIDs, placed.OrderID)
		}
	}

	for attempt := 1; attempt <= c.cfg.CloseVerifyAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.cfg.CloseVerifyDelay); err != nil {
				return res, err
			}
		}
		res.Attempts = attempt

		remaining, err := c.openPositions(ctx, symbol)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("close verification query failed")
			continue
		}
		res.Residual = 0
		for _, p := range remaining {
			res.Residual += math.Abs(p.Quantity)
		}
		if res.Residual == 0 {
			logger.Info().Int("attempts", attempt).Strs("orderIDs", res.OrderIDs).Msg("position closed")
			return res, nil
		}
	}

	logger.Error().Float64("residual", res.Residual).Int("attempts", res.Attempts).Msg("position still open after close")
	return res, domainservice.ErrPositionsRemainOpen
}

// CleanOrphanedOrders cancels protective orders whose symbol has no position.
// A failed cancel is recorded and the sweep continues.
func (c *ExecutionCoordinator) CleanOrphanedOrders(ctx context.Context) (model.CleanupResult, error) {
	var res model.CleanupResult

	var orders []model.OpenOrder
	if err := domainservice.SafeCall("get open orders", func() error {
		var e error
		orders, e = c.gateway.GetOpenOrders(ctx, "")
		return e
	}); err != nil {
		return res, err
	}

	var positions []model.ExchangePosition
	if err := domainservice.SafeCall("get all positions", func() error {
		var e error
		positions, e = c.gateway.GetAllPositions(ctx)
		return e
	}); err != nil {
		return res, err
	}

	size := make(map[string]float64, len(positions))
	for _, p := range positions {
		size[p.Symbol] += math.Abs(p.Quantity)
	}

	for _, o := range orders {
		if !model.IsProtectiveOrderType(o.Type) || size[o.Symbol] != 0 {
			continue
		}
		if err := domainservice.SafeCall("cancel order", func() error {
			return c.gateway.CancelOrder(ctx, o.Symbol, o.OrderID)
		}); err != nil {
			msg := fmt.Sprintf("%s %s: %v", o.Symbol, o.OrderID, err)
			log.Warn().Str("symbol", o.Symbol).Str("orderID", o.OrderID).Err(err).Msg("orphan cancel failed")
			res.Errors = append(res.Errors, msg)
			continue
		}
		res.CancelledCount++
		log.Info().Str("symbol", o.Symbol).Str("orderID", o.OrderID).Str("type", o.Type).Msg("orphaned order cancelled")
	}
	return res, nil
}

// AvailableBalance reads the account's available balance. Used for best-effort reporting only.
func (c *ExecutionCoordinator) AvailableBalance(ctx context.Context) (float64, error) {
	acct, err := c.accountInfo(ctx)
	if err != nil {
		return 0, err
	}
	return acct.AvailableBalance, nil
}

// OpenPositions returns the exchange's non-zero positions.
func (c *ExecutionCoordinator) OpenPositions(ctx context.Context) ([]model.ExchangePosition, error) {
	var out []model.ExchangePosition
	err := domainservice.SafeCall("get positions", func() error {
		var e error
		out, e = c.gateway.GetPositions(ctx)
		return e
	})
	return out, err
}

func (c *ExecutionCoordinator) openPositions(ctx context.Context, symbol string) ([]model.ExchangePosition, error) {
	all, err := c.OpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.ExchangePosition
	for _, p := range all {
		if p.Symbol == symbol && p.Quantity != 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *ExecutionCoordinator) lookupPrice(ctx context.Context, symbol string, fallback float64, warnings *[]string) float64 {
	if c.prices != nil {
		if px, ok := c.prices.LastPrice(symbol); ok && px > 0 {
			return px
		}
	}
	var px float64
	err := domainservice.SafeCall("get mark price", func() error {
		var e error
		px, e = c.gateway.GetMarkPrice(ctx, symbol)
		return e
	})
	if err != nil || px <= 0 {
		if err != nil {
			*warnings = append(*warnings, err.Error())
		}
		return fallback
	}
	return px
}

func (c *ExecutionCoordinator) symbolFilters(ctx context.Context, symbol string) (*model.SymbolFilters, error) {
	var f *model.SymbolFilters
	err := domainservice.SafeCall("get symbol filters", func() error {
		var e error
		f, e = c.gateway.GetSymbolFilters(ctx, symbol)
		return e
	})
	return f, err
}

func (c *ExecutionCoordinator) accountInfo(ctx context.Context) (*model.AccountInfo, error) {
	var acct *model.AccountInfo
	err := domainservice.SafeCall("get account info", func() error {
		var e error
		acct, e = c.gateway.GetAccountInfo(ctx)
		return e
	})
	if err == nil && acct == nil {
		err = errors.New("empty account response")
	}
	return acct, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
