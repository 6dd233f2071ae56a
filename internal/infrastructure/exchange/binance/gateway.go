package binance

import (
	"context"

	"agentmirror/internal/application/port"
	"agentmirror/internal/domain/model"
)

// Gateway adapts the perpetual manager to port.ExchangeGateway.
type Gateway struct {
	m *PerpetualManager
}

func NewGateway(m *PerpetualManager) *Gateway {
	return &Gateway{m: m}
}

func (g *Gateway) GetPositions(ctx context.Context) ([]model.ExchangePosition, error) {
	return g.m.Position.GetPositions(ctx)
}

func (g *Gateway) GetAllPositions(ctx context.Context) ([]model.ExchangePosition, error) {
	return g.m.Position.GetAllPositions(ctx)
}

func (g *Gateway) GetOpenOrders(ctx context.Context, symbol string) ([]model.OpenOrder, error) {
	return g.m.Order.GetOpenOrders(ctx, symbol)
}

func (g *Gateway) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error) {
	return g.m.Order.PlaceOrder(ctx, req)
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return g.m.Order.CancelOrder(ctx, symbol, orderID)
}

func (g *Gateway) CancelAllOrders(ctx context.Context, symbol string) error {
	return g.m.Order.CancelAllOrders(ctx, symbol)
}

func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return g.m.Order.SetLeverage(ctx, symbol, leverage)
}

func (g *Gateway) GetAccountInfo(ctx context.Context) (*model.AccountInfo, error) {
	return g.m.Account.GetAccount(ctx)
}

func (g *Gateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return g.m.Market.GetMarkPrice(ctx, symbol)
}

func (g *Gateway) GetSymbolFilters(ctx context.Context, symbol string) (*model.SymbolFilters, error) {
	return g.m.Market.GetSymbolFilters(ctx, symbol)
}

var _ port.ExchangeGateway = (*Gateway)(nil)
