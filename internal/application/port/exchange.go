package port

import (
	"context"

	"agentmirror/internal/domain/model"
)

// ExchangeGateway is the exchange wrapper the execution coordinator drives.
type ExchangeGateway interface {
	// GetPositions returns only non-zero positions.
	GetPositions(ctx context.Context) ([]model.ExchangePosition, error)
	// GetAllPositions returns every position including zero ones.
	GetAllPositions(ctx context.Context) ([]model.ExchangePosition, error)
	// GetOpenOrders returns open orders; an empty symbol means all symbols.
	GetOpenOrders(ctx context.Context, symbol string) ([]model.OpenOrder, error)
	// PlaceOrder returns an error when the exchange rejects the order.
	PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	GetAccountInfo(ctx context.Context) (*model.AccountInfo, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
	GetSymbolFilters(ctx context.Context, symbol string) (*model.SymbolFilters, error)
}
