package model

// ========== Exchange views ==========

// Order types used by the mirror.
const (
	OrderTypeMarket           = "MARKET"
	OrderTypeTakeProfitMarket = "TAKE_PROFIT_MARKET"
	OrderTypeStopMarket       = "STOP_MARKET"
)

// IsProtectiveOrderType reports whether t is a take-profit or stop-loss order type.
func IsProtectiveOrderType(t string) bool {
	return t == OrderTypeTakeProfitMarket || t == OrderTypeStopMarket
}

// ExchangePosition 交易所持仓
type ExchangePosition struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"` // signed position amount
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Leverage      float64 `json:"leverage"`
}

// OpenOrder 交易所挂单
type OpenOrder struct {
	OrderID string `json:"order_id"`
	Symbol  string `json:"symbol"`
	Type    string `json:"type"`
	Side    Side   `json:"side"`
	Status  string `json:"status"`
}

// OrderRequest is a request to place one order.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          string
	Quantity      float64
	StopPrice     float64
	ReduceOnly    bool
	ClosePosition bool
	ClientOrderID string
}

// OrderResult is the exchange's answer to a placed order.
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Status        string
	AvgPrice      float64
	ExecutedQty   float64
}

// AccountInfo 合约账户信息
type AccountInfo struct {
	AvailableBalance      float64 `json:"available_balance"`
	TotalWalletBalance    float64 `json:"total_wallet_balance"`
	TotalUnrealizedProfit float64 `json:"total_unrealized_profit"`
	TotalMarginRequired   float64 `json:"total_margin_required"`
}

// SymbolFilters are the lot and price filters of a symbol.
type SymbolFilters struct {
	StepSize float64
	TickSize float64
	MinQty   float64
}

// CleanupResult is the outcome of an orphaned order sweep.
type CleanupResult struct {
	CancelledCount int      `json:"cancelled_count"`
	Errors         []string `json:"errors,omitempty"`
}

// Success reports whether every orphan was cancelled.
func (r CleanupResult) Success() bool {
	return len(r.Errors) == 0
}
