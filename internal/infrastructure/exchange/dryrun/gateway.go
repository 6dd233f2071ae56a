// Package dryrun simulates order execution against a virtual book while
// reading market data from a real gateway.
package dryrun

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"agentmirror/internal/application/port"
	"agentmirror/internal/domain/model"
)

// Gateway is a port.ExchangeGateway that never sends orders. Positions and
// open orders live in memory; prices, filters and the starting balance come
// from the wrapped gateway when one is given.
type Gateway struct {
	inner port.ExchangeGateway // may be nil

	mu        sync.Mutex
	positions map[string]float64
	entry     map[string]float64
	leverage  map[string]int
	orders    map[string]model.OpenOrder
	balance   float64
}

func New(inner port.ExchangeGateway, startingBalance float64) *Gateway {
	return &Gateway{
		inner:     inner,
		positions: make(map[string]float64),
		entry:     make(map[string]float64),
		leverage:  make(map[string]int),
		orders:    make(map[string]model.OpenOrder),
		balance:   startingBalance,
	}
}

func newOrderID() string { return "dry-run-" + uuid.NewString() }

func (g *Gateway) list(includeZero bool) []model.ExchangePosition {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]model.ExchangePosition, 0, len(g.positions))
	for sym, qty := range g.positions {
		if qty == 0 && !includeZero {
			continue
		}
		out = append(out, model.ExchangePosition{
			Symbol:     sym,
			Quantity:   qty,
			EntryPrice: g.entry[sym],
			MarkPrice:  g.entry[sym],
			Leverage:   float64(g.leverage[sym]),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (g *Gateway) GetPositions(context.Context) ([]model.ExchangePosition, error) {
	return g.list(false), nil
}

func (g *Gateway) GetAllPositions(context.Context) ([]model.ExchangePosition, error) {
	return g.list(true), nil
}

func (g *Gateway) GetOpenOrders(_ context.Context, symbol string) ([]model.OpenOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []model.OpenOrder
	for _, o := range g.orders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.OrderResult, error) {
	if !req.Side.Valid() {
		return nil, fmt.Errorf("invalid side %q", req.Side)
	}
	id := newOrderID()
	symbol := strings.ToUpper(req.Symbol)

	if req.Type != model.OrderTypeMarket {
		g.mu.Lock()
		g.orders[id] = model.OpenOrder{OrderID: id, Symbol: symbol, Type: req.Type, Side: req.Side, Status: "NEW"}
		g.mu.Unlock()
		log.Info().Str("symbol", symbol).Str("type", req.Type).Float64("stopPrice", req.StopPrice).Str("orderID", id).Msg("[dry-run] order accepted")
		return &model.OrderResult{OrderID: id, ClientOrderID: req.ClientOrderID, Status: "NEW"}, nil
	}

	if req.Quantity <= 0 {
		return nil, errors.New("quantity must be positive")
	}
	px := 0.0
	if g.inner != nil {
		px, _ = g.inner.GetMarkPrice(ctx, symbol)
	}

	signed := req.Quantity
	if req.Side == model.SideSell {
		signed = -signed
	}

	g.mu.Lock()
	cur := g.positions[symbol]
	if req.ReduceOnly {
		if cur == 0 || math.Signbit(cur) == math.Signbit(signed) {
			g.mu.Unlock()
			return nil, errors.New("reduce-only order would increase position")
		}
		if math.Abs(signed) > math.Abs(cur) {
			signed = -cur
		}
	}
	next := cur + signed
	if math.Abs(next) < 1e-12 {
		next = 0
	}
	g.positions[symbol] = next
	if px > 0 && next != 0 && (cur == 0 || math.Signbit(cur) != math.Signbit(next)) {
		g.entry[symbol] = px
	}
	g.mu.Unlock()

	log.Info().
		Str("symbol", symbol).
		Str("side", string(req.Side)).
		Float64("quantity", math.Abs(signed)).
		Float64("price", px).
		Float64("position", next).
		Str("orderID", id).
		Msg("[dry-run] market order filled")

	return &model.OrderResult{
		OrderID:       id,
		ClientOrderID: req.ClientOrderID,
		Status:        "FILLED",
		AvgPrice:      px,
		ExecutedQty:   math.Abs(signed),
	}, nil
}

func (g *Gateway) CancelOrder(_ context.Context, symbol, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	if !ok || o.Symbol != symbol {
		return fmt.Errorf("unknown order %s on %s", orderID, symbol)
	}
	delete(g.orders, orderID)
	return nil
}

func (g *Gateway) CancelAllOrders(_ context.Context, symbol string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, o := range g.orders {
		if o.Symbol == symbol {
			delete(g.orders, id)
		}
	}
	return nil
}

func (g *Gateway) SetLeverage(_ context.Context, symbol string, leverage int) error {
	g.mu.Lock()
	g.leverage[strings.ToUpper(symbol)] = leverage
	g.mu.Unlock()
	return nil
}

func (g *Gateway) GetAccountInfo(ctx context.Context) (*model.AccountInfo, error) {
	g.mu.Lock()
	bal := g.balance
	g.mu.Unlock()
	if bal <= 0 && g.inner != nil {
		return g.inner.GetAccountInfo(ctx)
	}
	return &model.AccountInfo{AvailableBalance: bal, TotalWalletBalance: bal}, nil
}

func (g *Gateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	if g.inner == nil {
		return 0, errors.New("no market data source in dry-run")
	}
	return g.inner.GetMarkPrice(ctx, symbol)
}

func (g *Gateway) GetSymbolFilters(ctx context.Context, symbol string) (*model.SymbolFilters, error) {
	if g.inner == nil {
		return nil, nil
	}
	return g.inner.GetSymbolFilters(ctx, symbol)
}

var _ port.ExchangeGateway = (*Gateway)(nil)
