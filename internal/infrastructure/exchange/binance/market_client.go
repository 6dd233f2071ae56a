package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"agentmirror/internal/domain/model"
)

// MarketClient 公共行情接口: mark price and exchange filters
type MarketClient struct {
	*APIClient

	mu      sync.RWMutex
	filters map[string]model.SymbolFilters
}

func NewMarketClient(client *APIClient) *MarketClient {
	return &MarketClient{APIClient: client}
}

type premiumIndexResp struct {
	Symbol    string `json:"symbol"`
	MarkPrice string `json:"markPrice"`
	Time      int64  `json:"time"`
}

// GetMarkPrice 获取标记价格
func (c *MarketClient) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.publicRequest(ctx, "/fapi/v1/premiumIndex", params)
	if err != nil {
		return 0, fmt.Errorf("get mark price failed: %w", err)
	}

	var resp premiumIndexResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parse mark price failed: %w", err)
	}
	px := parseFloat(resp.MarkPrice)
	if px <= 0 {
		return 0, fmt.Errorf("no mark price for %s", symbol)
	}
	return px, nil
}

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
			TickSize   string `json:"tickSize"`
			MinQty     string `json:"minQty"`
		} `json:"filters"`
	} `json:"symbols"`
}

// GetSymbolFilters returns LOT_SIZE / PRICE_FILTER of symbol. The exchange info
// is fetched once and cached for the life of the client.
func (c *MarketClient) GetSymbolFilters(ctx context.Context, symbol string) (*model.SymbolFilters, error) {
	symbol = strings.ToUpper(symbol)

	c.mu.RLock()
	loaded := c.filters != nil
	f, ok := c.filters[symbol]
	c.mu.RUnlock()
	if !loaded {
		if err := c.loadFilters(ctx); err != nil {
			return nil, err
		}
		c.mu.RLock()
		f, ok = c.filters[symbol]
		c.mu.RUnlock()
	}
	if !ok {
		return nil, fmt.Errorf("unknown symbol %s", symbol)
	}
	return &f, nil
}

func (c *MarketClient) loadFilters(ctx context.Context) error {
	body, err := c.publicRequest(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return fmt.Errorf("get exchange info failed: %w", err)
	}
	var resp exchangeInfoResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parse exchange info failed: %w", err)
	}

	filters := make(map[string]model.SymbolFilters, len(resp.Symbols))
	for _, s := range resp.Symbols {
		var f model.SymbolFilters
		for _, flt := range s.Filters {
			switch flt.FilterType {
			case "LOT_SIZE":
				f.StepSize = parseFloat(flt.StepSize)
				f.MinQty = parseFloat(flt.MinQty)
			case "PRICE_FILTER":
				f.TickSize = parseFloat(flt.TickSize)
			}
		}
		filters[strings.ToUpper(s.Symbol)] = f
	}

	c.mu.Lock()
	c.filters = filters
	c.mu.Unlock()
	return nil
}
