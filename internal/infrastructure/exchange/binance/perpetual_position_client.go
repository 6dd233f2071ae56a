package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"agentmirror/internal/domain/model"
)

// PerpetualPositionClient Binance perpetual position client
type PerpetualPositionClient struct {
	*APIClient
}

// NewPerpetualPositionClient creates perpetual position client
func NewPerpetualPositionClient(client *APIClient) *PerpetualPositionClient {
	return &PerpetualPositionClient{APIClient: client}
}

// PositionRisk /fapi/v2/positionRisk 单项
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	PositionSide     string `json:"positionSide"`
}

// GetAllPositions 获取所有持仓，包括数量为 0 的
func (c *PerpetualPositionClient) GetAllPositions(ctx context.Context) ([]model.ExchangePosition, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get binance positions: %w", err)
	}

	var resp []PositionRisk
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal binance positions: %w", err)
	}

	out := make([]model.ExchangePosition, 0, len(resp))
	for _, p := range resp {
		out = append(out, model.ExchangePosition{
			Symbol:        p.Symbol,
			Quantity:      parseFloat(p.PositionAmt),
			EntryPrice:    parseFloat(p.EntryPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			UnrealizedPnL: parseFloat(p.UnRealizedProfit),
			Leverage:      parseFloat(p.Leverage),
		})
	}
	return out, nil
}

// GetPositions 获取非零持仓
func (c *PerpetualPositionClient) GetPositions(ctx context.Context) ([]model.ExchangePosition, error) {
	all, err := c.GetAllPositions(ctx)
	if err != nil {
		return nil, err
	}
	var open []model.ExchangePosition
	for _, p := range all {
		if p.Quantity != 0 {
			open = append(open, p)
		}
	}
	return open, nil
}
