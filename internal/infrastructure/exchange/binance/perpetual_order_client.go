package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"

	"agentmirror/internal/domain/model"
)

// PerpetualOrderClient Binance perpetual REST client
type PerpetualOrderClient struct {
	*APIClient
}

// NewPerpetualOrderClient creates perpetual order client
func NewPerpetualOrderClient(client *APIClient) *PerpetualOrderClient {
	return &PerpetualOrderClient{APIClient: client}
}

// orderParams builds the /fapi/v1/order form. closePosition orders carry no
// quantity and no reduceOnly flag.
func orderParams(o model.OrderRequest) url.Values {
	params := url.Values{}
	params.Set("symbol", o.Symbol)
	params.Set("side", string(o.Side))
	params.Set("type", o.Type)
	if o.ClientOrderID != "" {
		params.Set("newClientOrderId", o.ClientOrderID)
	}
	if o.StopPrice > 0 {
		params.Set("stopPrice", formatFloat(o.StopPrice))
		params.Set("workingType", "MARK_PRICE")
	}
	if o.ClosePosition {
		params.Set("closePosition", "true")
		return params
	}
	params.Set("quantity", formatFloat(o.Quantity))
	if o.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	params.Set("newOrderRespType", "RESULT")
	return params
}

// PlaceOrder 下单
func (c *PerpetualOrderClient) PlaceOrder(ctx context.Context, o model.OrderRequest) (*model.OrderResult, error) {
	body, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", orderParams(o))
	if err != nil {
		return nil, fmt.Errorf("place order failed: %w", err)
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse order response failed: %w", err)
	}

	if resp.OrderID == 0 {
		return nil, fmt.Errorf("order failed: %s", string(body))
	}

	log.Info().
		Str("exchange", ExchangeName).
		Str("symbol", o.Symbol).
		Str("side", string(o.Side)).
		Str("type", o.Type).
		Float64("quantity", o.Quantity).
		Int64("orderID", resp.OrderID).
		Str("status", resp.Status).
		Msg("order placed")

	return &model.OrderResult{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Status:        resp.Status,
		AvgPrice:      parseFloat(resp.AvgPrice),
		ExecutedQty:   parseFloat(resp.ExecutedQty),
	}, nil
}

// CancelOrder 撤销订单
func (c *PerpetualOrderClient) CancelOrder(ctx context.Context, symbol string, orderId string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderId)

	body, err := c.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", params)
	if err != nil {
		return fmt.Errorf("cancel order failed: %w", err)
	}

	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("parse cancel response failed: %w", err)
	}

	log.Info().
		Str("exchange", ExchangeName).
		Str("symbol", symbol).
		Str("orderId", orderId).
		Str("status", resp.Status).
		Msg("order cancelled")

	return nil
}

// CancelAllOrders 撤销该交易对的全部挂单
func (c *PerpetualOrderClient) CancelAllOrders(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.signedRequest(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params)
	if err != nil {
		return fmt.Errorf("cancel all orders failed: %w", err)
	}

	var resp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &resp); err == nil && resp.Code != 0 && resp.Code != 200 {
		return fmt.Errorf("cancel all orders failed: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

// GetOpenOrders 获取挂单; empty symbol queries every symbol
func (c *PerpetualOrderClient) GetOpenOrders(ctx context.Context, symbol string) ([]model.OpenOrder, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, fmt.Errorf("get open orders failed: %w", err)
	}

	var resp []OpenOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse open orders failed: %w", err)
	}

	out := make([]model.OpenOrder, 0, len(resp))
	for _, o := range resp {
		typ := o.Type
		if o.OrigType != "" {
			typ = o.OrigType
		}
		out = append(out, model.OpenOrder{
			OrderID: strconv.FormatInt(o.OrderID, 10),
			Symbol:  o.Symbol,
			Type:    typ,
			Side:    model.Side(o.Side),
			Status:  o.Status,
		})
	}
	return out, nil
}

// SetLeverage 设置杠杆倍数
func (c *PerpetualOrderClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))

	if _, err := c.signedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params); err != nil {
		return fmt.Errorf("set leverage failed: %w", err)
	}
	return nil
}

// ===== Response Models =====

// OrderResponse 订单响应
type OrderResponse struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	UpdateTime    int64  `json:"updateTime"`
}

// OpenOrderResponse 挂单响应
type OpenOrderResponse struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	ClientOrderID string `json:"clientOrderId"`
	Type          string `json:"type"`
	OrigType      string `json:"origType"`
	Side          string `json:"side"`
	StopPrice     string `json:"stopPrice"`
	ClosePosition bool   `json:"closePosition"`
	ReduceOnly    bool   `json:"reduceOnly"`
	Time          int64  `json:"time"`
}
