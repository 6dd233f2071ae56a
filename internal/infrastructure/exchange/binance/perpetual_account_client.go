package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"agentmirror/internal/domain/model"
)

// PerpetualAccountClient Binance perpetual account query client
type PerpetualAccountClient struct {
	*APIClient
}

// NewPerpetualAccountClient creates perpetual account client
func NewPerpetualAccountClient(client *APIClient) *PerpetualAccountClient {
	return &PerpetualAccountClient{APIClient: client}
}

// AccountResponse 账户响应
type AccountResponse struct {
	TotalWalletBalance    string `json:"totalWalletBalance"`
	TotalUnrealizedProfit string `json:"totalUnrealizedProfit"`
	TotalMarginBalance    string `json:"totalMarginBalance"`
	TotalInitialMargin    string `json:"totalInitialMargin"`
	TotalMaintMargin      string `json:"totalMaintMargin"`
	AvailableBalance      string `json:"availableBalance"`
	MaxWithdrawAmount     string `json:"maxWithdrawAmount"`
}

// GetAccount gets perpetual account info
func (c *PerpetualAccountClient) GetAccount(ctx context.Context) (*model.AccountInfo, error) {
	body, err := c.signedRequest(ctx, http.MethodGet, "/fapi/v2/account", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get binance perpetual account: %w", err)
	}

	var resp AccountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal binance perpetual account: %w", err)
	}

	return &model.AccountInfo{
		AvailableBalance:      parseFloat(resp.AvailableBalance),
		TotalWalletBalance:    parseFloat(resp.TotalWalletBalance),
		TotalUnrealizedProfit: parseFloat(resp.TotalUnrealizedProfit),
		TotalMarginRequired:   parseFloat(resp.TotalInitialMargin),
	}, nil
}
