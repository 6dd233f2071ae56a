package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

const DefaultPerpetualURL = "https://fapi.binance.com"

// ===== Credentials 凭证 =====

// Credentials 包含 API 凭证和签名方法
type Credentials struct {
	apiKey    string
	apiSecret string
}

// NewCredentials 创建凭证对象
func NewCredentials(apiKey, apiSecret string) *Credentials {
	return &Credentials{
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}
}

// Sign 生成 HMAC-SHA256 签名
func (c *Credentials) Sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// APIKey 返回 API Key
func (c *Credentials) APIKey() string {
	return c.apiKey
}

type APIClient struct {
	credentials *Credentials
	httpClient  *http.Client
	baseURL     string
	recvWindow  int64
	now         func() time.Time
}

// ClientOptions 客户端参数
type ClientOptions struct {
	APIKey     string
	APISecret  string
	BaseURL    string
	Timeout    time.Duration
	RecvWindow int64 // ms
}

func newAPIClient(opts ClientOptions) *APIClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultPerpetualURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RecvWindow <= 0 {
		opts.RecvWindow = 5000
	}
	return &APIClient{
		credentials: NewCredentials(opts.APIKey, opts.APISecret),
		httpClient:  &http.Client{Timeout: opts.Timeout},
		baseURL:     opts.BaseURL,
		recvWindow:  opts.RecvWindow,
		now:         time.Now,
	}
}

// PerpetualManager Binance perpetual unified manager
type PerpetualManager struct {
	Order    *PerpetualOrderClient
	Account  *PerpetualAccountClient
	Position *PerpetualPositionClient
	Market   *MarketClient
}

// NewPerpetualManager 通过一组凭证创建 USDT-M perpetual manager, sharing one HTTP client
func NewPerpetualManager(opts ClientOptions) *PerpetualManager {
	apiClient := newAPIClient(opts)
	return &PerpetualManager{
		Order:    NewPerpetualOrderClient(apiClient),
		Account:  NewPerpetualAccountClient(apiClient),
		Position: NewPerpetualPositionClient(apiClient),
		Market:   NewMarketClient(apiClient),
	}
}
