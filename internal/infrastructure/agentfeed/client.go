package agentfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"agentmirror/internal/application/port"
	"agentmirror/internal/domain/model"
	"agentmirror/internal/infrastructure/exchange"
)

const accountTotalsPath = "/api/account-totals"

// Client polls the agent leaderboard API for position snapshots.
type Client struct {
	baseURL   string
	http      *http.Client
	converter exchange.SymbolConverter
}

func NewClient(baseURL string, timeout time.Duration, converter exchange.SymbolConverter) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if converter == nil {
		converter = exchange.NewCommonSymbolConverter("USDT")
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: timeout},
		converter: converter,
	}
}

type exitPlanJSON struct {
	ProfitTarget          float64 `json:"profit_target"`
	StopLoss              float64 `json:"stop_loss"`
	InvalidationCondition string  `json:"invalidation_condition"`
}

type positionJSON struct {
	Symbol       string        `json:"symbol"`
	EntryPrice   float64       `json:"entry_price"`
	Quantity     float64       `json:"quantity"`
	Leverage     float64       `json:"leverage"`
	CurrentPrice float64       `json:"current_price"`
	Confidence   float64       `json:"confidence"`
	EntryOID     int64         `json:"entry_oid"`
	Margin       float64       `json:"margin"`
	ExitPlan     *exitPlanJSON `json:"exit_plan"`
}

type accountTotal struct {
	ModelID   string                  `json:"model_id"`
	Marker    int64                   `json:"since_inception_hourly_marker"`
	Positions map[string]positionJSON `json:"positions"`
}

type accountTotalsResp struct {
	AccountTotals []accountTotal `json:"accountTotals"`
}

func (c *Client) fetchTotals(ctx context.Context) ([]accountTotal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+accountTotalsPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("agent feed http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out accountTotalsResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode agent feed: %w", err)
	}
	return out.AccountTotals, nil
}

// latest keeps the record with the highest hourly marker per model id.
func latest(totals []accountTotal) map[string]accountTotal {
	out := make(map[string]accountTotal, len(totals))
	for _, t := range totals {
		if t.ModelID == "" {
			continue
		}
		if prev, ok := out[t.ModelID]; ok && prev.Marker > t.Marker {
			continue
		}
		out[t.ModelID] = t
	}
	return out
}

// Fetch returns the latest snapshot of agent. An unknown agent is an error.
func (c *Client) Fetch(ctx context.Context, agent string) ([]model.Position, error) {
	totals, err := c.fetchTotals(ctx)
	if err != nil {
		return nil, err
	}
	t, ok := latest(totals)[agent]
	if !ok {
		return nil, fmt.Errorf("agent %q not found in feed", agent)
	}

	coins := make([]string, 0, len(t.Positions))
	for coin := range t.Positions {
		coins = append(coins, coin)
	}
	sort.Strings(coins)

	out := make([]model.Position, 0, len(coins))
	for _, coin := range coins {
		p := c.toPosition(coin, t.Positions[coin])
		if err := p.Validate(); err != nil {
			// passed through; the engine skips invalid symbols
			log.Warn().Str("agent", agent).Str("symbol", p.Symbol).Err(err).Msg("invalid agent position")
		}
		out = append(out, p)
	}
	log.Debug().Str("agent", agent).Int64("marker", t.Marker).Int("positions", len(out)).Msg("agent snapshot fetched")
	return out, nil
}

func (c *Client) toPosition(coin string, p positionJSON) model.Position {
	sym := p.Symbol
	if sym == "" {
		sym = coin
	}
	pos := model.Position{
		Symbol:       c.converter.Coin2Symbol(sym),
		EntryPrice:   p.EntryPrice,
		Quantity:     p.Quantity,
		Leverage:     p.Leverage,
		CurrentPrice: p.CurrentPrice,
		Confidence:   p.Confidence,
		EntryID:      p.EntryOID,
		Margin:       p.Margin,
	}
	if p.ExitPlan != nil {
		pos.ExitPlan = &model.ExitPlan{
			ProfitTarget:          p.ExitPlan.ProfitTarget,
			StopLoss:              p.ExitPlan.StopLoss,
			InvalidationCondition: p.ExitPlan.InvalidationCondition,
		}
	}
	return pos
}

// Agents lists the model ids present in the feed.
func (c *Client) Agents(ctx context.Context) ([]string, error) {
	totals, err := c.fetchTotals(ctx)
	if err != nil {
		return nil, err
	}
	byID := latest(totals)
	out := make([]string, 0, len(byID))
	for id := range byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

var _ port.PositionSource = (*Client)(nil)
