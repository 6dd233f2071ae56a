package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"agentmirror/internal/application/port"
	"agentmirror/internal/infrastructure/exchange"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const ExchangeName = "BINANCE"

const DefaultStreamURL = "wss://fstream.binance.com"

// MarkPriceFeed streams mark prices of USDT-M perpetuals.
type MarkPriceFeed struct {
	wsURL     string // e.g. wss://fstream.binance.com
	converter exchange.SymbolConverter
}

// NewMarkPriceFeed 创建 Binance mark price feed
func NewMarkPriceFeed(wsURL string, converter exchange.SymbolConverter) *MarkPriceFeed {
	if strings.TrimSpace(wsURL) == "" {
		wsURL = DefaultStreamURL
	}
	if converter == nil {
		converter = exchange.NewCommonSymbolConverter("USDT")
	}
	return &MarkPriceFeed{
		wsURL:     strings.TrimSpace(wsURL),
		converter: converter,
	}
}

func (f *MarkPriceFeed) Name() string { return ExchangeName }

type binanceCombined struct {
	Stream string          `json:"stream"`
	Data   binanceMarkData `json:"data"`
}

type binanceMarkData struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	MarkPrice string `json:"p"`
}

// Subscribe accepts coins or symbols (BTC or BTCUSDT).
func (f *MarkPriceFeed) Subscribe(ctx context.Context, coins []string) (<-chan port.Tick, error) {
	symbols := make([]string, 0, len(coins))
	for _, coin := range coins {
		if s := f.converter.Coin2Symbol(coin); s != "" {
			symbols = append(symbols, s)
		}
	}

	wsURL, err := buildCombinedURL(f.wsURL, symbols)
	if err != nil {
		return nil, err
	}

	out := make(chan port.Tick, 1024)
	go f.run(ctx, wsURL, out)
	return out, nil
}

func buildCombinedURL(base string, symbols []string) (string, error) {
	if base == "" {
		return "", errors.New("binance ws_base empty")
	}
	if len(symbols) == 0 {
		return "", errors.New("symbols empty")
	}

	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		streams = append(streams, fmt.Sprintf("%s@markPrice@1s", s))
	}
	if len(streams) == 0 {
		return "", errors.New("no valid symbols")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = "/stream"
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

// parseMarkMessage decodes one combined stream frame.
func parseMarkMessage(b []byte) (port.Tick, bool) {
	var msg binanceCombined
	if err := json.Unmarshal(b, &msg); err != nil {
		return port.Tick{}, false
	}
	sym := strings.ToUpper(msg.Data.Symbol)
	pxs := strings.TrimSpace(msg.Data.MarkPrice)
	if sym == "" || pxs == "" {
		return port.Tick{}, false
	}
	pxn, _ := strconv.ParseFloat(pxs, 64)
	ts := msg.Data.EventTime
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return port.Tick{
		Exchange: ExchangeName,
		Symbol:   sym,
		PriceStr: pxs,
		PriceNum: pxn,
		Ts:       ts,
	}, true
}

func (f *MarkPriceFeed) run(ctx context.Context, wsURL string, out chan<- port.Tick) {
	defer close(out)

	backoff := 500 * time.Millisecond
	maxBackoff := 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		log.Debug().Str("feed", f.Name()).Str("url", wsURL).Msg("ws connecting")
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, _, err := websocket.DefaultDialer.DialContext(cctx, wsURL, nil)
		cancel()
		if err != nil {
			log.Error().Str("feed", f.Name()).Err(err).Msg("ws dial failed")
			if !sleepBackoff(ctx, backoff) {
				return
			}
			backoff = minDur(backoff*2, maxBackoff)
			continue
		}

		backoff = 500 * time.Millisecond
		log.Info().Str("feed", f.Name()).Msg("ws connected")

		err = readLoop(ctx, conn, func(b []byte) {
			t, ok := parseMarkMessage(b)
			if !ok {
				return
			}
			select {
			case out <- t:
			default:
				// consumer is behind; the next mark price supersedes this one
			}
		})

		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}

		log.Warn().Str("feed", f.Name()).Err(err).Msg("ws disconnected, reconnecting")
		if !sleepBackoff(ctx, backoff) {
			return
		}
		backoff = minDur(backoff*2, maxBackoff)
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, onMsg func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			onMsg(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

func sleepBackoff(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
