package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"agentmirror/internal/application/port"
)

type cachedPrice struct {
	px float64
	ts time.Time
}

// PriceCache keeps the last streamed price per symbol.
// Entries older than maxAge are treated as missing.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]cachedPrice
	maxAge time.Duration
	now    func() time.Time
}

func NewPriceCache(maxAge time.Duration) *PriceCache {
	return &PriceCache{
		prices: make(map[string]cachedPrice),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Apply stores a tick; ticks without a usable price are ignored.
func (c *PriceCache) Apply(t port.Tick) bool {
	px := t.PriceNum
	if px <= 0 && t.PriceStr != "" {
		px, _ = strconv.ParseFloat(t.PriceStr, 64)
	}
	if px <= 0 {
		return false
	}
	ts := c.now()
	if t.Ts > 0 {
		ts = time.UnixMilli(t.Ts)
	}

	sym := strings.ToUpper(t.Symbol)
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.prices[sym]; ok && prev.ts.After(ts) {
		return false
	}
	c.prices[sym] = cachedPrice{px: px, ts: ts}
	return true
}

// LastPrice implements port.PriceLookup.
func (c *PriceCache) LastPrice(symbol string) (float64, bool) {
	c.mu.RLock()
	p, ok := c.prices[strings.ToUpper(symbol)]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if c.maxAge > 0 && c.now().Sub(p.ts) > c.maxAge {
		return 0, false
	}
	return p.px, true
}

// Len returns the number of cached symbols.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prices)
}

// Run subscribes every feed and applies ticks until ctx is done.
func (c *PriceCache) Run(ctx context.Context, feeds []port.PriceFeed, symbols []string) error {
	if len(feeds) == 0 {
		return errors.New("no feeds")
	}

	merged := make(chan port.Tick, 1024)
	for _, feed := range feeds {
		ch, err := feed.Subscribe(ctx, symbols)
		if err != nil {
			return err
		}
		go func(in <-chan port.Tick) {
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-in:
					if !ok {
						return
					}
					select {
					case merged <- t:
					case <-ctx.Done():
						return
					}
				}
			}
		}(ch)
		log.Info().Str("feed", feed.Name()).Int("symbols", len(symbols)).Msg("price feed started")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-merged:
			c.Apply(t)
		}
	}
}
