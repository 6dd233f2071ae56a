package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmirror/internal/application/port"
)

func TestPriceCacheApply(t *testing.T) {
	c := NewPriceCache(0)
	base := time.Now().UnixMilli()

	assert.True(t, c.Apply(port.Tick{Symbol: "btcusdt", PriceNum: 60000, Ts: base}))
	assert.True(t, c.Apply(port.Tick{Symbol: "BTCUSDT", PriceStr: "60100.5", Ts: base + 1000}))
	assert.False(t, c.Apply(port.Tick{Symbol: "BTCUSDT", PriceNum: 59000, Ts: base}), "older tick")
	assert.False(t, c.Apply(port.Tick{Symbol: "ETHUSDT", PriceNum: 0}), "no price")

	px, ok := c.LastPrice("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 60100.5, px)
	assert.Equal(t, 1, c.Len())

	_, ok = c.LastPrice("ETHUSDT")
	assert.False(t, ok)
}

func TestPriceCacheMaxAge(t *testing.T) {
	c := NewPriceCache(10 * time.Second)
	now := time.Date(2025, 10, 20, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Apply(port.Tick{Symbol: "BTCUSDT", PriceNum: 60000, Ts: now.Add(-5 * time.Second).UnixMilli()})
	_, ok := c.LastPrice("BTCUSDT")
	assert.True(t, ok)

	now = now.Add(10 * time.Second)
	_, ok = c.LastPrice("BTCUSDT")
	assert.False(t, ok)
}

type chanFeed struct {
	ch chan port.Tick
}

func (f *chanFeed) Name() string { return "TEST" }

func (f *chanFeed) Subscribe(ctx context.Context, symbols []string) (<-chan port.Tick, error) {
	return f.ch, nil
}

func TestPriceCacheRun(t *testing.T) {
	c := NewPriceCache(0)
	feed := &chanFeed{ch: make(chan port.Tick, 4)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, []port.PriceFeed{feed}, []string{"BTC"}) }()

	feed.ch <- port.Tick{Exchange: "TEST", Symbol: "BTCUSDT", PriceNum: 61000, Ts: time.Now().UnixMilli()}
	require.Eventually(t, func() bool {
		px, ok := c.LastPrice("BTCUSDT")
		return ok && px == 61000
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestPriceCacheRunWithoutFeeds(t *testing.T) {
	assert.Error(t, NewPriceCache(0).Run(context.Background(), nil, nil))
}
