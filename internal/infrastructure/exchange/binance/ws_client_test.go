package binance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCombinedURL(t *testing.T) {
	u, err := buildCombinedURL("wss://fstream.binance.com", []string{"BTCUSDT", " ethusdt "})
	require.NoError(t, err)
	assert.Equal(t, "wss://fstream.binance.com/stream?streams=btcusdt@markPrice@1s/ethusdt@markPrice@1s", u)

	_, err = buildCombinedURL("", []string{"BTCUSDT"})
	assert.Error(t, err)
	_, err = buildCombinedURL("wss://x", nil)
	assert.Error(t, err)
}

func TestParseMarkMessage(t *testing.T) {
	tick, ok := parseMarkMessage([]byte(`{"stream":"btcusdt@markPrice@1s","data":{"e":"markPriceUpdate","E":1700000000000,"s":"BTCUSDT","p":"45000.10"}}`))
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", tick.Symbol)
	assert.Equal(t, ExchangeName, tick.Exchange)
	assert.InDelta(t, 45000.10, tick.PriceNum, 1e-9)
	assert.Equal(t, int64(1700000000000), tick.Ts)

	_, ok = parseMarkMessage([]byte(`not json`))
	assert.False(t, ok)
	_, ok = parseMarkMessage([]byte(`{"data":{"s":"BTCUSDT"}}`))
	assert.False(t, ok)
}

func TestSubscribeConvertsCoins(t *testing.T) {
	f := NewMarkPriceFeed("", nil)
	assert.Equal(t, ExchangeName, f.Name())
	assert.Equal(t, DefaultStreamURL, f.wsURL)
}
