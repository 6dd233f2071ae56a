package pricefeed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmirror/internal/application/port"
)

type stubFeed struct{ url, quote string }

func (s *stubFeed) Name() string { return "STUB" }

func (s *stubFeed) Subscribe(ctx context.Context, symbols []string) (<-chan port.Tick, error) {
	return make(chan port.Tick), nil
}

func TestRegistry(t *testing.T) {
	Register("stub", func(wsURL, quote string) port.PriceFeed {
		return &stubFeed{url: wsURL, quote: quote}
	})
	Register("nil-factory", nil)
	t.Cleanup(func() { delete(registry, "STUB") })

	_, ok := Get("NIL-FACTORY")
	assert.False(t, ok)
	assert.Contains(t, Names(), "STUB")

	feed, err := New("Stub", "wss://example", "USDC")
	require.NoError(t, err)
	sf := feed.(*stubFeed)
	assert.Equal(t, "wss://example", sf.url)
	assert.Equal(t, "USDC", sf.quote)

	_, err = New("missing", "", "")
	assert.Error(t, err)
}
