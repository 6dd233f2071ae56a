package pricefeed

import (
	"fmt"
	"sort"
	"strings"

	"agentmirror/internal/application/port"

	"github.com/rs/zerolog/log"
)

// Factory builds a feed for a stream URL and quote asset.
type Factory func(wsURL, quote string) port.PriceFeed

// registry maps exchange names to their respective price feed factories
var registry = make(map[string]Factory)

// Register 注册一个 price feed factory，由各交易所包的 init() 调用
func Register(exchangeName string, factory Factory) {
	name := strings.ToUpper(exchangeName)
	if factory == nil {
		log.Warn().Str("exchange", name).Msg("invalid price feed factory")
		return
	}
	if _, exists := registry[name]; exists {
		log.Warn().Str("exchange", name).Msg("price feed factory already registered, overwriting")
	}
	registry[name] = factory
}

// Get 获取已注册的 price feed factory
func Get(exchangeName string) (Factory, bool) {
	factory, ok := registry[strings.ToUpper(exchangeName)]
	return factory, ok
}

// New builds the feed registered for exchangeName.
func New(exchangeName, wsURL, quote string) (port.PriceFeed, error) {
	f, ok := Get(exchangeName)
	if !ok {
		return nil, fmt.Errorf("no price feed registered for %q (have %v)", exchangeName, Names())
	}
	return f(wsURL, quote), nil
}

// Names lists registered exchanges.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
