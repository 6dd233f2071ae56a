package binance

import (
	"agentmirror/internal/application/port"
	"agentmirror/internal/infrastructure/exchange"
	"agentmirror/internal/infrastructure/pricefeed"
)

// init() registers the Binance mark price feed factory
func init() {
	pricefeed.Register(ExchangeName, func(wsURL, quote string) port.PriceFeed {
		return NewMarkPriceFeed(wsURL, exchange.NewCommonSymbolConverter(quote))
	})
}
