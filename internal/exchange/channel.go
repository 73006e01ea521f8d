package exchange

import (
	"github.com/venuelink/venuelink/internal/market"
)

// ChannelKind enumerates the subscribable topic families.
type ChannelKind string

const (
	// ChannelTicker streams best-price updates for one instrument.
	ChannelTicker ChannelKind = "ticker"
	// ChannelCandles streams OHLCV bars for one instrument and timeframe.
	ChannelCandles ChannelKind = "candles"
	// ChannelOrders streams the account's order updates.
	ChannelOrders ChannelKind = "orders"
	// ChannelPositions streams the account's position updates.
	ChannelPositions ChannelKind = "positions"
)

// Channel describes a subscribable topic in venue-agnostic terms. Each venue
// renders a channel to its exact topic string; two differently-constructed
// values that render to the same topic are the same subscription, so
// subscription identity is always the rendered string, never this struct.
type Channel struct {
	Kind      ChannelKind
	Symbol    string
	Timeframe market.Timeframe
}

// Ticker builds a ticker channel for the symbol.
func Ticker(symbol string) Channel {
	return Channel{Kind: ChannelTicker, Symbol: symbol}
}

// Candles builds a candle channel for the symbol and timeframe.
func Candles(tf market.Timeframe, symbol string) Channel {
	return Channel{Kind: ChannelCandles, Symbol: symbol, Timeframe: tf}
}

// Orders builds the private order-update channel.
func Orders() Channel {
	return Channel{Kind: ChannelOrders}
}

// Positions builds the private position-update channel.
func Positions() Channel {
	return Channel{Kind: ChannelPositions}
}
