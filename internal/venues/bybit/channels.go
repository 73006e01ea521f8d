// Package bybit implements the Bybit venue adapter: tagged websocket message
// taxonomy, v5 REST endpoints and normalization into the shared data model.
package bybit

import (
	"strings"

	"github.com/venuelink/venuelink/internal/exchange"
)

const (
	topicOrders    = "order"
	topicPositions = "position"
)

// topicFor renders a channel to the exact Bybit topic string. Subscription
// identity is this rendered string.
func topicFor(ch exchange.Channel) string {
	switch ch.Kind {
	case exchange.ChannelTicker:
		return "tickers." + strings.TrimSpace(ch.Symbol)
	case exchange.ChannelCandles:
		return "kline." + string(ch.Timeframe) + "." + strings.TrimSpace(ch.Symbol)
	case exchange.ChannelOrders:
		return topicOrders
	case exchange.ChannelPositions:
		return topicPositions
	default:
		return ""
	}
}

// splitTopic breaks an inbound topic into its dot segments.
func splitTopic(topic string) []string {
	return strings.Split(strings.TrimSpace(topic), ".")
}
