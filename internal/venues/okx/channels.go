// Package okx implements the OKX venue adapter. OKX frames carry no explicit
// discriminator tag, so inbound classification probes candidate shapes in a
// fixed priority order; subscriptions are arg objects rather than flat topic
// strings.
package okx

import (
	"strings"

	"github.com/venuelink/venuelink/errs"
	"github.com/venuelink/venuelink/internal/exchange"
	"github.com/venuelink/venuelink/internal/market"
)

const (
	channelTickers   = "tickers"
	channelOrders    = "orders"
	channelPositions = "positions"
)

// subscriptionArg is the channel descriptor OKX expects in subscribe frames
// and echoes back on every data frame.
type subscriptionArg struct {
	Channel  string `json:"channel"`
	InstID   string `json:"instId,omitempty"`
	InstType string `json:"instType,omitempty"`
}

// barFor maps a timeframe onto OKX's candle bar token. OKX capitalizes the
// hour and day units.
func barFor(tf market.Timeframe) (string, error) {
	switch tf {
	case market.Timeframe1m:
		return "1m", nil
	case market.Timeframe5m:
		return "5m", nil
	case market.Timeframe15m:
		return "15m", nil
	case market.Timeframe1h:
		return "1H", nil
	case market.Timeframe4h:
		return "4H", nil
	case market.Timeframe1d:
		return "1D", nil
	default:
		return "", errs.New(venueName, errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(tf)))
	}
}

func timeframeForBar(bar string) market.Timeframe {
	switch bar {
	case "1m":
		return market.Timeframe1m
	case "5m":
		return market.Timeframe5m
	case "15m":
		return market.Timeframe15m
	case "1H":
		return market.Timeframe1h
	case "4H":
		return market.Timeframe4h
	case "1D":
		return market.Timeframe1d
	default:
		return market.Timeframe(bar)
	}
}

// topicFor renders a channel to the canonical topic string
// "channel:instId". The rendered string is the subscription identity; the
// protocol re-expands it into an arg object when writing control frames.
func topicFor(ch exchange.Channel) (string, error) {
	switch ch.Kind {
	case exchange.ChannelTicker:
		return channelTickers + ":" + strings.TrimSpace(ch.Symbol), nil
	case exchange.ChannelCandles:
		bar, err := barFor(ch.Timeframe)
		if err != nil {
			return "", err
		}
		return "candle" + bar + ":" + strings.TrimSpace(ch.Symbol), nil
	case exchange.ChannelOrders:
		return channelOrders, nil
	case exchange.ChannelPositions:
		return channelPositions, nil
	default:
		return "", errs.New(venueName, errs.CodeInvalid,
			errs.WithMessage("unknown channel kind"),
			errs.WithField("kind", string(ch.Kind)))
	}
}

// topicOf renders the inbound arg back to the same canonical string
// topicFor produces, so desired-set bookkeeping and frame routing agree.
func topicOf(arg subscriptionArg) string {
	if arg.InstID == "" {
		return arg.Channel
	}
	return arg.Channel + ":" + arg.InstID
}

// argForTopic expands a canonical topic string into the wire arg object.
// Private account channels carry an instType scope instead of an instId.
func argForTopic(topic string) subscriptionArg {
	channel, instID, found := strings.Cut(topic, ":")
	arg := subscriptionArg{Channel: channel}
	if found {
		arg.InstID = instID
		return arg
	}
	if channel == channelOrders || channel == channelPositions {
		arg.InstType = "ANY"
	}
	return arg
}
