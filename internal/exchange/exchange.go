// Package exchange defines the venue-agnostic contract implemented by every
// venue adapter. Strategy and backtesting code consume this contract only;
// venue-specific shapes never leak past it.
package exchange

import (
	"context"

	"github.com/venuelink/venuelink/internal/market"
)

// Sink receives normalized entities produced by a venue adapter. Delivery
// order follows frame arrival order within one venue session; no ordering is
// guaranteed across venues.
type Sink interface {
	OnTick(tick market.Tick)
	OnCandle(candle market.Candle)
	OnOrder(order market.Order)
	OnPosition(position market.Position)
}

// API is the uniform surface one venue adapter exposes to the platform.
type API interface {
	// ID returns the venue identity.
	ID() market.Venue

	// SetSink installs the consumer of normalized entities. Must be called
	// before any subscription.
	SetSink(sink Sink)

	// SubscribeTicks starts streaming best-price updates for the symbol.
	SubscribeTicks(ctx context.Context, symbol string) error

	// UnsubscribeTicks stops streaming best-price updates for the symbol.
	UnsubscribeTicks(ctx context.Context, symbol string) error

	// SubscribeCandles starts streaming candles for the symbol and timeframe.
	SubscribeCandles(ctx context.Context, symbol string, tf market.Timeframe) error

	// UnsubscribeCandles stops streaming candles for the symbol and timeframe.
	UnsubscribeCandles(ctx context.Context, symbol string, tf market.Timeframe) error

	// ListenOrders starts streaming the account's order updates. Requires a
	// credential.
	ListenOrders(ctx context.Context) error

	// ListenPositions starts streaming the account's position updates.
	// Requires a credential.
	ListenPositions(ctx context.Context) error

	// PlaceOrder submits an order and awaits the venue acknowledgment. A nil
	// error means submission succeeded, not that the order reached a
	// terminal state.
	PlaceOrder(ctx context.Context, req market.OrderRequest) (market.Order, error)

	// CandlesHistory fetches one bounded page of historical candles using the
	// venue's cursor semantics. The adapter never auto-paginates.
	CandlesHistory(ctx context.Context, q market.CandleQuery) ([]market.Candle, error)

	// GetOrder returns the venue's current view of the order.
	GetOrder(ctx context.Context, id string) (market.Order, error)
}
