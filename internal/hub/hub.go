// Package hub is the platform-facing facade over the venue adapters. It
// refcounts subscription interest so venue-side subscriptions happen exactly
// once per topic, fans normalized streams out to consumers and routes order
// submissions through the risk checks.
package hub

import (
	"context"
	"sync"

	"github.com/venuelink/venuelink/errs"
	"github.com/venuelink/venuelink/internal/exchange"
	"github.com/venuelink/venuelink/internal/market"
	"github.com/venuelink/venuelink/internal/observability"
	"github.com/venuelink/venuelink/internal/risk"
)

// interestKey identifies one venue-side subscription. Two channels rendering
// to the same venue topic collapse onto one key.
type interestKey struct {
	venue market.Venue
	kind  exchange.ChannelKind
	sym   string
	tf    market.Timeframe
}

func keyFor(venue market.Venue, ch exchange.Channel) interestKey {
	key := interestKey{venue: venue, kind: ch.Kind}
	switch ch.Kind {
	case exchange.ChannelTicker:
		key.sym = ch.Symbol
	case exchange.ChannelCandles:
		key.sym = ch.Symbol
		key.tf = ch.Timeframe
	}
	return key
}

// Hub coordinates subscription interest across consumers and venues.
type Hub struct {
	registry *exchange.Registry
	risk     *risk.Manager

	// mu guards the interest map and is held across the venue-side call so
	// concurrent edges on the same key serialize.
	mu       sync.Mutex
	interest map[interestKey]int

	consumersMu sync.RWMutex
	consumers   []exchange.Sink
}

// New builds a hub over the registered adapters and installs itself as their
// sink. The risk manager may be nil to disable pre-trade checks.
func New(registry *exchange.Registry, riskManager *risk.Manager) *Hub {
	h := &Hub{
		registry: registry,
		risk:     riskManager,
		interest: make(map[interestKey]int),
	}
	for _, venue := range registry.Venues() {
		if api, err := registry.Get(venue); err == nil {
			api.SetSink(h)
		}
	}
	return h
}

// AddConsumer registers a consumer of the normalized streams. Consumers
// receive every entity from every venue; filtering is theirs.
func (h *Hub) AddConsumer(sink exchange.Sink) {
	if sink == nil {
		return
	}
	h.consumersMu.Lock()
	h.consumers = append(h.consumers, sink)
	h.consumersMu.Unlock()
}

// Subscribe raises interest in the channel. Only the 0 to 1 transition
// reaches the venue; later subscribers ride the existing stream.
func (h *Hub) Subscribe(ctx context.Context, venue market.Venue, ch exchange.Channel) error {
	api, err := h.registry.Get(venue)
	if err != nil {
		return err
	}
	key := keyFor(venue, ch)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.interest[key] > 0 {
		h.interest[key]++
		return nil
	}
	if err := subscribeVenue(ctx, api, ch); err != nil {
		return err
	}
	h.interest[key] = 1
	return nil
}

// Unsubscribe drops interest in the channel. Only the 1 to 0 transition
// tears the venue subscription down; dropping interest that was never raised
// is a no-op.
func (h *Hub) Unsubscribe(ctx context.Context, venue market.Venue, ch exchange.Channel) error {
	api, err := h.registry.Get(venue)
	if err != nil {
		return err
	}
	key := keyFor(venue, ch)

	h.mu.Lock()
	defer h.mu.Unlock()
	count, ok := h.interest[key]
	if !ok {
		return nil
	}
	if count > 1 {
		h.interest[key] = count - 1
		return nil
	}
	if err := unsubscribeVenue(ctx, api, ch); err != nil {
		return err
	}
	delete(h.interest, key)
	return nil
}

func subscribeVenue(ctx context.Context, api exchange.API, ch exchange.Channel) error {
	switch ch.Kind {
	case exchange.ChannelTicker:
		return api.SubscribeTicks(ctx, ch.Symbol)
	case exchange.ChannelCandles:
		return api.SubscribeCandles(ctx, ch.Symbol, ch.Timeframe)
	case exchange.ChannelOrders:
		return api.ListenOrders(ctx)
	case exchange.ChannelPositions:
		return api.ListenPositions(ctx)
	default:
		return errs.New(string(api.ID()), errs.CodeInvalid,
			errs.WithMessage("unknown channel kind"),
			errs.WithField("kind", string(ch.Kind)))
	}
}

func unsubscribeVenue(ctx context.Context, api exchange.API, ch exchange.Channel) error {
	switch ch.Kind {
	case exchange.ChannelTicker:
		return api.UnsubscribeTicks(ctx, ch.Symbol)
	case exchange.ChannelCandles:
		return api.UnsubscribeCandles(ctx, ch.Symbol, ch.Timeframe)
	default:
		// Private account streams stay attached for the session lifetime.
		return nil
	}
}

// PlaceOrder runs the risk checks and submits the order to the owning venue.
// Teardown of subscriptions never aborts an in-flight submission.
func (h *Hub) PlaceOrder(ctx context.Context, req market.OrderRequest) (market.Order, error) {
	api, err := h.registry.Get(req.Instrument.Venue)
	if err != nil {
		return market.Order{}, err
	}
	if h.risk != nil {
		if err := h.risk.CheckOrder(ctx, req); err != nil {
			return market.Order{}, err
		}
	}
	return api.PlaceOrder(ctx, req)
}

// CandlesHistory fetches one page of history from the owning venue.
func (h *Hub) CandlesHistory(ctx context.Context, q market.CandleQuery) ([]market.Candle, error) {
	api, err := h.registry.Get(q.Instrument.Venue)
	if err != nil {
		return nil, err
	}
	return api.CandlesHistory(ctx, q)
}

// GetOrder returns the venue's current view of the order.
func (h *Hub) GetOrder(ctx context.Context, venue market.Venue, id string) (market.Order, error) {
	api, err := h.registry.Get(venue)
	if err != nil {
		return market.Order{}, err
	}
	return api.GetOrder(ctx, id)
}

// The hub is the sink every adapter delivers into; entities fan out to all
// registered consumers in registration order.

func (h *Hub) OnTick(tick market.Tick) {
	h.each(func(sink exchange.Sink) { sink.OnTick(tick) })
}

func (h *Hub) OnCandle(candle market.Candle) {
	h.each(func(sink exchange.Sink) { sink.OnCandle(candle) })
}

func (h *Hub) OnOrder(order market.Order) {
	h.each(func(sink exchange.Sink) { sink.OnOrder(order) })
}

func (h *Hub) OnPosition(position market.Position) {
	h.each(func(sink exchange.Sink) { sink.OnPosition(position) })
}

func (h *Hub) each(deliver func(exchange.Sink)) {
	h.consumersMu.RLock()
	defer h.consumersMu.RUnlock()
	for _, sink := range h.consumers {
		deliver(sink)
	}
}

var _ exchange.Sink = (*Hub)(nil)

// Interest reports the current refcount for a channel, for introspection and
// logging.
func (h *Hub) Interest(venue market.Venue, ch exchange.Channel) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interest[keyFor(venue, ch)]
}

// LogState writes the current interest map size through the platform logger.
func (h *Hub) LogState() {
	h.mu.Lock()
	size := len(h.interest)
	h.mu.Unlock()
	observability.Log().Debug("hub interest state", observability.F("channels", size))
}
