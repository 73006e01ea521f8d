// Package market defines the venue-agnostic data model shared by strategies,
// backtesting and storage. These are the only shapes that cross the
// connectivity core's outward boundary.
package market

import (
	"strconv"
	"strings"
	"time"

	"github.com/venuelink/venuelink/errs"
)

// Venue names a supported exchange integration.
type Venue string

const (
	// VenueBybit represents the Bybit integration key.
	VenueBybit Venue = "bybit"
	// VenueOKX represents the OKX integration key.
	VenueOKX Venue = "okx"
)

// Instrument identifies a tradable pair on a venue.
type Instrument struct {
	Symbol string `json:"symbol"`
	Venue  Venue  `json:"venue"`
}

// Timeframe identifies a candle aggregation interval.
type Timeframe string

const (
	// Timeframe1m is the one-minute interval.
	Timeframe1m Timeframe = "1m"
	// Timeframe5m is the five-minute interval.
	Timeframe5m Timeframe = "5m"
	// Timeframe15m is the fifteen-minute interval.
	Timeframe15m Timeframe = "15m"
	// Timeframe1h is the one-hour interval.
	Timeframe1h Timeframe = "1h"
	// Timeframe4h is the four-hour interval.
	Timeframe4h Timeframe = "4h"
	// Timeframe1d is the one-day interval.
	Timeframe1d Timeframe = "1d"
)

// Valid reports whether the timeframe is recognised.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d:
		return true
	default:
		return false
	}
}

// Duration returns the wall-clock span covered by one candle of this timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Side identifies the direction of an order or position.
type Side string

const (
	// SideBuy represents a long-direction order.
	SideBuy Side = "buy"
	// SideSell represents a short-direction order.
	SideSell Side = "sell"
)

// OrderType identifies the execution style of an order.
type OrderType string

const (
	// OrderTypeLimit represents a limit order.
	OrderTypeLimit OrderType = "limit"
	// OrderTypeMarket represents a market order.
	OrderTypeMarket OrderType = "market"
)

// OrderStatus captures the coarse lifecycle state of an order.
type OrderStatus string

const (
	// OrderStatusNew marks an accepted but unfilled order.
	OrderStatusNew OrderStatus = "new"
	// OrderStatusPartiallyFilled marks a partially executed order.
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	// OrderStatusFilled marks a fully executed order.
	OrderStatusFilled OrderStatus = "filled"
	// OrderStatusCancelled marks an order cancelled before completion.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRejected marks an order the venue refused.
	OrderStatusRejected OrderStatus = "rejected"
)

// Tick is a normalized best-price update for one instrument.
type Tick struct {
	Instrument Instrument `json:"instrument"`
	Last       float64    `json:"last"`
	Bid        float64    `json:"bid"`
	Ask        float64    `json:"ask"`
	Volume24h  float64    `json:"volume_24h"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Candle is a normalized OHLCV bar for one instrument and timeframe.
type Candle struct {
	Instrument Instrument `json:"instrument"`
	Timeframe  Timeframe  `json:"timeframe"`
	Open       float64    `json:"open"`
	High       float64    `json:"high"`
	Low        float64    `json:"low"`
	Close      float64    `json:"close"`
	Volume     float64    `json:"volume"`
	OpenTime   time.Time  `json:"open_time"`
	Confirmed  bool       `json:"confirmed"`
}

// Order is a normalized view of an order held at a venue.
type Order struct {
	ID            string      `json:"id"`
	ClientOrderID string      `json:"client_order_id"`
	Instrument    Instrument  `json:"instrument"`
	Side          Side        `json:"side"`
	Type          OrderType   `json:"type"`
	Price         float64     `json:"price"`
	Quantity      float64     `json:"quantity"`
	Filled        float64     `json:"filled"`
	Status        OrderStatus `json:"status"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Position is a normalized view of an open position at a venue.
type Position struct {
	Instrument    Instrument `json:"instrument"`
	Side          Side       `json:"side"`
	Quantity      float64    `json:"quantity"`
	EntryPrice    float64    `json:"entry_price"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// OrderRequest describes an order submission to a venue.
type OrderRequest struct {
	Instrument    Instrument `json:"instrument"`
	Side          Side       `json:"side"`
	Type          OrderType  `json:"type"`
	Price         float64    `json:"price"`
	Quantity      float64    `json:"quantity"`
	ClientOrderID string     `json:"client_order_id,omitempty"`
}

// CandleQuery bounds a single page of historical candles. The adapter never
// auto-paginates beyond the requested page.
type CandleQuery struct {
	Instrument Instrument
	Timeframe  Timeframe
	Before     time.Time
	After      time.Time
	Limit      int
}

// ParseFloat converts a string-encoded venue numeric into a float64. Venues
// transmit nearly all numeric fields as strings; a malformed value is a
// protocol error, never silently defaulted.
func ParseFloat(venue Venue, field, value string) (float64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errs.New(string(venue), errs.CodeProtocol,
			errs.WithMessage("empty numeric field"),
			errs.WithField("field", field))
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, errs.New(string(venue), errs.CodeProtocol,
			errs.WithMessage("malformed numeric field"),
			errs.WithField("field", field),
			errs.WithCause(err))
	}
	return f, nil
}

// ParseMilli converts a string-encoded millisecond timestamp into a UTC instant.
func ParseMilli(venue Venue, field, value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	millis, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return time.Time{}, errs.New(string(venue), errs.CodeProtocol,
			errs.WithMessage("malformed timestamp field"),
			errs.WithField("field", field),
			errs.WithCause(err))
	}
	return time.UnixMilli(millis).UTC(), nil
}
