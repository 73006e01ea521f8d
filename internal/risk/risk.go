// Package risk applies pre-trade checks on the order submission path.
package risk

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/venuelink/venuelink/errs"
	"github.com/venuelink/venuelink/internal/market"
)

// Limits defines the pre-trade parameters applied to every outbound order.
type Limits struct {
	// MaxOrderQty is the maximum base quantity of a single order.
	MaxOrderQty decimal.Decimal `yaml:"maxOrderQty"`

	// MaxNotional is the maximum price*quantity value of a single limit
	// order. Zero disables the check; market orders carry no price and are
	// exempt.
	MaxNotional decimal.Decimal `yaml:"maxNotional"`

	// OrderThrottle is the maximum rate of order submissions per second.
	OrderThrottle float64 `yaml:"orderThrottle"`
}

// Manager enforces order limits ahead of venue submission.
type Manager struct {
	limits  Limits
	limiter *rate.Limiter
}

// NewManager creates a risk manager with the given limits.
func NewManager(limits Limits) *Manager {
	return &Manager{
		limits:  limits,
		limiter: rate.NewLimiter(rate.Limit(limits.OrderThrottle), 1),
	}
}

// CheckOrder blocks until the throttle admits the order, then evaluates it
// against the size limits. A context expiry while throttled surfaces as a
// rate limit error.
func (m *Manager) CheckOrder(ctx context.Context, req market.OrderRequest) error {
	venue := string(req.Instrument.Venue)
	if err := m.limiter.Wait(ctx); err != nil {
		return errs.New(venue, errs.CodeRateLimited,
			errs.WithMessage("order throttle exceeded"),
			errs.WithCause(err))
	}

	qty := decimal.NewFromFloat(req.Quantity)
	if m.limits.MaxOrderQty.IsPositive() && qty.GreaterThan(m.limits.MaxOrderQty) {
		return errs.New(venue, errs.CodeInvalid,
			errs.WithMessage("order quantity exceeds limit"),
			errs.WithField("quantity", qty.String()),
			errs.WithField("limit", m.limits.MaxOrderQty.String()))
	}

	if m.limits.MaxNotional.IsPositive() && req.Type == market.OrderTypeLimit {
		notional := decimal.NewFromFloat(req.Price).Mul(qty)
		if notional.GreaterThan(m.limits.MaxNotional) {
			return errs.New(venue, errs.CodeInvalid,
				errs.WithMessage("order notional exceeds limit"),
				errs.WithField("notional", notional.String()),
				errs.WithField("limit", m.limits.MaxNotional.String()))
		}
	}

	return nil
}
