package exchange

import (
	"sort"
	"sync"

	"github.com/venuelink/venuelink/errs"
	"github.com/venuelink/venuelink/internal/market"
)

// Registry is an explicitly owned store of venue adapters, injected into
// every component that routes by venue. There is no process-wide singleton.
type Registry struct {
	mu       sync.RWMutex
	adapters map[market.Venue]API
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[market.Venue]API)}
}

// Register adds an adapter, replacing any previous adapter for the venue.
func (r *Registry) Register(api API) {
	if api == nil {
		return
	}
	r.mu.Lock()
	r.adapters[api.ID()] = api
	r.mu.Unlock()
}

// Get resolves the adapter for a venue.
func (r *Registry) Get(venue market.Venue) (API, error) {
	r.mu.RLock()
	api, ok := r.adapters[venue]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(string(venue), errs.CodeNotFound,
			errs.WithMessage("no adapter registered for venue"))
	}
	return api, nil
}

// Venues lists the registered venue identities in stable order.
func (r *Registry) Venues() []market.Venue {
	r.mu.RLock()
	out := make([]market.Venue, 0, len(r.adapters))
	for venue := range r.adapters {
		out = append(out, venue)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
