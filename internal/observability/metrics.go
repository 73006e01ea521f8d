package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics groups the connectivity core's counters. Instruments resolve
// through the global meter provider, so an unconfigured process records into
// a noop meter.
type Metrics struct {
	framesDecoded   metric.Int64Counter
	framesRejected  metric.Int64Counter
	reconnects      metric.Int64Counter
	restRequests    metric.Int64Counter
	venueRejections metric.Int64Counter
}

// NewMetrics registers the connectivity counters on the named meter.
func NewMetrics() *Metrics {
	meter := otel.Meter("venuelink.connectivity")
	m := new(Metrics)
	m.framesDecoded, _ = meter.Int64Counter("venuelink.ws.frames_decoded",
		metric.WithDescription("Inbound websocket frames classified into the message taxonomy"))
	m.framesRejected, _ = meter.Int64Counter("venuelink.ws.frames_rejected",
		metric.WithDescription("Inbound websocket frames rejected as unrecognized"))
	m.reconnects, _ = meter.Int64Counter("venuelink.ws.reconnects",
		metric.WithDescription("Websocket session reconnect attempts"))
	m.restRequests, _ = meter.Int64Counter("venuelink.rest.requests",
		metric.WithDescription("Outbound REST requests issued after rate gating"))
	m.venueRejections, _ = meter.Int64Counter("venuelink.rest.venue_rejections",
		metric.WithDescription("Well-formed error responses returned by venues"))
	return m
}

// FrameDecoded records one successfully classified inbound frame.
func (m *Metrics) FrameDecoded(ctx context.Context, venue string) {
	if m == nil {
		return
	}
	m.framesDecoded.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", venue)))
}

// FrameRejected records one unrecognized inbound frame.
func (m *Metrics) FrameRejected(ctx context.Context, venue string) {
	if m == nil {
		return
	}
	m.framesRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", venue)))
}

// Reconnect records one reconnect attempt.
func (m *Metrics) Reconnect(ctx context.Context, venue string) {
	if m == nil {
		return
	}
	m.reconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", venue)))
}

// RESTRequest records one outbound REST call.
func (m *Metrics) RESTRequest(ctx context.Context, venue, endpoint string) {
	if m == nil {
		return
	}
	m.restRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("venue", venue),
		attribute.String("endpoint", endpoint)))
}

// VenueRejection records one venue error response.
func (m *Metrics) VenueRejection(ctx context.Context, venue, code string) {
	if m == nil {
		return
	}
	m.venueRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("venue", venue),
		attribute.String("code", code)))
}
