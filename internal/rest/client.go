// Package rest executes typed request/response calls against a venue's HTTP
// API, combining the rate gate and the request signer.
package rest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/venuelink/venuelink/errs"
	"github.com/venuelink/venuelink/internal/observability"
	"github.com/venuelink/venuelink/internal/rategate"
	"github.com/venuelink/venuelink/internal/sign"
)

const maxErrorBodyBytes = 4 << 10

// Descriptor declares the fixed transport shape of one venue endpoint. These
// values are static per endpoint, not runtime-configurable.
type Descriptor struct {
	Method    string
	Path      string
	Signed    bool
	HasBody   bool
	PerSecond int
}

// Key returns the endpoint identity used for rate limiting.
func (d Descriptor) Key() string {
	return d.Method + " " + d.Path
}

// AuthFunc attaches venue-specific authentication headers to an outbound
// request. The query and body strings are the exact encodings that will be
// transmitted, so the signature input matches the wire bytes.
type AuthFunc func(req *http.Request, signer *sign.Signer, query, body string) error

// ErrorParser converts a non-2xx venue response body into a structured error.
type ErrorParser func(status int, body []byte) *errs.E

// Config assembles the collaborators for a venue REST client.
type Config struct {
	Venue       string
	BaseURL     string
	HTTPClient  *http.Client
	Gate        *rategate.Gate
	Signer      *sign.Signer
	Auth        AuthFunc
	ParseError  ErrorParser
	Metrics     *observability.Metrics
}

// Client issues descriptor-driven requests against one venue.
type Client struct {
	venue      string
	baseURL    string
	httpClient *http.Client
	gate       *rategate.Gate
	signer     *sign.Signer
	auth       AuthFunc
	parseError ErrorParser
	metrics    *observability.Metrics
}

// NewClient constructs a venue REST client.
func NewClient(cfg Config) *Client {
	c := new(Client)
	c.venue = strings.TrimSpace(cfg.Venue)
	c.baseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	c.httpClient = cfg.HTTPClient
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	c.gate = cfg.Gate
	if c.gate == nil {
		c.gate = rategate.New()
	}
	c.signer = cfg.Signer
	c.auth = cfg.Auth
	c.parseError = cfg.ParseError
	c.metrics = cfg.Metrics
	return c
}

// Venue returns the venue identity bound to this client.
func (c *Client) Venue() string { return c.venue }

// Execute runs the endpoint pipeline: rate permit, signing, serialization,
// HTTP call, typed decode. Deserialization failures surface as protocol
// errors and are never coerced to defaults.
func Execute[T any](ctx context.Context, c *Client, d Descriptor, query url.Values, body any) (T, error) {
	var zero T

	c.gate.Acquire(d.Key(), d.PerSecond)

	encodedQuery := ""
	if len(query) > 0 {
		encodedQuery = query.Encode()
	}

	encodedBody := ""
	var reader io.Reader
	if d.HasBody {
		data, err := json.Marshal(body)
		if err != nil {
			return zero, errs.New(c.venue, errs.CodeInvalid,
				errs.WithMessage("encode request body"),
				errs.WithCause(err))
		}
		encodedBody = string(data)
		reader = bytes.NewReader(data)
	}

	endpoint := c.baseURL + d.Path
	if encodedQuery != "" {
		endpoint += "?" + encodedQuery
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, endpoint, reader)
	if err != nil {
		return zero, errs.New(c.venue, errs.CodeInvalid,
			errs.WithMessage("build request"),
			errs.WithCause(err))
	}
	if d.HasBody {
		req.Header.Set("Content-Type", "application/json")
	}

	if d.Signed {
		if c.signer == nil || c.signer.Credential().Empty() {
			return zero, errs.New(c.venue, errs.CodeAuth,
				errs.WithMessage("signed endpoint requires a configured credential"),
				errs.WithField("endpoint", d.Key()))
		}
		if c.auth == nil {
			return zero, errs.New(c.venue, errs.CodeAuth,
				errs.WithMessage("no auth scheme configured"))
		}
		if err := c.auth(req, c.signer, encodedQuery, encodedBody); err != nil {
			return zero, errs.New(c.venue, errs.CodeAuth,
				errs.WithMessage("apply auth headers"),
				errs.WithCause(err))
		}
	}

	c.metrics.RESTRequest(ctx, c.venue, d.Key())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, errs.New(c.venue, errs.CodeNetwork,
			errs.WithMessage("execute request"),
			errs.WithField("endpoint", d.Key()),
			errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		venueErr := c.venueError(resp.StatusCode, raw)
		c.metrics.VenueRejection(ctx, c.venue, venueErr.RawCode)
		return zero, venueErr
	}

	var decoded T
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(&decoded); err != nil {
		return zero, errs.New(c.venue, errs.CodeProtocol,
			errs.WithMessage("decode response"),
			errs.WithField("endpoint", d.Key()),
			errs.WithCause(err))
	}
	return decoded, nil
}

func (c *Client) venueError(status int, body []byte) *errs.E {
	if c.parseError != nil {
		if parsed := c.parseError(status, body); parsed != nil {
			return parsed
		}
	}
	return errs.New(c.venue, errs.CodeVenue,
		errs.WithHTTP(status),
		errs.WithRawMessage(strings.TrimSpace(string(body))))
}
