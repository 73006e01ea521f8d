package bybit

import (
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/venuelink/venuelink/errs"
	"github.com/venuelink/venuelink/internal/rest"
	"github.com/venuelink/venuelink/internal/sign"
)

// Endpoint descriptors are fixed per endpoint; limits reflect Bybit's
// documented per-key quotas, approximated locally by the rate gate.
var (
	descKline = rest.Descriptor{
		Method:    http.MethodGet,
		Path:      "/v5/market/kline",
		PerSecond: 10,
	}
	descOrderCreate = rest.Descriptor{
		Method:    http.MethodPost,
		Path:      "/v5/order/create",
		Signed:    true,
		HasBody:   true,
		PerSecond: 5,
	}
	descOrderRealtime = rest.Descriptor{
		Method:    http.MethodGet,
		Path:      "/v5/order/realtime",
		Signed:    true,
		PerSecond: 10,
	}
)

const defaultRecvWindow = 5000

// restEnvelope wraps every v5 REST response.
type restEnvelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

// ok reports whether the venue accepted the request at the application level.
func (e restEnvelope[T]) ok() bool { return e.RetCode == 0 }

func (e restEnvelope[T]) reject() *errs.E {
	return errs.New(venueName, errs.CodeVenue,
		errs.WithRawCode(strconv.Itoa(e.RetCode)),
		errs.WithRawMessage(e.RetMsg))
}

// klineResult carries candles as fixed-order positional tuples:
// [startTime, open, high, low, close, volume, turnover].
type klineResult struct {
	Symbol string     `json:"symbol"`
	List   [][]string `json:"list"`
}

type orderCreateResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type orderRealtimeResult struct {
	List []orderRecord `json:"list"`
}

type orderRecord struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	OrderStatus string `json:"orderStatus"`
	UpdatedTime string `json:"updatedTime"`
}

type orderCreateRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
}

// authHeaders attaches the v5 authentication header set. The signature input
// matches the exact query and body bytes on the wire.
func authHeaders(clock func() time.Time) rest.AuthFunc {
	return func(req *http.Request, signer *sign.Signer, query, body string) error {
		timestamp := clock().UnixMilli()
		req.Header.Set("X-BAPI-API-KEY", signer.Credential().Key())
		req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
		req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(defaultRecvWindow))
		req.Header.Set("X-BAPI-SIGN", signer.SignREST(timestamp, defaultRecvWindow, query, body))
		return nil
	}
}

// parseRESTError maps non-2xx bodies onto the venue rejection taxonomy.
func parseRESTError(status int, body []byte) *errs.E {
	var envelope restEnvelope[json.RawMessage]
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	code := errs.CodeVenue
	if status == http.StatusTooManyRequests {
		code = errs.CodeRateLimited
	}
	return errs.New(venueName, code,
		errs.WithHTTP(status),
		errs.WithRawCode(strconv.Itoa(envelope.RetCode)),
		errs.WithRawMessage(envelope.RetMsg))
}
