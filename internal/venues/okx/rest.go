package okx

import (
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/venuelink/venuelink/errs"
	"github.com/venuelink/venuelink/internal/rest"
	"github.com/venuelink/venuelink/internal/sign"
)

var (
	descCandles = rest.Descriptor{
		Method:    http.MethodGet,
		Path:      "/api/v5/market/candles",
		PerSecond: 10,
	}
	descOrderPlace = rest.Descriptor{
		Method:    http.MethodPost,
		Path:      "/api/v5/trade/order",
		Signed:    true,
		HasBody:   true,
		PerSecond: 5,
	}
	descOrderGet = rest.Descriptor{
		Method:    http.MethodGet,
		Path:      "/api/v5/trade/order",
		Signed:    true,
		PerSecond: 10,
	}
)

const defaultRecvWindow = 5000

// restEnvelope wraps every v5 REST response. Data is always an array, even
// for single-object results.
type restEnvelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

func (e restEnvelope[T]) ok() bool { return e.Code == "0" }

func (e restEnvelope[T]) reject() *errs.E {
	return errs.New(venueName, errs.CodeVenue,
		errs.WithRawCode(e.Code),
		errs.WithRawMessage(e.Msg))
}

// candleRow is the positional candle tuple:
// [ts, open, high, low, close, volume, volCcy, volCcyQuote, confirm].
type candleRow []string

type orderAck struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

type orderDetail struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	InstID    string `json:"instId"`
	Side      string `json:"side"`
	OrdType   string `json:"ordType"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
	State     string `json:"state"`
	UTime     string `json:"uTime"`
}

type orderPlaceRequest struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
	Px      string `json:"px,omitempty"`
	ClOrdID string `json:"clOrdId,omitempty"`
}

// authHeaders attaches the OK-ACCESS header set. The signature input uses the
// exact query and body bytes on the wire; the passphrase travels as a header,
// never inside the signature.
func authHeaders(clock func() time.Time) rest.AuthFunc {
	return func(req *http.Request, signer *sign.Signer, query, body string) error {
		timestamp := clock().UnixMilli()
		req.Header.Set("OK-ACCESS-KEY", signer.Credential().Key())
		req.Header.Set("OK-ACCESS-TIMESTAMP", strconv.FormatInt(timestamp, 10))
		req.Header.Set("OK-ACCESS-PASSPHRASE", signer.Credential().Passphrase())
		req.Header.Set("OK-ACCESS-SIGN", signer.SignREST(timestamp, defaultRecvWindow, query, body))
		return nil
	}
}

func parseRESTError(status int, body []byte) *errs.E {
	var envelope restEnvelope[json.RawMessage]
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	code := errs.CodeVenue
	if status == http.StatusTooManyRequests {
		code = errs.CodeRateLimited
	}
	if status == http.StatusUnauthorized {
		code = errs.CodeAuth
	}
	return errs.New(venueName, code,
		errs.WithHTTP(status),
		errs.WithRawCode(envelope.Code),
		errs.WithRawMessage(envelope.Msg))
}
