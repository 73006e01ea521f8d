package okx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/venuelink/venuelink/errs"
	"github.com/venuelink/venuelink/internal/market"
	"github.com/venuelink/venuelink/internal/sign"
	"github.com/venuelink/venuelink/internal/ws"
)

type captureSink struct {
	ticks     []market.Tick
	candles   []market.Candle
	orders    []market.Order
	positions []market.Position
}

func (s *captureSink) OnTick(t market.Tick)         { s.ticks = append(s.ticks, t) }
func (s *captureSink) OnCandle(c market.Candle)     { s.candles = append(s.candles, c) }
func (s *captureSink) OnOrder(o market.Order)       { s.orders = append(s.orders, o) }
func (s *captureSink) OnPosition(p market.Position) { s.positions = append(s.positions, p) }

func newTestAdapter(t *testing.T, baseURL string, cred sign.Credential) (*Adapter, *captureSink) {
	t.Helper()
	adapter := New(context.Background(), Options{
		RESTBaseURL: baseURL,
		Credential:  cred,
	})
	sink := new(captureSink)
	adapter.SetSink(sink)
	return adapter, sink
}

func decodeFrame(t *testing.T, frame string) ws.Message {
	t.Helper()
	msg, err := newPublicProtocol().Decode([]byte(frame))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func TestTickerNormalization(t *testing.T) {
	adapter, sink := newTestAdapter(t, "http://unused", sign.Credential{})
	frame := `{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"42000.5","bidPx":"42000.4","askPx":"42000.6","vol24h":"1234.75","ts":"1700000000123"}]}`
	if err := adapter.handleData(decodeFrame(t, frame)); err != nil {
		t.Fatalf("handle ticker: %v", err)
	}
	if len(sink.ticks) != 1 {
		t.Fatalf("ticks = %d, want 1", len(sink.ticks))
	}
	tick := sink.ticks[0]
	if tick.Instrument.Symbol != "BTC-USDT" || tick.Instrument.Venue != market.VenueOKX {
		t.Fatalf("instrument = %+v", tick.Instrument)
	}
	if tick.Last != 42000.5 || tick.Bid != 42000.4 || tick.Ask != 42000.6 {
		t.Fatalf("tick = %+v", tick)
	}
	if want := time.UnixMilli(1700000000123).UTC(); !tick.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v", tick.Timestamp)
	}
}

func TestTickerMalformedNumberIsProtocolError(t *testing.T) {
	adapter, sink := newTestAdapter(t, "http://unused", sign.Credential{})
	frame := `{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"","bidPx":"1","askPx":"1","vol24h":"1","ts":"1700000000123"}]}`
	err := adapter.handleData(decodeFrame(t, frame))
	if errs.CodeOf(err) != errs.CodeProtocol {
		t.Fatalf("want protocol error, got %v", err)
	}
	if len(sink.ticks) != 0 {
		t.Fatal("malformed tick must not reach the sink")
	}
}

func TestCandleNormalization(t *testing.T) {
	adapter, sink := newTestAdapter(t, "http://unused", sign.Credential{})
	frame := `{"arg":{"channel":"candle1H","instId":"BTC-USDT"},"data":[["1700000000000","42000","42100","41900","42050","10.5","441000","441000","0"]]}`
	if err := adapter.handleData(decodeFrame(t, frame)); err != nil {
		t.Fatalf("handle candle: %v", err)
	}
	if len(sink.candles) != 1 {
		t.Fatalf("candles = %d, want 1", len(sink.candles))
	}
	candle := sink.candles[0]
	if candle.Instrument.Symbol != "BTC-USDT" || candle.Timeframe != market.Timeframe1h {
		t.Fatalf("candle identity = %+v", candle)
	}
	if candle.Open != 42000 || candle.Close != 42050 || candle.Volume != 10.5 {
		t.Fatalf("candle = %+v", candle)
	}
	if candle.Confirmed {
		t.Fatal("confirm flag 0 means the bar is still open")
	}
}

func TestOrderUpdateNormalization(t *testing.T) {
	adapter, sink := newTestAdapter(t, "http://unused", sign.Credential{})
	frame := `{"arg":{"channel":"orders","instType":"ANY"},"data":[{"ordId":"o-1","clOrdId":"c1","instId":"BTC-USDT","side":"sell","ordType":"limit","px":"42000","sz":"0.5","accFillSz":"0.5","state":"filled","uTime":"1700000000900"}]}`
	if err := adapter.handleData(decodeFrame(t, frame)); err != nil {
		t.Fatalf("handle order: %v", err)
	}
	if len(sink.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(sink.orders))
	}
	order := sink.orders[0]
	if order.Side != market.SideSell || order.Status != market.OrderStatusFilled {
		t.Fatalf("order = %+v", order)
	}
	if order.Filled != 0.5 || order.Price != 42000 {
		t.Fatalf("order numerics = %+v", order)
	}
}

func TestPositionUpdateNormalization(t *testing.T) {
	adapter, sink := newTestAdapter(t, "http://unused", sign.Credential{})
	frame := `{"arg":{"channel":"positions","instType":"ANY"},"data":[{"instId":"BTC-USDT","posSide":"short","pos":"0.75","avgPx":"41000","upl":"12.5","uTime":"1700000000900"}]}`
	if err := adapter.handleData(decodeFrame(t, frame)); err != nil {
		t.Fatalf("handle position: %v", err)
	}
	if len(sink.positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(sink.positions))
	}
	position := sink.positions[0]
	if position.Side != market.SideSell || position.Quantity != 0.75 {
		t.Fatalf("position = %+v", position)
	}
}

func TestPlaceOrderRoundsAndSigns(t *testing.T) {
	var got struct {
		path    string
		headers http.Header
		body    orderPlaceRequest
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.headers = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &got.body); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"srv-1","clOrdId":"` + got.body.ClOrdID + `","sCode":"0","sMsg":""}]}`))
	}))
	defer server.Close()

	cred := sign.NewCredential("test-key", "test-secret", "test-pass")
	adapter, _ := newTestAdapter(t, server.URL, cred)

	order, err := adapter.PlaceOrder(context.Background(), market.OrderRequest{
		Instrument: market.Instrument{Symbol: "BTC-USDT", Venue: market.VenueOKX},
		Side:       market.SideBuy,
		Type:       market.OrderTypeLimit,
		Price:      12345.6789,
		Quantity:   0.123456789,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if got.path != "/api/v5/trade/order" {
		t.Fatalf("path = %q", got.path)
	}
	if got.headers.Get("OK-ACCESS-KEY") != "test-key" {
		t.Fatalf("key header = %q", got.headers.Get("OK-ACCESS-KEY"))
	}
	if got.headers.Get("OK-ACCESS-PASSPHRASE") != "test-pass" {
		t.Fatal("passphrase header missing")
	}
	if got.headers.Get("OK-ACCESS-SIGN") == "" || got.headers.Get("OK-ACCESS-TIMESTAMP") == "" {
		t.Fatal("signature headers missing")
	}
	if got.body.Px != "12345.68" {
		t.Fatalf("wire price = %q, want 12345.68", got.body.Px)
	}
	if got.body.Sz != "0.123457" {
		t.Fatalf("wire qty = %q, want 0.123457", got.body.Sz)
	}
	if got.body.TdMode != "cash" {
		t.Fatalf("tdMode = %q", got.body.TdMode)
	}
	if order.ID != "srv-1" || order.Status != market.OrderStatusNew {
		t.Fatalf("order = %+v", order)
	}
}

func TestPlaceOrderPerRowRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// HTTP 200 and top-level success, rejection in the per-order row.
		w.Write([]byte(`{"code":"0","msg":"","data":[{"ordId":"","clOrdId":"","sCode":"51008","sMsg":"Insufficient balance"}]}`))
	}))
	defer server.Close()

	adapter, _ := newTestAdapter(t, server.URL, sign.NewCredential("k", "s", "p"))
	_, err := adapter.PlaceOrder(context.Background(), market.OrderRequest{
		Instrument: market.Instrument{Symbol: "BTC-USDT"},
		Side:       market.SideBuy,
		Type:       market.OrderTypeMarket,
		Quantity:   1,
	})
	if errs.CodeOf(err) != errs.CodeVenue {
		t.Fatalf("want venue rejection, got %v", err)
	}
}

func TestCandlesHistoryAscendingAndCursors(t *testing.T) {
	before := time.UnixMilli(1700007200000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v5/market/candles" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("bar") != "1H" {
			t.Errorf("bar = %q", r.URL.Query().Get("bar"))
		}
		// The upper bound maps onto the venue's "after" cursor.
		if r.URL.Query().Get("after") != "1700007200000" {
			t.Errorf("after = %q", r.URL.Query().Get("after"))
		}
		w.Write([]byte(`{"code":"0","msg":"","data":[
			["1700003600000","42050","42200","42000","42150","9.5","399000","399000","1"],
			["1700000000000","42000","42100","41900","42050","10.5","441000","441000","1"]
		]}`))
	}))
	defer server.Close()

	adapter, _ := newTestAdapter(t, server.URL, sign.Credential{})
	candles, err := adapter.CandlesHistory(context.Background(), market.CandleQuery{
		Instrument: market.Instrument{Symbol: "BTC-USDT", Venue: market.VenueOKX},
		Timeframe:  market.Timeframe1h,
		Before:     before,
		Limit:      2,
	})
	if err != nil {
		t.Fatalf("candles history: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("candles = %d, want 2", len(candles))
	}
	if !candles[0].OpenTime.Before(candles[1].OpenTime) {
		t.Fatal("candles not ascending")
	}
	if !candles[0].Confirmed || !candles[1].Confirmed {
		t.Fatal("confirmed flag lost")
	}
}

func TestGetOrderNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","msg":"","data":[]}`))
	}))
	defer server.Close()

	adapter, _ := newTestAdapter(t, server.URL, sign.NewCredential("k", "s", "p"))
	_, err := adapter.GetOrder(context.Background(), "missing")
	if errs.CodeOf(err) != errs.CodeNotFound {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestPrivateSessionRequiresCredential(t *testing.T) {
	adapter, _ := newTestAdapter(t, "http://unused", sign.Credential{})
	if err := adapter.ListenOrders(context.Background()); errs.CodeOf(err) != errs.CodeAuth {
		t.Fatalf("want auth error, got %v", err)
	}
}
