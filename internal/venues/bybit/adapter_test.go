package bybit

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
	frame := `{"topic":"tickers.BTCUSDT","ts":1700000000123,"data":{"symbol":"BTCUSDT","lastPrice":"42000.5","bid1Price":"42000.4","ask1Price":"42000.6","volume24h":"1234.75"}}`
	if err := adapter.handleData(decodeFrame(t, frame)); err != nil {
		t.Fatalf("handle ticker: %v", err)
	}
	if len(sink.ticks) != 1 {
		t.Fatalf("ticks = %d, want 1", len(sink.ticks))
	}
	tick := sink.ticks[0]
	if tick.Instrument.Symbol != "BTCUSDT" || tick.Instrument.Venue != market.VenueBybit {
		t.Fatalf("instrument = %+v", tick.Instrument)
	}
	if tick.Last != 42000.5 || tick.Bid != 42000.4 || tick.Ask != 42000.6 || tick.Volume24h != 1234.75 {
		t.Fatalf("tick = %+v", tick)
	}
	if want := time.UnixMilli(1700000000123).UTC(); !tick.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v", tick.Timestamp)
	}
}

func TestTickerMalformedNumberIsProtocolError(t *testing.T) {
	adapter, sink := newTestAdapter(t, "http://unused", sign.Credential{})
	frame := `{"topic":"tickers.BTCUSDT","ts":1,"data":{"symbol":"BTCUSDT","lastPrice":"not-a-number","bid1Price":"1","ask1Price":"1","volume24h":"1"}}`
	err := adapter.handleData(decodeFrame(t, frame))
	if errs.CodeOf(err) != errs.CodeProtocol {
		t.Fatalf("want protocol error, got %v", err)
	}
	if len(sink.ticks) != 0 {
		t.Fatal("malformed tick must not reach the sink")
	}
}

func TestKlineNormalization(t *testing.T) {
	adapter, sink := newTestAdapter(t, "http://unused", sign.Credential{})
	frame := `{"topic":"kline.1h.BTC-USDT","ts":1700000000500,"data":[{"start":1700000000000,"open":"42000","high":"42100","low":"41900","close":"42050","volume":"10.5","confirm":false}]}`
	if err := adapter.handleData(decodeFrame(t, frame)); err != nil {
		t.Fatalf("handle kline: %v", err)
	}
	if len(sink.candles) != 1 {
		t.Fatalf("candles = %d, want 1", len(sink.candles))
	}
	candle := sink.candles[0]
	if candle.Instrument.Symbol != "BTC-USDT" || candle.Timeframe != market.Timeframe1h {
		t.Fatalf("candle identity = %+v", candle)
	}
	if candle.Open != 42000 || candle.High != 42100 || candle.Low != 41900 || candle.Close != 42050 || candle.Volume != 10.5 {
		t.Fatalf("candle = %+v", candle)
	}
	if candle.Confirmed {
		t.Fatal("in-progress bar must not be confirmed")
	}
	if want := time.UnixMilli(1700000000000).UTC(); !candle.OpenTime.Equal(want) {
		t.Fatalf("open time = %v", candle.OpenTime)
	}
}

func TestOrderUpdateNormalization(t *testing.T) {
	adapter, sink := newTestAdapter(t, "http://unused", sign.Credential{})
	frame := `{"topic":"order","ts":1700000001000,"data":[{"orderId":"o-1","orderLinkId":"c-1","symbol":"BTCUSDT","side":"Sell","orderType":"Limit","price":"42000","qty":"0.5","cumExecQty":"0.25","orderStatus":"PartiallyFilled","updatedTime":"1700000000900"}]}`
	if err := adapter.handleData(decodeFrame(t, frame)); err != nil {
		t.Fatalf("handle order: %v", err)
	}
	if len(sink.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(sink.orders))
	}
	order := sink.orders[0]
	if order.ID != "o-1" || order.ClientOrderID != "c-1" {
		t.Fatalf("order ids = %+v", order)
	}
	if order.Side != market.SideSell || order.Type != market.OrderTypeLimit {
		t.Fatalf("order side/type = %+v", order)
	}
	if order.Status != market.OrderStatusPartiallyFilled || order.Filled != 0.25 {
		t.Fatalf("order progress = %+v", order)
	}
}

func TestPositionUpdateNormalization(t *testing.T) {
	adapter, sink := newTestAdapter(t, "http://unused", sign.Credential{})
	frame := `{"topic":"position","ts":1700000001000,"data":[{"symbol":"BTCUSDT","side":"Buy","size":"0.75","entryPrice":"41000","unrealisedPnl":"-12.5","updatedTime":"1700000000900"}]}`
	if err := adapter.handleData(decodeFrame(t, frame)); err != nil {
		t.Fatalf("handle position: %v", err)
	}
	if len(sink.positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(sink.positions))
	}
	position := sink.positions[0]
	if position.Side != market.SideBuy || position.Quantity != 0.75 {
		t.Fatalf("position = %+v", position)
	}
	if position.EntryPrice != 41000 || position.UnrealizedPnL != -12.5 {
		t.Fatalf("position pnl = %+v", position)
	}
}

func TestUnexpectedTopicRejected(t *testing.T) {
	adapter, _ := newTestAdapter(t, "http://unused", sign.Credential{})
	msg := decodeFrame(t, `{"topic":"orderbook.50.BTCUSDT","ts":1,"data":{}}`)
	if err := adapter.handleData(msg); errs.CodeOf(err) != errs.CodeProtocol {
		t.Fatalf("want protocol error, got %v", err)
	}
}

func TestPlaceOrderRoundsAndSigns(t *testing.T) {
	var got struct {
		path    string
		headers http.Header
		body    orderCreateRequest
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.headers = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &got.body); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"orderId":"srv-1","orderLinkId":"` + got.body.OrderLinkID + `"}}`))
	}))
	defer server.Close()

	cred := sign.NewCredential("test-key", "test-secret", "")
	adapter, _ := newTestAdapter(t, server.URL, cred)

	order, err := adapter.PlaceOrder(context.Background(), market.OrderRequest{
		Instrument: market.Instrument{Symbol: "BTCUSDT", Venue: market.VenueBybit},
		Side:       market.SideBuy,
		Type:       market.OrderTypeLimit,
		Price:      12345.6789,
		Quantity:   0.123456789,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if got.path != "/v5/order/create" {
		t.Fatalf("path = %q", got.path)
	}
	if got.headers.Get("X-BAPI-API-KEY") != "test-key" {
		t.Fatalf("api key header = %q", got.headers.Get("X-BAPI-API-KEY"))
	}
	if got.headers.Get("X-BAPI-SIGN") == "" || got.headers.Get("X-BAPI-TIMESTAMP") == "" {
		t.Fatal("signature headers missing")
	}
	if got.body.Price != "12345.68" {
		t.Fatalf("wire price = %q, want 12345.68", got.body.Price)
	}
	if got.body.Qty != "0.123457" {
		t.Fatalf("wire qty = %q, want 0.123457", got.body.Qty)
	}
	if got.body.OrderLinkID == "" {
		t.Fatal("client order id must be generated when absent")
	}
	if order.ID != "srv-1" || order.ClientOrderID != got.body.OrderLinkID {
		t.Fatalf("order = %+v", order)
	}
	if order.Price != 12345.68 || order.Quantity != 0.123457 {
		t.Fatalf("order numerics = %+v", order)
	}
	if order.Status != market.OrderStatusNew {
		t.Fatalf("order status = %q", order.Status)
	}
}

func TestPlaceOrderVenueRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":170131,"retMsg":"Insufficient balance","result":{}}`))
	}))
	defer server.Close()

	adapter, _ := newTestAdapter(t, server.URL, sign.NewCredential("k", "s", ""))
	_, err := adapter.PlaceOrder(context.Background(), market.OrderRequest{
		Instrument: market.Instrument{Symbol: "BTCUSDT"},
		Side:       market.SideBuy,
		Type:       market.OrderTypeMarket,
		Quantity:   1,
	})
	if errs.CodeOf(err) != errs.CodeVenue {
		t.Fatalf("want venue rejection, got %v", err)
	}
}

func TestCandlesHistoryAscending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/market/kline" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("interval") != "60" {
			t.Errorf("interval = %q", r.URL.Query().Get("interval"))
		}
		// Newest row first, per venue convention.
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"symbol":"BTCUSDT","list":[
			["1700003600000","42050","42200","42000","42150","9.5","399000"],
			["1700000000000","42000","42100","41900","42050","10.5","441000"]
		]}}`))
	}))
	defer server.Close()

	adapter, _ := newTestAdapter(t, server.URL, sign.Credential{})
	candles, err := adapter.CandlesHistory(context.Background(), market.CandleQuery{
		Instrument: market.Instrument{Symbol: "BTCUSDT", Venue: market.VenueBybit},
		Timeframe:  market.Timeframe1h,
		Limit:      2,
	})
	if err != nil {
		t.Fatalf("candles history: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("candles = %d, want 2", len(candles))
	}
	if !candles[0].OpenTime.Before(candles[1].OpenTime) {
		t.Fatalf("candles not ascending: %v then %v", candles[0].OpenTime, candles[1].OpenTime)
	}
	if candles[0].Open != 42000 || candles[1].Close != 42150 {
		t.Fatalf("candles = %+v", candles)
	}
	if !candles[0].Confirmed {
		t.Fatal("historical candles are always confirmed")
	}
}

func TestGetOrderNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[]}}`))
	}))
	defer server.Close()

	adapter, _ := newTestAdapter(t, server.URL, sign.NewCredential("k", "s", ""))
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
