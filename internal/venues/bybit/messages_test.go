package bybit

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/venuelink/venuelink/errs"
	"github.com/venuelink/venuelink/internal/exchange"
	"github.com/venuelink/venuelink/internal/market"
	"github.com/venuelink/venuelink/internal/sign"
	"github.com/venuelink/venuelink/internal/ws"
)

func TestTopicRendering(t *testing.T) {
	cases := []struct {
		channel exchange.Channel
		want    string
	}{
		{exchange.Ticker("BTCUSDT"), "tickers.BTCUSDT"},
		{exchange.Candles(market.Timeframe1h, "BTC-USDT"), "kline.1h.BTC-USDT"},
		{exchange.Candles(market.Timeframe5m, "ETHUSDT"), "kline.5m.ETHUSDT"},
		{exchange.Orders(), "order"},
		{exchange.Positions(), "position"},
	}
	for _, tc := range cases {
		if got := topicFor(tc.channel); got != tc.want {
			t.Fatalf("topicFor(%+v) = %q, want %q", tc.channel, got, tc.want)
		}
	}
}

func TestDecodeAuthAck(t *testing.T) {
	p := newPublicProtocol()
	msg, err := p.Decode([]byte(`{"op":"auth","success":true,"ret_msg":"","conn_id":"c1"}`))
	if err != nil {
		t.Fatalf("decode auth ack: %v", err)
	}
	if msg.Kind != ws.KindAuth || !msg.Success {
		t.Fatalf("auth ack classified as %+v", msg)
	}

	msg, err = p.Decode([]byte(`{"op":"auth","success":false,"ret_msg":"invalid signature"}`))
	if err != nil {
		t.Fatalf("decode auth reject: %v", err)
	}
	if msg.Kind != ws.KindAuth || msg.Success {
		t.Fatalf("auth reject classified as %+v", msg)
	}
	if msg.Text != "invalid signature" {
		t.Fatalf("auth reject text = %q", msg.Text)
	}
}

func TestDecodeHeartbeat(t *testing.T) {
	p := newPublicProtocol()
	msg, err := p.Decode([]byte(`{"op":"ping"}`))
	if err != nil {
		t.Fatalf("decode ping: %v", err)
	}
	if msg.Kind != ws.KindHeartbeat || msg.Heartbeat != ws.HeartbeatPing {
		t.Fatalf("ping classified as %+v", msg)
	}
	msg, err = p.Decode([]byte(`{"op":"pong","conn_id":"c1"}`))
	if err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if msg.Heartbeat != ws.HeartbeatPong {
		t.Fatalf("pong classified as %+v", msg)
	}
}

func TestDecodeDataFrame(t *testing.T) {
	p := newPublicProtocol()
	frame := []byte(`{"topic":"tickers.BTCUSDT","ts":1700000000123,"data":{"symbol":"BTCUSDT","lastPrice":"42000.5"}}`)
	msg, err := p.Decode(frame)
	if err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if msg.Kind != ws.KindData {
		t.Fatalf("kind = %q, want data", msg.Kind)
	}
	if msg.Topic != "tickers.BTCUSDT" {
		t.Fatalf("topic = %q", msg.Topic)
	}
	if want := time.UnixMilli(1700000000123).UTC(); !msg.Ts.Equal(want) {
		t.Fatalf("ts = %v, want %v", msg.Ts, want)
	}
	if len(msg.Payload) == 0 {
		t.Fatal("payload missing")
	}
}

func TestDecodeSubscribeAckAndReject(t *testing.T) {
	p := newPublicProtocol()
	msg, err := p.Decode([]byte(`{"op":"subscribe","success":true,"conn_id":"c1"}`))
	if err != nil {
		t.Fatalf("decode subscribe ack: %v", err)
	}
	if msg.Kind != ws.KindEvent || msg.Event != "subscribe" {
		t.Fatalf("subscribe ack classified as %+v", msg)
	}

	msg, err = p.Decode([]byte(`{"op":"subscribe","success":false,"ret_msg":"unknown topic"}`))
	if err != nil {
		t.Fatalf("decode subscribe reject: %v", err)
	}
	if msg.Kind != ws.KindError || msg.Text != "unknown topic" {
		t.Fatalf("subscribe reject classified as %+v", msg)
	}
}

func TestDecodeUnclassifiableFrame(t *testing.T) {
	p := newPublicProtocol()
	if _, err := p.Decode([]byte(`{"foo":"bar"}`)); errs.CodeOf(err) != errs.CodeProtocol {
		t.Fatalf("want protocol error, got %v", err)
	}
	if _, err := p.Decode([]byte(`not json`)); errs.CodeOf(err) != errs.CodeProtocol {
		t.Fatalf("want protocol error for malformed frame, got %v", err)
	}
}

func TestLoginFrame(t *testing.T) {
	signer := sign.NewSigner(sign.NewCredential("test-key", "test-secret", ""))
	now := time.UnixMilli(1700000000000)
	p := newPrivateProtocol(signer)
	p.clock = func() time.Time { return now }

	frame, ok := p.LoginFrame()
	if !ok {
		t.Fatal("private protocol must produce a login frame")
	}
	var decoded struct {
		Op   string   `json:"op"`
		Args []string `json:"args"`
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("login frame not valid JSON: %v", err)
	}
	if decoded.Op != "auth" {
		t.Fatalf("op = %q", decoded.Op)
	}
	if len(decoded.Args) != 3 {
		t.Fatalf("args = %v", decoded.Args)
	}
	expires := now.Add(10 * time.Second).UnixMilli()
	if decoded.Args[0] != "test-key" {
		t.Fatalf("args[0] = %q", decoded.Args[0])
	}
	if decoded.Args[1] != "1700000010000" {
		t.Fatalf("args[1] = %q", decoded.Args[1])
	}
	if want := signer.SignWS("GET", "/realtime", expires); decoded.Args[2] != want {
		t.Fatalf("args[2] = %q, want %q", decoded.Args[2], want)
	}
}

func TestLoginFrameAbsentOnPublic(t *testing.T) {
	if _, ok := newPublicProtocol().LoginFrame(); ok {
		t.Fatal("public protocol must not produce a login frame")
	}
}

func TestControlFrames(t *testing.T) {
	p := newPublicProtocol()
	frame, err := p.SubscribeFrame([]string{"tickers.BTCUSDT", "kline.1h.BTC-USDT"})
	if err != nil {
		t.Fatalf("subscribe frame: %v", err)
	}
	var decoded struct {
		Op   string   `json:"op"`
		Args []string `json:"args"`
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("subscribe frame not valid JSON: %v", err)
	}
	if decoded.Op != "subscribe" || len(decoded.Args) != 2 {
		t.Fatalf("subscribe frame = %s", frame)
	}

	frame, err = p.UnsubscribeFrame([]string{"tickers.BTCUSDT"})
	if err != nil {
		t.Fatalf("unsubscribe frame: %v", err)
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("unsubscribe frame not valid JSON: %v", err)
	}
	if decoded.Op != "unsubscribe" {
		t.Fatalf("unsubscribe frame = %s", frame)
	}
}
