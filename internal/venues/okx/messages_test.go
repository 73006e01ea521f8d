package okx

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
		{exchange.Ticker("BTC-USDT"), "tickers:BTC-USDT"},
		{exchange.Candles(market.Timeframe1h, "BTC-USDT"), "candle1H:BTC-USDT"},
		{exchange.Candles(market.Timeframe5m, "ETH-USDT"), "candle5m:ETH-USDT"},
		{exchange.Orders(), "orders"},
		{exchange.Positions(), "positions"},
	}
	for _, tc := range cases {
		got, err := topicFor(tc.channel)
		if err != nil {
			t.Fatalf("topicFor(%+v): %v", tc.channel, err)
		}
		if got != tc.want {
			t.Fatalf("topicFor(%+v) = %q, want %q", tc.channel, got, tc.want)
		}
	}
}

func TestTopicRoundTrip(t *testing.T) {
	for _, topic := range []string{"tickers:BTC-USDT", "candle1H:BTC-USDT", "orders", "positions"} {
		if got := topicOf(argForTopic(topic)); got != topic {
			t.Fatalf("round trip %q -> %q", topic, got)
		}
	}
	if arg := argForTopic("orders"); arg.InstType != "ANY" {
		t.Fatalf("orders arg = %+v, want instType ANY", arg)
	}
}

// Classification is structural and ordered. Each fixture below is the
// literal frame shape the venue sends.
func TestDecodePriorityOrder(t *testing.T) {
	p := newPublicProtocol()

	// Error wins even though it carries an event field.
	msg, err := p.Decode([]byte(`{"event":"error","code":"60012","msg":"Illegal request"}`))
	if err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if msg.Kind != ws.KindError || msg.Code != "60012" || msg.Text != "Illegal request" {
		t.Fatalf("error frame classified as %+v", msg)
	}

	// Login ack wins over plain event.
	msg, err = p.Decode([]byte(`{"event":"login","code":"0","msg":""}`))
	if err != nil {
		t.Fatalf("decode login ack: %v", err)
	}
	if msg.Kind != ws.KindAuth || !msg.Success {
		t.Fatalf("login ack classified as %+v", msg)
	}

	msg, err = p.Decode([]byte(`{"event":"login","code":"60009","msg":"Login failed"}`))
	if err != nil {
		t.Fatalf("decode login reject: %v", err)
	}
	if msg.Kind != ws.KindAuth || msg.Success {
		t.Fatalf("login reject classified as %+v", msg)
	}

	// Bare text heartbeat, not JSON.
	msg, err = p.Decode([]byte(`pong`))
	if err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if msg.Kind != ws.KindHeartbeat || msg.Heartbeat != ws.HeartbeatPong {
		t.Fatalf("pong classified as %+v", msg)
	}

	// Operational event (subscribe ack).
	msg, err = p.Decode([]byte(`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT"}}`))
	if err != nil {
		t.Fatalf("decode subscribe ack: %v", err)
	}
	if msg.Kind != ws.KindEvent || msg.Event != "subscribe" || msg.Topic != "tickers:BTC-USDT" {
		t.Fatalf("subscribe ack classified as %+v", msg)
	}

	// Data frame: arg plus data, no event.
	msg, err = p.Decode([]byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"42000"}]}`))
	if err != nil {
		t.Fatalf("decode data frame: %v", err)
	}
	if msg.Kind != ws.KindData || msg.Topic != "tickers:BTC-USDT" {
		t.Fatalf("data frame classified as %+v", msg)
	}
	if len(msg.Payload) == 0 {
		t.Fatal("payload missing")
	}
}

func TestDecodeUnclassifiableFrame(t *testing.T) {
	p := newPublicProtocol()
	for _, frame := range []string{`{"foo":"bar"}`, `not json`, `{"arg":{"channel":"tickers"}}`} {
		if _, err := p.Decode([]byte(frame)); errs.CodeOf(err) != errs.CodeProtocol {
			t.Fatalf("frame %q: want protocol error, got %v", frame, err)
		}
	}
}

func TestLoginFrameCarriesPassphraseOutsideSignature(t *testing.T) {
	signer := sign.NewSigner(sign.NewCredential("test-key", "test-secret", "test-pass"))
	now := time.Unix(1700000000, 0)
	p := newPrivateProtocol(signer)
	p.clock = func() time.Time { return now }

	frame, ok := p.LoginFrame()
	if !ok {
		t.Fatal("private protocol must produce a login frame")
	}
	var decoded struct {
		Op   string              `json:"op"`
		Args []map[string]string `json:"args"`
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("login frame not valid JSON: %v", err)
	}
	if decoded.Op != "login" || len(decoded.Args) != 1 {
		t.Fatalf("login frame = %s", frame)
	}
	arg := decoded.Args[0]
	if arg["apiKey"] != "test-key" || arg["passphrase"] != "test-pass" {
		t.Fatalf("login identity = %v", arg)
	}
	if arg["timestamp"] != "1700000000" {
		t.Fatalf("timestamp = %q", arg["timestamp"])
	}
	// The signature covers method, path and timestamp only; notably not the
	// passphrase.
	if want := signer.SignWS("GET", "/users/self/verify", 1700000000); arg["sign"] != want {
		t.Fatalf("sign = %q, want %q", arg["sign"], want)
	}
}

func TestHeartbeatFrames(t *testing.T) {
	p := newPublicProtocol()
	frame, ok := p.PingFrame()
	if !ok || string(frame) != "ping" {
		t.Fatalf("ping frame = %q, %v", frame, ok)
	}
	if _, ok := p.PongFrame(); ok {
		t.Fatal("okx clients never send pong")
	}
}

func TestControlFrames(t *testing.T) {
	p := newPublicProtocol()
	frame, err := p.SubscribeFrame([]string{"tickers:BTC-USDT", "orders"})
	if err != nil {
		t.Fatalf("subscribe frame: %v", err)
	}
	var decoded struct {
		Op   string            `json:"op"`
		Args []subscriptionArg `json:"args"`
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("subscribe frame not valid JSON: %v", err)
	}
	if decoded.Op != "subscribe" || len(decoded.Args) != 2 {
		t.Fatalf("subscribe frame = %s", frame)
	}
	if decoded.Args[0].Channel != "tickers" || decoded.Args[0].InstID != "BTC-USDT" {
		t.Fatalf("args[0] = %+v", decoded.Args[0])
	}
	if decoded.Args[1].Channel != "orders" || decoded.Args[1].InstType != "ANY" {
		t.Fatalf("args[1] = %+v", decoded.Args[1])
	}
}
