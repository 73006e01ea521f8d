package bybit

import (
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/venuelink/venuelink/errs"
	"github.com/venuelink/venuelink/internal/sign"
	"github.com/venuelink/venuelink/internal/ws"
)

// wsEnvelope covers every frame Bybit sends: control frames carry an explicit
// "op" discriminator, data frames carry "topic". This venue is fully tagged,
// so classification never needs structural probing.
type wsEnvelope struct {
	Op      string          `json:"op"`
	Success *bool           `json:"success"`
	RetMsg  string          `json:"ret_msg"`
	ConnID  string          `json:"conn_id"`
	Topic   string          `json:"topic"`
	Ts      int64           `json:"ts"`
	Data    json.RawMessage `json:"data"`
}

// protocol implements ws.Protocol for Bybit's tagged wire format.
type protocol struct {
	signer       *sign.Signer
	authRequired bool
	clock        func() time.Time
}

func newPublicProtocol() *protocol {
	return &protocol{clock: time.Now}
}

func newPrivateProtocol(signer *sign.Signer) *protocol {
	return &protocol{signer: signer, authRequired: true, clock: time.Now}
}

// Decode classifies one inbound frame. Every frame maps to exactly one
// category or is rejected.
func (p *protocol) Decode(frame []byte) (ws.Message, error) {
	var envelope wsEnvelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return ws.Message{}, errs.New(venueName, errs.CodeProtocol,
			errs.WithMessage("unrecognized frame"),
			errs.WithCause(err))
	}

	switch envelope.Op {
	case "auth":
		return ws.Message{
			Kind:    ws.KindAuth,
			Success: envelope.Success != nil && *envelope.Success,
			Text:    envelope.RetMsg,
		}, nil
	case "ping":
		return ws.Message{Kind: ws.KindHeartbeat, Heartbeat: ws.HeartbeatPing}, nil
	case "pong":
		return ws.Message{Kind: ws.KindHeartbeat, Heartbeat: ws.HeartbeatPong}, nil
	case "subscribe", "unsubscribe":
		if envelope.Success != nil && !*envelope.Success {
			return ws.Message{
				Kind: ws.KindError,
				Text: envelope.RetMsg,
			}, nil
		}
		return ws.Message{Kind: ws.KindEvent, Event: envelope.Op, Success: true}, nil
	}

	if envelope.Topic != "" {
		msg := ws.Message{
			Kind:    ws.KindData,
			Topic:   envelope.Topic,
			Payload: envelope.Data,
		}
		if envelope.Ts > 0 {
			msg.Ts = time.UnixMilli(envelope.Ts).UTC()
		}
		return msg, nil
	}
	if envelope.Op != "" {
		return ws.Message{Kind: ws.KindEvent, Event: envelope.Op}, nil
	}
	return ws.Message{}, errs.New(venueName, errs.CodeProtocol,
		errs.WithMessage("frame matches no taxonomy category"))
}

// LoginFrame renders the auth request. The signature covers GET/realtime plus
// the expiry timestamp; neither key nor body participates.
func (p *protocol) LoginFrame() ([]byte, bool) {
	if !p.authRequired || p.signer == nil {
		return nil, false
	}
	expires := p.clock().Add(10 * time.Second).UnixMilli()
	signature := p.signer.SignWS("GET", "/realtime", expires)
	frame, err := json.Marshal(map[string]any{
		"op": "auth",
		"args": []any{
			p.signer.Credential().Key(),
			strconv.FormatInt(expires, 10),
			signature,
		},
	})
	if err != nil {
		return nil, false
	}
	return frame, true
}

// PingFrame returns the proactive client ping Bybit expects.
func (p *protocol) PingFrame() ([]byte, bool) {
	return []byte(`{"op":"ping"}`), true
}

// PongFrame replies to a server-initiated ping.
func (p *protocol) PongFrame() ([]byte, bool) {
	return []byte(`{"op":"pong"}`), true
}

func (p *protocol) SubscribeFrame(topics []string) ([]byte, error) {
	return controlFrame("subscribe", topics)
}

func (p *protocol) UnsubscribeFrame(topics []string) ([]byte, error) {
	return controlFrame("unsubscribe", topics)
}

func controlFrame(op string, topics []string) ([]byte, error) {
	frame, err := json.Marshal(map[string]any{"op": op, "args": topics})
	if err != nil {
		return nil, errs.New(venueName, errs.CodeInvalid,
			errs.WithMessage("marshal "+op+" frame"),
			errs.WithCause(err))
	}
	return frame, nil
}
