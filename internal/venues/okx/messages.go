package okx

import (
	"bytes"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/venuelink/venuelink/errs"
	"github.com/venuelink/venuelink/internal/sign"
	"github.com/venuelink/venuelink/internal/ws"
)

// probe is the superset shape one inbound frame is unmarshalled into before
// structural classification. OKX has no discriminator tag; which fields are
// populated decides the category.
type probe struct {
	Event string          `json:"event"`
	Code  string          `json:"code"`
	Msg   string          `json:"msg"`
	Arg   subscriptionArg `json:"arg"`
	Data  json.RawMessage `json:"data"`
}

// classifier inspects one decoded probe and claims the frame or passes.
type classifier func(raw []byte, p probe, parsed bool) (ws.Message, bool)

// classifiers is the fixed priority order for untagged classification:
// error, then login ack, then heartbeat literal, then operational event,
// then data. Order matters: an error frame also carries an event field, and
// a login ack is an event frame with a code, so the more specific shapes
// must win.
var classifiers = []classifier{
	classifyError,
	classifyLogin,
	classifyHeartbeat,
	classifyEvent,
	classifyData,
}

func classifyError(_ []byte, p probe, parsed bool) (ws.Message, bool) {
	if !parsed || p.Event != "error" {
		return ws.Message{}, false
	}
	return ws.Message{Kind: ws.KindError, Code: p.Code, Text: p.Msg}, true
}

func classifyLogin(_ []byte, p probe, parsed bool) (ws.Message, bool) {
	if !parsed || p.Event != "login" {
		return ws.Message{}, false
	}
	return ws.Message{Kind: ws.KindAuth, Success: p.Code == "" || p.Code == "0", Text: p.Msg}, true
}

// classifyHeartbeat matches the bare "pong" (and "ping") text literals OKX
// uses instead of JSON heartbeat frames.
func classifyHeartbeat(raw []byte, _ probe, _ bool) (ws.Message, bool) {
	switch string(bytes.TrimSpace(raw)) {
	case "pong":
		return ws.Message{Kind: ws.KindHeartbeat, Heartbeat: ws.HeartbeatPong}, true
	case "ping":
		return ws.Message{Kind: ws.KindHeartbeat, Heartbeat: ws.HeartbeatPing}, true
	}
	return ws.Message{}, false
}

func classifyEvent(_ []byte, p probe, parsed bool) (ws.Message, bool) {
	if !parsed || p.Event == "" {
		return ws.Message{}, false
	}
	return ws.Message{Kind: ws.KindEvent, Event: p.Event, Success: true, Topic: topicOf(p.Arg)}, true
}

func classifyData(_ []byte, p probe, parsed bool) (ws.Message, bool) {
	if !parsed || p.Arg.Channel == "" || len(p.Data) == 0 {
		return ws.Message{}, false
	}
	return ws.Message{Kind: ws.KindData, Topic: topicOf(p.Arg), Payload: p.Data}, true
}

// protocol implements ws.Protocol for OKX's untagged wire format.
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

// Decode runs the classifier chain in priority order. A frame no classifier
// claims is rejected, never dropped.
func (p *protocol) Decode(frame []byte) (ws.Message, error) {
	var pr probe
	parsed := json.Unmarshal(frame, &pr) == nil
	for _, classify := range classifiers {
		if msg, ok := classify(frame, pr, parsed); ok {
			return msg, nil
		}
	}
	return ws.Message{}, errs.New(venueName, errs.CodeProtocol,
		errs.WithMessage("frame matches no taxonomy category"))
}

// LoginFrame renders the login request. The passphrase rides in the payload;
// the signature covers GET/users/self/verify plus the epoch-second timestamp
// only.
func (p *protocol) LoginFrame() ([]byte, bool) {
	if !p.authRequired || p.signer == nil {
		return nil, false
	}
	timestamp := p.clock().Unix()
	signature := p.signer.SignWS("GET", "/users/self/verify", timestamp)
	frame, err := json.Marshal(map[string]any{
		"op": "login",
		"args": []map[string]string{{
			"apiKey":     p.signer.Credential().Key(),
			"passphrase": p.signer.Credential().Passphrase(),
			"timestamp":  strconv.FormatInt(timestamp, 10),
			"sign":       signature,
		}},
	})
	if err != nil {
		return nil, false
	}
	return frame, true
}

// PingFrame returns the bare text ping OKX expects from idle clients.
func (p *protocol) PingFrame() ([]byte, bool) {
	return []byte("ping"), true
}

// PongFrame is unused: OKX servers never ping the client.
func (p *protocol) PongFrame() ([]byte, bool) {
	return nil, false
}

func (p *protocol) SubscribeFrame(topics []string) ([]byte, error) {
	return controlFrame("subscribe", topics)
}

func (p *protocol) UnsubscribeFrame(topics []string) ([]byte, error) {
	return controlFrame("unsubscribe", topics)
}

func controlFrame(op string, topics []string) ([]byte, error) {
	args := make([]subscriptionArg, 0, len(topics))
	for _, topic := range topics {
		args = append(args, argForTopic(topic))
	}
	frame, err := json.Marshal(map[string]any{"op": op, "args": args})
	if err != nil {
		return nil, errs.New(venueName, errs.CodeInvalid,
			errs.WithMessage("marshal "+op+" frame"),
			errs.WithCause(err))
	}
	return frame, nil
}
