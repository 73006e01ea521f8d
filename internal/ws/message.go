// Package ws maintains persistent websocket sessions against venue endpoints:
// connect, authenticate, subscribe, dispatch, heartbeat, reconnect.
package ws

import (
	"time"

	json "github.com/goccy/go-json"
)

// Kind classifies an inbound frame into the closed message taxonomy.
type Kind string

const (
	// KindAuth marks a login acknowledgement.
	KindAuth Kind = "auth"
	// KindEvent marks a venue operational event such as a subscribe ack.
	KindEvent Kind = "event"
	// KindData marks a data frame carrying a topic payload.
	KindData Kind = "data"
	// KindError marks a venue-reported error frame.
	KindError Kind = "error"
	// KindHeartbeat marks ping/pong traffic. Heartbeats stay internal to the
	// session and are never surfaced to handlers.
	KindHeartbeat Kind = "heartbeat"
)

// Heartbeat distinguishes ping from pong frames.
type Heartbeat string

const (
	// HeartbeatPing is a server-initiated ping requiring a reply.
	HeartbeatPing Heartbeat = "ping"
	// HeartbeatPong acknowledges a ping we sent.
	HeartbeatPong Heartbeat = "pong"
)

// Message is the venue-agnostic classification of one inbound frame. Every
// frame maps to exactly one kind or is rejected by the decoder.
type Message struct {
	Kind      Kind
	Topic     string
	Payload   json.RawMessage
	Event     string
	Success   bool
	Code      string
	Text      string
	Heartbeat Heartbeat
	// Ts is the envelope-level venue timestamp, zero when the venue carries
	// timestamps inside the payload instead.
	Ts time.Time
}

// Decoder classifies a venue's raw frames into the message taxonomy. A frame
// matching no category returns an error and is counted as a protocol
// rejection, never silently dropped.
type Decoder interface {
	Decode(frame []byte) (Message, error)
}

// Protocol captures the venue-specific wire conventions one session needs:
// frame classification, control frame construction and the heartbeat
// convention.
type Protocol interface {
	Decoder

	// LoginFrame returns the authentication payload, or false when the
	// session is unauthenticated (public endpoints).
	LoginFrame() ([]byte, bool)

	// PingFrame returns the client-initiated ping payload, or false for
	// venues where only the server pings.
	PingFrame() ([]byte, bool)

	// PongFrame returns the reply payload for a server ping.
	PongFrame() ([]byte, bool)

	// SubscribeFrame renders a subscribe control frame for the topics.
	SubscribeFrame(topics []string) ([]byte, error)

	// UnsubscribeFrame renders an unsubscribe control frame for the topics.
	UnsubscribeFrame(topics []string) ([]byte, error)
}

// Handler consumes classified messages in arrival order. Returning no error
// for a message the handler is not interested in is the normal case; errors
// are reported on the session error channel without stopping the read loop.
type Handler func(msg Message) error
