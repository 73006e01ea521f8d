package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	"github.com/venuelink/venuelink/errs"
	"github.com/venuelink/venuelink/internal/observability"
)

// State identifies the session lifecycle position.
type State int32

const (
	// StateDisconnected is the initial state before Start.
	StateDisconnected State = iota
	// StateConnecting covers dialing and backoff waits.
	StateConnecting
	// StateConnected marks an open, unauthenticated connection.
	StateConnected
	// StateAuthenticated marks a connection with a confirmed login.
	StateAuthenticated
	// StateSubscribing covers re-sending the desired subscription set.
	StateSubscribing
	// StateStreaming marks the steady state dispatching inbound frames.
	StateStreaming
	// StateClosed marks a session that has been stopped for good.
	StateClosed
)

const (
	defaultPingInterval    = 20 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultWriteTimeout    = 5 * time.Second
	defaultAuthTimeout     = 10 * time.Second
	defaultStartTimeout    = 10 * time.Second
	defaultMaxReconnect    = 20 * time.Second
	defaultReadLimitBytes  = 2 * 1024 * 1024
)

// Conn abstracts the websocket connection so tests can inject fakes.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a connection to the venue websocket endpoint.
type Dialer func(ctx context.Context, url string) (Conn, error)

func defaultDialer(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(defaultReadLimitBytes)
	return conn, nil
}

// Options configure one session.
type Options struct {
	Venue        string
	URL          string
	Protocol     Protocol
	Handler      Handler
	Errors       chan<- error
	Dialer       Dialer
	Metrics      *observability.Metrics
	PingInterval time.Duration
	IdleTimeout  time.Duration
}

// Session owns one logical websocket connection lifecycle to a venue. Inbound
// frames are processed strictly in arrival order by a single consumer loop;
// reconnects re-issue the currently-desired subscription set, so the session
// never needs to remember why it reconnected, only what should be subscribed
// now.
type Session struct {
	venue   string
	url     string
	proto   Protocol
	handler Handler
	metrics *observability.Metrics

	dialer       Dialer
	pingInterval time.Duration
	idleTimeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	conn   Conn
	connMu sync.RWMutex

	writeMu sync.Mutex

	subsMu  sync.Mutex
	desired map[string]struct{}

	state       atomic.Int32
	lastTraffic atomic.Int64

	authed chan struct{}

	errorChan chan<- error

	ready     chan struct{}
	readyOnce sync.Once
}

// NewSession builds an unstarted session.
func NewSession(ctx context.Context, opts Options) *Session {
	sessionCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		venue:        opts.Venue,
		url:          opts.URL,
		proto:        opts.Protocol,
		handler:      opts.Handler,
		metrics:      opts.Metrics,
		dialer:       opts.Dialer,
		pingInterval: opts.PingInterval,
		idleTimeout:  opts.IdleTimeout,
		ctx:          sessionCtx,
		cancel:       cancel,
		desired:      make(map[string]struct{}),
		authed:       make(chan struct{}, 1),
		errorChan:    opts.Errors,
		ready:        make(chan struct{}),
	}
	if s.dialer == nil {
		s.dialer = defaultDialer
	}
	if s.pingInterval <= 0 {
		s.pingInterval = defaultPingInterval
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = defaultIdleTimeout
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Start launches the connect loop and blocks until the first connection
// reaches streaming or the start timeout elapses.
func (s *Session) Start() error {
	go func() {
		if err := s.connectLoop(); err != nil && !errors.Is(err, context.Canceled) {
			s.reportError(fmt.Errorf("%s ws session: %w", s.venue, err))
		}
	}()

	select {
	case <-s.ready:
		return nil
	case <-time.After(defaultStartTimeout):
		return errs.New(s.venue, errs.CodeUnavailable,
			errs.WithMessage("timeout waiting for websocket connection"))
	case <-s.ctx.Done():
		return errs.New(s.venue, errs.CodeUnavailable,
			errs.WithMessage("websocket context done"),
			errs.WithCause(s.ctx.Err()))
	}
}

// Stop tears the session down permanently.
func (s *Session) Stop() {
	s.cancel()
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "shutdown")
		s.conn = nil
	}
	s.connMu.Unlock()
	s.state.Store(int32(StateClosed))
}

// Subscribe adds topics to the desired set and sends a subscribe frame for
// the ones not already present. Topic identity is the rendered string.
func (s *Session) Subscribe(topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	s.subsMu.Lock()
	added := make([]string, 0, len(topics))
	for _, topic := range topics {
		if _, exists := s.desired[topic]; !exists {
			s.desired[topic] = struct{}{}
			added = append(added, topic)
		}
	}
	s.subsMu.Unlock()
	if len(added) == 0 {
		return nil
	}
	frame, err := s.proto.SubscribeFrame(added)
	if err != nil {
		return err
	}
	return s.write(frame)
}

// Unsubscribe removes topics from the desired set and sends an unsubscribe
// frame for the ones that were present.
func (s *Session) Unsubscribe(topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	s.subsMu.Lock()
	removed := make([]string, 0, len(topics))
	for _, topic := range topics {
		if _, exists := s.desired[topic]; exists {
			delete(s.desired, topic)
			removed = append(removed, topic)
		}
	}
	s.subsMu.Unlock()
	if len(removed) == 0 {
		return nil
	}
	frame, err := s.proto.UnsubscribeFrame(removed)
	if err != nil {
		return err
	}
	return s.write(frame)
}

// DesiredTopics returns a snapshot of the desired subscription set.
func (s *Session) DesiredTopics() []string {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	out := make([]string, 0, len(s.desired))
	for topic := range s.desired {
		out = append(out, topic)
	}
	return out
}

func (s *Session) connectLoop() error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.MaxInterval = defaultMaxReconnect

	for {
		select {
		case <-s.ctx.Done():
			return context.Canceled
		default:
		}

		s.state.Store(int32(StateConnecting))
		conn, err := s.dialer(s.ctx, s.url)
		if err != nil {
			s.reportError(errs.New(s.venue, errs.CodeNetwork,
				errs.WithMessage("dial websocket"),
				errs.WithCause(err)))
			if !s.sleepBackoff(backoffCfg) {
				return context.Canceled
			}
			continue
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()
		s.state.Store(int32(StateConnected))
		s.touch()
		s.metrics.Reconnect(s.ctx, s.venue)

		err = s.runConnection(conn)

		s.connMu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.connMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if s.ctx.Err() != nil {
			return context.Canceled
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.reportError(fmt.Errorf("%s websocket connection: %w", s.venue, err))
		}
		if !s.sleepBackoff(backoffCfg) {
			return context.Canceled
		}
		backoffCfg.Reset()
	}
}

// runConnection drives one connection through login, resubscribe and the
// dispatch loops. It returns when the connection is no longer usable.
func (s *Session) runConnection(conn Conn) error {
	if err := s.login(conn); err != nil {
		return err
	}

	s.state.Store(int32(StateSubscribing))
	if err := s.resubscribeAll(conn); err != nil {
		return fmt.Errorf("resubscribe after connect: %w", err)
	}
	s.state.Store(int32(StateStreaming))
	s.readyOnce.Do(func() { close(s.ready) })

	connCtx, connCancel := context.WithCancel(s.ctx)
	defer connCancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- s.readLoop(connCtx, conn)
	}()
	go func() {
		defer wg.Done()
		errCh <- s.heartbeatLoop(connCtx, conn)
	}()

	firstErr := <-errCh
	connCancel()
	wg.Wait()
	close(errCh)
	for e := range errCh {
		if firstErr == nil || errors.Is(firstErr, context.Canceled) {
			firstErr = e
		}
	}
	return firstErr
}

func (s *Session) login(conn Conn) error {
	frame, required := s.proto.LoginFrame()
	if !required {
		return nil
	}

	// Drain a stale auth signal from a previous connection.
	select {
	case <-s.authed:
	default:
	}

	if err := s.writeTo(conn, frame); err != nil {
		return fmt.Errorf("write login frame: %w", err)
	}

	// The auth ack arrives on the read path, which is not running yet, so
	// consume frames inline until the ack shows up.
	deadline := time.Now().Add(defaultAuthTimeout)
	for {
		readCtx, cancel := context.WithDeadline(s.ctx, deadline)
		typ, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			return errs.New(s.venue, errs.CodeAuth,
				errs.WithMessage("awaiting login ack"),
				errs.WithCause(err))
		}
		if typ != websocket.MessageText {
			return s.binaryFrameError()
		}
		s.touch()
		msg, err := s.proto.Decode(data)
		if err != nil {
			s.metrics.FrameRejected(s.ctx, s.venue)
			s.reportError(err)
			continue
		}
		s.metrics.FrameDecoded(s.ctx, s.venue)
		if msg.Kind == KindAuth {
			if !msg.Success {
				return errs.New(s.venue, errs.CodeAuth,
					errs.WithMessage("login rejected"),
					errs.WithRawCode(msg.Code),
					errs.WithRawMessage(msg.Text))
			}
			s.state.Store(int32(StateAuthenticated))
			observability.Log().Info("websocket authenticated",
				observability.F("venue", s.venue))
			return nil
		}
		// Non-auth frames arriving before the ack follow the normal
		// dispatch contract.
		s.dispatch(msg, conn)
	}
}

func (s *Session) resubscribeAll(conn Conn) error {
	s.subsMu.Lock()
	topics := make([]string, 0, len(s.desired))
	for topic := range s.desired {
		topics = append(topics, topic)
	}
	s.subsMu.Unlock()
	if len(topics) == 0 {
		return nil
	}
	frame, err := s.proto.SubscribeFrame(topics)
	if err != nil {
		return err
	}
	return s.writeTo(conn, frame)
}

func (s *Session) readLoop(ctx context.Context, conn Conn) error {
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read websocket: %w", err)
		}
		if typ != websocket.MessageText {
			return s.binaryFrameError()
		}
		s.touch()
		msg, err := s.proto.Decode(data)
		if err != nil {
			s.metrics.FrameRejected(ctx, s.venue)
			s.reportError(err)
			continue
		}
		s.metrics.FrameDecoded(ctx, s.venue)
		s.dispatch(msg, conn)
	}
}

// dispatch applies the fixed conversion contract: auth is logged, events and
// errors are offered to the handler, data requires a conversion attempt and
// heartbeats stay internal.
func (s *Session) dispatch(msg Message, conn Conn) {
	switch msg.Kind {
	case KindHeartbeat:
		if msg.Heartbeat == HeartbeatPing {
			if pong, ok := s.proto.PongFrame(); ok {
				if err := s.writeTo(conn, pong); err != nil {
					s.reportError(fmt.Errorf("write pong: %w", err))
				}
			}
		}
	case KindAuth:
		observability.Log().Info("websocket auth ack",
			observability.F("venue", s.venue),
			observability.F("success", msg.Success))
		select {
		case s.authed <- struct{}{}:
		default:
		}
	case KindError:
		observability.Log().Error("venue websocket error",
			observability.F("venue", s.venue),
			observability.F("code", msg.Code),
			observability.F("message", msg.Text))
		s.offerToHandler(msg)
	case KindEvent, KindData:
		s.offerToHandler(msg)
	}
}

func (s *Session) offerToHandler(msg Message) {
	if s.handler == nil {
		return
	}
	if err := s.handler(msg); err != nil {
		s.reportError(fmt.Errorf("handle %s message: %w", msg.Kind, err))
	}
}

func (s *Session) heartbeatLoop(ctx context.Context, conn Conn) error {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-ticker.C:
			if last := s.lastTraffic.Load(); last > 0 {
				if time.Since(time.Unix(0, last)) > s.idleTimeout {
					return errs.New(s.venue, errs.CodeUnavailable,
						errs.WithMessage("no heartbeat traffic within timeout"))
				}
			}
			if ping, ok := s.proto.PingFrame(); ok {
				if err := s.writeTo(conn, ping); err != nil {
					return fmt.Errorf("write ping: %w", err)
				}
			}
		}
	}
}

func (s *Session) write(frame []byte) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		// Not connected right now; the desired set was already updated and
		// will be replayed on the next entry to streaming.
		return nil
	}
	return s.writeTo(conn, frame)
}

func (s *Session) writeTo(conn Conn, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	writeCtx, cancel := context.WithTimeout(s.ctx, defaultWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, frame)
}

func (s *Session) binaryFrameError() error {
	return errs.New(s.venue, errs.CodeProtocol,
		errs.WithMessage("unexpected binary frame"))
}

func (s *Session) touch() {
	s.lastTraffic.Store(time.Now().UnixNano())
}

func (s *Session) sleepBackoff(cfg *backoff.ExponentialBackOff) bool {
	sleep := cfg.NextBackOff()
	if sleep == backoff.Stop {
		sleep = defaultMaxReconnect
	}
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(sleep):
		return true
	}
}

func (s *Session) reportError(err error) {
	if err == nil {
		return
	}
	select {
	case <-s.ctx.Done():
	case s.errorChan <- err:
	default:
	}
}
