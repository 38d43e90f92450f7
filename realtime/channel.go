// Package realtime maintains the websocket channel to the MindWell server:
// a validated connection state machine, an auth handshake, bounded reconnect
// backoff, and a typed pub/sub registry for the event stream.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/MindWell-Health/wellness_client/internal/logging"
	"github.com/MindWell-Health/wellness_client/internal/metrics"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 75 * time.Second
	pingPeriod       = 30 * time.Second
	maxMessageSize   = 1 << 20 // 1MiB
)

var (
	// ErrClosed is returned when operating on a closed channel.
	ErrClosed = errors.New("realtime: channel closed")
	// ErrNotConnected is returned by Emit while the socket is down. Outbound
	// frames are never queued; callers retry once the channel reconnects.
	ErrNotConnected = errors.New("realtime: not connected")
)

// TokenProvider supplies the bearer token for the auth handshake.
type TokenProvider interface {
	AccessToken() string
}

// Config holds channel configuration.
type Config struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string
	// Tokens supplies the handshake credential. Nil skips the handshake and
	// the channel stays in the connected state.
	Tokens TokenProvider
	// Reconnect enables automatic reconnection after an unexpected drop.
	Reconnect bool
	// Backoff shapes the reconnect delays. Zero values take defaults.
	Backoff BackoffConfig
	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
	// Logger overrides the default component logger.
	Logger *logging.Logger
}

// Channel is the realtime connection to the wellness server.
type Channel struct {
	cfg      Config
	backoff  BackoffConfig
	dialer   *websocket.Dialer
	registry *Registry
	log      *logging.Logger

	mu                sync.Mutex
	conn              *websocket.Conn
	state             State
	closed            bool
	suppressReconnect bool
	reconnecting      bool
	stop              chan struct{}
	lastErr           string
	stateWatchers     map[int]func(State)
	nextWatcherID     int

	writeMu sync.Mutex
}

// New creates a channel. It does not connect; call Connect.
func New(cfg Config) (*Channel, error) {
	parsed, err := url.Parse(cfg.URL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("realtime: URL must be a valid websocket URL")
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("realtime: URL scheme must be ws or wss, got %q", parsed.Scheme)
	}

	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault("realtime")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	}

	return &Channel{
		cfg:           cfg,
		backoff:       cfg.Backoff.withDefaults(),
		dialer:        dialer,
		registry:      NewRegistry(log),
		log:           log,
		state:         StateDisconnected,
		stop:          make(chan struct{}),
		stateWatchers: make(map[int]func(State)),
	}, nil
}

// =============================================================================
// Subscriptions
// =============================================================================

// On registers a handler for the named event and returns its unsubscribe func.
func (c *Channel) On(event string, fn Handler) func() {
	return c.registry.On(event, fn)
}

// Off removes every handler for the named event.
func (c *Channel) Off(event string) {
	c.registry.Off(event)
}

// OnStateChange registers a watcher invoked after each state transition.
func (c *Channel) OnStateChange(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextWatcherID
	c.nextWatcherID++
	c.stateWatchers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.stateWatchers, id)
		c.mu.Unlock()
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent auth or connection failure message.
func (c *Channel) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// =============================================================================
// Lifecycle
// =============================================================================

// Connect dials the server and starts the read and heartbeat loops. It
// returns the first attempt's result; automatic reconnection only applies to
// drops of an established connection. Connect after Close starts clean.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.closed = false
	c.suppressReconnect = false
	c.lastErr = ""
	select {
	case <-c.stop:
		c.stop = make(chan struct{})
	default:
	}
	c.mu.Unlock()

	return c.dial(ctx)
}

// Close tears the connection down and disables reconnection. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		c.writeMu.Unlock()
		conn.Close()
	}
	return nil
}

// Emit sends an event frame to the server. Sending while disconnected fails
// with ErrNotConnected rather than queueing.
func (c *Channel) Emit(event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	online := c.state.IsOnline()
	c.mu.Unlock()

	if !online || conn == nil {
		return ErrNotConnected
	}

	msg := Message{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("realtime: encode payload: %w", err)
		}
		msg.Payload = data
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("realtime: encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("realtime: write: %w", err)
	}
	return nil
}

// =============================================================================
// Connection Internals
// =============================================================================

// dial performs a single connection attempt and, on success, installs the
// socket and starts its goroutines.
func (c *Channel) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.IsOnline() {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		c.lastErr = err.Error()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return fmt.Errorf("realtime: dial %s: %w", c.cfg.URL, err)
	}
	c.conn = conn
	done := make(chan struct{})
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.registry.Dispatch(EventConnect, nil)

	go c.readLoop(conn, done)
	go c.heartbeat(conn, done)

	c.authenticate()
	return nil
}

// authenticate sends the handshake when a token is available. Promotion to
// the authenticated state happens when the server answers.
func (c *Channel) authenticate() {
	if c.cfg.Tokens == nil {
		return
	}
	token := c.cfg.Tokens.AccessToken()
	if token == "" {
		return
	}
	if err := c.Emit(EventAuthenticate, authPayload{Token: token}); err != nil {
		c.log.WithError(err).Warn("authenticate handshake send failed")
	}
}

func (c *Channel) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.handleDisconnect(conn, done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(raw)
	}
}

// handleFrame routes one inbound frame. The event name is sniffed with gjson
// so malformed frames are dropped without a full decode.
func (c *Channel) handleFrame(raw []byte) {
	event := gjson.GetBytes(raw, "event").String()
	if event == "" {
		c.log.Debug("dropping frame without event name")
		return
	}
	payload := json.RawMessage(gjson.GetBytes(raw, "payload").Raw)

	switch event {
	case EventAuthenticated:
		c.mu.Lock()
		if CanTransition(c.state, StateAuthenticated) {
			c.setStateLocked(StateAuthenticated)
		}
		c.mu.Unlock()
		c.log.Info("realtime session authenticated")
		c.registry.Dispatch(EventAuthenticated, payload)

	case EventAuthError:
		var pl authErrorPayload
		_ = json.Unmarshal(payload, &pl)
		if pl.Message == "" {
			pl.Message = "authentication rejected"
		}
		c.mu.Lock()
		c.lastErr = pl.Message
		c.suppressReconnect = true
		conn := c.conn
		c.mu.Unlock()

		c.log.WithField("reason", pl.Message).Warn("realtime authentication failed")
		c.registry.Dispatch(EventAuthError, payload)
		// A rejected credential will not improve by redialing.
		if conn != nil {
			conn.Close()
		}

	default:
		c.registry.Dispatch(event, payload)
	}
}

// handleDisconnect runs when a connection's read loop exits. It owns the
// transition back to disconnected and decides whether to reconnect.
func (c *Channel) handleDisconnect(conn *websocket.Conn, done chan struct{}) {
	conn.Close()
	close(done)

	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	shouldReconnect := c.cfg.Reconnect && !c.closed && !c.suppressReconnect
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	c.registry.Dispatch(EventDisconnect, nil)

	if shouldReconnect {
		c.startReconnect()
	}
}

func (c *Channel) startReconnect() {
	c.mu.Lock()
	if c.reconnecting || c.closed {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	stop := c.stop
	c.mu.Unlock()

	go c.reconnectLoop(stop)
}

// reconnectLoop retries the dial with exponential backoff. The attempt budget
// is fresh for every drop; exhaustion publishes a terminal connect_error and
// leaves the channel disconnected until Connect is called again.
func (c *Channel) reconnectLoop(stop chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	var lastErr error
	for attempt := 1; !c.backoff.Exhausted(attempt); attempt++ {
		delay := c.backoff.Delay(attempt)
		c.log.WithFields(map[string]any{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Info("scheduling reconnect")

		select {
		case <-stop:
			return
		case <-time.After(delay):
		}

		metrics.RecordReconnect()
		err := c.dial(context.Background())
		if err == nil {
			c.log.WithField("attempt", attempt).Info("reconnected")
			c.registry.Dispatch(EventReconnect, attemptPayload(attempt))
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		lastErr = err
		c.log.WithError(err).Warn("reconnect attempt failed")
	}

	message := "reconnect attempts exhausted"
	if lastErr != nil {
		message = lastErr.Error()
	}
	c.mu.Lock()
	c.lastErr = message
	c.mu.Unlock()

	c.log.WithField("attempts", c.backoff.MaxAttempts).Error("giving up on reconnection")
	payload, _ := json.Marshal(map[string]any{
		"message":  message,
		"attempts": c.backoff.MaxAttempts,
	})
	c.registry.Dispatch(EventConnectError, payload)
}

func (c *Channel) heartbeat(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				// The read loop notices the closed socket and cleans up.
				conn.Close()
				return
			}
		}
	}
}

// setStateLocked records a transition and schedules watcher notification.
// Callers must hold c.mu; watchers run on a fresh goroutine so they may call
// back into the channel.
func (c *Channel) setStateLocked(to State) {
	if c.state == to {
		return
	}
	c.state = to
	if len(c.stateWatchers) == 0 {
		return
	}
	watchers := make([]func(State), 0, len(c.stateWatchers))
	for _, fn := range c.stateWatchers {
		watchers = append(watchers, fn)
	}
	go func() {
		for _, fn := range watchers {
			fn(to)
		}
	}()
}

func attemptPayload(attempt int) json.RawMessage {
	data, _ := json.Marshal(map[string]int{"attempt": attempt})
	return data
}
