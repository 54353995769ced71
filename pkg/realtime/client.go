// Package realtime implements the client side of the streaming conversation
// protocol: a WebSocket connection manager with automatic reconnection, and a
// session engine that speaks the event protocol on top of it.
//
// The connection manager (Client) owns exactly one socket at a time. It
// exposes the connection state as an observable value, delivers inbound
// frames and transport errors on channels, and recovers from unexpected
// closures with exponential backoff. The session engine (Session) encodes and
// decodes protocol events, tracks the single in-flight response, and enforces
// the audio/text assembly rules.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// State is the connection lifecycle state. Transitions are monotonic within a
// single attempt; only the Client mutates it.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrReconnectExhausted is delivered on the Errors channel when the maximum
// number of consecutive reconnection attempts has been reached. It is
// terminal: no further automatic attempts happen until Connect is called
// again.
var ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")

// Default connection parameters.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultReconnectBase  = 1 * time.Second
	defaultReconnectMax   = 30 * time.Second
	defaultMaxAttempts    = 5
	defaultKeepalive      = 20 * time.Second

	messageBuf = 64
	errorBuf   = 16
)

// Config holds the connection parameters for a [Client].
type Config struct {
	// URL is the WebSocket endpoint, without the model query parameter.
	URL string

	// Model is appended to the URL as the model query parameter.
	Model string

	// APIKey is sent as a bearer credential on the dial request.
	APIKey string

	// ConnectTimeout bounds a single dial, including the initial Connect.
	// Defaults to 10s.
	ConnectTimeout time.Duration

	// ReconnectBase is the backoff for the first reconnection attempt.
	// The delay for attempt n is min(ReconnectBase * 2^(n-1), ReconnectMax).
	// Defaults to 1s.
	ReconnectBase time.Duration

	// ReconnectMax caps the backoff. Defaults to 30s.
	ReconnectMax time.Duration

	// MaxAttempts is the number of consecutive reconnection failures after
	// which the client enters StateFailed. Defaults to 5.
	MaxAttempts int

	// KeepaliveInterval is the ping cadence while connected. Defaults to 20s.
	KeepaliveInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = defaultReconnectBase
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = defaultReconnectMax
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = defaultKeepalive
	}
	return c
}

// dialURL returns the endpoint with the model parameter applied.
func (c Config) dialURL() string {
	if c.Model == "" {
		return c.URL
	}
	return fmt.Sprintf("%s?model=%s", c.URL, c.Model)
}

// Client manages the lifecycle of a single streaming socket: connect, send,
// receive, close, and reconnect with backoff. All exported methods are safe
// for concurrent use.
type Client struct {
	cfg Config

	mu           sync.Mutex
	conn         *websocket.Conn
	connCancel   context.CancelFunc
	state        State
	manual       bool // caller-initiated disconnect; suppresses reconnection
	reconnecting bool // at most one reconnect chain in flight
	observers    map[int]func(State)
	nextObserver int

	msgCh chan []byte
	errCh chan error
}

// NewClient creates a Client. No connection is opened until [Client.Connect].
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:       cfg.withDefaults(),
		state:     StateDisconnected,
		observers: make(map[int]func(State)),
		msgCh:     make(chan []byte, messageBuf),
		errCh:     make(chan error, errorBuf),
	}
}

// Connect opens the transport and blocks until the socket is connected or the
// connect timeout elapses. Calling Connect on an already-connected client is
// an error. Connect also clears the manual-disconnect flag and the terminal
// Failed state, so it doubles as the explicit restart operation.
func (c *Client) Connect(ctx context.Context) error {
	// The check and the Connecting transition share one critical section: a
	// concurrent Connect observes Connecting and fails instead of dialling a
	// second socket.
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("realtime: already %s", state)
	}
	c.manual = false
	c.state = StateConnecting
	obs := make([]func(State), 0, len(c.observers))
	for _, fn := range c.observers {
		obs = append(obs, fn)
	}
	c.mu.Unlock()
	for _, fn := range obs {
		fn(StateConnecting)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.adopt(conn)
	return nil
}

// dial performs a single connection attempt with the configured timeout and
// authentication headers.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.cfg.dialURL(), &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.cfg.APIKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}
	// Inbound frames can carry a full response turn of base64 audio.
	conn.SetReadLimit(16 << 20)
	return conn, nil
}

// adopt installs conn as the active connection and starts its read and
// keepalive loops.
func (c *Client) adopt(conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.connCancel = cancel
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.readLoop(connCtx, conn)
	go c.keepalive(connCtx, conn)
}

// Send marshals v and writes it as a text frame. It returns false when the
// client is not connected or the write fails; transport errors are reported
// on the Errors channel, not returned. Callers must not retry the same
// payload on false — most protocol messages are not idempotent.
func (c *Client) Send(v any) bool {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := writeJSON(ctx, conn, v); err != nil {
		c.reportError(fmt.Errorf("realtime: send: %w", err))
		return false
	}
	return true
}

// Disconnect closes the connection and suppresses reconnection. Safe to call
// at any time, including when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	conn := c.conn
	cancel := c.connCancel
	c.conn = nil
	c.connCancel = nil
	c.mu.Unlock()
	c.setState(StateDisconnected)

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers an observer invoked synchronously on every state
// transition. The returned function unregisters it.
func (c *Client) OnStateChange(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Messages returns the channel of inbound wire frames, in arrival order.
func (c *Client) Messages() <-chan []byte { return c.msgCh }

// Errors returns the channel of transport errors, including the terminal
// [ErrReconnectExhausted].
func (c *Client) Errors() <-chan error { return c.errCh }

// setState updates the state and notifies observers synchronously, without
// holding the lock during the callbacks. Observers must not call back into
// methods that block on the transport.
func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	obs := make([]func(State), 0, len(c.observers))
	for _, fn := range c.observers {
		obs = append(obs, fn)
	}
	c.mu.Unlock()

	for _, fn := range obs {
		fn(s)
	}
}

// reportError delivers err on the errors channel, dropping it if the consumer
// has fallen behind.
func (c *Client) reportError(err error) {
	select {
	case c.errCh <- err:
	default:
		slog.Warn("realtime: error channel full, dropping", "err", err)
	}
}

// ─── Read loop ────────────────────────────────────────────────────────────────

// readLoop pumps inbound frames into the messages channel. On a transport
// failure that was not caller-initiated it hands off to the reconnect chain.
// Peer-initiated pings are answered by the transport while Read is pending.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // caller-initiated close
			}
			c.mu.Lock()
			manual := c.manual
			c.mu.Unlock()
			if manual {
				return
			}
			c.reportError(fmt.Errorf("realtime: transport: %w", err))
			c.startReconnect()
			return
		}

		select {
		case c.msgCh <- data:
		case <-ctx.Done():
			return
		}
	}
}

// keepalive pings the peer on a fixed interval while the connection is alive.
// A failed ping surfaces as a read error, which triggers reconnection.
func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					slog.Debug("realtime: keepalive ping failed", "err", err)
				}
				return
			}
		}
	}
}

// ─── Reconnection ─────────────────────────────────────────────────────────────

// startReconnect launches the reconnect chain unless one is already running
// or reconnection is suppressed.
func (c *Client) startReconnect() {
	c.mu.Lock()
	if c.manual || c.reconnecting || c.state == StateFailed {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	cancel := c.connCancel
	c.connCancel = nil
	c.conn = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.setState(StateReconnecting)

	go c.reconnectLoop()
}

// reconnectLoop retries the connection with exponential backoff. The delay
// for attempt n is min(base * 2^(n-1), max). After MaxAttempts consecutive
// failures the client enters StateFailed and emits ErrReconnectExhausted.
func (c *Client) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		delay := backoffDelay(c.cfg.ReconnectBase, c.cfg.ReconnectMax, attempt)

		slog.Info("realtime: reconnecting",
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
			"delay", delay,
		)
		time.Sleep(delay)

		c.mu.Lock()
		manual := c.manual
		c.mu.Unlock()
		if manual {
			c.setState(StateDisconnected)
			return
		}

		conn, err := c.dial(context.Background())
		if err == nil {
			slog.Info("realtime: reconnected", "attempt", attempt)
			c.adopt(conn)
			return
		}
		slog.Warn("realtime: reconnection attempt failed", "attempt", attempt, "err", err)
	}

	c.setState(StateFailed)
	c.reportError(ErrReconnectExhausted)
}

// backoffDelay computes min(base * 2^(attempt-1), max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// writeJSON marshals v and writes it as a text WebSocket message.
func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := marshalJSON(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
