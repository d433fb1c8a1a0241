package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/shortlink-realtime/internal/auth"
	"github.com/rickgao/shortlink-realtime/internal/version"
)

// Client owns one logical realtime connection and its handler registry.
//
// Connect, Subscribe, Send and Disconnect never block on the network.
// Outcomes are observed through handlers, State and Errors.
type Client struct {
	cfg    Config
	logger *slog.Logger
	dialer Dialer
	tokens auth.TokenSource

	// afterFunc schedules reconnects; replaced in tests.
	afterFunc func(d time.Duration, f func()) (stop func() bool)

	handlers *registry
	errors   chan error

	wg sync.WaitGroup

	// Connection state
	mu         sync.Mutex
	state      State
	url        string
	conn       Conn
	handle     uuid.UUID
	attempts   int
	gen        uint64 // Bumped whenever an in-flight dial, read loop or timer becomes stale
	cancelDial context.CancelFunc
	stopRetry  func() bool
	shutdown   bool
	opens      int64
	planned    int64

	// Dispatch counters
	received      atomic.Int64
	dispatched    atomic.Int64
	dropped       atomic.Int64
	parseErrors   atomic.Int64
	handlerPanics atomic.Int64
	sent          atomic.Int64
	sendErrors    atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithTokenSource attaches a bearer token to every handshake.
func WithTokenSource(src auth.TokenSource) Option {
	return func(c *Client) {
		c.tokens = src
	}
}

// New creates a Client in the Disconnected state.
func New(cfg Config, opts ...Option) *Client {
	if cfg.ErrorBufferSize <= 0 {
		cfg.ErrorBufferSize = DefaultConfig().ErrorBufferSize
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}

	c := &Client{
		cfg:      cfg,
		logger:   slog.Default(),
		handlers: newRegistry(),
		errors:   make(chan error, cfg.ErrorBufferSize),
	}
	c.afterFunc = func(d time.Duration, f func()) func() bool {
		return time.AfterFunc(d, f).Stop
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewWebsocketDialer(cfg)
	}

	return c
}

// Connect opens a connection to url in the background. It is a no-op while
// a connection is open or being established. An explicit Connect resets the
// reconnect attempt counter and cancels a pending retry.
func (c *Client) Connect(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		c.report(ErrShutdown)
		return
	}
	if c.state == StateOpen || c.state == StateConnecting {
		if url != c.url {
			c.logger.Debug("connect ignored, connection already active",
				"active_url", c.url,
				"url", url,
			)
		}
		return
	}

	c.cancelRetryLocked()
	c.attempts = 0
	c.url = url
	c.dialLocked()
}

// Disconnect closes the connection and cancels any pending reconnect.
// Subscriptions are kept.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.disconnectLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Shutdown disconnects, refuses further Connect calls, and waits for
// background goroutines to exit or ctx to expire.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.shutdown = true
	conn := c.disconnectLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.logger.Warn("realtime client shutdown timed out")
		return ctx.Err()
	}
}

// Subscribe registers h for inbound envelopes of msgType. The returned func
// removes exactly this registration and may be called more than once.
func (c *Client) Subscribe(msgType string, h Handler) func() {
	if h == nil {
		return func() {}
	}
	return c.handlers.add(msgType, h)
}

// Subscribers returns the number of handlers registered for msgType.
func (c *Client) Subscribers(msgType string) int {
	return c.handlers.count(msgType)
}

// SubscribedTypes returns every message type with at least one handler.
func (c *Client) SubscribedTypes() []string {
	return c.handlers.types()
}

// Send transmits {type, data} if the connection is open. Failures are logged
// and reported on Errors; the returned error may be ignored.
func (c *Client) Send(msgType string, data any) error {
	c.mu.Lock()
	conn, state, url := c.conn, c.state, c.url
	c.mu.Unlock()

	if state != StateOpen || conn == nil {
		c.sendErrors.Add(1)
		c.logger.Warn("send while not open, dropping",
			"type", msgType,
			"state", state,
		)
		c.report(ErrNotConnected)
		return ErrNotConnected
	}

	frame, err := EncodeEnvelope(msgType, data)
	if err != nil {
		c.sendErrors.Add(1)
		c.logger.Warn("failed to encode outbound message", "type", msgType, "error", err)
		c.report(err)
		return err
	}

	if err := conn.WriteMessage(frame); err != nil {
		c.sendErrors.Add(1)
		werr := &TransportError{Op: "write", URL: url, Err: err}
		c.logger.Warn("send failed", "type", msgType, "error", err)
		c.report(werr)
		return werr
	}

	c.sent.Add(1)
	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handle returns the identity of the open connection, if any.
func (c *Client) Handle() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle, c.handle != uuid.Nil
}

// Errors returns the error stream. Errors are dropped when nobody drains it.
func (c *Client) Errors() <-chan error {
	return c.errors
}

// Stats returns current statistics.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		State:             c.state,
		Attempts:          c.attempts,
		Opens:             c.opens,
		ReconnectsPlanned: c.planned,
	}
	c.mu.Unlock()

	s.Received = c.received.Load()
	s.Dispatched = c.dispatched.Load()
	s.Dropped = c.dropped.Load()
	s.ParseErrors = c.parseErrors.Load()
	s.HandlerPanics = c.handlerPanics.Load()
	s.Sent = c.sent.Load()
	s.SendErrors = c.sendErrors.Load()
	return s
}

// dialLocked starts a connection attempt to c.url.
func (c *Client) dialLocked() {
	c.gen++
	gen := c.gen
	url := c.url

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	c.state = StateConnecting

	c.wg.Add(1)
	go c.run(ctx, cancel, gen, url)
}

// run dials, then reads until the connection fails or becomes stale.
func (c *Client) run(ctx context.Context, cancel context.CancelFunc, gen uint64, url string) {
	defer c.wg.Done()

	var conn Conn
	header, err := c.handshakeHeader()
	if err == nil {
		conn, err = c.dialer.Dial(ctx, url, header)
	}
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		// Disconnected while dialing.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	c.cancelDial = nil
	if err != nil {
		c.logger.Warn("realtime connect failed", "url", url, "attempt", c.attempts, "error", err)
		c.report(&TransportError{Op: "dial", URL: url, Err: err})
		c.lostLocked()
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.handle = uuid.New()
	c.opens++
	logger := c.logger.With("handle", c.handle)
	c.mu.Unlock()

	logger.Info("realtime connection open", "url", url)

	c.readLoop(gen, conn, url, logger)
}

// readLoop dispatches frames in arrival order.
func (c *Client) readLoop(gen uint64, conn Conn, url string, logger *slog.Logger) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if gen != c.gen {
				// Closed by Disconnect.
				c.mu.Unlock()
				return
			}
			c.conn = nil
			c.handle = uuid.Nil
			logger.Warn("realtime connection lost", "url", url, "error", err)
			c.report(&TransportError{Op: "read", URL: url, Err: err})
			c.lostLocked()
			c.mu.Unlock()

			conn.Close()
			return
		}

		c.dispatch(data)
	}
}

// lostLocked schedules the next reconnect or gives up.
func (c *Client) lostLocked() {
	if c.attempts >= c.cfg.MaxAttempts {
		c.state = StateDisconnected
		c.logger.Error("giving up on realtime connection",
			"url", c.url,
			"attempts", c.attempts,
		)
		c.report(fmt.Errorf("%w after %d attempts", ErrRetriesExhausted, c.attempts))
		return
	}

	delay := Backoff(c.cfg.BaseDelay, c.cfg.MaxDelay, c.attempts)
	gen := c.gen
	c.state = StateClosedPendingRetry
	c.planned++

	c.logger.Info("scheduling reconnect",
		"url", c.url,
		"attempt", c.attempts+1,
		"max_attempts", c.cfg.MaxAttempts,
		"delay", delay,
	)

	c.stopRetry = c.afterFunc(delay, func() { c.retry(gen) })
}

// retry fires when a backoff timer elapses.
func (c *Client) retry(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != StateClosedPendingRetry {
		return
	}
	c.stopRetry = nil
	c.attempts++
	c.dialLocked()
}

// disconnectLocked moves to Disconnected and returns the connection to close.
func (c *Client) disconnectLocked() Conn {
	c.gen++
	c.cancelRetryLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}

	conn := c.conn
	if c.state != StateDisconnected {
		c.logger.Info("realtime connection closed", "url", c.url)
	}
	c.conn = nil
	c.handle = uuid.Nil
	c.state = StateDisconnected
	return conn
}

func (c *Client) cancelRetryLocked() {
	if c.stopRetry != nil {
		c.stopRetry()
		c.stopRetry = nil
	}
}

// dispatch decodes one frame and invokes every handler for its type.
func (c *Client) dispatch(frame []byte) {
	c.received.Add(1)

	env, err := DecodeEnvelope(frame)
	if err != nil {
		c.parseErrors.Add(1)
		c.logger.Warn("dropping malformed message", "size", len(frame), "error", err)
		c.report(&DecodeError{Err: err})
		return
	}

	handlers := c.handlers.snapshot(env.Type)
	if len(handlers) == 0 {
		c.dropped.Add(1)
		c.logger.Debug("no handler for message", "type", env.Type)
		return
	}

	for _, h := range handlers {
		c.invoke(env.Type, h, env.Data)
	}
}

// invoke runs one handler, containing any panic.
func (c *Client) invoke(msgType string, h Handler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.handlerPanics.Add(1)
			c.logger.Error("handler panicked", "type", msgType, "panic", r)
			c.report(&HandlerPanicError{Type: msgType, Value: r})
		}
	}()

	c.dispatched.Add(1)
	h(data)
}

func (c *Client) reportDecode(msgType string, err error) {
	c.parseErrors.Add(1)
	c.logger.Warn("dropping undecodable payload", "type", msgType, "error", err)
	c.report(&DecodeError{Type: msgType, Err: err})
}

func (c *Client) handshakeHeader() (http.Header, error) {
	header := c.cfg.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", version.UserAgent())
	}
	if c.tokens != nil {
		if err := auth.ApplyBearer(header, c.tokens); err != nil {
			return nil, err
		}
	}
	return header, nil
}

// report publishes err without blocking.
func (c *Client) report(err error) {
	select {
	case c.errors <- err:
	default:
	}
}
