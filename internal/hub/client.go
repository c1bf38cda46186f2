package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Handler receives the arguments of a server push event.
type Handler func(args []json.RawMessage)

// Options configures a hub client.
type Options struct {
	URL                  string
	AccessToken          string
	HTTPHeader           http.Header
	HTTPClient           *http.Client
	KeepAlive            time.Duration
	HandshakeTimeout     time.Duration
	AutoReconnect        bool
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts uint64
	ReadLimit            int64
}

func (o *Options) defaults() {
	if o.KeepAlive == 0 {
		o.KeepAlive = 15 * time.Second
	}
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = 15 * time.Second
	}
	if o.ReconnectBaseDelay == 0 {
		o.ReconnectBaseDelay = time.Second
	}
	if o.ReconnectMaxDelay == 0 {
		o.ReconnectMaxDelay = 30 * time.Second
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = 10
	}
	if o.ReadLimit == 0 {
		o.ReadLimit = 8 << 20
	}
}

// Client is a websocket hub connection with request/response invocations,
// server push dispatch and automatic reconnection.
//
// Push handlers and lifecycle callbacks run on the connection's read
// goroutine, one at a time and in delivery order. They must not block on
// Invoke: completions are read by that same goroutine.
type Client struct {
	opts   Options
	logger *zap.Logger

	mu              sync.Mutex
	conn            *websocket.Conn
	cancel          context.CancelFunc
	reconnectCancel context.CancelFunc
	stopped         bool

	handlersMu     sync.RWMutex
	handlers       map[string][]Handler
	onReconnecting []func(error)
	onReconnected  []func()
	onClose        []func(error)

	pendingMu sync.Mutex
	pending   map[string]chan frame
}

// NewClient creates a hub client. Nothing is dialed until Start.
func NewClient(opts Options, logger *zap.Logger) *Client {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		opts:     opts,
		logger:   logger,
		handlers: make(map[string][]Handler),
		pending:  make(map[string]chan frame),
	}
}

// On registers a handler for a server push target. Targets match case-insensitively.
func (c *Client) On(target string, h Handler) {
	c.handlersMu.Lock()
	key := strings.ToLower(target)
	c.handlers[key] = append(c.handlers[key], h)
	c.handlersMu.Unlock()
}

// OnReconnecting registers a callback fired when the connection drops and a reconnect begins.
func (c *Client) OnReconnecting(fn func(error)) {
	c.handlersMu.Lock()
	c.onReconnecting = append(c.onReconnecting, fn)
	c.handlersMu.Unlock()
}

// OnReconnected registers a callback fired after a successful reconnect.
func (c *Client) OnReconnected(fn func()) {
	c.handlersMu.Lock()
	c.onReconnected = append(c.onReconnected, fn)
	c.handlersMu.Unlock()
}

// OnClose registers a callback fired when the connection is gone for good:
// after Stop (nil error) or when reconnection gives up.
func (c *Client) OnClose(fn func(error)) {
	c.handlersMu.Lock()
	c.onClose = append(c.onClose, fn)
	c.handlersMu.Unlock()
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Start dials the hub and completes the handshake. It is a no-op when already connected.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.stopped = false
	c.mu.Unlock()

	conn, extra, err := c.dial(ctx)
	if err != nil {
		return err
	}
	if !c.attach(conn, extra) {
		return ErrConnectionClosed
	}
	return nil
}

// Stop closes the connection and cancels any reconnect in progress. Pending
// invocations fail with ErrConnectionClosed.
func (c *Client) Stop(_ context.Context) error {
	c.mu.Lock()
	c.stopped = true
	conn := c.conn
	cancel := c.cancel
	reconnecting := c.reconnectCancel
	c.conn = nil
	c.cancel = nil
	c.reconnectCancel = nil
	c.mu.Unlock()

	if reconnecting != nil {
		reconnecting()
	}
	c.failPending()
	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client stop")
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil || reconnecting != nil {
		c.emitClose(nil)
	}
	return err
}

// Invoke calls a server method and waits for its completion.
func (c *Client) Invoke(ctx context.Context, target string, args ...any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	margs, err := marshalArguments(args)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	ch := make(chan frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	data, err := encodeRecord(frame{Type: invocationFrame, InvocationID: id, Target: target, Arguments: margs})
	if err == nil {
		err = conn.Write(ctx, websocket.MessageText, data)
	}
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("hub: send %s: %w", target, err)
	}

	select {
	case f, ok := <-ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if f.Error != "" {
			return nil, &InvocationError{Target: target, Message: f.Error}
		}
		return f.Result, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// Send calls a server method without waiting for a result.
func (c *Client) Send(ctx context.Context, target string, args ...any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	margs, err := marshalArguments(args)
	if err != nil {
		return err
	}
	data, err := encodeRecord(frame{Type: invocationFrame, Target: target, Arguments: margs})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("hub: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if c.opts.AccessToken != "" {
		q := u.Query()
		q.Set("access_token", c.opts.AccessToken)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// dial opens the websocket and performs the protocol handshake. Records that
// arrived in the same message as the handshake response are returned so the
// read loop can process them.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, [][]byte, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, nil, err
	}
	hctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(hctx, endpoint, &websocket.DialOptions{
		HTTPHeader: c.opts.HTTPHeader,
		HTTPClient: c.opts.HTTPClient,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("hub: dial: %w", err)
	}
	conn.SetReadLimit(c.opts.ReadLimit)

	req, _ := encodeRecord(handshakeRequest{Protocol: "json", Version: 1})
	if err := conn.Write(hctx, websocket.MessageText, req); err != nil {
		conn.CloseNow()
		return nil, nil, fmt.Errorf("hub: write handshake: %w", err)
	}
	_, data, err := conn.Read(hctx)
	if err != nil {
		conn.CloseNow()
		return nil, nil, fmt.Errorf("hub: read handshake: %w", err)
	}
	records := splitRecords(data)
	if len(records) == 0 {
		conn.CloseNow()
		return nil, nil, fmt.Errorf("hub: empty handshake response")
	}
	var resp handshakeResponse
	if err := json.Unmarshal(records[0], &resp); err != nil {
		conn.CloseNow()
		return nil, nil, fmt.Errorf("hub: decode handshake: %w", err)
	}
	if resp.Error != "" {
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake rejected")
		return nil, nil, &HandshakeError{Message: resp.Error}
	}
	return conn, records[1:], nil
}

// attach installs conn as the live connection and starts its loops. It
// returns false, closing conn, if Stop won the race.
func (c *Client) attach(conn *websocket.Conn, extra [][]byte) bool {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "client stop")
		return false
	}
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Info("hub connected", zap.String("url", c.opts.URL))
	go c.readLoop(ctx, conn, extra)
	go c.keepAlive(ctx, conn)
	return true
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, extra [][]byte) {
	for _, rec := range extra {
		if err := c.handleRecord(rec); err != nil {
			c.connectionLost(conn, err)
			return
		}
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.connectionLost(conn, err)
			return
		}
		for _, rec := range splitRecords(data) {
			if err := c.handleRecord(rec); err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				c.connectionLost(conn, err)
				return
			}
		}
	}
}

// serverClosed is returned by handleRecord for a close frame.
type serverClosed struct {
	message        string
	allowReconnect bool
}

func (e *serverClosed) Error() string {
	if e.message == "" {
		return "hub: server closed the connection"
	}
	return "hub: server closed the connection: " + e.message
}

func (c *Client) handleRecord(rec []byte) error {
	var f frame
	if err := json.Unmarshal(rec, &f); err != nil {
		c.logger.Warn("dropping undecodable hub record", zap.Error(err))
		return nil
	}
	switch f.Type {
	case invocationFrame:
		if f.InvocationID == "" {
			c.dispatch(f.Target, f.Arguments)
		}
	case completionFrame:
		c.resolve(f)
	case pingFrame, streamItemFrame:
	case closeFrame:
		return &serverClosed{message: f.Error, allowReconnect: f.AllowReconnect}
	}
	return nil
}

func (c *Client) dispatch(target string, args []json.RawMessage) {
	c.handlersMu.RLock()
	handlers := c.handlers[strings.ToLower(target)]
	c.handlersMu.RUnlock()
	if len(handlers) == 0 {
		c.logger.Debug("no handler for hub event", zap.String("target", target))
		return
	}
	for _, h := range handlers {
		c.safeCall(target, func() { h(args) })
	}
}

func (c *Client) safeCall(target string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("hub handler panicked", zap.String("target", target), zap.Any("panic", r))
		}
	}()
	fn()
}

func (c *Client) resolve(f frame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[f.InvocationID]
	delete(c.pending, f.InvocationID)
	c.pendingMu.Unlock()
	if ok {
		ch <- f
	}
}

func (c *Client) forget(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.KeepAlive)
	defer ticker.Stop()
	ping, _ := encodeRecord(frame{Type: pingFrame})

	for {
		select {
		case <-ticker.C:
			if err := conn.Write(ctx, websocket.MessageText, ping); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// connectionLost tears down the state of conn after its read loop ended and
// starts reconnecting unless the client was stopped.
func (c *Client) connectionLost(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	cancel := c.cancel
	c.cancel = nil
	stopped := c.stopped
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.failPending()
	if stopped {
		return
	}

	allowReconnect := true
	if sc, ok := cause.(*serverClosed); ok {
		allowReconnect = sc.allowReconnect
	}
	c.logger.Warn("hub connection lost", zap.Error(cause), zap.Bool("reconnect", c.opts.AutoReconnect && allowReconnect))
	if !c.opts.AutoReconnect || !allowReconnect {
		c.emitClose(cause)
		return
	}
	c.reconnect(cause)
}

func (c *Client) reconnect(cause error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.reconnectCancel = cancel
	c.mu.Unlock()

	c.emitReconnecting(cause)

	b := retry.NewExponential(c.opts.ReconnectBaseDelay)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(c.opts.ReconnectMaxDelay, b)
	b = retry.WithMaxRetries(c.opts.MaxReconnectAttempts, b)

	attempt := 0
	var conn *websocket.Conn
	var extra [][]byte
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		cn, ex, err := c.dial(ctx)
		if err != nil {
			c.logger.Info("hub reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return retry.RetryableError(err)
		}
		conn, extra = cn, ex
		return nil
	})

	c.mu.Lock()
	stopped := c.stopped
	c.reconnectCancel = nil
	c.mu.Unlock()
	if stopped {
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "client stop")
		}
		return
	}
	if err != nil {
		c.logger.Error("hub reconnect gave up", zap.Int("attempts", attempt), zap.Error(err))
		c.emitClose(err)
		return
	}
	if !c.attach(conn, extra) {
		return
	}
	c.emitReconnected()
}

func (c *Client) emitReconnecting(err error) {
	c.handlersMu.RLock()
	fns := append([]func(error){}, c.onReconnecting...)
	c.handlersMu.RUnlock()
	for _, fn := range fns {
		c.safeCall("reconnecting", func() { fn(err) })
	}
}

func (c *Client) emitReconnected() {
	c.handlersMu.RLock()
	fns := append([]func(){}, c.onReconnected...)
	c.handlersMu.RUnlock()
	for _, fn := range fns {
		c.safeCall("reconnected", fn)
	}
}

func (c *Client) emitClose(err error) {
	c.handlersMu.RLock()
	fns := append([]func(error){}, c.onClose...)
	c.handlersMu.RUnlock()
	for _, fn := range fns {
		c.safeCall("close", func() { fn(err) })
	}
}
