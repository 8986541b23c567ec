package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"angelone_tickstream/angel"
	"angelone_tickstream/metrics"
	"angelone_tickstream/models"
	"angelone_tickstream/subscription"
)

const (
	DefaultURL        = "wss://smartapisocket.angelone.in/smart-stream"
	HeartbeatInterval = 10 * time.Second
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosing:
		return "CLOSING"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var (
	ErrNotConnected     = errors.New("websocket is not connected")
	ErrAlreadyConnected = errors.New("websocket is already connected")
)

// ConfigurationError is returned by Connect when credentials are incomplete.
// No network attempt is made.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return "missing required credentials: " + strings.Join(e.Missing, ", ")
}

// TransportError is a send or receive failure that closed the connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return "websocket " + e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// Credentials are the four headers the feed requires on the handshake.
type Credentials struct {
	AuthToken  string
	APIKey     string
	ClientCode string
	FeedToken  string
}

func (c Credentials) Validate() error {
	var missing []string
	for _, h := range []struct{ name, value string }{
		{"Authorization", c.AuthToken},
		{"x-api-key", c.APIKey},
		{"x-client-code", c.ClientCode},
		{"x-feed-token", c.FeedToken},
	} {
		if strings.TrimSpace(h.value) == "" {
			missing = append(missing, h.name)
		}
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}
	return nil
}

func (c Credentials) header() http.Header {
	auth := c.AuthToken
	if !strings.HasPrefix(auth, "Bearer ") {
		auth = "Bearer " + auth
	}
	h := http.Header{}
	h.Set("Authorization", auth)
	h.Set("x-api-key", c.APIKey)
	h.Set("x-client-code", c.ClientCode)
	h.Set("x-feed-token", c.FeedToken)
	return h
}

// FrameHandler receives every inbound data message, one at a time, on the
// connection's read goroutine. Close waits for a running HandleFrame to
// return, so HandleFrame must not call back into the Client.
type FrameHandler interface {
	HandleFrame(payload []byte, binary bool)
}

type Options struct {
	URL           string
	Name          string
	CorrelationID string

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	// ReadTimeout closes the connection when nothing, not even a heartbeat
	// reply, arrives for this long. Zero disables it.
	ReadTimeout time.Duration

	// OnConnected runs after every successful Connect, once subscriptions
	// have been replayed.
	OnConnected func()
}

func (o *Options) ApplyDefaults() {
	if o.URL == "" {
		o.URL = DefaultURL
	}
	if o.Name == "" {
		o.Name = "smartapi"
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = HeartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 5 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
}

func (o *Options) Validate() error {
	if !strings.HasPrefix(o.URL, "ws://") && !strings.HasPrefix(o.URL, "wss://") {
		return fmt.Errorf("ws: invalid URL %q", o.URL)
	}
	if o.CorrelationID == "" {
		return fmt.Errorf("ws: correlation id is required")
	}
	return nil
}

type session struct {
	conn *websocket.Conn
	done chan struct{}
	// dispatchMu is held while a frame is handed to the handler. done is
	// only closed with it held.
	dispatchMu sync.Mutex
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Client owns one feed connection and drives its subscription registry.
// Reconnection is left to the caller (see RunWithReconnect); every successful
// Connect replays the registry.
type Client struct {
	opts     Options
	creds    Credentials
	registry *subscription.Registry
	handler  FrameHandler
	log      *zap.SugaredLogger

	// ctrlMu orders registry changes against the resubscribe snapshot.
	// Lock order: ctrlMu, session dispatchMu, mu. writeMu is taken alone.
	ctrlMu sync.Mutex
	// mu guards sess, lastReason and state transitions.
	mu         sync.Mutex
	writeMu    sync.Mutex
	state      atomic.Int32
	sess       *session
	lastReason string
	errs       chan error
}

func NewClient(opts Options, creds Credentials, registry *subscription.Registry, handler FrameHandler, log *zap.SugaredLogger) (*Client, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		opts:     opts,
		creds:    creds,
		registry: registry,
		handler:  handler,
		log:      log.Named("ws").With("client", opts.Name),
		errs:     make(chan error, 16),
	}
	metrics.SetConnectionState(opts.Name, int(StateDisconnected))
	return c, nil
}

func (c *Client) State() State { return State(c.state.Load()) }

// setState must be called with c.mu held.
func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	metrics.SetConnectionState(c.opts.Name, int(s))
}

// Errors delivers connection-fatal errors. It is buffered; errors are
// dropped if nobody reads it.
func (c *Client) Errors() <-chan error { return c.errs }

// Done is closed when the current connection ends. With no live connection
// it returns an already closed channel.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.sess.done
}

// CloseReason is why the last connection was closed.
func (c *Client) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReason
}

func (c *Client) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || c.State() != StateConnected {
		return nil
	}
	return c.sess
}

// Connect dials the feed, replays every registered subscription and starts
// the read and heartbeat goroutines. It returns once the connection is live.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.creds.Validate(); err != nil {
		metrics.IncConnect("config_error")
		return err
	}

	c.mu.Lock()
	if c.State() != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.setState(StateConnecting)
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(dialCtx, c.opts.URL, c.creds.header())
	if err != nil {
		c.mu.Lock()
		c.setState(StateDisconnected)
		c.mu.Unlock()
		metrics.IncConnect("failure")
		if resp != nil {
			err = fmt.Errorf("%w (http status %d)", err, resp.StatusCode)
		}
		return &TransportError{Op: "dial", Err: err}
	}
	metrics.IncConnect("success")

	sess := &session{conn: conn, done: make(chan struct{})}
	if c.opts.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	}

	c.ctrlMu.Lock()
	c.mu.Lock()
	c.sess = sess
	c.lastReason = ""
	c.setState(StateConnected)
	c.mu.Unlock()
	c.log.Infow("Connected", "url", c.opts.URL)

	err = c.resubscribe(sess)
	c.ctrlMu.Unlock()
	if err != nil {
		return err
	}

	go c.readLoop(sess)
	go c.heartbeat(sess)

	if c.opts.OnConnected != nil {
		c.opts.OnConnected()
	}
	return nil
}

// resubscribe must be called with c.ctrlMu held.
func (c *Client) resubscribe(sess *session) error {
	groups := c.registry.SnapshotForResubscribe()
	tokens := 0
	for _, g := range groups {
		if err := c.send(sess, angel.NewSubscribeRequest(c.opts.CorrelationID, g)); err != nil {
			return err
		}
		tokens += len(g.Tokens)
	}
	if len(groups) > 0 {
		c.log.Infow("Resubscribed", "groups", len(groups), "tokens", tokens)
	}
	return nil
}

// Close ends the current connection. It waits for a frame already being
// handled; no frame is delivered after it returns.
func (c *Client) Close(reason string) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	if c.closeSession(sess, reason) {
		c.log.Infow("Connection closed", "reason", reason)
	}
	return nil
}

func (c *Client) closeSession(sess *session, reason string) bool {
	sess.dispatchMu.Lock()
	defer sess.dispatchMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess || sess.closed() {
		return false
	}
	c.setState(StateClosing)
	close(sess.done)
	c.lastReason = reason

	msg := reason
	if len(msg) > 120 {
		msg = msg[:120]
	}
	_ = sess.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, msg),
		time.Now().Add(time.Second))
	_ = sess.conn.Close()

	c.sess = nil
	c.setState(StateDisconnected)
	return true
}

func (c *Client) fail(sess *session, err error) {
	if !c.closeSession(sess, err.Error()) {
		return
	}
	c.log.Errorw("Connection failed", "error", err)
	select {
	case c.errs <- err:
	default:
		c.log.Warnw("Error channel full, dropping error", "error", err)
	}
}

func (c *Client) send(sess *session, v interface{}) error {
	c.writeMu.Lock()
	if sess.closed() {
		c.writeMu.Unlock()
		return ErrNotConnected
	}
	_ = sess.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	err := sess.conn.WriteJSON(v)
	c.writeMu.Unlock()

	if err != nil {
		terr := &TransportError{Op: "send", Err: err}
		c.fail(sess, terr)
		return terr
	}
	return nil
}

func (c *Client) readLoop(sess *session) {
	for {
		msgType, data, err := sess.conn.ReadMessage()
		if sess.closed() {
			return
		}
		if err != nil {
			c.fail(sess, &TransportError{Op: "receive", Err: err})
			return
		}
		if c.opts.ReadTimeout > 0 {
			_ = sess.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		}

		if !c.dispatch(sess, msgType, data) {
			return
		}
	}
}

// dispatch hands one message to the handler unless the session was closed
// after it was read.
func (c *Client) dispatch(sess *session, msgType int, data []byte) bool {
	sess.dispatchMu.Lock()
	defer sess.dispatchMu.Unlock()
	if sess.closed() {
		return false
	}
	switch msgType {
	case websocket.BinaryMessage:
		c.handler.HandleFrame(data, true)
	case websocket.TextMessage:
		c.handler.HandleFrame(data, false)
	}
	return true
}

func (c *Client) heartbeat(sess *session) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			_ = sess.conn.SetWriteDeadline(time.Now().Add(c.opts.HeartbeatTimeout))
			err := sess.conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			c.writeMu.Unlock()
			if err != nil {
				c.fail(sess, &TransportError{Op: "heartbeat", Err: err})
				return
			}
		}
	}
}

// Subscribe records tokens in the registry and, when connected, sends one
// subscribe request for the accepted ones. While not connected the tokens
// stay registered, ErrNotConnected is returned and the next Connect sends them.
func (c *Client) Subscribe(exchange models.ExchangeType, mode models.SubscriptionMode, tokens []string) (subscription.AddResult, error) {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()

	res, err := c.registry.Add(exchange, mode, tokens)
	if err != nil {
		return res, err
	}
	metrics.SetActiveSubscriptions(c.opts.Name, c.registry.Len())
	if len(res.Rejected) > 0 {
		c.log.Warnw("Tokens rejected for subscription", "tokens", res.Rejected, "exchange", exchange.String())
	}
	if len(res.Accepted.Tokens) == 0 {
		return res, nil
	}

	sess := c.current()
	if sess == nil {
		return res, ErrNotConnected
	}
	if err := c.send(sess, angel.NewSubscribeRequest(c.opts.CorrelationID, res.Accepted)); err != nil {
		return res, err
	}
	c.log.Debugw("Subscribed", "tokens", res.Accepted.Tokens, "mode", mode.String())
	return res, nil
}

// Unsubscribe removes tokens from the registry and, when connected, sends an
// unsubscribe request per exchange and mode. Tokens that were not subscribed
// are reported in the result's Unknown list.
func (c *Client) Unsubscribe(tokens []string) (subscription.RemoveResult, error) {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()

	res, err := c.registry.Remove(tokens)
	if err != nil {
		return res, err
	}
	metrics.SetActiveSubscriptions(c.opts.Name, c.registry.Len())
	if len(res.Unknown) > 0 {
		c.log.Warnw("Tokens not subscribed", "tokens", res.Unknown)
	}
	if len(res.Removed) == 0 {
		return res, nil
	}

	sess := c.current()
	if sess == nil {
		return res, ErrNotConnected
	}
	for _, g := range res.Removed {
		if err := c.send(sess, angel.NewUnsubscribeRequest(c.opts.CorrelationID, g)); err != nil {
			return res, err
		}
	}
	return res, nil
}
