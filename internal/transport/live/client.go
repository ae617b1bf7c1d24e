// Package live is the push transport: a persistent WebSocket channel
// carrying named events, with acknowledgements for request/reply emits.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/transport"
	"go.uber.org/zap"
)

const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 3 * time.Second
)

// Conn is the subset of *websocket.Conn the client uses.
type Conn interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

// DialFunc opens a channel connection.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// DialWebsocket dials with gorilla's default dialer.
func DialWebsocket(ctx context.Context, url string, header http.Header) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// URLFor derives the channel URL from the HTTP base URL: http becomes ws
// and https becomes wss.
func URLFor(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("base url %q: unsupported scheme %q", baseURL, u.Scheme)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

// Users resolves usernames to the numeric ids the channel addresses.
type Users interface {
	UserID(ctx context.Context, username string) (string, error)
}

// History serves the calls the channel has no event for: catch-up fetches
// and delivery receipts.
type History interface {
	FetchSince(ctx context.Context, recipient string, sinceID model.MessageID) ([]model.Message, error)
	SetStatus(ctx context.Context, messageID model.MessageID, status model.DeliveryStatus) (model.Message, error)
}

// Config holds channel settings.
type Config struct {
	URL               string
	Header            http.Header
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Timeout           time.Duration
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   uint64          `json:"ack,omitempty"`
}

type ackReply struct {
	Success bool                   `json:"success"`
	Message *transport.WireMessage `json:"message"`
	Error   string                 `json:"error"`
}

// Client is a live-channel transport.
type Client struct {
	cfg     Config
	dial    DialFunc
	users   Users
	history History
	logger  *zap.Logger
	events  *bus.Bus

	mu      sync.Mutex
	conn    Conn
	joined  map[string]struct{}
	pending map[uint64]chan json.RawMessage
	nextAck uint64
	started bool

	writeMu sync.Mutex
	kick    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces DialWebsocket.
func WithDialer(d DialFunc) Option {
	return func(c *Client) { c.dial = d }
}

// New creates a client. Call Start to connect.
func New(cfg Config, users Users, history History, logger *zap.Logger, opts ...Option) *Client {
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = DefaultReconnectAttempts
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = transport.DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:     cfg,
		dial:    DialWebsocket,
		users:   users,
		history: history,
		logger:  logger,
		events:  bus.New(),
		joined:  make(map[string]struct{}),
		pending: make(map[uint64]chan json.RawMessage),
		kick:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start connects in the background and keeps the channel up until ctx is
// done or Close is called.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("live client already started")
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Go(func() { c.run(ctx) })
	return nil
}

// Reconnect restarts dialing after the client gave up, e.g. when the
// network comes back.
func (c *Client) Reconnect() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Connected reports whether the channel is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close tears the channel down.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	return nil
}

func (c *Client) run(ctx context.Context) {
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("live channel unavailable, waiting for reconnect",
				zap.Int("attempts", c.cfg.ReconnectAttempts), zap.Error(err))
			select {
			case <-c.kick:
				continue
			case <-ctx.Done():
				return
			}
		}

		c.attach(conn)
		err = c.readLoop(conn)
		c.detach(conn)
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("live channel dropped", zap.Error(err))
	}
}

func (c *Client) connect(ctx context.Context) (Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		conn, err := c.dial(dialCtx, c.cfg.URL, c.cfg.Header)
		cancel()
		if err == nil {
			return conn, nil
		}
		lastErr = err
		c.logger.Warn("live channel dial failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == c.cfg.ReconnectAttempts {
			break
		}
		select {
		case <-time.After(c.cfg.ReconnectDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, lastErr)
}

func (c *Client) attach(conn Conn) {
	c.mu.Lock()
	c.conn = conn
	joined := make([]string, 0, len(c.joined))
	for id := range c.joined {
		joined = append(joined, id)
	}
	c.mu.Unlock()

	for _, id := range joined {
		if err := c.write(conn, "join_conversation", map[string]any{"user_id": wireID(id)}, 0); err != nil {
			c.logger.Warn("rejoin conversation", zap.String("user_id", id), zap.Error(err))
		}
	}
	c.logger.Info("live channel connected", zap.Int("conversations", len(joined)))
	c.events.Emit(bus.KindConnected, nil)
}

func (c *Client) detach(conn Conn) {
	_ = conn.Close()
	c.mu.Lock()
	c.conn = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	c.events.Emit(bus.KindDisconnected, nil)
}

func (c *Client) readLoop(conn Conn) error {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env envelope) {
	switch env.Event {
	case "ack":
		c.mu.Lock()
		ch, ok := c.pending[env.Ack]
		delete(c.pending, env.Ack)
		c.mu.Unlock()
		if ok {
			ch <- env.Data
		}
	case "new_message":
		m, err := transport.DecodeMessage(env.Data)
		if err != nil {
			c.logger.Warn("bad new_message payload", zap.Error(err))
			return
		}
		c.events.Emit(bus.KindNewMessage, m)
	case "message_delivered", "message_read":
		var s transport.StatusWire
		if err := json.Unmarshal(env.Data, &s); err != nil {
			c.logger.Warn("bad receipt payload", zap.String("event", env.Event), zap.Error(err))
			return
		}
		if env.Event == "message_read" {
			c.events.Emit(bus.KindMessageRead, s.Update(model.Read))
		} else {
			c.events.Emit(bus.KindMessageDelivered, s.Update(model.Delivered))
		}
	case "typing_status", "user_status", "conversation_status":
		var p transport.PresenceWire
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.logger.Warn("bad presence payload", zap.String("event", env.Event), zap.Error(err))
			return
		}
		c.events.Emit("transport."+env.Event, p.Presence())
	default:
		c.logger.Debug("ignoring live event", zap.String("event", env.Event))
	}
}

func (c *Client) write(conn Conn, event string, data any, ack uint64) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(envelope{Event: event, Data: raw, Ack: ack})
}

// emit writes an event and, when wantAck is set, waits for the reply.
func (c *Client) emit(ctx context.Context, event string, data any, wantAck bool) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, transport.ErrOffline
	}
	var id uint64
	var reply chan json.RawMessage
	if wantAck {
		c.nextAck++
		id = c.nextAck
		reply = make(chan json.RawMessage, 1)
		c.pending[id] = reply
	}
	c.mu.Unlock()

	if err := c.write(conn, event, data, id); err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("%w: %v", transport.ErrOffline, err)
	}
	if !wantAck {
		return nil, nil
	}

	ackCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	select {
	case raw, ok := <-reply:
		if !ok {
			return nil, transport.ErrOffline
		}
		return raw, nil
	case <-ackCtx.Done():
		c.dropPending(id)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w waiting for %s ack", transport.ErrTimeout, event)
	}
}

func (c *Client) dropPending(id uint64) {
	if id == 0 {
		return
	}
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func decodeAck(event string, raw json.RawMessage) (ackReply, error) {
	var r ackReply
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &r); err != nil {
			return r, fmt.Errorf("decode %s ack: %w", event, err)
		}
	}
	if r.Error != "" {
		return r, &transport.APIError{Status: http.StatusBadRequest, Message: r.Error}
	}
	return r, nil
}

// Send emits send_message and waits for the server's acknowledgement.
func (c *Client) Send(ctx context.Context, recipient, content, clientMessageID string) (model.Message, error) {
	if !c.Connected() {
		return model.Message{}, transport.ErrOffline
	}
	recipientID, err := c.users.UserID(ctx, recipient)
	if err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	raw, err := c.emit(ctx, "send_message", map[string]any{
		"recipient_id":      wireID(recipientID),
		"content":           content,
		"client_message_id": clientMessageID,
	}, true)
	if err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	r, err := decodeAck("send_message", raw)
	if err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	if r.Message == nil {
		return model.Message{}, errors.New("send message: ack carried no message")
	}
	m := r.Message.Model()
	if m.ClientMessageID == "" {
		m.ClientMessageID = clientMessageID
	}
	return m, nil
}

// FetchSince is served over HTTP; the channel only carries new traffic.
func (c *Client) FetchSince(ctx context.Context, recipient string, sinceID model.MessageID) ([]model.Message, error) {
	return c.history.FetchSince(ctx, recipient, sinceID)
}

// SetStatus emits read_message for reads while connected and falls back to
// HTTP otherwise.
func (c *Client) SetStatus(ctx context.Context, messageID model.MessageID, status model.DeliveryStatus) (model.Message, error) {
	if status != model.Read || !c.Connected() {
		return c.history.SetStatus(ctx, messageID, status)
	}
	raw, err := c.emit(ctx, "read_message", map[string]any{"message_id": wireID(messageID.String())}, true)
	if err != nil {
		return model.Message{}, fmt.Errorf("read message: %w", err)
	}
	if _, err := decodeAck("read_message", raw); err != nil {
		return model.Message{}, fmt.Errorf("read message: %w", err)
	}
	return model.Message{ID: messageID, Read: true}, nil
}

// Join subscribes to a conversation. The membership is replayed on every
// reconnect.
func (c *Client) Join(ctx context.Context, username string) error {
	id, err := c.users.UserID(ctx, username)
	if err != nil {
		return fmt.Errorf("join conversation: %w", err)
	}
	c.mu.Lock()
	c.joined[id] = struct{}{}
	c.mu.Unlock()
	if _, err := c.emit(ctx, "join_conversation", map[string]any{"user_id": wireID(id)}, false); err != nil && !errors.Is(err, transport.ErrOffline) {
		return fmt.Errorf("join conversation: %w", err)
	}
	return nil
}

// Leave unsubscribes from a conversation.
func (c *Client) Leave(ctx context.Context, username string) error {
	id, err := c.users.UserID(ctx, username)
	if err != nil {
		return fmt.Errorf("leave conversation: %w", err)
	}
	c.mu.Lock()
	delete(c.joined, id)
	c.mu.Unlock()
	if _, err := c.emit(ctx, "leave_conversation", map[string]any{"user_id": wireID(id)}, false); err != nil && !errors.Is(err, transport.ErrOffline) {
		return fmt.Errorf("leave conversation: %w", err)
	}
	return nil
}

// Typing tells the recipient whether the local user is typing.
func (c *Client) Typing(ctx context.Context, recipient string, typing bool) error {
	id, err := c.users.UserID(ctx, recipient)
	if err != nil {
		return fmt.Errorf("typing: %w", err)
	}
	_, err = c.emit(ctx, "typing", map[string]any{"recipient_id": wireID(id), "typing": typing}, false)
	return err
}

// Subscribe streams inbound channel events.
func (c *Client) Subscribe(buf int) (<-chan bus.Event, func()) {
	return c.events.Subscribe("transport.", buf)
}

// wireID sends numeric ids as JSON numbers.
func wireID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}

var _ transport.Transport = (*Client)(nil)
