// Package httpapi is the polling transport: plain request/response calls
// against the messaging HTTP API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/matheus3301/dmsync/internal/bus"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/matheus3301/dmsync/internal/transport"
	"go.uber.org/zap"
)

type apiErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client talks to the messaging HTTP API.
type Client struct {
	baseURL    string
	cookie     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger

	events *bus.Bus
	// 0 unknown, 1 reachable, 2 unreachable
	reach atomic.Int32
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout overrides transport.DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithSessionCookie sends the given Cookie header on every request.
func WithSessionCookie(cookie string) Option {
	return func(c *Client) { c.cookie = cookie }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New constructs a client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:    normalized,
		timeout:    transport.DefaultTimeout,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
		events:     bus.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NormalizeBaseURL trims the URL and ensures it has a scheme.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("base url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("base url must include scheme and host (https://...)")
	}
	return strings.TrimRight(value, "/"), nil
}

// BaseURL returns the normalized server address.
func (c *Client) BaseURL() string { return c.baseURL }

type sendRequest struct {
	Content         string `json:"content"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

// Send posts a message to recipient.
func (c *Client) Send(ctx context.Context, recipient, content, clientMessageID string) (model.Message, error) {
	var resp transport.WireMessage
	path := "/messages/api/messages/" + url.PathEscape(recipient)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, sendRequest{content, clientMessageID}, &resp); err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	m := resp.Model()
	if m.ClientMessageID == "" {
		m.ClientMessageID = clientMessageID
	}
	return m, nil
}

// FetchSince returns the conversation records newer than sinceID.
func (c *Client) FetchSince(ctx context.Context, recipient string, sinceID model.MessageID) ([]model.Message, error) {
	var query url.Values
	if sinceID.IsServer() {
		query = url.Values{}
		query.Set("since_id", sinceID.String())
	}
	var resp []transport.WireMessage
	path := "/messages/api/messages/" + url.PathEscape(recipient)
	if err := c.doJSON(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	out := make([]model.Message, 0, len(resp))
	for _, w := range resp {
		out = append(out, w.Model())
	}
	return out, nil
}

type statusRequest struct {
	Status model.DeliveryStatus `json:"status"`
}

// SetStatus reports a delivered or read receipt.
func (c *Client) SetStatus(ctx context.Context, messageID model.MessageID, status model.DeliveryStatus) (model.Message, error) {
	if !messageID.IsServer() {
		return model.Message{}, fmt.Errorf("set status: %q is not a server id", messageID)
	}
	var resp transport.WireMessage
	path := "/messages/api/messages/" + url.PathEscape(messageID.String()) + "/status"
	if err := c.doJSON(ctx, http.MethodPut, path, nil, statusRequest{status}, &resp); err != nil {
		return model.Message{}, fmt.Errorf("set status %s: %w", status, err)
	}
	m := resp.Model()
	if m.ID == "" {
		m.ID = messageID
	}
	return m, nil
}

type userPayload struct {
	UserID   transport.ID `json:"user_id"`
	Username string       `json:"username"`
}

// LookupUserID resolves a username to its numeric id.
func (c *Client) LookupUserID(ctx context.Context, username string) (string, error) {
	query := url.Values{}
	query.Set("username", username)
	var resp userPayload
	if err := c.doJSON(ctx, http.MethodGet, "/api/users/get_id", query, nil, &resp); err != nil {
		return "", fmt.Errorf("lookup user id: %w", err)
	}
	return string(resp.UserID), nil
}

// LookupUsername resolves a user id to its username.
func (c *Client) LookupUsername(ctx context.Context, userID string) (string, error) {
	query := url.Values{}
	query.Set("user_id", userID)
	var resp userPayload
	if err := c.doJSON(ctx, http.MethodGet, "/api/users/get_username", query, nil, &resp); err != nil {
		return "", fmt.Errorf("lookup username: %w", err)
	}
	return resp.Username, nil
}

// Subscribe streams connectivity changes observed by requests. The polling
// transport has no server-pushed events.
func (c *Client) Subscribe(buf int) (<-chan bus.Event, func()) {
	return c.events.Subscribe("transport.", buf)
}

// Close is a no-op; idle connections are owned by the http.Client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, reqBody any, respBody any) error {
	endpoint, err := c.buildURL(path, query)
	if err != nil {
		return err
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classify(ctx, reqCtx, err)
	}
	defer resp.Body.Close()
	c.markReachable(true)

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.classify(ctx, reqCtx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &transport.APIError{Status: resp.StatusCode}
		var payload apiErrorPayload
		if err := json.Unmarshal(respData, &payload); err == nil && (payload.Error != "" || payload.Message != "") {
			apiErr.Message = payload.Error
			if apiErr.Message == "" {
				apiErr.Message = payload.Message
			}
		} else {
			apiErr.Message = strings.TrimSpace(string(respData))
		}
		return apiErr
	}

	if respBody == nil || len(respData) == 0 {
		return nil
	}
	return json.Unmarshal(respData, respBody)
}

// classify maps a failed round trip onto the transport error taxonomy.
func (c *Client) classify(parent, reqCtx context.Context, err error) error {
	switch {
	case parent.Err() != nil:
		return parent.Err()
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s", transport.ErrTimeout, c.timeout)
	default:
		c.markReachable(false)
		return fmt.Errorf("%w: %v", transport.ErrOffline, err)
	}
}

func (c *Client) markReachable(ok bool) {
	next := int32(2)
	kind := bus.KindDisconnected
	if ok {
		next = 1
		kind = bus.KindConnected
	}
	if prev := c.reach.Swap(next); prev != next && prev != 0 {
		c.logger.Info("server reachability changed", zap.Bool("reachable", ok))
		c.events.Emit(kind, nil)
	}
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}

var _ transport.Transport = (*Client)(nil)
