// Package restapi is the HTTP client for the conversation REST endpoints.
//
// The realtime hub only broadcasts edits and deletes; persistence of both goes
// through this client, as does history paging.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/roach88/hirechat/internal/chat"
	"github.com/roach88/hirechat/internal/telemetry"
)

const (
	messagesPath      = "conversation-messages"
	conversationsPath = "conversations"

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 4 << 10
)

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records request outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client talks to the REST API with a bearer token.
type Client struct {
	base    *url.URL
	token   string
	http    *http.Client
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// New creates a client for baseURL. A trailing slash on baseURL is optional.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q: scheme and host required", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	c := &Client{
		base:  u,
		token: token,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchPage returns one page of a conversation's history, oldest first.
// Pages are 1-indexed and an empty page means history is exhausted.
func (c *Client) FetchPage(ctx context.Context, conversationID int64, page, size int) ([]chat.ChatMessage, error) {
	q := url.Values{}
	q.Set("conversationId", strconv.FormatInt(conversationID, 10))
	q.Set("pageIndex", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(size))

	var wire []chat.WireMessage
	if err := c.do(ctx, http.MethodGet, messagesPath, q, nil, &wire); err != nil {
		return nil, fmt.Errorf("fetch page %d of conversation %d: %w", page, conversationID, err)
	}

	msgs := make([]chat.ChatMessage, 0, len(wire))
	for _, w := range wire {
		m, err := chat.FromWire(w)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d of conversation %d: %w", page, conversationID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

type updateRequest struct {
	MessageID      string `json:"messageId"`
	ConversationID int64  `json:"conversationId"`
	Content        string `json:"content"`
}

// UpdateMessage persists new content for a message.
func (c *Client) UpdateMessage(ctx context.Context, messageID string, conversationID int64, content string) error {
	body := updateRequest{
		MessageID:      messageID,
		ConversationID: conversationID,
		Content:        content,
	}
	if err := c.do(ctx, http.MethodPut, messagesPath, nil, body, nil); err != nil {
		return fmt.Errorf("update message %s: %w", messageID, err)
	}
	return nil
}

// DeleteMessage soft-deletes a message on the server.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	path := messagesPath + "/" + url.PathEscape(messageID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}

// Conversations returns the viewer's conversation list.
func (c *Client) Conversations(ctx context.Context) ([]chat.ConversationSummary, error) {
	var wire []chat.WireConversation
	if err := c.do(ctx, http.MethodGet, conversationsPath, nil, nil, &wire); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]chat.ConversationSummary, 0, len(wire))
	for _, w := range wire {
		out = append(out, chat.SummaryFromWire(w))
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.base.ResolveReference(&url.URL{Path: path})
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RESTRequest(method, 0)
		return err
	}
	defer resp.Body.Close()

	c.metrics.RESTRequest(method, resp.StatusCode)
	c.logger.Debug("rest request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(msg)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
