// Package feed implements the HTTP client for the remote message feed.
//
// The remote interface is a paginated, cursor-less query API:
//
//	GET  {base}/messages?after&before&limit
//	POST {base}/messages  {"message": ..., "author": ...}
//
// Both carry a static bearer credential. List responses are accepted in any
// of the common shapes (top-level array, {data: [...]}, {messages: [...]});
// anything else decodes to an empty list rather than an error.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"doodle/cmd/internal/chat"
)

// Config holds the connection parameters for the remote feed.
type Config struct {
	// BaseURL is the API root, e.g. "http://localhost:3000/api/v1".
	BaseURL string
	// Token is the static bearer credential.
	Token string
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
}

// DefaultTimeout is the per-request timeout when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Configured reports whether the connection parameters are present.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.BaseURL) != "" && strings.TrimSpace(c.Token) != ""
}

// Query selects a page of the feed. After/Before are createdAt cursors;
// there is no opaque server-issued pagination token.
type Query struct {
	After  string
	Before string
	Limit  int
}

// Client talks to the remote feed. It is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient constructs a feed client.
// The underlying http.Client may be nil to use a default one.
func NewClient(cfg Config, hc *http.Client) *Client {
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{cfg: cfg, http: hc}
}

// Configured reports whether the client has connection parameters.
func (c *Client) Configured() bool {
	return c.cfg.Configured()
}

// StatusError is returned for non-2xx feed responses.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (%d)", e.Op, e.Status)
}

// ErrNotConfigured is returned when BaseURL or Token is missing.
var ErrNotConfigured = errors.New("feed: base URL and token are not configured")

// List fetches a page of raw messages matching the query.
func (c *Client) List(ctx context.Context, q Query) ([]chat.Raw, error) {
	if !c.cfg.Configured() {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.messagesURL(q), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Op: "failed to load messages", Status: resp.StatusCode}
	}

	var body any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("feed: decode list response: %w", err)
	}
	return extractMessages(body), nil
}

// Post sends a new message and returns the server's record, if any.
// A 2xx response with an empty or non-JSON body yields (nil, nil): the
// caller reconciles via a poll instead.
func (c *Client) Post(ctx context.Context, message, author string) (chat.Raw, error) {
	if !c.cfg.Configured() {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(map[string]string{
		"message": message,
		"author":  author,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL(Query{}), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Op: "failed to send message", Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var record chat.Raw
	if err := json.Unmarshal(raw, &record); err != nil {
		// Unparseable body means "no record returned", not an error.
		return nil, nil
	}
	return record, nil
}

const maxResponseBytes = 1 << 20 // 1MiB

func (c *Client) messagesURL(q Query) string {
	base := strings.TrimRight(strings.TrimSpace(c.cfg.BaseURL), "/")

	params := url.Values{}
	if q.After != "" {
		params.Set("after", q.After)
	}
	if q.Before != "" {
		params.Set("before", q.Before)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	u := base + "/messages"
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// extractMessages pulls the raw message list out of the supported response
// shapes. Unknown shapes yield an empty list.
func extractMessages(body any) []chat.Raw {
	switch v := body.(type) {
	case []any:
		return toRaws(v)
	case map[string]any:
		if data, ok := v["data"].([]any); ok {
			return toRaws(data)
		}
		if msgs, ok := v["messages"].([]any); ok {
			return toRaws(msgs)
		}
	}
	return []chat.Raw{}
}

func toRaws(items []any) []chat.Raw {
	out := make([]chat.Raw, 0, len(items))
	for _, item := range items {
		if raw, ok := item.(map[string]any); ok {
			out = append(out, raw)
			continue
		}
		// Non-object entries still normalize to a placeholder record.
		out = append(out, chat.Raw{})
	}
	return out
}
