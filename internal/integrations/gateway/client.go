// Package gateway talks to the chat messaging gateway: outbound texts,
// typing indicators and staff notifications.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TokenSource yields the gateway bearer token. *paramstore.TokenSource
// satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type textRequest struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

type typingRequest struct {
	ChatID string `json:"chatId"`
	State  string `json:"state"`
}

// HTTPStatusError captures non-2xx gateway responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("gateway: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client sends messages through the gateway's REST API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokens      TokenSource
	staffChatID string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithStaffChat sets the chat that receives escalations and completed orders.
func WithStaffChat(chatID string) Option {
	return func(c *Client) {
		c.staffChatID = strings.TrimSpace(chatID)
	}
}

// NewClient creates a gateway client. The token is resolved lazily on the
// first request.
func NewClient(tokens TokenSource, baseURL string, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("gateway: token source must not be nil")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gateway: base URL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// SendText delivers a text message to chatID.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	if strings.TrimSpace(chatID) == "" {
		return errors.New("gateway: chat id must not be empty")
	}
	if err := c.post(ctx, "/messages", textRequest{ChatID: chatID, Text: text}); err != nil {
		return fmt.Errorf("gateway: send text: %w", err)
	}
	return nil
}

// SendTyping shows the typing indicator in chatID.
func (c *Client) SendTyping(ctx context.Context, chatID string) error {
	if err := c.post(ctx, "/typing", typingRequest{ChatID: chatID, State: "composing"}); err != nil {
		return fmt.Errorf("gateway: send typing: %w", err)
	}
	return nil
}

// NotifyStaff sends a one-shot message to the staff chat.
func (c *Client) NotifyStaff(ctx context.Context, text string) error {
	if c.staffChatID == "" {
		return errors.New("gateway: staff chat not configured")
	}
	return c.SendText(ctx, c.staffChatID, text)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}
