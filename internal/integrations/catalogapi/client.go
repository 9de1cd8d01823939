// Package catalogapi reads products and store status from the store's
// back office API.
package catalogapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"order-concierge/internal/domain"
)

type productsResponse struct {
	Data []product `json:"data"`
}

// product mirrors one row of GET /api/produtos. Prices arrive as numeric
// strings from the back office database.
type product struct {
	Slug    string          `json:"slug"`
	Name    string          `json:"nome"`
	Price   json.RawMessage `json:"preco"`
	Stock   int             `json:"quantidade_estoque"`
	Tracked *bool           `json:"controla_estoque,omitempty"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"mensagem"`
}

// HTTPStatusError captures non-2xx responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("catalogapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("catalogapi: base URL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchProducts returns every sellable variant with its stock. Products
// without an explicit tracking flag are stock-tracked.
func (c *Client) FetchProducts(ctx context.Context) ([]domain.MenuItem, error) {
	var payload productsResponse
	if err := c.getJSON(ctx, "/api/produtos", &payload); err != nil {
		return nil, fmt.Errorf("catalogapi: fetch products: %w", err)
	}
	items := make([]domain.MenuItem, 0, len(payload.Data))
	for _, p := range payload.Data {
		if p.Slug == "" {
			continue
		}
		price, err := parsePrice(p.Price)
		if err != nil {
			return nil, fmt.Errorf("catalogapi: product %q: %w", p.Slug, err)
		}
		tracked := true
		if p.Tracked != nil {
			tracked = *p.Tracked
		}
		items = append(items, domain.MenuItem{
			Slug:    p.Slug,
			Name:    strings.TrimSpace(p.Name),
			Price:   price,
			Stock:   p.Stock,
			Tracked: tracked,
		})
	}
	return items, nil
}

// FetchStoreStatus returns whether the store is taking orders.
func (c *Client) FetchStoreStatus(ctx context.Context) (domain.StoreStatus, error) {
	var payload statusResponse
	if err := c.getJSON(ctx, "/api/loja/status", &payload); err != nil {
		return domain.StoreStatus{}, fmt.Errorf("catalogapi: fetch store status: %w", err)
	}
	return domain.StoreStatus{Open: payload.Status == "aberto", Message: payload.Message}, nil
}

func parsePrice(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	s := strings.Trim(string(raw), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price %s", raw)
	}
	return v, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := c.httpClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
