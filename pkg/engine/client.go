package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/spherical-ai/spherical/libs/shop-engine/internal/cart"
	"github.com/spherical-ai/spherical/libs/shop-engine/internal/domain"
)

// Client is the Go SDK for a remote shop-engine-api server.
type Client struct {
	httpClient *retryablehttp.Client
	baseURL    string
	apiKey     string
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// NewClient creates a new Shop Engine client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8086"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = nil
	rc.CheckRetry = retryUnavailable

	return &Client{
		httpClient: rc,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}
}

// retryUnavailable retries transport failures and gateway statuses only. A
// 500 may follow a committed cart mutation, so it is not replayed.
func retryUnavailable(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true, nil
	}
	return false, nil
}

// APIError is a non-2xx response that carries no domain error type.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shop engine API error: status %d: %s", e.StatusCode, e.Message)
}

type errorBody struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, out any) error {
	var reqBody any
	if body != nil {
		reqBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		if eb.Type != "" {
			return domain.NewError(domain.ErrorType(eb.Type), eb.Error, nil)
		}
		msg := eb.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	return c.do(ctx, method, path, "application/json", body, out)
}

// Health returns the server's engine health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Recommend ranks catalog products for q. A zero limit uses the server default.
func (c *Client) Recommend(ctx context.Context, q domain.Query, limit int) (*domain.RankedList, error) {
	var list domain.RankedList
	req := struct {
		Query domain.Query `json:"query"`
		Limit int          `json:"limit,omitempty"`
	}{q, limit}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/recommend", req, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// Compare contrasts two catalog products.
func (c *Client) Compare(ctx context.Context, idA, idB string) (*domain.Comparison, error) {
	var cmp domain.Comparison
	req := map[string]string{"product_id_a": idA, "product_id_b": idB}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/compare", req, &cmp); err != nil {
		return nil, err
	}
	return &cmp, nil
}

// Product returns one catalog product.
func (c *Client) Product(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/products/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// IngestCSV uploads a collaborator CSV export as the new catalog.
func (c *Client) IngestCSV(ctx context.Context, source string, r io.Reader) (*domain.IngestReport, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	var report domain.IngestReport
	path := "/api/v1/ingest?source=" + url.QueryEscape(source)
	if err := c.do(ctx, http.MethodPost, path, "text/csv", buf.Bytes(), &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func cartPath(sessionID string, parts ...string) string {
	p := "/api/v1/carts/" + url.PathEscape(sessionID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// CartCreate starts a cart. An empty sessionID gets a generated one.
func (c *Client) CartCreate(ctx context.Context, sessionID string, budget float64) (*cart.Result, error) {
	var res cart.Result
	req := map[string]any{"session_id": sessionID, "budget": budget}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/carts", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CartGet returns a cart and its budget status.
func (c *Client) CartGet(ctx context.Context, sessionID string) (*cart.Result, error) {
	var res cart.Result
	if err := c.doJSON(ctx, http.MethodGet, cartPath(sessionID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CartAdd adds a product and returns the budget impact.
func (c *Client) CartAdd(ctx context.Context, sessionID, productID string, quantity int) (*cart.AddResult, error) {
	var res cart.AddResult
	req := map[string]any{"product_id": productID, "quantity": quantity}
	if err := c.doJSON(ctx, http.MethodPost, cartPath(sessionID, "items"), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CartUpdate sets a line's quantity; zero or less removes it.
func (c *Client) CartUpdate(ctx context.Context, sessionID, productID string, quantity int) (*cart.Result, error) {
	var res cart.Result
	req := map[string]any{"quantity": quantity}
	if err := c.doJSON(ctx, http.MethodPut, cartPath(sessionID, "items", productID), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CartRemove drops a line.
func (c *Client) CartRemove(ctx context.Context, sessionID, productID string) (*cart.Result, error) {
	var res cart.Result
	if err := c.doJSON(ctx, http.MethodDelete, cartPath(sessionID, "items", productID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CartClear empties a cart.
func (c *Client) CartClear(ctx context.Context, sessionID string) (*cart.Result, error) {
	var res cart.Result
	if err := c.doJSON(ctx, http.MethodDelete, cartPath(sessionID, "items"), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CartOptimize returns optimization suggestions for a cart.
func (c *Client) CartOptimize(ctx context.Context, sessionID string) (*domain.OptimizationReport, error) {
	var report domain.OptimizationReport
	if err := c.doJSON(ctx, http.MethodGet, cartPath(sessionID, "optimize"), nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// CartSummary describes a cart's composition.
func (c *Client) CartSummary(ctx context.Context, sessionID string) (*domain.ShoppingSummary, error) {
	var summary domain.ShoppingSummary
	if err := c.doJSON(ctx, http.MethodGet, cartPath(sessionID, "summary"), nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
