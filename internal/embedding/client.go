// Package embedding provides embedding generation services.
package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client provides embedding generation using the OpenRouter API.
type Client struct {
	httpClient *retryablehttp.Client
	baseURL    string
	apiKey     string
	model      string
	dimension  int
}

// Config holds embedding client configuration.
type Config struct {
	APIKey     string
	Model      string // e.g., "google/gemini-embedding-001"
	BaseURL    string // Default: https://openrouter.ai/api/v1
	Dimension  int    // Default: 768
	Timeout    time.Duration
	MaxRetries int
}

// NewClient creates a new embedding client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}

	if cfg.Model == "" {
		cfg.Model = "google/gemini-embedding-001"
	}

	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: timeout}
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = nil

	return &Client{
		httpClient: rc,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
	}, nil
}

// EmbeddingRequest represents a request to generate embeddings.
type EmbeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// EmbeddingResponse represents the API response.
type EmbeddingResponse struct {
	Object string          `json:"object"`
	Data   []EmbeddingData `json:"data"`
	Model  string          `json:"model"`
	Error  *EmbeddingError `json:"error,omitempty"`
}

// EmbeddingData contains the embedding vector.
type EmbeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// EmbeddingError represents an API error.
type EmbeddingError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Embed generates embeddings for the given texts, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	jsonBody, err := json.Marshal(EmbeddingRequest{
		Input:      texts,
		Model:      c.model,
		Dimensions: c.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", jsonBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Title", "Shop Engine")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp EmbeddingResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
			return nil, fmt.Errorf("API error: %s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return nil, fmt.Errorf("API error: status %d", resp.StatusCode)
	}

	var embResp EmbeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index >= 0 && data.Index < len(embeddings) {
			embeddings[data.Index] = data.Embedding
		}
	}
	for i, e := range embeddings {
		if e == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}

	return embeddings, nil
}

// Model returns the model being used.
func (c *Client) Model() string {
	return c.model
}

// Dimension returns the embedding dimension.
func (c *Client) Dimension() int {
	return c.dimension
}

// Embedder defines the interface for embedding providers.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// Ensure implementations satisfy interface.
var (
	_ Embedder = (*Client)(nil)
	_ Embedder = (*MockClient)(nil)
)
