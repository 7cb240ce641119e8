package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/mnema-ai/mnema/internal/breaker"
)

// Client calls an OpenAI-compatible /v1/embeddings endpoint. All calls are
// wrapped with circuit breaker protection and a per-call timeout so a
// degraded embedding backend can never stall the search path.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	dimension int
	client    *http.Client
	breaker   *breaker.Breaker
	limiter   *rate.Limiter
	timeout   time.Duration
}

// ClientConfig holds embedding client configuration.
type ClientConfig struct {
	// BaseURL of the embedding API (default: http://localhost:11434/v1).
	BaseURL string

	// APIKey is sent as a bearer token when non-empty.
	APIKey string

	// Model is the embedding model name (default: text-embedding-3-small).
	Model string

	// Dimension is the model's declared vector length (default: 1536).
	Dimension int

	// Timeout bounds each embedding call (default: 10s).
	Timeout time.Duration

	// RequestsPerSecond rate-limits outbound calls (default: 20).
	RequestsPerSecond float64
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewClient creates an embedding client with defaults applied.
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434/v1"
	}
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.Dimension == 0 {
		config.Dimension = 1536
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 20
	}

	return &Client{
		baseURL:   config.BaseURL,
		apiKey:    config.APIKey,
		model:     config.Model,
		dimension: config.Dimension,
		client:    &http.Client{Timeout: config.Timeout},
		breaker:   breaker.New(breaker.Config{Name: "embedding-service"}),
		limiter:   rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		timeout:   config.Timeout,
	}
}

var _ Service = (*Client)(nil)

// Embed generates the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("embedding: text cannot be empty")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(ctx, func() (any, error) {
		return c.embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, breaker.ErrCircuitOpen) {
			return nil, fmt.Errorf("embedding circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.([]float32), nil
}

func (c *Client) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var respData embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(respData.Data) == 0 || len(respData.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned empty vector")
	}

	vector := respData.Data[0].Embedding
	if len(vector) != c.dimension {
		return nil, fmt.Errorf("embedding service returned %d dimensions, model %s declares %d",
			len(vector), c.model, c.dimension)
	}
	return vector, nil
}

// ModelInfo reports the configured model identity.
func (c *Client) ModelInfo() ModelInfo {
	return ModelInfo{Name: c.model, Dimension: c.dimension}
}

// TestConnection verifies the endpoint is reachable by listing models.
// It intentionally bypasses the circuit breaker: a connectivity self-test
// must not be rejected by past failures.
func (c *Client) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create connection test request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("connection test returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
