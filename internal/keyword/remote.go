package keyword

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/mnema-ai/mnema/internal/breaker"
)

// ContextExtractor is the asynchronous extraction contract: an extractor
// that may block on a remote dependency and therefore takes a context.
type ContextExtractor interface {
	ExtractContext(ctx context.Context, query string) ([]string, error)
}

// RemoteClient calls an NLP-assisted keyword extraction service over HTTP.
// Calls are bounded by a timeout, rate limited, and wrapped with a circuit
// breaker; the client itself never falls back — composing the fallback is
// FallbackExtractor's job.
type RemoteClient struct {
	baseURL string
	client  *http.Client
	breaker *breaker.Breaker
	limiter *rate.Limiter
	timeout time.Duration
}

// RemoteConfig holds remote extraction client configuration.
type RemoteConfig struct {
	// BaseURL of the keyword service; the client POSTs to {BaseURL}/extract.
	BaseURL string

	// Timeout bounds each extraction call (default: 10s).
	Timeout time.Duration

	// RequestsPerSecond rate-limits outbound calls (default: 10).
	RequestsPerSecond float64
}

type extractRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type extractResponse struct {
	Keywords []string `json:"keywords"`
}

// NewRemoteClient creates a remote extraction client.
func NewRemoteClient(config RemoteConfig) *RemoteClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = 10
	}

	return &RemoteClient{
		baseURL: config.BaseURL,
		client:  &http.Client{Timeout: config.Timeout},
		breaker: breaker.New(breaker.Config{Name: "keyword-service"}),
		limiter: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1),
		timeout: config.Timeout,
	}
}

// ExtractContext asks the remote service for keywords. It returns an error on
// timeout, non-success status, open circuit, or malformed response; an empty
// (but well-formed) keyword list is returned as-is and left for the caller to
// judge.
func (c *RemoteClient) ExtractContext(ctx context.Context, query string) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(ctx, func() (any, error) {
		return c.extract(ctx, query)
	})
	if err != nil {
		if errors.Is(err, breaker.ErrCircuitOpen) {
			return nil, fmt.Errorf("keyword service circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.([]string), nil
}

func (c *RemoteClient) extract(ctx context.Context, query string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(extractRequest{Query: query, Limit: MaxKeywords})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("keyword service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var respData extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	keywords := dedupe(respData.Keywords)
	if len(keywords) > MaxKeywords {
		keywords = keywords[:MaxKeywords]
	}
	return keywords, nil
}

// FallbackExtractor composes a remote extractor with the local heuristic.
// On remote timeout, error, or an empty remote result it falls back to the
// local extractor with the same query and logs the degradation. This is a
// two-tier fallback, not a retry: the remote call is never repeated within
// one extraction.
type FallbackExtractor struct {
	remote ContextExtractor // nil means local-only
	local  Extractor
}

// NewFallbackExtractor builds the two-tier extractor. remote may be nil, in
// which case every extraction goes straight to the local heuristic.
func NewFallbackExtractor(remote ContextExtractor, local Extractor) *FallbackExtractor {
	if local == nil {
		local = NewHeuristicExtractor()
	}
	return &FallbackExtractor{remote: remote, local: local}
}

var _ ContextExtractor = (*FallbackExtractor)(nil)

// ExtractContext tries the remote tier once, then the local heuristic.
func (f *FallbackExtractor) ExtractContext(ctx context.Context, query string) ([]string, error) {
	if f.remote != nil {
		keywords, err := f.remote.ExtractContext(ctx, query)
		if err == nil && len(keywords) > 0 {
			return keywords, nil
		}
		if err != nil {
			log.Printf("keyword: remote extraction degraded to local heuristic: %v", err)
		} else {
			log.Printf("keyword: remote extraction returned no keywords, using local heuristic")
		}
	}
	return f.local.Extract(query), nil
}
