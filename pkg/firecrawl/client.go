// Package firecrawl provides a client for the Firecrawl v2 API, used as the
// fallback search path when the primary search backend yields nothing.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-pipeline/internal/resilience"
)

// Client defines the Firecrawl operations used by the pipeline.
type Client interface {
	// Search runs a web search and returns candidate results (URLs and
	// descriptions; content only when scraping is requested server-side).
	Search(ctx context.Context, req SearchRequest) (*SearchResponse, error)
	// Scrape fetches a single URL and returns its markdown content.
	Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error)
}

// SearchRequest is the request body for POST /search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SearchResponse is the response from POST /search.
type SearchResponse struct {
	Success bool         `json:"success"`
	Data    SearchResult `json:"data"`
}

// SearchResult groups web results.
type SearchResult struct {
	Web []WebResult `json:"web,omitempty"`
}

// WebResult is one search hit.
type WebResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// ScrapeRequest is the request body for POST /scrape.
type ScrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats,omitempty"`
}

// ScrapeResponse is the response from POST /scrape.
type ScrapeResponse struct {
	Success bool       `json:"success"`
	Data    ScrapeData `json:"data"`
}

// ScrapeData holds the scraped content.
type ScrapeData struct {
	Markdown string         `json:"markdown"`
	Metadata ScrapeMetadata `json:"metadata"`
}

// ScrapeMetadata holds page metadata from a scrape.
type ScrapeMetadata struct {
	Title      string `json:"title"`
	SourceURL  string `json:"sourceURL"`
	StatusCode int    `json:"statusCode"`
}

// APIError represents a non-2xx response from the Firecrawl API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("firecrawl: status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetryConfig overrides the retry policy for transient failures.
func WithRetryConfig(rc resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = rc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a Firecrawl API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.firecrawl.dev/v2",
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var out SearchResponse
	if err := c.post(ctx, "/search", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) Scrape(ctx context.Context, req ScrapeRequest) (*ScrapeResponse, error) {
	if len(req.Formats) == 0 {
		req.Formats = []string{"markdown"}
	}
	var out ScrapeResponse
	if err := c.post(ctx, "/scrape", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "firecrawl: marshal request")
	}

	// Rebuilt per attempt so a retry never reuses a consumed body. API
	// errors on transient statuses are tagged for the retry policy and
	// still unwrap to *APIError for callers.
	return resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "firecrawl: create request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return eris.Wrap(err, "firecrawl: send request")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return eris.Wrap(err, "firecrawl: read response")
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return resilience.NewTransientError(apiErr, resp.StatusCode)
			}
			return apiErr
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return eris.Wrap(err, "firecrawl: unmarshal response")
		}
		return nil
	})
}
