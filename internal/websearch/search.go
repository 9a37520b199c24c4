// Package websearch supplements the local documentation store with
// live web results. Queries go through a SearXNG instance; result
// pages are fetched and reduced to readable text. The whole package is
// best-effort: callers treat failures as degraded service, never as
// fatal errors.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// ErrDegraded signals that web supplementation failed and the caller
// should proceed with local results only.
var ErrDegraded = errors.New("web search degraded")

// maxResponseSize caps SearXNG response bodies at 10MB.
const maxResponseSize = 10 * 1024 * 1024

// Result is a single web search hit.
type Result struct {
	URL     string
	Title   string
	Snippet string
}

// Config holds web search settings.
type Config struct {
	// BaseURL is the SearXNG instance URL (e.g., http://searxng:8080).
	BaseURL string
	// MaxResults caps how many hits a search returns. Default 5.
	MaxResults int
	// Timeout bounds each HTTP request. Default 30s.
	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Client queries a SearXNG instance over its JSON API.
type Client struct {
	baseURL    string
	maxResults int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a SearXNG search client. The rate limiter allows
// one query per second with small bursts, which keeps a shared SearXNG
// instance usable by other consumers.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("searxng base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid searxng base URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Client{
		baseURL:    cfg.BaseURL,
		maxResults: cfg.MaxResults,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(1), 3),
		logger:     logger,
	}, nil
}

// searxngResponse mirrors the SearXNG JSON API response shape.
type searxngResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search runs a query against SearXNG and returns up to MaxResults
// hits. Results with non-HTTP URLs are dropped.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	searchURL := fmt.Sprintf("%s/search?q=%s&format=json", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}

	var parsed searxngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	results := make([]Result, 0, c.maxResults)
	for _, r := range parsed.Results {
		if len(results) >= c.maxResults {
			break
		}
		u, parseErr := url.Parse(r.URL)
		if parseErr != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		results = append(results, Result{URL: r.URL, Title: r.Title, Snippet: r.Content})
	}

	c.logger.Debug("web search completed", "query", query, "result_count", len(results))
	return results, nil
}
