// Package search wraps the Brave Search API used for online retrieval.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"quarry/internal/logging"
	"quarry/internal/types"
)

// SearchURL is the Brave web search endpoint.
const SearchURL = "https://api.search.brave.com/res/v1/web/search"

// BraveClient queries the Brave Search API.
type BraveClient struct {
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *http.Client
}

// NewBraveClient creates a client. An empty API key yields a client
// whose searches return no results; online mode degrades gracefully.
func NewBraveClient(apiKey string, maxResults int, timeout time.Duration) *BraveClient {
	if maxResults <= 0 {
		maxResults = 3
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BraveClient{
		apiKey:     apiKey,
		baseURL:    SearchURL,
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// IsConfigured reports whether an API key is present.
func (c *BraveClient) IsConfigured() bool {
	return c.apiKey != ""
}

type braveResponse struct {
	Web struct {
		Results []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search performs a web search. count <= 0 uses the configured default.
func (c *BraveClient) Search(ctx context.Context, query string, count int) ([]types.SearchResult, error) {
	if !c.IsConfigured() {
		return nil, nil
	}
	if count <= 0 {
		count = c.maxResults
	}

	resp, err := c.get(ctx, query, count)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("brave search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode brave response: %w", err)
	}

	results := make([]types.SearchResult, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, types.SearchResult{URL: r.URL, Title: r.Title, Description: r.Description})
	}
	logging.Web("brave search %q returned %d result(s)", query, len(results))
	return results, nil
}

// Snippet joins title and description for use as fallback content when
// a page cannot be scraped.
func Snippet(r types.SearchResult) string {
	parts := make([]string, 0, 2)
	if t := strings.TrimSpace(r.Title); t != "" {
		parts = append(parts, t)
	}
	if d := strings.TrimSpace(r.Description); d != "" {
		parts = append(parts, d)
	}
	return strings.Join(parts, "\n")
}

// HealthStatus is the outcome of a connectivity probe.
type HealthStatus struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
}

// CheckHealth probes the search endpoint with a one-result query.
func (c *BraveClient) CheckHealth(ctx context.Context) HealthStatus {
	if !c.IsConfigured() {
		return HealthStatus{OK: false, Message: "Brave API key not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := c.get(ctx, "test", 1)
	if err != nil {
		return HealthStatus{OK: false, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return HealthStatus{OK: true, Message: "Brave Search is reachable", LatencyMS: time.Since(start).Milliseconds()}
	case http.StatusUnauthorized:
		return HealthStatus{OK: false, Message: "Brave API key is invalid"}
	default:
		return HealthStatus{OK: false, Message: fmt.Sprintf("Brave Search returned status %d", resp.StatusCode)}
	}
}

func (c *BraveClient) get(ctx context.Context, query string, count int) (*http.Response, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("count", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search request failed: %w", err)
	}
	return resp, nil
}
