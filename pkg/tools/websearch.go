package tools

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

	"github.com/aretw0/recall/pkg/registry"
)

const (
	WebSearchName = "web_search"

	// DefaultTavilyEndpoint is the Tavily search API.
	DefaultTavilyEndpoint = "https://api.tavily.com/search"
)

// ErrWebSearchDisabled is returned when no API key is configured.
var ErrWebSearchDisabled = errors.New("web search is not configured")

// WebSearch queries the Tavily search API.
type WebSearch struct {
	apiKey     string
	endpoint   string
	maxResults int
	httpClient *http.Client
}

// WebSearchOption configures WebSearch.
type WebSearchOption func(*WebSearch)

// WithEndpoint overrides the search endpoint.
func WithEndpoint(url string) WebSearchOption {
	return func(w *WebSearch) { w.endpoint = url }
}

// WithMaxResults sets how many results are returned. Defaults to 1.
func WithMaxResults(n int) WebSearchOption {
	return func(w *WebSearch) {
		if n > 0 {
			w.maxResults = n
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) WebSearchOption {
	return func(w *WebSearch) {
		if c != nil {
			w.httpClient = c
		}
	}
}

// NewWebSearch creates a Tavily client.
func NewWebSearch(apiKey string, opts ...WebSearchOption) *WebSearch {
	w := &WebSearch{
		apiKey:     apiKey,
		endpoint:   DefaultTavilyEndpoint,
		maxResults: 1,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type webSearchInput struct {
	Query string `json:"query" jsonschema_description:"The search query"`
}

// SearchResult is one web result.
type SearchResult struct {
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Tool exposes the client as the web_search tool. The result is a JSON array of results.
func (w *WebSearch) Tool() registry.Tool {
	return registry.NewFunc(WebSearchName,
		"Search the web for current events and facts that are not in memory.",
		func(ctx context.Context, in webSearchInput) (string, error) {
			results, err := w.Search(ctx, in.Query)
			if err != nil {
				return "", err
			}
			data, err := json.Marshal(results)
			if err != nil {
				return "", err
			}
			return string(data), nil
		})
}

// Search runs query against Tavily.
func (w *WebSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	if w.apiKey == "" {
		return nil, ErrWebSearchDisabled
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}

	body, err := json.Marshal(map[string]any{
		"api_key":     w.apiKey,
		"query":       query,
		"max_results": w.maxResults,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily search error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tavily API %d: %s", resp.StatusCode, string(msg))
	}

	var data struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("tavily parse error: %w", err)
	}

	results := make([]SearchResult, 0, len(data.Results))
	for _, r := range data.Results {
		results = append(results, SearchResult{URL: r.URL, Content: r.Content})
	}
	if len(results) > w.maxResults {
		results = results[:w.maxResults]
	}
	return results, nil
}
