package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/nestor/pkg/config"
	"github.com/kadirpekel/nestor/pkg/httpclient"
)

const (
	braveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"

	// Brave caps count at 20; SearXNG pages are around that size too.
	maxSearchResults = 20
)

// SearchResult is one hit from a web search backend.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchTool searches the web through either the Brave Search API
// or a self-hosted SearXNG instance.
type WebSearchTool struct {
	cfg  config.WebSearchConfig
	http *httpclient.Client
}

func NewWebSearchTool(cfg config.WebSearchConfig) (*WebSearchTool, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Engine == "brave" && cfg.APIKey == "" {
		return nil, fmt.Errorf("web search engine brave requires an api_key")
	}

	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(2),
	}
	if cfg.InsecureSkipVerify || cfg.CACertificate != "" {
		opts = append(opts, httpclient.WithTLSConfig(&httpclient.TLSConfig{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			CACertificate:      cfg.CACertificate,
		}))
	}

	return &WebSearchTool{cfg: cfg, http: httpclient.New(opts...)}, nil
}

func (t *WebSearchTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "web_search",
		Description: "Search the web for current information. Returns result titles, URLs and snippets.",
		Parameters: []ToolParameter{
			{Name: "query", Type: "string", Description: "The search query", Required: true},
			{Name: "max_results", Type: "integer", Description: "Maximum number of results to return"},
		},
	}
}

func (t *WebSearchTool) GetName() string { return "web_search" }

func (t *WebSearchTool) GetDescription() string { return t.GetInfo().Description }

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()

	query := stringArg(args, "query")
	if query == "" {
		err := fmt.Errorf("query parameter is required")
		return errorResult(t.GetName(), err.Error(), start), err
	}

	limit := t.cfg.MaxResults
	if n := intArg(args, "max_results"); n > 0 {
		limit = n
	}
	if limit > maxSearchResults {
		limit = maxSearchResults
	}

	var (
		results []SearchResult
		err     error
	)
	switch t.cfg.Engine {
	case "searxng":
		results, err = t.searchSearxng(ctx, query, limit)
	default:
		results, err = t.searchBrave(ctx, query, limit)
	}
	if err != nil {
		return errorResult(t.GetName(), err.Error(), start), err
	}

	return successResult(t.GetName(), renderResults(query, results), start), nil
}

func (t *WebSearchTool) searchBrave(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	endpoint := braveSearchEndpoint
	if t.cfg.BaseURL != "" {
		endpoint = t.cfg.BaseURL
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	headers := map[string]string{"X-Subscription-Token": t.cfg.APIKey}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := doJSON(ctx, t.http, http.MethodGet, u.String(), headers, nil, &parsed); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(parsed.Web.Results))
	for _, r := range parsed.Web.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return clipResults(results, limit), nil
}

func (t *WebSearchTool) searchSearxng(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	u, err := url.Parse(strings.TrimSuffix(t.cfg.BaseURL, "/") + "/search")
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("format", "json")
	u.RawQuery = q.Encode()

	var parsed struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := doJSON(ctx, t.http, http.MethodGet, u.String(), nil, nil, &parsed); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return clipResults(results, limit), nil
}

func clipResults(results []SearchResult, limit int) []SearchResult {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}

func renderResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}
