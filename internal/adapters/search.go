// internal/adapters/search.go
package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/valpere/ReviewScrapexter/internal/scraper"
)

// threadMarkers identify discussion-thread URLs among search results
var threadMarkers = []string{"/thread/", "/threads/", "/discussion/", "/topic/", "/post/", "/posts/", "/t/"}

type searxResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

// SearxClient discovers forum threads through a SearXNG instance
type SearxClient struct {
	fetcher *scraper.Fetcher
	baseURL string
}

// NewSearxClient returns nil when baseURL is empty so discovery is skipped
func NewSearxClient(fetcher *scraper.Fetcher, baseURL string) *SearxClient {
	if baseURL == "" {
		return nil
	}
	return &SearxClient{fetcher: fetcher, baseURL: strings.TrimRight(baseURL, "/")}
}

// Threads returns result URLs that look like forum threads, in result order
func (s *SearxClient) Threads(ctx context.Context, query string) ([]string, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	var resp searxResponse
	if err := s.fetcher.FetchJSON(ctx, s.baseURL+"/search?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("searx search: %w", err)
	}

	var urls []string
	for _, r := range resp.Results {
		if IsThreadURL(r.URL) {
			urls = append(urls, r.URL)
		}
	}
	return urls, nil
}

// IsThreadURL reports whether raw is an http(s) URL whose path carries a thread marker
func IsThreadURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, marker := range threadMarkers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}
