// internal/adapters/reddit.go
package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valpere/ReviewScrapexter/internal/scraper"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

// redditListing is the envelope of Reddit's public JSON listings
type redditListing struct {
	Data struct {
		Children []struct {
			Kind string     `json:"kind"`
			Data RedditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// RedditPost is a thread or comment in a listing
type RedditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Body        string  `json:"body"`
	Author      string  `json:"author"`
	Permalink   string  `json:"permalink"`
	NumComments int     `json:"num_comments"`
	CreatedUTC  float64 `json:"created_utc"`
}

var skippedAuthors = map[string]bool{
	"":              true,
	"[deleted]":     true,
	"AutoModerator": true,
}

// RedditClient reads threads through Reddit's public JSON endpoints
type RedditClient struct {
	fetcher     *scraper.Fetcher
	baseURL     string
	posts       int
	topComments int
	minLength   int
}

// NewRedditClient creates a client against baseURL, normally https://www.reddit.com
func NewRedditClient(fetcher *scraper.Fetcher, baseURL string, posts, topComments, minLength int) *RedditClient {
	return &RedditClient{
		fetcher:     fetcher,
		baseURL:     strings.TrimRight(baseURL, "/"),
		posts:       posts,
		topComments: topComments,
		minLength:   minLength,
	}
}

// Search returns the most relevant non-news threads for query
func (r *RedditClient) Search(ctx context.Context, query string) ([]RedditPost, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("sort", "relevance")
	params.Set("t", "all")
	params.Set("limit", "25")
	params.Set("type", "link")

	var listing redditListing
	if err := r.fetcher.FetchJSON(ctx, r.baseURL+"/search.json?"+params.Encode(), &listing); err != nil {
		return nil, fmt.Errorf("reddit search: %w", err)
	}

	var threads []RedditPost
	for _, child := range listing.Data.Children {
		t := child.Data
		if t.Permalink == "" || IsNews(t.Title) {
			continue
		}
		threads = append(threads, t)
		if len(threads) == r.posts {
			break
		}
	}
	return threads, nil
}

// Thread returns the original post and its top comments as candidates
func (r *RedditClient) Thread(ctx context.Context, permalink string) ([]types.ReviewCandidate, error) {
	permalink = "/" + strings.Trim(permalink, "/")
	params := url.Values{}
	params.Set("limit", "100")
	params.Set("depth", "1")
	params.Set("sort", "best")

	var listings []redditListing
	if err := r.fetcher.FetchJSON(ctx, r.baseURL+permalink+".json?"+params.Encode(), &listings); err != nil {
		return nil, fmt.Errorf("reddit thread %s: %w", permalink, err)
	}
	if len(listings) == 0 || len(listings[0].Data.Children) == 0 {
		return nil, nil
	}

	op := listings[0].Data.Children[0].Data
	threadURL := r.baseURL + permalink
	var out []types.ReviewCandidate
	if c, ok := r.candidate(op, op.Selftext, op.Title, threadURL); ok {
		out = append(out, c)
	}

	if len(listings) < 2 {
		return out, nil
	}
	comments := 0
	for _, child := range listings[1].Data.Children {
		if comments == r.topComments {
			break
		}
		if child.Kind != "t1" {
			continue
		}
		if c, ok := r.candidate(child.Data, child.Data.Body, op.Title, threadURL); ok {
			out = append(out, c)
			comments++
		}
	}
	return out, nil
}

func (r *RedditClient) candidate(t RedditPost, body, title, threadURL string) (types.ReviewCandidate, bool) {
	body = strings.TrimSpace(body)
	if skippedAuthors[t.Author] || body == "[deleted]" || body == "[removed]" {
		return types.ReviewCandidate{}, false
	}
	if len([]rune(body)) < r.minLength {
		return types.ReviewCandidate{}, false
	}
	c := types.ReviewCandidate{
		Text:         truncateRunes(scraper.CollapseWhitespace(body), types.MaxReviewTextLength),
		SourceURL:    threadURL,
		ReviewerName: t.Author,
		Title:        title,
		Origin:       "reddit",
	}
	if t.CreatedUTC > 0 {
		c.Date = time.Unix(int64(t.CreatedUTC), 0).UTC().Format("2006-01-02")
	}
	return c, true
}
