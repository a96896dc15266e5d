// internal/adapters/community_test.go
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/ReviewScrapexter/internal/scraper"
	"github.com/valpere/ReviewScrapexter/internal/utils"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

const (
	threadPermalink = "/r/kettles/comments/abc123/acme_k200_review/"
	newsPermalink   = "/r/kettles/comments/def456/acme_k300_leak/"

	opText      = "I bought the Acme K200 kettle three months ago and my experience has been mostly positive, it boils quickly."
	teaguyText  = "I have owned mine for a year and would recommend it, although the lid hinge feels a little flimsy."
	brewerText  = "I've been using the K200 daily and the auto shut-off works every single time without fail."
	newsText    = "Press release: Acme is launching a new K300 model with a bigger capacity next spring for everyone."
	janeText    = "I have had the Acme K200 for six weeks now. It boils a full jug in under three minutes and the handle stays cool."
	tomText     = "My experience is similar, although the limescale filter needs cleaning every fortnight in our hard water area."
	ownerText   = "I own the K200 and honestly I would not upgrade, the K200 does everything I need from a kettle."
	forumNewsOP = "Breaking news: Acme just announced the K300 and it is coming soon to stores across Europe this year."
)

func redditComment(author, body string) map[string]any {
	return map[string]any{"kind": "t1", "data": map[string]any{"author": author, "body": body, "created_utc": 1717243200.0}}
}

func communityServer(t *testing.T) (*httptest.Server, *sync.Map) {
	t.Helper()
	hits := &sync.Map{}
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Store(r.URL.Path, true)
		switch r.URL.Path {
		case "/search.json":
			assert.Equal(t, "Acme K200 review", r.URL.Query().Get("q"))
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"children": []any{
				map[string]any{"kind": "t3", "data": map[string]any{"title": "Acme K300 leak shows new design", "permalink": newsPermalink}},
				map[string]any{"kind": "t3", "data": map[string]any{"title": "Acme K200 kettle review after three months", "permalink": threadPermalink}},
			}}})
		case "/r/kettles/comments/abc123/acme_k200_review.json":
			json.NewEncoder(w).Encode([]any{
				map[string]any{"data": map[string]any{"children": []any{
					map[string]any{"kind": "t3", "data": map[string]any{
						"author": "kettlefan", "title": "Acme K200 kettle review after three months",
						"selftext": opText, "created_utc": 1717243200.0,
					}},
				}}},
				map[string]any{"data": map[string]any{"children": []any{
					redditComment("AutoModerator", "Please remember the rules of this subreddit and be civil to each other here."),
					redditComment("[deleted]", "[deleted]"),
					redditComment("gone", "[removed]"),
					redditComment("shorty", "Same here, love it."),
					redditComment("teaguy", teaguyText),
					redditComment("brewer", brewerText),
					map[string]any{"kind": "more", "data": map[string]any{"count": 12}},
					redditComment("newsbot", newsText),
					redditComment("late", "I bought two of these for my parents and they are very happy with the fast boil time."),
				}}},
			})
		case "/search":
			assert.Equal(t, "json", r.URL.Query().Get("format"))
			json.NewEncoder(w).Encode(map[string]any{"results": []any{
				map[string]any{"url": server.URL + "/forum/threads/acme-k200.42/", "title": "Acme K200 owners"},
				map[string]any{"url": server.URL + "/shop/acme-k200", "title": "Buy Acme K200"},
				map[string]any{"url": server.URL + "/forum/topic/7", "title": "K300 news"},
			}})
		case "/forum/threads/acme-k200.42/":
			fmt.Fprintf(w, `<html><head><title>Acme K200 owners thread | Kettle Forum</title></head><body>
<div class="sidebar"><div class="message-body">Sidebar: I bought a toaster here too and recommend the shop to everyone around.</div></div>
<article class="message"><div class="message-name">jane</div><div class="message-body">%s</div></article>
<article class="message"><div class="message-name">tom</div><div class="message-body"><blockquote>I have had the Acme K200 for six weeks now.</blockquote>%s</div></article>
<article class="message is-deleted"><div class="message-body">This post was hidden by a moderator even though I bought the kettle last year.</div></article>
</body></html>`, janeText, tomText)
		case "/forum/topic/7":
			fmt.Fprintf(w, `<html><head><title>K300 announced</title></head><body>
<div class="post"><div class="post-content">%s</div></div>
<div class="post"><div class="post-content">%s</div></div>
</body></html>`, forumNewsOP, ownerText)
		default:
			http.NotFound(w, r)
		}
	}))
	return server, hits
}

func TestCommunityAdapter_Collect(t *testing.T) {
	server, hits := communityServer(t)
	defer server.Close()

	a := NewCommunityAdapter(newTestFetcher(nil), scraper.NewFilter(scraper.DefaultFilterConfig()), CommunityOptions{
		Threshold:     0.90,
		RedditBaseURL: server.URL,
		SearxURL:      server.URL,
	}, utils.DiscardLogger())

	c, err := a.Collect(context.Background(), types.JobRequest{
		Source:      types.SourceCommunity,
		ProductName: "Acme K200",
		Brand:       "Acme",
		URLs:        []string{server.URL + "/forum/topic/7"},
	}, scraper.NewRenderBudget(2))
	require.NoError(t, err)

	texts := make([]string, len(c.Candidates))
	for i, cand := range c.Candidates {
		texts[i] = cand.Text
	}
	assert.Equal(t, []string{opText, teaguyText, brewerText, ownerText, janeText, tomText}, texts)

	assert.Equal(t, 3, c.PagesFetched)
	assert.Equal(t, 0, c.PagesFailed)

	_, newsFetched := hits.Load("/r/kettles/comments/def456/acme_k300_leak.json")
	assert.False(t, newsFetched, "news threads must not be opened")
	_, shopFetched := hits.Load("/shop/acme-k200")
	assert.False(t, shopFetched, "non-thread search results must not be fetched")

	op := c.Candidates[0]
	assert.Equal(t, "kettlefan", op.ReviewerName)
	assert.Equal(t, "reddit", op.Origin)
	assert.Equal(t, "2024-06-01", op.Date)
	assert.Equal(t, server.URL+"/r/kettles/comments/abc123/acme_k200_review", op.SourceURL)

	jane := c.Candidates[4]
	assert.Equal(t, "jane", jane.ReviewerName)
	assert.Equal(t, "Acme K200 owners thread | Kettle Forum", jane.Title)
	assert.Equal(t, "127.0.0.1", jane.Origin)
}

func TestCommunityAdapter_RedditDownStillUsesForums(t *testing.T) {
	server, _ := communityServer(t)
	defer server.Close()

	a := NewCommunityAdapter(newTestFetcher(nil), scraper.NewFilter(scraper.DefaultFilterConfig()), CommunityOptions{
		RedditBaseURL: server.URL + "/nothing-here",
	}, utils.DiscardLogger())

	c, err := a.Collect(context.Background(), types.JobRequest{
		Source:      types.SourceCommunity,
		ProductName: "Acme K200",
		URLs:        []string{server.URL + "/forum/threads/acme-k200.42/"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, c.PagesFetched)
	require.Len(t, c.Candidates, 2)
	assert.Equal(t, janeText, c.Candidates[0].Text)
	assert.Equal(t, tomText, c.Candidates[1].Text)
}

func TestCommunityAdapter_ForumURLCap(t *testing.T) {
	a := NewCommunityAdapter(newTestFetcher(nil), scraper.NewFilter(scraper.DefaultFilterConfig()), CommunityOptions{MaxForumURLs: 2}, utils.DiscardLogger())
	urls := a.forumURLs(context.Background(), types.JobRequest{
		URLs: []string{"https://f.example/t/1", "https://f.example/t/1", "https://f.example/t/2", "https://f.example/t/3"},
	}, "q")
	assert.Equal(t, []string{"https://f.example/t/1", "https://f.example/t/2"}, urls)
}

func TestCommunityAdapter_ExtractThread_RejectsOverlongPosts(t *testing.T) {
	a := NewCommunityAdapter(newTestFetcher(nil), scraper.NewFilter(scraper.DefaultFilterConfig()), CommunityOptions{TopComments: 5}, utils.DiscardLogger())
	first := "I bought the Acme K200 last spring and it still boils a full jug in under three minutes."
	last := "Mine started leaking at the base after eight months, so I returned it for a refund."
	overlong := strings.Repeat("I really love this kettle and use it every day. ", 70)
	require.Greater(t, len([]rune(overlong)), types.MaxReviewTextLength)

	page := fmt.Sprintf(`<html><head><title>Acme K200 owners</title></head><body>
<article class="message"><div class="message-name">ann</div><div class="message-body">%s</div></article>
<article class="message"><div class="message-name">bob</div><div class="message-body">%s</div></article>
<article class="message"><div class="message-name">cid</div><div class="message-body">%s</div></article>
</body></html>`, first, overlong, last)

	got := a.ExtractThread(page, "https://forum.example/threads/acme-k200.42/")
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0].Text)
	assert.Equal(t, last, got[1].Text)
}

func TestHasReviewIntent(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"I bought this last spring and it still works.", true},
		{"I’ve been using it for months with no issues.", true},
		{"Would recommend to anyone with a small kitchen.", true},
		{"The lid leaks a little but I have no other complaints.", true},
		{"Does anyone know when it ships?", false},
		{"I have heard the K300 is coming soon.", false},
		{"Price drop alert: I own one and it is now cheaper.", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, HasReviewIntent(tt.text))
		})
	}
}

func TestIsThreadURL(t *testing.T) {
	assert.True(t, IsThreadURL("https://www.head-fi.org/threads/acme-k200.123/"))
	assert.True(t, IsThreadURL("https://discourse.example/t/kettle-review/55"))
	assert.True(t, IsThreadURL("https://forum.example/topic/9"))
	assert.False(t, IsThreadURL("https://shop.example/p/k200"))
	assert.False(t, IsThreadURL("ftp://forum.example/thread/1"))
	assert.False(t, IsThreadURL("https://example.com/t"))
}

func TestSearchQuery(t *testing.T) {
	assert.Equal(t, "Acme K200 review", SearchQuery(types.JobRequest{Brand: "Acme", ProductName: "K200"}))
	assert.Equal(t, "Acme K200 review", SearchQuery(types.JobRequest{Brand: "acme", ProductName: "Acme K200"}))
	assert.Equal(t, "K200 review", SearchQuery(types.JobRequest{ProductName: "  K200 "}))
}
