// internal/adapters/community.go
package adapters

import (
	"context"
	stderrors "errors"
	"log/slog"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/ReviewScrapexter/internal/config"
	"github.com/valpere/ReviewScrapexter/internal/dedupe"
	apperrors "github.com/valpere/ReviewScrapexter/internal/errors"
	"github.com/valpere/ReviewScrapexter/internal/monitoring"
	"github.com/valpere/ReviewScrapexter/internal/scraper"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

// OwnershipPhrases mark first-hand experience; a community post needs one of them
var OwnershipPhrases = []string{
	"i bought", "i own", "i have", "i've been", "i've had", "i've used",
	"i use", "i got", "my experience", "my opinion", "using for",
	"owned for", "pros and cons", "recommend",
}

// NewsPhrases mark announcements and rumours rather than reviews
var NewsPhrases = []string{
	"announcement", "press release", "breaking news", "just announced",
	"launching", "coming soon", "leak", "rumor", "rumour", "reported",
	"stock alert", "price drop",
}

var newsRegexp = func() *regexp.Regexp {
	quoted := make([]string, len(NewsPhrases))
	for i, p := range NewsPhrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}()

// postSelectors locate individual posts on forum thread pages, most specific first
var postSelectors = []string{
	"[itemprop=comment]",
	".message-body",
	".messageContent",
	".post-content",
	".post-body",
	".postbody",
	".cooked",
	".comment-body",
	"article",
	".post",
	".message",
	".comment",
	".reply",
}

const (
	quotedSelector     = "blockquote, .quote, .bbCodeBlock--quote, .deleted, .is-deleted, [data-deleted]"
	postAuthorSelector = "[itemprop=author], .username, .author, .post-author, .message-name"
)

// IsNews reports whether text reads like an announcement or rumour
func IsNews(text string) bool {
	return newsRegexp.MatchString(text)
}

// HasReviewIntent requires an ownership or opinion phrase and rejects news
func HasReviewIntent(text string) bool {
	lower := strings.ToLower(strings.ReplaceAll(text, "’", "'"))
	owned := false
	for _, p := range OwnershipPhrases {
		if strings.Contains(lower, p) {
			owned = true
			break
		}
	}
	return owned && !IsNews(lower)
}

// SearchQuery builds the discovery query "brand product review"
func SearchQuery(req types.JobRequest) string {
	parts := []string{strings.TrimSpace(req.Brand), strings.TrimSpace(req.ProductName), "review"}
	if parts[0] != "" && strings.Contains(strings.ToLower(parts[1]), strings.ToLower(parts[0])) {
		parts = parts[1:]
	}
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// CommunityOptions tunes the forum and Reddit adapter
type CommunityOptions struct {
	Threshold     float64
	Concurrency   int
	RedditBaseURL string
	RedditPosts   int
	SearxURL      string
	MaxForumURLs  int
	TopComments   int
	MinTextLength int
}

// CommunityOptionsFrom maps the community configuration section
func CommunityOptionsFrom(c config.CommunityConfig, threshold float64, concurrency int) CommunityOptions {
	return CommunityOptions{
		Threshold:     threshold,
		Concurrency:   concurrency,
		RedditBaseURL: c.RedditBaseURL,
		RedditPosts:   c.RedditPosts,
		SearxURL:      c.SearxURL,
		MaxForumURLs:  c.MaxForumURLs,
		TopComments:   c.TopComments,
		MinTextLength: c.MinTextLength,
	}
}

// CommunityAdapter collects first-hand opinions from Reddit and forum threads
type CommunityAdapter struct {
	fetcher *scraper.Fetcher
	filter  *scraper.Filter
	dedup   *dedupe.Deduplicator
	reddit  *RedditClient
	searx   *SearxClient
	opts    CommunityOptions
	logger  *slog.Logger
	metrics *monitoring.MetricsManager
}

// NewCommunityAdapter creates the community adapter. An empty RedditBaseURL
// disables Reddit and an empty SearxURL disables thread discovery.
func NewCommunityAdapter(fetcher *scraper.Fetcher, filter *scraper.Filter, opts CommunityOptions, logger *slog.Logger) *CommunityAdapter {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.RedditPosts <= 0 {
		opts.RedditPosts = 5
	}
	if opts.MaxForumURLs <= 0 {
		opts.MaxForumURLs = 15
	}
	if opts.TopComments <= 0 {
		opts.TopComments = 3
	}
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = 50
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &CommunityAdapter{
		fetcher: fetcher,
		filter:  filter,
		dedup:   dedupe.New(opts.Threshold),
		searx:   NewSearxClient(fetcher, opts.SearxURL),
		opts:    opts,
		logger:  logger.With("component", "community_adapter"),
	}
	if opts.RedditBaseURL != "" {
		a.reddit = NewRedditClient(fetcher, opts.RedditBaseURL, opts.RedditPosts, opts.TopComments, opts.MinTextLength)
	}
	return a
}

func (a *CommunityAdapter) Source() types.Source { return types.SourceCommunity }

// Collect reads Reddit threads and forum pages. Searches are discovery only:
// PagesFetched counts thread documents, so a job whose every thread failed has no content.
func (a *CommunityAdapter) Collect(ctx context.Context, req types.JobRequest, budget *scraper.RenderBudget) (*Collection, error) {
	query := SearchQuery(req)
	c := &Collection{}

	var raw []types.ReviewCandidate
	if a.reddit != nil {
		posts, err := a.collectReddit(ctx, query, c)
		if err != nil {
			return nil, err
		}
		raw = append(raw, posts...)
	}

	forumURLs := a.forumURLs(ctx, req, query)
	posts, err := a.collectForums(ctx, forumURLs, budget, c)
	if err != nil {
		return nil, err
	}
	raw = append(raw, posts...)

	for _, cand := range raw {
		if HasReviewIntent(cand.Text) {
			c.Candidates = append(c.Candidates, cand)
		}
	}
	a.logger.Debug("community.intent_filtered", "query", query, "before", len(raw), "after", len(c.Candidates))
	finalize(a.Source(), a.dedup, c, a.metrics)
	return c, nil
}

func (a *CommunityAdapter) collectReddit(ctx context.Context, query string, c *Collection) ([]types.ReviewCandidate, error) {
	threads, err := a.reddit.Search(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("community.reddit_search_failed", "query", query, "error", err)
		return nil, nil
	}

	var out []types.ReviewCandidate
	for _, t := range threads {
		posts, err := a.reddit.Thread(ctx, t.Permalink)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.PagesFailed++
			a.logger.Warn("community.reddit_thread_failed", "permalink", t.Permalink, "error", err)
			continue
		}
		c.PagesFetched++
		out = append(out, posts...)
	}
	return out, nil
}

// forumURLs merges explicit URLs with discovered threads, unique and capped
func (a *CommunityAdapter) forumURLs(ctx context.Context, req types.JobRequest, query string) []string {
	seen := make(map[string]struct{})
	var urls []string
	add := func(u string) {
		if _, dup := seen[u]; dup || len(urls) >= a.opts.MaxForumURLs {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	for _, u := range req.URLs {
		add(u)
	}
	if a.searx == nil {
		return urls
	}

	found, err := a.searx.Threads(ctx, query)
	if err != nil {
		a.logger.Warn("community.discovery_failed", "query", query, "error", err)
		return urls
	}
	for _, u := range found {
		add(u)
	}
	return urls
}

func (a *CommunityAdapter) collectForums(ctx context.Context, urls []string, budget *scraper.RenderBudget, c *Collection) ([]types.ReviewCandidate, error) {
	type pageResult struct {
		posts   []types.ReviewCandidate
		ok      bool
		skipped bool
	}
	results := make([]pageResult, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for i, pageURL := range urls {
		g.Go(func() error {
			page, err := a.fetcher.Fetch(gctx, pageURL, budget)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				var limitErr *apperrors.RenderEscalationLimitError
				if stderrors.As(err, &limitErr) {
					results[i].skipped = true
					return nil
				}
				a.logger.Warn("community.forum_failed", "url", pageURL, "error", err)
				return nil
			}
			results[i].ok = true
			results[i].posts = a.ExtractThread(page.HTML, pageURL)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []types.ReviewCandidate
	for _, r := range results {
		switch {
		case r.ok:
			c.PagesFetched++
			out = append(out, r.posts...)
		case r.skipped:
			c.Skipped++
		default:
			c.PagesFailed++
		}
	}
	return out, nil
}

// ExtractThread returns the original post and the top comments of a forum thread page.
// Quoted, deleted, sidebar and related blocks never contribute text.
func (a *CommunityAdapter) ExtractThread(html, pageURL string) []types.ReviewCandidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	title := scraper.CollapseWhitespace(doc.Find("title").First().Text())
	origin := hostOf(pageURL)
	limit := 1 + a.opts.TopComments

	root := doc.Selection.Clone()
	scraper.StripBoilerplate(root)

	for _, selector := range postSelectors {
		var out []types.ReviewCandidate
		root.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if s.ParentsFiltered(selector).Length() > 0 {
				return true
			}
			if s.Is(quotedSelector) || s.ParentsFiltered(quotedSelector).Length() > 0 {
				return true
			}
			author := scraper.CollapseWhitespace(s.Find(postAuthorSelector).First().Text())
			if author == "" {
				author = scraper.CollapseWhitespace(s.Closest("article, .message, .post, li").Find(postAuthorSelector).First().Text())
			}
			body := s.Clone()
			body.Find(quotedSelector).Remove()
			body.Find(postAuthorSelector).Remove()
			text := scraper.CollapseWhitespace(body.Text())
			if !a.filter.Accept(text) {
				return true
			}
			out = append(out, types.ReviewCandidate{
				Text:         text,
				SourceURL:    pageURL,
				ReviewerName: author,
				Title:        title,
				Origin:       origin,
			})
			return len(out) < limit
		})
		if len(out) > 0 {
			return out
		}
	}

	var out []types.ReviewCandidate
	for _, block := range a.filter.ExtractSelection(doc.Selection) {
		out = append(out, types.ReviewCandidate{Text: block, SourceURL: pageURL, Title: title, Origin: origin})
		if len(out) == limit {
			break
		}
	}
	return out
}
