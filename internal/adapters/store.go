// internal/adapters/store.go
package adapters

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/ReviewScrapexter/internal/dedupe"
	apperrors "github.com/valpere/ReviewScrapexter/internal/errors"
	"github.com/valpere/ReviewScrapexter/internal/monitoring"
	"github.com/valpere/ReviewScrapexter/internal/scraper"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

// reviewContainers are tried in order; the first that yields accepted reviews wins
var reviewContainers = []string{
	"[itemprop=review]",
	"[data-hook=review]",
	".review-item",
	".product-review",
	".customer-review",
	".review",
	".reviews-list li",
	".comment-item",
}

const (
	bodySelector   = "[itemprop=reviewBody], [itemprop=description], [data-hook=review-body], .review-text, .review-body, .review-content, .review__text"
	authorSelector = "[itemprop=author], [data-hook=review-author], .review-author, .author, .reviewer, .user-name"
	titleSelector  = "[data-hook=review-title], .review-title, .review__title, [itemprop=name]"
	dateSelector   = "[itemprop=datePublished], time[datetime], [data-hook=review-date], .review-date, .date"
	ratingSelector = "[itemprop=ratingValue], [data-rating], [aria-label*='out of'], [title*='out of'], .rating, .stars"
)

var outOfFive = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:out of|/|of)\s*5\b`)

// StoreOptions tunes the retailer adapter
type StoreOptions struct {
	Threshold   float64
	Concurrency int
}

// StoreAdapter collects reviews from retailer product pages
type StoreAdapter struct {
	fetcher     *scraper.Fetcher
	filter      *scraper.Filter
	dedup       *dedupe.Deduplicator
	concurrency int
	logger      *slog.Logger
	metrics     *monitoring.MetricsManager
	now         func() time.Time
}

// NewStoreAdapter creates the retailer adapter
func NewStoreAdapter(fetcher *scraper.Fetcher, filter *scraper.Filter, opts StoreOptions, logger *slog.Logger) *StoreAdapter {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreAdapter{
		fetcher:     fetcher,
		filter:      filter,
		dedup:       dedupe.New(opts.Threshold),
		concurrency: opts.Concurrency,
		logger:      logger.With("component", "store_adapter"),
		now:         time.Now,
	}
}

func (a *StoreAdapter) Source() types.Source { return types.SourceStore }

// Collect fetches every store URL concurrently and extracts candidates per page.
// Per-URL failures are counted and logged, never returned.
func (a *StoreAdapter) Collect(ctx context.Context, req types.JobRequest, budget *scraper.RenderBudget) (*Collection, error) {
	type pageResult struct {
		candidates []types.ReviewCandidate
		ok         bool
		skipped    bool
	}
	results := make([]pageResult, len(req.URLs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, pageURL := range req.URLs {
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
				a.logger.Warn("store.page_failed", "url", pageURL, "error", err)
				return nil
			}
			results[i].ok = true
			results[i].candidates = a.ExtractPage(page.HTML, pageURL)
			a.logger.Debug("store.page_extracted",
				"url", pageURL,
				"rendered", page.Rendered,
				"candidates", len(results[i].candidates),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c := &Collection{}
	for _, r := range results {
		switch {
		case r.ok:
			c.PagesFetched++
			c.Candidates = append(c.Candidates, r.candidates...)
		case r.skipped:
			c.Skipped++
		default:
			c.PagesFailed++
		}
	}
	finalize(a.Source(), a.dedup, c, a.metrics)
	return c, nil
}

// ExtractPage pulls candidates from one retailer page: JSON-LD reviews first,
// then structured review containers, then the generic filter
func (a *StoreAdapter) ExtractPage(html, pageURL string) []types.ReviewCandidate {
	store := hostOf(pageURL)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	if out := a.fromJSONLD(doc, pageURL, store); len(out) > 0 {
		return out
	}
	if out := a.fromContainers(doc, pageURL, store); len(out) > 0 {
		return out
	}

	var out []types.ReviewCandidate
	for _, block := range a.filter.ExtractSelection(doc.Selection) {
		out = append(out, types.ReviewCandidate{Text: block, SourceURL: pageURL, Store: store, Origin: store})
	}
	return out
}

func (a *StoreAdapter) fromJSONLD(doc *goquery.Document, pageURL, store string) []types.ReviewCandidate {
	var out []types.ReviewCandidate
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return
		}
		for _, r := range findLDReviews(data) {
			text := scraper.CollapseWhitespace(ldString(r["reviewBody"]))
			if text == "" {
				text = scraper.CollapseWhitespace(ldString(r["description"]))
			}
			if !a.filter.Accept(text) {
				continue
			}
			c := types.ReviewCandidate{
				Text:         text,
				SourceURL:    pageURL,
				ReviewerName: ldAuthor(r["author"]),
				Title:        ldString(r["name"]),
				Store:        store,
				Origin:       store,
			}
			if rating, ok := r["reviewRating"].(map[string]any); ok {
				c.Rating = parseRating(ldString(rating["ratingValue"]))
			}
			if d, ok := types.ParseDate(ldString(r["datePublished"]), a.now()); ok {
				c.Date = d
			}
			out = append(out, c)
		}
	})
	return out
}

// findLDReviews walks a JSON-LD value and returns every object typed Review
func findLDReviews(v any) []map[string]any {
	var out []map[string]any
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case []any:
			for _, item := range t {
				walk(item)
			}
		case map[string]any:
			if isLDType(t["@type"], "Review") {
				out = append(out, t)
				return
			}
			for _, key := range []string{"@graph", "review", "reviews", "itemListElement", "item"} {
				if child, ok := t[key]; ok {
					walk(child)
				}
			}
		}
	}
	walk(v)
	return out
}

func isLDType(v any, want string) bool {
	switch t := v.(type) {
	case string:
		return t == want
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func ldString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		return ldString(t["name"])
	}
	return ""
}

func ldAuthor(v any) string {
	if list, ok := v.([]any); ok && len(list) > 0 {
		return ldString(list[0])
	}
	return ldString(v)
}

func (a *StoreAdapter) fromContainers(doc *goquery.Document, pageURL, store string) []types.ReviewCandidate {
	root := doc.Selection.Clone()
	scraper.StripBoilerplate(root)

	for _, selector := range reviewContainers {
		containers := root.Find(selector)
		if containers.Length() == 0 {
			continue
		}
		var out []types.ReviewCandidate
		containers.Each(func(_ int, s *goquery.Selection) {
			// nested matches are parts of an outer review
			if s.ParentsFiltered(selector).Length() > 0 {
				return
			}
			if c, ok := a.fromContainer(s, pageURL, store); ok {
				out = append(out, c)
			}
		})
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func (a *StoreAdapter) fromContainer(s *goquery.Selection, pageURL, store string) (types.ReviewCandidate, bool) {
	body := s.Find(bodySelector).First()
	var text string
	if body.Length() > 0 {
		text = scraper.CollapseWhitespace(body.Text())
	} else {
		text = scraper.CollapseWhitespace(s.Text())
	}
	if !a.filter.Accept(text) {
		return types.ReviewCandidate{}, false
	}

	c := types.ReviewCandidate{
		Text:         text,
		SourceURL:    pageURL,
		ReviewerName: firstText(s, authorSelector),
		Title:        firstText(s, titleSelector),
		Store:        store,
		Origin:       store,
		Rating:       containerRating(s),
	}
	if c.Title == text {
		c.Title = ""
	}
	if d := s.Find(dateSelector).First(); d.Length() > 0 {
		raw := attrOr(d, "datetime", attrOr(d, "content", d.Text()))
		if parsed, ok := types.ParseDate(raw, a.now()); ok {
			c.Date = parsed
		}
	}
	return c, true
}

func containerRating(s *goquery.Selection) *float64 {
	var rating *float64
	s.Find(ratingSelector).EachWithBreak(func(_ int, r *goquery.Selection) bool {
		for _, attr := range []string{"content", "data-rating", "aria-label", "title"} {
			if v, ok := r.Attr(attr); ok {
				if rating = parseRating(v); rating != nil {
					return false
				}
			}
		}
		rating = parseRating(r.Text())
		return rating == nil
	})
	if rating == nil {
		rating = parseRating(s.Text())
	}
	return rating
}

// parseRating reads "4", "4.5", "4,5 out of 5" or "Rated 4 of 5 stars" into a 0-5 value
func parseRating(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if m := outOfFive.FindStringSubmatch(strings.ToLower(raw)); m != nil {
		raw = m[1]
	}
	v, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
	if err != nil || v <= 0 || v > 5 {
		return nil
	}
	return &v
}

func firstText(s *goquery.Selection, selector string) string {
	found := s.Find(selector).First()
	if found.Length() == 0 {
		return ""
	}
	if v, ok := found.Attr("content"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return scraper.CollapseWhitespace(found.Text())
}

func attrOr(s *goquery.Selection, attr, fallback string) string {
	if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
