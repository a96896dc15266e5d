// internal/adapters/shopping.go
package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/ReviewScrapexter/internal/browser"
	"github.com/valpere/ReviewScrapexter/internal/config"
	"github.com/valpere/ReviewScrapexter/internal/dedupe"
	"github.com/valpere/ReviewScrapexter/internal/monitoring"
	"github.com/valpere/ReviewScrapexter/internal/scraper"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

const shoppingOrigin = "google-shopping"

var firstDigit = regexp.MustCompile(`\d`)

// ShoppingOptions holds the comment-feed selectors and click policy
type ShoppingOptions struct {
	Threshold      float64
	RawCap         int
	ReviewSelector string
	NameSelector   string
	RatingSelector string
	TextSelector   string
	DateSelector   string
	MoreSelector   string
	ExpandSelector string
	MaxRounds      int
	StableRounds   int
	RoundDelay     time.Duration
}

// ShoppingOptionsFrom maps the shopping configuration section
func ShoppingOptionsFrom(c config.ShoppingConfig, threshold float64, rawCap int) ShoppingOptions {
	return ShoppingOptions{
		Threshold:      threshold,
		RawCap:         rawCap,
		ReviewSelector: c.ReviewSelector,
		NameSelector:   c.NameSelector,
		RatingSelector: c.RatingSelector,
		TextSelector:   c.TextSelector,
		DateSelector:   c.DateSelector,
		MoreSelector:   c.MoreButtonSelector,
		ExpandSelector: c.ExpandSelector,
		MaxRounds:      c.MaxRounds,
		StableRounds:   c.StableRounds,
		RoundDelay:     c.RoundDelay,
	}
}

// ShoppingAdapter reads the comment feed of a shopping product page through an
// interactive browser session
type ShoppingAdapter struct {
	interactor browser.Interactor
	filter     *scraper.Filter
	dedup      *dedupe.Deduplicator
	opts       ShoppingOptions
	logger     *slog.Logger
	metrics    *monitoring.MetricsManager
	now        func() time.Time
}

// NewShoppingAdapter creates the shopping-comments adapter
func NewShoppingAdapter(interactor browser.Interactor, filter *scraper.Filter, opts ShoppingOptions, logger *slog.Logger) *ShoppingAdapter {
	if opts.RawCap <= 0 {
		opts.RawCap = 100
	}
	if opts.Threshold <= 0 {
		opts.Threshold = types.SourceShoppingComments.DefaultSimilarity()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShoppingAdapter{
		interactor: interactor,
		filter:     filter,
		dedup:      dedupe.New(opts.Threshold),
		opts:       opts,
		logger:     logger.With("component", "shopping_adapter"),
		now:        time.Now,
	}
}

func (a *ShoppingAdapter) Source() types.Source { return types.SourceShoppingComments }

// Collect loads the review feed until its size is stable, then parses it.
// The session is the adapter's primary fetch, so it does not draw on the render budget.
func (a *ShoppingAdapter) Collect(ctx context.Context, req types.JobRequest, _ *scraper.RenderBudget) (*Collection, error) {
	if !types.IsShoppingURL(req.ShoppingURL) {
		return nil, fmt.Errorf("invalid shopping URL %q", req.ShoppingURL)
	}
	if a.interactor == nil {
		return nil, browser.ErrBrowserDisabled
	}
	if e, ok := a.interactor.(interface{ IsEnabled() bool }); ok && !e.IsEnabled() {
		return nil, browser.ErrBrowserDisabled
	}

	start := time.Now()
	res, err := a.interactor.RenderInteractive(ctx, req.ShoppingURL, browser.InteractionPlan{
		ItemSelector:   a.opts.ReviewSelector,
		MoreSelector:   a.opts.MoreSelector,
		ExpandSelector: a.opts.ExpandSelector,
		MaxRounds:      a.opts.MaxRounds,
		StableRounds:   a.opts.StableRounds,
		RoundDelay:     a.opts.RoundDelay,
	})

	c := &Collection{}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.metrics.RecordRender("failed")
		a.logger.Warn("shopping.session_failed", "url", req.ShoppingURL, "error", err)
		c.PagesFailed = 1
		return c, nil
	}
	a.metrics.RecordRender("rendered")
	c.PagesFetched = 1

	c.Candidates = a.ParseReviews(res.HTML, req.ShoppingURL)
	a.logger.Info("shopping.session_done",
		"url", req.ShoppingURL,
		"rounds", res.Rounds,
		"items", res.Items,
		"expanded", res.Expanded,
		"parsed", len(c.Candidates),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	finalize(a.Source(), a.dedup, c, a.metrics)
	return c, nil
}

// ParseReviews extracts reviews that carry both text longer than ten characters
// and a positive rating, capped at the raw input limit
func (a *ShoppingAdapter) ParseReviews(html, pageURL string) []types.ReviewCandidate {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var out []types.ReviewCandidate
	doc.Find(a.opts.ReviewSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := scraper.CollapseWhitespace(s.Find(a.opts.TextSelector).First().Text())
		rating := shoppingRating(s.Find(a.opts.RatingSelector).First())
		if utf8.RuneCountInString(text) <= 10 || rating == nil || a.filter.IsNoise(text) {
			return true
		}

		name := scraper.CollapseWhitespace(s.Find(a.opts.NameSelector).First().Text())
		if name == "" {
			name = "Anonymous"
		}
		c := types.ReviewCandidate{
			Text:         truncateRunes(text, types.MaxReviewTextLength),
			SourceURL:    pageURL,
			ReviewerName: name,
			Rating:       rating,
			Origin:       shoppingOrigin,
		}
		if a.opts.DateSelector != "" {
			raw := scraper.CollapseWhitespace(s.Find(a.opts.DateSelector).First().Text())
			if d, ok := types.ParseDate(raw, a.now()); ok {
				c.Date = d
			}
		}
		out = append(out, c)
		return len(out) < a.opts.RawCap
	})
	return out
}

// shoppingRating takes the first digit of the rating label, e.g. "Rated 4 out of 5"
func shoppingRating(s *goquery.Selection) *float64 {
	if s.Length() == 0 {
		return nil
	}
	label := s.Text()
	if aria, ok := s.Attr("aria-label"); ok && strings.TrimSpace(label) == "" {
		label = aria
	}
	d := firstDigit.FindString(label)
	if d == "" {
		return nil
	}
	v, _ := strconv.ParseFloat(d, 64)
	if v <= 0 || v > 5 {
		return nil
	}
	return &v
}
