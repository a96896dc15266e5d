// internal/adapters/adapter.go
package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/valpere/ReviewScrapexter/internal/browser"
	"github.com/valpere/ReviewScrapexter/internal/config"
	"github.com/valpere/ReviewScrapexter/internal/dedupe"
	"github.com/valpere/ReviewScrapexter/internal/monitoring"
	"github.com/valpere/ReviewScrapexter/internal/scraper"
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

// SourceAdapter fetches and extracts review candidates for one kind of origin
type SourceAdapter interface {
	Source() types.Source
	Collect(ctx context.Context, req types.JobRequest, budget *scraper.RenderBudget) (*Collection, error)
}

// Collection is what one adapter run produced.
// PagesFetched counts pages or API documents retrieved successfully; a job with
// none of them has no retrievable content.
type Collection struct {
	Candidates   []types.ReviewCandidate `json:"candidates,omitempty"`
	PagesFetched int                     `json:"pages_fetched"`
	PagesFailed  int                     `json:"pages_failed"`
	Skipped      int                     `json:"skipped"`
	Duplicates   dedupe.Stats            `json:"duplicates"`
}

// Registry maps each source to its adapter
type Registry struct {
	adapters map[types.Source]SourceAdapter
}

// NewRegistry creates a registry holding the given adapters
func NewRegistry(adapters ...SourceAdapter) *Registry {
	r := &Registry{adapters: make(map[types.Source]SourceAdapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its source
func (r *Registry) Register(a SourceAdapter) {
	r.adapters[a.Source()] = a
}

// Get returns the adapter for source
func (r *Registry) Get(source types.Source) (SourceAdapter, error) {
	a, ok := r.adapters[source]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for source %q", source)
	}
	return a, nil
}

// Sources lists registered sources in a stable order
func (r *Registry) Sources() []types.Source {
	out := make([]types.Source, 0, len(r.adapters))
	for s := range r.adapters {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dependencies carries the shared collaborators for NewRegistryFromConfig
type Dependencies struct {
	Config     *config.Config
	Fetcher    *scraper.Fetcher
	Interactor browser.Interactor
	Logger     *slog.Logger
	Metrics    *monitoring.MetricsManager
}

// NewRegistryFromConfig builds the three standard adapters
func NewRegistryFromConfig(d Dependencies) *Registry {
	cfg := d.Config
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	filter := scraper.NewFilter(scraper.FilterConfigFrom(cfg.Extraction))

	store := NewStoreAdapter(d.Fetcher, filter, StoreOptions{
		Threshold:   cfg.Dedupe.StoreThreshold,
		Concurrency: cfg.Fetcher.Concurrency,
	}, logger)
	store.metrics = d.Metrics

	community := NewCommunityAdapter(d.Fetcher, filter, CommunityOptionsFrom(cfg.Community, cfg.Dedupe.CommunityThreshold, cfg.Fetcher.Concurrency), logger)
	community.metrics = d.Metrics

	shopping := NewShoppingAdapter(d.Interactor, filter, ShoppingOptionsFrom(cfg.Shopping, cfg.Dedupe.ShoppingThreshold, cfg.Jobs.ShoppingRawCap), logger)
	shopping.metrics = d.Metrics

	return NewRegistry(store, community, shopping)
}

// finalize deduplicates candidates and records the counts
func finalize(source types.Source, d *dedupe.Deduplicator, c *Collection, metrics *monitoring.MetricsManager) {
	metrics.RecordCandidates(string(source), len(c.Candidates))
	c.Candidates, c.Duplicates = d.Candidates(c.Candidates)
	metrics.RecordDuplicates(string(source), "exact", c.Duplicates.Exact)
	metrics.RecordDuplicates(string(source), "near", c.Duplicates.Near)
}

// truncateRunes cuts s to at most n runes, preferring the last word boundary
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)[:n]
	cut := string(runes)
	if i := strings.LastIndexByte(cut, ' '); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
