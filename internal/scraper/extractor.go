// internal/scraper/extractor.go
package scraper

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/ReviewScrapexter/internal/config"
)

const (
	strippedSelector = "script, style, nav, footer, noscript, aside, iframe, form, header, template, svg, [role=navigation]"
	blockSelector    = "p, li, blockquote, dd, td, article, section, div"
)

// FilterConfig defines block acceptance limits
type FilterConfig struct {
	MinLength        int
	MaxLength        int
	MinWords         int
	OpinionMinLength int
	ExtraNoise       []string
}

// DefaultFilterConfig returns the precision-biased defaults
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinLength:        50,
		MaxLength:        3000,
		MinWords:         5,
		OpinionMinLength: 30,
	}
}

// FilterConfigFrom maps the extraction configuration section
func FilterConfigFrom(c config.ExtractionConfig) FilterConfig {
	return FilterConfig{
		MinLength:        c.MinLength,
		MaxLength:        c.MaxLength,
		MinWords:         c.MinWords,
		OpinionMinLength: c.OpinionMinLength,
		ExtraNoise:       c.ExtraNoise,
	}
}

// Filter turns HTML into candidate opinion blocks
type Filter struct {
	config FilterConfig
	noise  []string
}

// NewFilter creates an extraction filter; zero limits take the defaults
func NewFilter(cfg FilterConfig) *Filter {
	def := DefaultFilterConfig()
	if cfg.MinLength <= 0 {
		cfg.MinLength = def.MinLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = def.MaxLength
	}
	if cfg.MinWords <= 0 {
		cfg.MinWords = def.MinWords
	}
	if cfg.OpinionMinLength <= 0 || cfg.OpinionMinLength > cfg.MinLength {
		cfg.OpinionMinLength = min(def.OpinionMinLength, cfg.MinLength)
	}

	noise := make([]string, 0, len(NoisePatterns)+len(cfg.ExtraNoise))
	for _, p := range append(append([]string{}, NoisePatterns...), cfg.ExtraNoise...) {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			noise = append(noise, p)
		}
	}
	return &Filter{config: cfg, noise: noise}
}

// Extract returns accepted blocks from html in document order.
// Output depends only on the input and the configured patterns.
func (f *Filter) Extract(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	return f.ExtractSelection(doc.Selection)
}

// ExtractSelection runs the filter over a copy of sel, leaving sel untouched
func (f *Filter) ExtractSelection(sel *goquery.Selection) []string {
	root := sel.Clone()
	StripBoilerplate(root)

	var blocks []string
	seen := make(map[string]struct{})
	root.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		if s.Find(blockSelector).Length() > 0 {
			return
		}
		text := CollapseWhitespace(s.Text())
		if text == "" {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		if f.Accept(text) {
			blocks = append(blocks, text)
		}
	})
	return blocks
}

// Accept applies the block test: noise, word count, and length bounds,
// with a relaxed minimum for blocks carrying an opinion keyword
func (f *Filter) Accept(text string) bool {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n == 0 || n > f.config.MaxLength {
		return false
	}
	if f.IsNoise(text) {
		return false
	}
	if len(strings.Fields(text)) < f.config.MinWords {
		return false
	}
	if n < f.config.MinLength {
		return n >= f.config.OpinionMinLength && HasOpinionKeyword(text)
	}
	return true
}

// IsNoise reports whether text matches any noise pattern
func (f *Filter) IsNoise(text string) bool {
	return containsAny(strings.ToLower(text), f.noise)
}

// StripBoilerplate removes non-content elements and containers tagged as
// boilerplate. A container is tagged when one of its class tokens or its id
// names a marker, either alone or qualified once (site-menu, cookie-banner).
// Containers holding review markup or most of the page text are kept.
func StripBoilerplate(root *goquery.Selection) {
	root.Find(strippedSelector).Remove()

	pageText := len(CollapseWhitespace(root.Text()))
	root.Find("[id], [class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		if name := goquery.NodeName(s); name == "html" || name == "body" || name == "main" {
			return false
		}
		id, _ := s.Attr("id")
		class, _ := s.Attr("class")
		if !hasBoilerplateToken(append(strings.Fields(class), id)) {
			return false
		}
		if s.Is(reviewMarkupSelector) || s.Find(reviewMarkupSelector).Length() > 0 {
			return false
		}
		return pageText == 0 || 2*len(CollapseWhitespace(s.Text())) <= pageText
	}).Remove()
}

func hasBoilerplateToken(tokens []string) bool {
	for _, token := range tokens {
		parts := strings.FieldsFunc(strings.ToLower(token), func(r rune) bool {
			return r == '-' || r == '_'
		})
		if len(parts) == 0 || len(parts) > 2 {
			continue
		}
		for _, part := range parts {
			if slices.Contains(boilerplateMarkers, part) {
				return true
			}
		}
	}
	return false
}

// CollapseWhitespace trims and joins runs of whitespace with single spaces
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
