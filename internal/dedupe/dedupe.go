// internal/dedupe/dedupe.go
package dedupe

import (
	"crypto/sha256"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/valpere/ReviewScrapexter/pkg/types"
)

// Stats counts what each pass removed
type Stats struct {
	Input int `json:"input"`
	Exact int `json:"exact"`
	Near  int `json:"near"`
	Kept  int `json:"kept"`
}

// Deduplicator removes exact and near-duplicate texts, preserving order.
// Each item is compared only with items already kept, so running it on its
// own output changes nothing.
type Deduplicator struct {
	threshold float64
}

// New creates a deduplicator dropping items whose similarity to a kept item is >= threshold
func New(threshold float64) *Deduplicator {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.90
	}
	return &Deduplicator{threshold: threshold}
}

// Threshold returns the near-duplicate threshold
func (d *Deduplicator) Threshold() float64 { return d.threshold }

// Keep returns the indices of the items that survive both passes, in input order
func (d *Deduplicator) Keep(texts []string) ([]int, Stats) {
	stats := Stats{Input: len(texts)}

	seen := make(map[[sha256.Size]byte]struct{}, len(texts))
	var kept []int
	var keptTokens [][]string

	for i, text := range texts {
		normalized := Normalize(text)
		sum := sha256.Sum256([]byte(normalized))
		if _, dup := seen[sum]; dup {
			stats.Exact++
			continue
		}
		seen[sum] = struct{}{}

		tokens := Tokenize(normalized)
		if d.nearDuplicate(tokens, keptTokens) {
			stats.Near++
			continue
		}
		kept = append(kept, i)
		keptTokens = append(keptTokens, tokens)
	}

	stats.Kept = len(kept)
	return kept, stats
}

func (d *Deduplicator) nearDuplicate(tokens []string, kept [][]string) bool {
	for _, other := range kept {
		if realQuickRatio(tokens, other) < d.threshold {
			continue
		}
		if quickRatio(tokens, other) < d.threshold {
			continue
		}
		if Ratio(tokens, other) >= d.threshold {
			return true
		}
	}
	return false
}

// Dedupe returns the surviving texts in input order
func (d *Deduplicator) Dedupe(texts []string) []string {
	idx, _ := d.Keep(texts)
	out := make([]string, len(idx))
	for i, k := range idx {
		out[i] = texts[k]
	}
	return out
}

// Candidates deduplicates review candidates by their text
func (d *Deduplicator) Candidates(candidates []types.ReviewCandidate) ([]types.ReviewCandidate, Stats) {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	idx, stats := d.Keep(texts)
	out := make([]types.ReviewCandidate, len(idx))
	for i, k := range idx {
		out[i] = candidates[k]
	}
	return out, stats
}

var folder = cases.Fold()

// Normalize applies NFKC, case folding and whitespace collapsing
func Normalize(text string) string {
	folded := folder.String(norm.NFKC.String(text))
	return strings.Join(strings.Fields(folded), " ")
}

// Tokenize splits normalized text into words, dropping punctuation
func Tokenize(normalized string) []string {
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
