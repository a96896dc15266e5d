// internal/scraper/detector.go
package scraper

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	minVisibleChars = 200
	largePageBytes  = 20 << 10
	minVisibleRatio = 0.02
)

// Detection reasons
const (
	ReasonJSWall    = "js_or_cookie_wall"
	ReasonNearEmpty = "near_empty_text"
	ReasonLowRatio  = "low_text_ratio"
	ReasonNoOpinion = "no_opinion_keywords"
)

// Detection is the outcome of the JS-requirement heuristics
type Detection struct {
	Required     bool     `json:"required"`
	Reasons      []string `json:"reasons,omitempty"`
	VisibleChars int      `json:"visible_chars"`
	Bytes        int      `json:"bytes"`
}

// DetectJSRequirement decides whether raw HTML probably needs a browser render.
// Any one heuristic firing is enough.
func DetectJSRequirement(html string) Detection {
	d := Detection{Bytes: len(html)}

	if containsAny(strings.ToLower(html), jsWallPhrases) {
		d.Reasons = append(d.Reasons, ReasonJSWall)
	}

	visible := VisibleText(html)
	d.VisibleChars = utf8.RuneCountInString(visible)
	switch {
	case d.VisibleChars < minVisibleChars:
		d.Reasons = append(d.Reasons, ReasonNearEmpty)
	case d.Bytes >= largePageBytes && float64(len(visible))/float64(d.Bytes) < minVisibleRatio:
		d.Reasons = append(d.Reasons, ReasonLowRatio)
	}

	if !HasOpinionKeyword(visible) {
		d.Reasons = append(d.Reasons, ReasonNoOpinion)
	}

	d.Required = len(d.Reasons) > 0
	return d
}

// VisibleText returns the whitespace-collapsed text a reader would see
func VisibleText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript, template, svg").Remove()
	return CollapseWhitespace(doc.Text())
}
