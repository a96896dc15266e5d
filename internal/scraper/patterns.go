// internal/scraper/patterns.go
package scraper

import (
	"regexp"
	"strings"
)

// NoisePatterns mark boilerplate blocks. Matching is a case-insensitive substring test.
var NoisePatterns = []string{
	"cookie policy",
	"cookie settings",
	"cookie preferences",
	"we use cookies",
	"accept cookies",
	"accept all cookies",
	"privacy policy",
	"privacy notice",
	"terms of service",
	"terms of use",
	"terms and conditions",
	"all rights reserved",
	"subscribe to our newsletter",
	"sign up for our newsletter",
	"subscribe now",
	"sign in to",
	"log in to",
	"create an account",
	"add to cart",
	"add to basket",
	"skip to content",
	"skip to main content",
	"back to top",
	"sidebar",
	"main navigation",
	"customers also viewed",
	"related products",
	"you may also like",
	"sponsored content",
	"advertisement",
	"enable javascript",
	"this comment has been deleted",
	"this post has been removed",
}

// OpinionKeywords indicate first-person evaluative language
var OpinionKeywords = []string{
	"love", "loved", "loving", "hate", "hated",
	"disappointed", "disappointing", "disappointment",
	"recommend", "recommended", "would recommend",
	"worth it", "worth the money", "not worth",
	"great", "excellent", "amazing", "awesome", "fantastic",
	"terrible", "awful", "horrible", "poor", "bad",
	"best", "worst", "impressed", "satisfied", "unhappy", "happy with",
	"regret", "returned it", "broke", "stopped working", "works well", "works great",
	"comfortable", "quality", "stars",
	"i bought", "i own", "i've been using", "my experience",
}

// boilerplateMarkers flag whole containers by id or class token
var boilerplateMarkers = []string{
	"cookie", "cookies", "banner", "sidebar", "breadcrumb", "breadcrumbs", "menu", "newsletter",
	"signature", "related", "advert", "ads", "modal",
}

// reviewMarkupSelector matches review containers that boilerplate stripping must keep
const reviewMarkupSelector = "[itemprop=review], [itemprop=reviewBody], [data-hook=review], [data-hook=review-body], " +
	".review, .review-item, .product-review, .customer-review, .review-text, .review-body"

// jsWallPhrases appear on pages that only work after script execution
var jsWallPhrases = []string{
	"enable javascript",
	"javascript is required",
	"javascript is disabled",
	"requires javascript",
	"turn on javascript",
	"please enable cookies",
	"cookies required",
	"cookies must be enabled",
	"checking your browser",
}

var opinionRegexp = buildWordRegexp(OpinionKeywords)

func buildWordRegexp(words []string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// HasOpinionKeyword reports whether text contains an opinion keyword as a whole word
func HasOpinionKeyword(text string) bool {
	return opinionRegexp.MatchString(text)
}

func containsAny(lower string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
