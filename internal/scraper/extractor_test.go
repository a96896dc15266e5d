// internal/scraper/extractor_test.go
package scraper

import (
	"reflect"
	"strings"
	"testing"
)

const mixedPage = `<html><body>
<header><p>Welcome to Acme Store, the best place for kitchen appliances online today.</p></header>
<nav><ul><li>Home</li><li>Kettles and toasters and blenders and more</li></ul></nav>
<div class="cookie-banner"><p>We use cookies to improve your experience. Read our cookie policy for details.</p></div>
<main>
  <div class="review"><p>I love this kettle, it boils fast and looks great on the counter next to my toaster.</p></div>
  <div class="review"><p>Terrible lid design. It leaks steam onto my hand whenever I pour a cup of tea.</p></div>
  <div class="review"><p>I love this kettle, it boils fast and looks great on the counter next to my toaster.</p></div>
  <div class="review"><p>Great kettle, would recommend it.</p></div>
  <div class="review"><p>Ships in two days from warehouse.</p></div>
  <p>By using this site you agree to our Terms of Service and acknowledge our practices.</p>
  <p>Too short.</p>
</main>
<aside><p>Customers also viewed: the Acme Toaster Deluxe with four slots and a bagel mode.</p></aside>
<footer><p>Copyright 2024 Acme Store. All rights reserved. Contact us for support anytime.</p></footer>
<script>var reviews = "I love this kettle so much it is amazing and great";</script>
</body></html>`

func TestFilter_Extract(t *testing.T) {
	filter := NewFilter(DefaultFilterConfig())
	blocks := filter.Extract(mixedPage)

	want := []string{
		"I love this kettle, it boils fast and looks great on the counter next to my toaster.",
		"Terrible lid design. It leaks steam onto my hand whenever I pour a cup of tea.",
		"Great kettle, would recommend it.",
	}
	if !reflect.DeepEqual(blocks, want) {
		t.Fatalf("unexpected blocks:\n got: %q\nwant: %q", blocks, want)
	}
}

func TestFilter_Extract_Deterministic(t *testing.T) {
	filter := NewFilter(DefaultFilterConfig())
	first := filter.Extract(mixedPage)
	for i := 0; i < 5; i++ {
		if got := filter.Extract(mixedPage); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %q vs %q", i, got, first)
		}
	}
}

func TestFilter_Extract_NeverEmitsNoise(t *testing.T) {
	filter := NewFilter(DefaultFilterConfig())
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, pattern := range NoisePatterns {
		b.WriteString("<p>I really love this product but please read the " + pattern + " before you buy anything here.</p>")
	}
	b.WriteString("</body></html>")

	for _, block := range filter.Extract(b.String()) {
		lower := strings.ToLower(block)
		for _, pattern := range NoisePatterns {
			if strings.Contains(lower, pattern) {
				t.Errorf("block %q contains noise pattern %q", block, pattern)
			}
		}
	}
}

func TestFilter_ExtractSelection_LeavesSourceIntact(t *testing.T) {
	doc := mustDoc(t, mixedPage)
	before := doc.Find("nav").Length()

	NewFilter(DefaultFilterConfig()).ExtractSelection(doc.Selection)

	if doc.Find("nav").Length() != before {
		t.Error("ExtractSelection must not modify the caller's document")
	}
}

const plainReviews = `<p>I love this kettle, it boils fast and looks great on the counter next to my toaster.</p>
<p>Terrible lid design. It leaks steam onto my hand whenever I pour a cup of tea.</p>`

func TestStripBoilerplate_KeepsLayoutWrappers(t *testing.T) {
	filter := NewFilter(DefaultFilterConfig())
	want := filter.Extract("<html><body>" + plainReviews + "</body></html>")
	if len(want) != 2 {
		t.Fatalf("plain page gave %d blocks, want 2", len(want))
	}

	wrappers := map[string]string{
		"layout class":        `<div class="page layout-with-sidebar">%s</div>`,
		"menu offset id":      `<div id="main-menu-offset">%s</div>`,
		"qualified wrapper":   `<div class="with-sidebar">%s<div class="sidebar"><p>Top sellers</p></div></div>`,
		"review inside modal": `<div class="modal"><div class="review">%s</div></div>` + strings.Repeat("<p>Free delivery today.</p>", 20),
	}
	for name, wrapper := range wrappers {
		t.Run(name, func(t *testing.T) {
			page := "<html><body>" + strings.Replace(wrapper, "%s", plainReviews, 1) + "</body></html>"
			if got := filter.Extract(page); !reflect.DeepEqual(got, want) {
				t.Errorf("got %q, want %q", got, want)
			}
		})
	}
}

func TestStripBoilerplate_RemovesTaggedContainers(t *testing.T) {
	decoy := "<p>Customers love this toaster and would recommend it to anyone who asks about it.</p>"
	tagged := []string{
		`<div class="sidebar">%s</div>`,
		`<div class="site-menu">%s</div>`,
		`<div id="cookie_banner">%s</div>`,
		`<div class="box related-products">%s</div>`,
	}
	filter := NewFilter(DefaultFilterConfig())
	for _, wrapper := range tagged {
		page := "<html><body>" + plainReviews + strings.Replace(wrapper, "%s", decoy, 1) + "</body></html>"
		for _, block := range filter.Extract(page) {
			if strings.Contains(block, "toaster and would recommend") {
				t.Errorf("%s: tagged container leaked %q", wrapper, block)
			}
		}
	}
}

func TestFilter_Accept(t *testing.T) {
	filter := NewFilter(DefaultFilterConfig())

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"long review", "The kettle arrived on time and has worked every day for three months without trouble.", true},
		{"short with opinion", "Great kettle, would recommend it.", true},
		{"short without opinion", "Ships in two days from warehouse.", false},
		{"opinion below relaxed minimum", "Love it, five.", false},
		{"too few words", "Absolutely-fantastic-product-would-buy-again-without-any-hesitation-whatsoever", false},
		{"noise", "Please review our privacy policy before continuing with your purchase today.", false},
		{"noise case insensitive", "By continuing you accept our COOKIE POLICY and all of the rest of the terms.", false},
		{"too long", strings.Repeat("word ", 700), false},
		{"empty", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := filter.Accept(tt.text); got != tt.want {
				t.Errorf("Accept(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestFilter_ExtraNoise(t *testing.T) {
	filter := NewFilter(FilterConfig{ExtraNoise: []string{"Limited Offer"}})
	if filter.Accept("This limited offer ends soon so grab your discounted kettle while stocks last.") {
		t.Error("configured extra noise should reject the block")
	}
}

func TestHasOpinionKeyword(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"I love it", true},
		{"Would RECOMMEND to friends", true},
		{"It was worth it in the end", true},
		{"Wearing gloves while cooking", false},
		{"Dimensions: 20 x 15 cm", false},
	}
	for _, tt := range tests {
		if got := HasOpinionKeyword(tt.text); got != tt.want {
			t.Errorf("HasOpinionKeyword(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
