// internal/validator/prompts.go
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/valpere/ReviewScrapexter/pkg/types"
)

const verdictSystemPrompt = `You classify text fragments scraped from web pages about a product.
For every fragment decide whether it is a genuine first-person review or owner opinion of the product.
Reject questions, navigation or menu text, cookie and legal notices, product specification listings,
advertising, news, and anything without a first-person opinion.
For accepted fragments extract reviewer_name, rating (0-5, null when absent), date, title and a cleaned text.
Respond with a single JSON object and nothing else:
{"verdicts":[{"index":0,"is_review":true,"confidence":0.0,"reason":"","reviewer_name":null,"rating":null,"date":null,"title":null,"text":null}]}
confidence is a number between 0 and 1. Return exactly one verdict per fragment index.`

const summarySystemPrompt = `You summarize accepted product reviews from one source.
Respond with a single JSON object and nothing else:
{"average_rating":null,"overall_sentiment":"positive|mixed|negative","common_praises":[],"common_complaints":[],
"verified_patterns":{"positive":[],"negative":[]},"trust_score":null}
List 3 to 5 short common praises and 3 to 5 short common complaints, fewer only when the reviews do not support more.
verified_patterns lists observations repeated by at least two reviewers.
trust_score is a number between 0 and 1 estimating how authentic the reviews look; use null when unsure.`

type promptFragment struct {
	Index        int      `json:"index"`
	Text         string   `json:"text"`
	ReviewerName string   `json:"reviewer_name,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	Date         string   `json:"date,omitempty"`
	Title        string   `json:"title,omitempty"`
}

type promptReview struct {
	Rating *float64 `json:"rating,omitempty"`
	Title  string   `json:"title,omitempty"`
	Text   string   `json:"text"`
}

func subjectLine(subject Subject) string {
	product := strings.TrimSpace(subject.Product)
	if product == "" {
		product = "unknown product"
	}
	return fmt.Sprintf("Product: %s\nSource: %s", product, subject.Source)
}

func verdictPrompt(subject Subject, batch []types.ReviewCandidate) (string, error) {
	fragments := make([]promptFragment, len(batch))
	for i, c := range batch {
		fragments[i] = promptFragment{
			Index:        i,
			Text:         truncate(c.Text, types.MaxReviewTextLength),
			ReviewerName: c.ReviewerName,
			Rating:       c.Rating,
			Date:         c.Date,
			Title:        c.Title,
		}
	}
	body, err := json.Marshal(fragments)
	if err != nil {
		return "", fmt.Errorf("marshal fragments: %w", err)
	}
	return fmt.Sprintf("%s\nFragments:\n%s", subjectLine(subject), body), nil
}

func summaryPrompt(subject Subject, reviews []types.NormalizedReview) (string, error) {
	items := make([]promptReview, len(reviews))
	for i, r := range reviews {
		items[i] = promptReview{Rating: r.Rating, Title: r.Title, Text: truncate(r.Text, types.MaxReviewTextLength)}
	}
	body, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal reviews: %w", err)
	}
	return fmt.Sprintf("%s\nReviews:\n%s", subjectLine(subject), body), nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
