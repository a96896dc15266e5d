// pkg/types/types.go
package types

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Source identifies which kind of origin a review came from
type Source string

const (
	SourceStore            Source = "store"
	SourceCommunity        Source = "community"
	SourceShoppingComments Source = "shopping-comments"
)

// ValidSources returns all supported sources
func ValidSources() []Source {
	return []Source{SourceStore, SourceCommunity, SourceShoppingComments}
}

// IsValid checks if the source is a supported value
func (s Source) IsValid() bool {
	for _, valid := range ValidSources() {
		if s == valid {
			return true
		}
	}
	return false
}

// DefaultSimilarity returns the near-duplicate threshold used for the source
func (s Source) DefaultSimilarity() float64 {
	if s == SourceShoppingComments {
		return 0.95
	}
	return 0.90
}

// JobState represents the lifecycle state of a review-acquisition job
type JobState string

const (
	StatePending  JobState = "PENDING"
	StateStarted  JobState = "STARTED"
	StateProgress JobState = "PROGRESS"
	StateSuccess  JobState = "SUCCESS"
	StateFailure  JobState = "FAILURE"
)

// ValidStates returns all job states
func ValidStates() []JobState {
	return []JobState{StatePending, StateStarted, StateProgress, StateSuccess, StateFailure}
}

// IsValid checks if the state is a known value
func (s JobState) IsValid() bool {
	for _, valid := range ValidStates() {
		if s == valid {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed
func (s JobState) IsTerminal() bool {
	return s == StateSuccess || s == StateFailure
}

var transitions = map[JobState][]JobState{
	StatePending:  {StateStarted, StateFailure},
	StateStarted:  {StateProgress, StateSuccess, StateFailure},
	StateProgress: {StateProgress, StateSuccess, StateFailure},
}

// CanTransition reports whether moving from s to next is legal
func (s JobState) CanTransition(next JobState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Text length bounds for a surfaced review, counted in runes
const (
	MinReviewTextLength = 10
	MaxReviewTextLength = 3000
)

// ReviewCandidate is an unvalidated text fragment suspected of being a review
type ReviewCandidate struct {
	Text         string   `json:"text"`
	SourceURL    string   `json:"source_url"`
	ReviewerName string   `json:"reviewer_name,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	Date         string   `json:"date,omitempty"`
	Title        string   `json:"title,omitempty"`
	Store        string   `json:"store,omitempty"`
	// Origin names the sub-source, e.g. "reddit" or a forum host.
	Origin string `json:"origin,omitempty"`
}

// NormalizedReview is a validated, structured review surfaced to callers
type NormalizedReview struct {
	ReviewerName string   `json:"reviewer_name,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	Date         string   `json:"date,omitempty"`
	Title        string   `json:"title,omitempty"`
	Text         string   `json:"text"`
	Source       Source   `json:"source"`
	Confidence   float64  `json:"confidence"`
	Store        string   `json:"store,omitempty"`
	Origin       string   `json:"origin,omitempty"`
	URL          string   `json:"url,omitempty"`
}

// HasValidText reports whether the text length is within the surfaced bounds
func (r NormalizedReview) HasValidText() bool {
	n := utf8.RuneCountInString(r.Text)
	return n >= MinReviewTextLength && n <= MaxReviewTextLength
}

// Sentiment is the overall tone of a source's reviews
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentMixed    Sentiment = "mixed"
	SentimentNegative Sentiment = "negative"
)

// VerifiedPatterns lists recurring positive and negative observations
type VerifiedPatterns struct {
	Positive []string `json:"positive"`
	Negative []string `json:"negative"`
}

// SourceSummary is derived once per completed job from all accepted reviews
type SourceSummary struct {
	AverageRating    float64          `json:"average_rating"`
	OverallSentiment Sentiment        `json:"overall_sentiment"`
	CommonPraises    []string         `json:"common_praises"`
	CommonComplaints []string         `json:"common_complaints"`
	VerifiedPatterns VerifiedPatterns `json:"verified_patterns"`
	TrustScore       *float64         `json:"trust_score,omitempty"`
	// Degraded is set when the summary was computed locally because the model was unavailable.
	Degraded bool `json:"degraded,omitempty"`
}

// Verdict is the validator's decision for one candidate in a batch
type Verdict struct {
	Index        int      `json:"index"`
	IsReview     bool     `json:"is_review"`
	Confidence   float64  `json:"confidence"`
	Reason       string   `json:"reason,omitempty"`
	ReviewerName string   `json:"reviewer_name,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	Date         string   `json:"date,omitempty"`
	Title        string   `json:"title,omitempty"`
	Text         string   `json:"text,omitempty"`
}

// JobRequest describes one review-acquisition request
type JobRequest struct {
	Source      Source   `json:"source"`
	ProductName string   `json:"product_name"`
	Brand       string   `json:"brand,omitempty"`
	URLs        []string `json:"urls,omitempty"`
	ShoppingURL string   `json:"shopping_url,omitempty"`
}

// Validate checks the request against the locator rules of its source
func (r JobRequest) Validate() error {
	if !r.Source.IsValid() {
		return fmt.Errorf("unsupported source %q", r.Source)
	}
	if strings.TrimSpace(r.ProductName) == "" {
		return fmt.Errorf("product_name is required")
	}

	switch r.Source {
	case SourceStore:
		if len(r.URLs) == 0 {
			return fmt.Errorf("store_urls is required (at least 1 URL)")
		}
		for _, u := range r.URLs {
			if !IsHTTPURL(u) {
				return fmt.Errorf("invalid store URL: %q", u)
			}
		}
	case SourceCommunity:
		for _, u := range r.URLs {
			if !IsHTTPURL(u) {
				return fmt.Errorf("invalid forum URL: %q", u)
			}
		}
	case SourceShoppingComments:
		if r.ShoppingURL == "" {
			return fmt.Errorf("shopping_url is required")
		}
		if !IsShoppingURL(r.ShoppingURL) {
			return fmt.Errorf("shopping_url is not a shopping product page: %q", r.ShoppingURL)
		}
	}
	return nil
}

// IsHTTPURL reports whether raw is an absolute http or https URL with a host
func IsHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsShoppingURL reports whether raw looks like a search-driven shopping product page
func IsShoppingURL(raw string) bool {
	if !IsHTTPURL(raw) {
		return false
	}
	u, _ := url.Parse(raw)
	if !strings.Contains(strings.ToLower(u.Hostname()), "google") {
		return false
	}
	q := u.Query()
	for _, key := range []string{"ibp", "prds", "udm"} {
		if q.Has(key) {
			return true
		}
	}
	return false
}

// JobResult is attached to a SUCCESS job
type JobResult struct {
	Reviews []NormalizedReview `json:"reviews"`
	Summary SourceSummary      `json:"summary"`
	// TotalFound counts accepted reviews before the response cap.
	TotalFound int `json:"total_found"`
	// RawCount counts candidates before validation.
	RawCount int `json:"raw_count"`
}

// JobStatus is the document returned when polling a job
type JobStatus struct {
	JobID   string             `json:"job_id"`
	Status  JobState           `json:"status"`
	Current *int               `json:"current,omitempty"`
	Total   *int               `json:"total,omitempty"`
	Reviews []NormalizedReview `json:"reviews,omitempty"`
	Result  *JobResult         `json:"result,omitempty"`
	Error   string             `json:"error,omitempty"`
}
