// pkg/api/types.go
package api

import (
	"github.com/valpere/ReviewScrapexter/pkg/types"
)

// Re-export the document types shared with the service
type (
	JobStatus        = types.JobStatus
	JobResult        = types.JobResult
	JobState         = types.JobState
	NormalizedReview = types.NormalizedReview
	SourceSummary    = types.SourceSummary
	VerifiedPatterns = types.VerifiedPatterns
	Source           = types.Source
)

const (
	StatePending  = types.StatePending
	StateStarted  = types.StateStarted
	StateProgress = types.StateProgress
	StateSuccess  = types.StateSuccess
	StateFailure  = types.StateFailure
)

// StoreRequest submits retailer product pages
type StoreRequest struct {
	ProductName string   `json:"product_name"`
	StoreURLs   []string `json:"store_urls"`
}

// JobRequest converts the body into the service request
func (r StoreRequest) JobRequest() types.JobRequest {
	return types.JobRequest{Source: types.SourceStore, ProductName: r.ProductName, URLs: r.StoreURLs}
}

// CommunityRequest submits a forum search, optionally seeded with thread URLs
type CommunityRequest struct {
	ProductName string   `json:"product_name"`
	Brand       string   `json:"brand,omitempty"`
	ForumURLs   []string `json:"forum_urls,omitempty"`
}

func (r CommunityRequest) JobRequest() types.JobRequest {
	return types.JobRequest{Source: types.SourceCommunity, ProductName: r.ProductName, Brand: r.Brand, URLs: r.ForumURLs}
}

// ShoppingRequest submits a shopping-comments page
type ShoppingRequest struct {
	ProductName string `json:"product_name"`
	ShoppingURL string `json:"shopping_url"`
}

func (r ShoppingRequest) JobRequest() types.JobRequest {
	return types.JobRequest{Source: types.SourceShoppingComments, ProductName: r.ProductName, ShoppingURL: r.ShoppingURL}
}

// SubmitResponse acknowledges an accepted job
type SubmitResponse struct {
	JobID  string   `json:"job_id"`
	Status JobState `json:"status"`
}

// RevokeResponse acknowledges a revocation; the job reaches FAILURE asynchronously
type RevokeResponse struct {
	JobID   string `json:"job_id"`
	Revoked bool   `json:"revoked"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	JobID string `json:"job_id,omitempty"`
}
