// internal/scraper/budget.go
package scraper

import "sync/atomic"

// RenderBudget caps browser escalations for one job. It is shared by every
// fetch the job performs, concurrent ones included.
type RenderBudget struct {
	limit int32
	used  atomic.Int32
}

// NewRenderBudget allows at most limit renders; limit <= 0 allows none
func NewRenderBudget(limit int) *RenderBudget {
	if limit < 0 {
		limit = 0
	}
	return &RenderBudget{limit: int32(limit)}
}

// TryAcquire takes one render slot if any remain
func (b *RenderBudget) TryAcquire() bool {
	for {
		used := b.used.Load()
		if used >= b.limit {
			return false
		}
		if b.used.CompareAndSwap(used, used+1) {
			return true
		}
	}
}

// Used returns the number of renders taken
func (b *RenderBudget) Used() int { return int(b.used.Load()) }

// Limit returns the configured cap
func (b *RenderBudget) Limit() int { return int(b.limit) }
