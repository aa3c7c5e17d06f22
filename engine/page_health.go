package engine

import (
	"math"
	"sync"
	"time"
)

// Health scoring for pooled pages.
//
// Scoring rules:
//   - Success: errScore -= 0.5 (min 0)
//   - Failure: errScore += 1.0
//
// Retirement triggers (any one):
//   - errScore >= MaxErrScore (default 3.0)
//   - useCount >= MaxUses (default 50)
//   - age >= MaxAge (default 50 minutes)
//   - the page was marked broken, or the pool's health check rejects it

// PageHandle wraps one pooled page with health tracking metadata.
type PageHandle[P any] struct {
	ID   int64
	Page P

	errScore float64
	useCount int
	created  time.Time
	mu       sync.Mutex
}

func newPageHandle[P any](id int64, page P) *PageHandle[P] {
	return &PageHandle[P]{
		ID:      id,
		Page:    page,
		created: time.Now(),
	}
}

// RecordSuccess decreases the error score (min 0).
func (h *PageHandle[P]) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.useCount++
	h.errScore = math.Max(0, h.errScore-0.5)
}

// RecordFailure increases the error score.
func (h *PageHandle[P]) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.useCount++
	h.errScore += 1.0
}

// shouldRetire applies the thresholds in cfg.
func (h *PageHandle[P]) shouldRetire(cfg PoolConfig) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.errScore >= cfg.MaxErrScore {
		return true
	}
	if h.useCount >= cfg.MaxUses {
		return true
	}
	return time.Since(h.created) >= cfg.MaxAge
}
