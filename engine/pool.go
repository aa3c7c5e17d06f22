package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/use-agent/farescout/models"
)

// PoolConfig holds configuration for the page pool.
type PoolConfig struct {
	// Size is the fixed number of pages that may exist at once.
	Size int // default: 3

	// AcquireTimeout bounds how long Acquire waits for a free page.
	AcquireTimeout time.Duration // default: 20s

	// Retirement thresholds, see page_health.go.
	MaxErrScore float64       // default: 3.0
	MaxUses     int           // default: 50
	MaxAge      time.Duration // default: 50m
}

func (c *PoolConfig) defaults() {
	if c.Size < 1 {
		c.Size = 1
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 20 * time.Second
	}
	if c.MaxErrScore <= 0 {
		c.MaxErrScore = 3.0
	}
	if c.MaxUses <= 0 {
		c.MaxUses = 50
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 50 * time.Minute
	}
}

// PageFactory opens a new page.
type PageFactory[P any] func(ctx context.Context) (P, error)

// PageDestroyer closes a page. It must tolerate pages that already crashed.
type PageDestroyer[P any] func(P)

// HealthCheck reports whether a released page can be handed out again.
type HealthCheck[P any] func(P) bool

// Pool is a fixed-size pool of pages. Every page is either idle or held by
// exactly one ScopedPage; a slot semaphore caps holders at Size, and waiters
// queue on it in arrival order until AcquireTimeout.
//
// Pages that fail the health check, were marked broken, or hit a retirement
// threshold are destroyed on release. Replacements are created lazily by the
// next Acquire that finds no idle page.
type Pool[P any] struct {
	cfg       PoolConfig
	factory   PageFactory[P]
	destroyer PageDestroyer[P]
	healthy   HealthCheck[P]

	slots  chan struct{}
	idle   chan *PageHandle[P]
	nextID atomic.Int64

	live    atomic.Int32 // pages that exist (idle + held)
	active  atomic.Int32 // pages currently checked out
	waiting atomic.Int32 // callers blocked in Acquire

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool. No pages are opened until the first Acquire or Warm.
// healthy may be nil, in which case only the retirement thresholds apply.
func NewPool[P any](cfg PoolConfig, factory PageFactory[P], destroyer PageDestroyer[P], healthy HealthCheck[P]) *Pool[P] {
	cfg.defaults()
	return &Pool[P]{
		cfg:       cfg,
		factory:   factory,
		destroyer: destroyer,
		healthy:   healthy,
		slots:     make(chan struct{}, cfg.Size),
		idle:      make(chan *PageHandle[P], cfg.Size),
	}
}

// Warm pre-opens up to n pages so the first searches skip page creation.
func (p *Pool[P]) Warm(ctx context.Context, n int) {
	if n > p.cfg.Size {
		n = p.cfg.Size
	}
	pages := make([]*ScopedPage[P], 0, n)
	for i := 0; i < n; i++ {
		sp, err := p.Acquire(ctx)
		if err != nil {
			slog.Warn("pool: failed to pre-create page", "error", err)
			break
		}
		pages = append(pages, sp)
	}
	for _, sp := range pages {
		sp.Release()
	}
}

// Acquire blocks until a page is free, ctx is done, or AcquireTimeout
// elapses. The returned ScopedPage must be released; prefer With.
func (p *Pool[P]) Acquire(ctx context.Context) (*ScopedPage[P], error) {
	if p.isClosed() {
		return nil, models.NewFareError(models.ErrCodeBrowserCrash, "page pool is closed", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, models.NewFareError(models.ErrCodeDeadlineExceeded, "canceled before acquiring a page", err)
	}

	p.waiting.Add(1)
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	select {
	case p.slots <- struct{}{}:
		p.waiting.Add(-1)
		timer.Stop()
	case <-ctx.Done():
		p.waiting.Add(-1)
		timer.Stop()
		return nil, models.NewFareError(models.ErrCodeDeadlineExceeded, "canceled while waiting for a page", ctx.Err())
	case <-timer.C:
		p.waiting.Add(-1)
		return nil, models.NewFareError(models.ErrCodePoolExhausted,
			fmt.Sprintf("no page became available within %s", p.cfg.AcquireTimeout), nil)
	}

	h, err := p.take(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	p.active.Add(1)
	return &ScopedPage[P]{pool: p, handle: h}, nil
}

// With acquires a page, runs fn on it and releases the page on every exit
// path, including panics. A page whose fn returned a crash-class error or
// panicked is discarded instead of being reused.
func (p *Pool[P]) With(ctx context.Context, fn func(ctx context.Context, page P) error) error {
	sp, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	finished := false
	defer func() {
		if !finished {
			sp.MarkBroken()
		}
		sp.Release()
	}()

	err = fn(ctx, sp.Page())
	finished = true
	if err != nil {
		sp.MarkFailed()
		switch models.CodeOf(err) {
		case models.ErrCodeBrowserCrash, models.ErrCodeNavigation:
			sp.MarkBroken()
		}
	}
	return err
}

// take returns an idle page or opens a new one. The caller holds a slot.
func (p *Pool[P]) take(ctx context.Context) (*PageHandle[P], error) {
	select {
	case h := <-p.idle:
		return h, nil
	default:
	}

	page, err := p.factory(ctx)
	if err != nil {
		return nil, models.NewFareError(models.ErrCodeBrowserCrash, "failed to open page", err)
	}
	h := newPageHandle(p.nextID.Add(1), page)
	p.live.Add(1)
	slog.Debug("pool: opened page", "id", h.ID, "live", p.live.Load())
	return h, nil
}

// release returns a page to the pool or destroys it, then frees the slot.
func (p *Pool[P]) release(h *PageHandle[P], failed, broken bool) {
	defer func() { <-p.slots }()
	p.active.Add(-1)

	if failed {
		h.RecordFailure()
	} else {
		h.RecordSuccess()
	}

	if broken || h.shouldRetire(p.cfg) || (p.healthy != nil && !p.healthy(h.Page)) {
		slog.Debug("pool: retiring page", "id", h.ID, "broken", broken,
			"errScore", h.errScore, "useCount", h.useCount)
		p.discard(h)
		return
	}

	p.mu.Lock()
	if !p.closed {
		p.idle <- h
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.discard(h)
}

func (p *Pool[P]) discard(h *PageHandle[P]) {
	p.live.Add(-1)
	if p.destroyer != nil {
		p.destroyer(h.Page)
	}
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool[P]) Stats() models.PoolStats {
	return models.PoolStats{
		MaxPages:    p.cfg.Size,
		LivePages:   int(p.live.Load()),
		ActivePages: int(p.active.Load()),
		Waiting:     int(p.waiting.Load()),
	}
}

// Size returns the configured pool capacity.
func (p *Pool[P]) Size() int { return p.cfg.Size }

// Close destroys idle pages. Pages still checked out are destroyed when
// released, and further Acquire calls fail.
func (p *Pool[P]) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case h := <-p.idle:
			p.discard(h)
		default:
			return
		}
	}
}

func (p *Pool[P]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ScopedPage is a pool-issued handle to one page, valid until Release.
type ScopedPage[P any] struct {
	pool   *Pool[P]
	handle *PageHandle[P]

	once   sync.Once
	failed atomic.Bool
	broken atomic.Bool
}

// Page returns the underlying page.
func (s *ScopedPage[P]) Page() P { return s.handle.Page }

// ID identifies the underlying page for logging and tests.
func (s *ScopedPage[P]) ID() int64 { return s.handle.ID }

// MarkFailed counts this use against the page's health score.
func (s *ScopedPage[P]) MarkFailed() { s.failed.Store(true) }

// MarkBroken makes Release destroy the page instead of reusing it.
func (s *ScopedPage[P]) MarkBroken() { s.broken.Store(true) }

// Release returns the page to the pool. Calling it more than once is a no-op.
func (s *ScopedPage[P]) Release() {
	s.once.Do(func() {
		s.pool.release(s.handle, s.failed.Load(), s.broken.Load())
	})
}
