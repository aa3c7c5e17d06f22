package search

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/use-agent/farescout/models"
)

// airlineLimiter paces page loads per airline website so a burst of
// searches does not trip a carrier's bot protection. Limiters are created
// lazily on first use.
type airlineLimiter struct {
	mu       sync.RWMutex
	limiters map[models.AirlineCode]*rate.Limiter
	rps      float64
	burst    int
}

// newAirlineLimiter creates a limiter set. rps <= 0 disables pacing.
func newAirlineLimiter(rps float64, burst int) *airlineLimiter {
	if burst < 1 {
		burst = 1
	}
	return &airlineLimiter{
		limiters: make(map[models.AirlineCode]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *airlineLimiter) get(code models.AirlineCode) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[code]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.limiters[code]; ok {
		return lim
	}
	limit := rate.Inf
	if l.rps > 0 {
		limit = rate.Limit(l.rps)
	}
	lim = rate.NewLimiter(limit, l.burst)
	l.limiters[code] = lim
	return lim
}

// wait blocks until the airline's site may be hit again or ctx is done.
func (l *airlineLimiter) wait(ctx context.Context, code models.AirlineCode) error {
	if err := l.get(code).Wait(ctx); err != nil {
		return models.NewAirlineError(code, models.ErrCodeDeadlineExceeded, "waiting for airline rate limit", err)
	}
	return nil
}
