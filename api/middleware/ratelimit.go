package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/use-agent/farescout/config"
	"github.com/use-agent/farescout/models"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// keyLimiters is a token bucket per caller identity.
type keyLimiters struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
}

func (k *keyLimiters) get(identity string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	entry, ok := k.limiters[identity]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.limiters[identity] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (k *keyLimiters) evictIdle(cutoff time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for id, entry := range k.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(k.limiters, id)
		}
	}
}

// RateLimit returns per-identity (API key or IP) token-bucket rate limiting
// middleware. A rejected request carries Retry-After in whole seconds.
//
// Entries unused for 1 hour are evicted every 5 minutes.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	kl := &keyLimiters{limiters: make(map[string]*limiterEntry), limit: limit, burst: burst}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			kl.evictIdle(time.Now().Add(-time.Hour))
		}
	}()

	return func(c *gin.Context) {
		// Prefer API key as identity (set by auth middleware); fall back to IP.
		identity := c.GetString(ContextKeyAPIKey)
		if identity == "" {
			identity = c.ClientIP()
		}

		lim := kl.get(identity)
		r := lim.Reserve()
		if delay := r.Delay(); delay > 0 {
			r.Cancel()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, models.SearchResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeRateLimited,
					Message: "rate limit exceeded, please slow down",
				},
			})
			return
		}

		c.Next()
	}
}
