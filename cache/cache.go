// Package cache stores finished search results so repeated queries within
// a caller-chosen max age skip the browser fan-out.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/farescout/models"
)

// Cache is implemented by Memory, Redis and NoOp.
type Cache interface {
	// Get returns a stored result younger than maxAge. maxAge <= 0 never hits.
	Get(ctx context.Context, key string, maxAge time.Duration) (*models.SearchResult, bool)
	Set(ctx context.Context, key string, result *models.SearchResult) error
	Close() error
}

// Key derives the cache key for a request. It covers everything that
// changes the answer: route, dates, party, cabin, airline set, and which
// airlines have mileage accounts. Credentials are never part of the key.
func Key(req *models.SearchRequest) string {
	airlines := make([]string, len(req.Airlines))
	for i, a := range req.Airlines {
		airlines[i] = strings.ToUpper(string(a))
	}
	slices.Sort(airlines)

	var withAccounts []string
	for code, acct := range req.MileageAccounts {
		if acct != nil {
			withAccounts = append(withAccounts, strings.ToUpper(string(code)))
		}
	}
	slices.Sort(withAccounts)
	withAccounts = slices.Compact(withAccounts)

	keyData := struct {
		Origin        string
		Destination   string
		DepartureDate string
		ReturnDate    string
		Passengers    int
		Cabin         string
		Airlines      []string
		Accounts      []string
	}{
		Origin:        strings.ToUpper(req.Origin),
		Destination:   strings.ToUpper(req.Destination),
		DepartureDate: req.DepartureDate,
		ReturnDate:    req.ReturnDate,
		Passengers:    max(req.Passengers, 1),
		Cabin:         string(req.Cabin),
		Airlines:      airlines,
		Accounts:      withAccounts,
	}
	if keyData.Cabin == "" {
		keyData.Cabin = string(models.CabinEconomy)
	}

	data, _ := json.Marshal(keyData)
	hash := sha256.Sum256(data)
	return "fares:" + hex.EncodeToString(hash[:])
}

// entry holds a cached result with its creation timestamp.
type entry struct {
	result    *models.SearchResult
	createdAt time.Time
}

// Memory is an in-process cache. It is safe for concurrent use.
type Memory struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates a cache holding at most maxEntries results. Entries
// older than ttl are evicted by a background sweep every ttl/2.
func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	if maxEntries < 1 {
		maxEntries = 1
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	c := &Memory{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		stop:       make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

func (c *Memory) Get(_ context.Context, key string, maxAge time.Duration) (*models.SearchResult, bool) {
	if maxAge <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	age := time.Since(e.createdAt)
	if age > maxAge || age > c.ttl {
		return nil, false
	}
	return e.result, true
}

// Set stores a result. At capacity, one arbitrary entry is evicted.
func (c *Memory) Set(_ context.Context, key string, result *models.SearchResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}
	c.store[key] = &entry{result: result, createdAt: time.Now()}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the background sweep.
func (c *Memory) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *Memory) cleanupLoop() {
	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Memory) evictExpired() {
	cutoff := time.Now().Add(-c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
}

// NoOp never stores anything.
type NoOp struct{}

func NewNoOp() NoOp { return NoOp{} }

func (NoOp) Get(context.Context, string, time.Duration) (*models.SearchResult, bool) {
	return nil, false
}

func (NoOp) Set(context.Context, string, *models.SearchResult) error { return nil }

func (NoOp) Close() error { return nil }
