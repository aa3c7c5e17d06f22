package models

// SearchResponse is the response for POST /api/v1/search.
type SearchResponse struct {
	// Success is false only when the request itself was rejected or the
	// server failed; partial airline failures still report true.
	Success bool `json:"success"`

	// Result carries the fares and per-task failures.
	Result *SearchResult `json:"result,omitempty"`

	// Timing provides duration breakdowns for the operation.
	Timing TimingInfo `json:"timing"`

	// CacheStatus indicates whether the response was served from cache.
	// Values: "hit", "miss", or empty (caching not requested).
	CacheStatus string `json:"cache_status,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// ValuateRequest is the payload for POST /api/v1/valuate.
type ValuateRequest struct {
	Cash  FareRecord `json:"cash" binding:"required"`
	Miles FareRecord `json:"miles" binding:"required"`

	// Rate overrides the configured per-mile valuation rate.
	Rate float64 `json:"rate,omitempty" binding:"omitempty,gt=0"`
}

// ValuateResponse is the response for POST /api/v1/valuate.
type ValuateResponse struct {
	Success bool              `json:"success"`
	Verdict *ValuationVerdict `json:"verdict,omitempty"`
	Error   *ErrorDetail      `json:"error,omitempty"`
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// SearchMs is the time spent in the fan-out (zero on a cache hit).
	SearchMs int64 `json:"search_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status    string    `json:"status"` // "healthy" or "degraded"
	Uptime    string    `json:"uptime"`
	PoolStats PoolStats `json:"pool_stats"`
	Airlines  []string  `json:"airlines"`
	Version   string    `json:"version"`
}

// PoolStats reports the state of the browser page pool.
type PoolStats struct {
	MaxPages    int `json:"max_pages"`
	LivePages   int `json:"live_pages"`
	ActivePages int `json:"active_pages"`
	Waiting     int `json:"waiting"`
}
