package models

// AsyncSearchRequest is the payload for POST /api/v1/search/async.
type AsyncSearchRequest struct {
	SearchRequest

	// WebhookURL receives a "search.completed" event when the job settles.
	WebhookURL string `json:"webhook_url,omitempty" binding:"omitempty,url"`

	// WebhookSecret signs the webhook body (HMAC-SHA256) when set.
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// JobResponse is the immediate response for POST /api/v1/search/async.
type JobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// JobStatusResponse is the response for GET /api/v1/search/:id.
type JobStatusResponse struct {
	ID     string        `json:"id"`
	Status string        `json:"status"`
	Result *SearchResult `json:"result,omitempty"`
	Error  *ErrorDetail  `json:"error,omitempty"`
}

// Job statuses.
const (
	JobProcessing = "processing"
	JobCompleted  = "completed" // every task succeeded
	JobPartial    = "partial"   // some tasks failed
	JobFailed     = "failed"    // every task failed, or the request was rejected
)

// SearchJob tracks an in-progress asynchronous search.
type SearchJob struct {
	ID        string
	Status    string
	Result    *SearchResult
	Error     *ErrorDetail
	CreatedAt int64 // unix timestamp
}
