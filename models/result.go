package models

import "time"

// TaskKind identifies the unit of work a failure belongs to.
type TaskKind string

const (
	TaskCash     TaskKind = "cash"
	TaskMiles    TaskKind = "miles"
	TaskExternal TaskKind = "external"
)

// TaskFailure records one task that did not produce data and why.
type TaskFailure struct {
	// Airline is empty for the external source task.
	Airline  AirlineCode `json:"airline,omitempty"`
	Kind     TaskKind    `json:"kind"`
	Code     string      `json:"code"`
	Reason   string      `json:"reason"`
	Attempts int         `json:"attempts"`
}

// TaskStats counts the tasks scheduled for one search.
type TaskStats struct {
	Scheduled int `json:"scheduled"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// SearchResult is built by the search engine for exactly one request and
// handed to the caller. The engine keeps no reference to it.
type SearchResult struct {
	Request   SearchRequest `json:"request"`
	Outbound  []FareRecord  `json:"outbound"`
	Inbound   []FareRecord  `json:"inbound"`
	Failures  []TaskFailure `json:"failures"`
	Tasks     TaskStats     `json:"tasks"`
	StartedAt time.Time     `json:"started_at"`
	ElapsedMs int64         `json:"elapsed_ms"`
}

// FailedAirlines returns the distinct airlines with at least one failed task.
func (r *SearchResult) FailedAirlines() []AirlineCode {
	seen := make(map[AirlineCode]struct{})
	var out []AirlineCode
	for _, f := range r.Failures {
		if f.Airline == "" {
			continue
		}
		if _, ok := seen[f.Airline]; ok {
			continue
		}
		seen[f.Airline] = struct{}{}
		out = append(out, f.Airline)
	}
	return out
}
