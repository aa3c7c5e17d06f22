// Package search is the orchestrator: it fans one request out to the
// airline adapters and the external fare source, bounds the fan-out in time,
// and merges whatever succeeded into one normalized, ranked result.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/farescout/airline"
	"github.com/use-agent/farescout/engine"
	"github.com/use-agent/farescout/fare"
	"github.com/use-agent/farescout/models"
	"github.com/use-agent/farescout/scraper"
)

// FareSource is a non-browser channel returning offers for a whole request.
type FareSource interface {
	Fetch(ctx context.Context, req *models.SearchRequest) ([]models.RawFareOffer, error)
}

// Config holds the orchestrator's timing and pacing settings.
type Config struct {
	// TaskTimeout bounds one attempt of one task, counted from the moment
	// the task holds a page.
	TaskTimeout time.Duration // default: 45s

	// Deadline bounds the whole search.
	Deadline time.Duration // default: 90s

	// AirlineRPS and AirlineBurst pace page loads per airline. 0 disables.
	AirlineRPS   float64
	AirlineBurst int

	// MilesRate values one mile when ranking redemptions against cash.
	MilesRate float64 // default: 0.4
}

func (c *Config) defaults() {
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 45 * time.Second
	}
	if c.Deadline <= 0 {
		c.Deadline = 90 * time.Second
	}
	if c.MilesRate <= 0 {
		c.MilesRate = 0.4
	}
}

// cashAttempts is how many times a cash task may run: once, plus one retry
// after a navigation timeout.
const cashAttempts = 2

// Option configures an Engine.
type Option func(*Engine)

// WithSource adds the external fare source task to every search.
func WithSource(src FareSource) Option {
	return func(e *Engine) { e.source = src }
}

// WithAccounts sets the configured mileage accounts. Request-supplied
// accounts take precedence per airline.
func WithAccounts(accounts models.Accounts) Option {
	return func(e *Engine) { e.accounts = accounts }
}

// Engine runs searches. All of its state is passed in at construction, so
// independent engines can share a process. It is safe for concurrent use.
type Engine struct {
	pool       *engine.Pool[scraper.Page]
	registry   *airline.Registry
	normalizer *fare.Normalizer
	source     FareSource
	accounts   models.Accounts
	limiter    *airlineLimiter
	cfg        Config
}

// New creates an Engine.
func New(pool *engine.Pool[scraper.Page], registry *airline.Registry, normalizer *fare.Normalizer, cfg Config, opts ...Option) *Engine {
	cfg.defaults()
	e := &Engine{
		pool:       pool,
		registry:   registry,
		normalizer: normalizer,
		cfg:        cfg,
		limiter:    newAirlineLimiter(cfg.AirlineRPS, cfg.AirlineBurst),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MilesRate returns the per-mile valuation rate used for ranking.
func (e *Engine) MilesRate() float64 { return e.cfg.MilesRate }

// task is one independent unit of work in a search.
type task struct {
	kind    models.TaskKind
	airline models.AirlineCode
	adapter airline.Adapter
	account *models.MileageAccount
}

// outcome is the tagged result of one task: offers on success, err on failure.
type outcome struct {
	index    int
	offers   []models.RawFareOffer
	err      error
	attempts int
}

// plan lists the tasks for a validated request: a cash task per requested
// airline with an adapter, a miles task where the adapter supports award
// search and an account exists, and one external task if a source is set.
// Airlines without an adapter are left to the external source.
func (e *Engine) plan(req *models.SearchRequest) []task {
	codes := req.Airlines
	if len(codes) == 0 {
		codes = e.registry.Codes()
	}
	accounts := e.accounts.Merge(req.MileageAccounts)

	var tasks []task
	for _, code := range codes {
		a, ok := e.registry.Get(code)
		if !ok {
			continue
		}
		tasks = append(tasks, task{kind: models.TaskCash, airline: code, adapter: a})
		if acct := accounts[code]; acct != nil && airline.SupportsMiles(a) {
			tasks = append(tasks, task{kind: models.TaskMiles, airline: code, adapter: a, account: acct})
		}
	}
	if e.source != nil {
		tasks = append(tasks, task{kind: models.TaskExternal})
	}
	return tasks
}

// Search runs one search. A malformed request is rejected with an
// INVALID_INPUT error before any task starts. Otherwise the result always
// comes back, carrying the records from tasks that succeeded and one
// failure entry per task that did not, no later than the configured
// deadline plus scheduling slack.
func (e *Engine) Search(ctx context.Context, in *models.SearchRequest) (*models.SearchResult, error) {
	req := *in
	req.Airlines = append([]models.AirlineCode(nil), in.Airlines...)
	req.Defaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	tasks := e.plan(&req)
	legs := airline.Legs(&req)

	searchCtx, cancel := context.WithTimeout(ctx, e.cfg.Deadline)
	defer cancel()

	// Buffered so tasks still running past the deadline never block.
	outcomes := make(chan outcome, len(tasks))
	for i, t := range tasks {
		go func(i int, t task) {
			outcomes <- e.run(searchCtx, i, t, &req, legs)
		}(i, t)
	}

	settled := make([]*outcome, len(tasks))
	received := 0
collect:
	for received < len(tasks) {
		select {
		case o := <-outcomes:
			settled[o.index] = &o
			received++
		case <-searchCtx.Done():
			break collect
		}
	}
	// Pick up anything that landed while the deadline fired.
	for drained := false; !drained; {
		select {
		case o := <-outcomes:
			if settled[o.index] == nil {
				settled[o.index] = &o
			}
		default:
			drained = true
		}
	}

	result := e.assemble(&req, tasks, settled, ctx.Err())
	result.StartedAt = start
	result.ElapsedMs = time.Since(start).Milliseconds()

	slog.Info("search finished",
		"origin", req.Origin,
		"destination", req.Destination,
		"tasks", result.Tasks.Scheduled,
		"failed", result.Tasks.Failed,
		"outbound", len(result.Outbound),
		"inbound", len(result.Inbound),
		"elapsedMs", result.ElapsedMs,
	)
	return result, nil
}

// assemble builds the result from settled outcomes. A nil entry is a task
// that was still running when the search ended.
func (e *Engine) assemble(req *models.SearchRequest, tasks []task, settled []*outcome, callerErr error) *models.SearchResult {
	result := &models.SearchResult{
		Request:  *req,
		Failures: make([]models.TaskFailure, 0),
		Tasks:    models.TaskStats{Scheduled: len(tasks)},
	}

	var offers []models.RawFareOffer
	for i, t := range tasks {
		o := settled[i]
		if o == nil {
			reason := fmt.Sprintf("still running at the %s search deadline", e.cfg.Deadline)
			if callerErr != nil {
				reason = "search canceled by caller"
			}
			result.Failures = append(result.Failures, models.TaskFailure{
				Airline: t.airline, Kind: t.kind, Code: models.ErrCodeDeadlineExceeded, Reason: reason,
			})
			continue
		}
		if o.err != nil {
			result.Failures = append(result.Failures, models.TaskFailure{
				Airline:  t.airline,
				Kind:     t.kind,
				Code:     models.CodeOf(o.err),
				Reason:   reasonOf(o.err),
				Attempts: o.attempts,
			})
			continue
		}
		offers = append(offers, o.offers...)
	}
	result.Tasks.Failed = len(result.Failures)
	result.Tasks.Succeeded = result.Tasks.Scheduled - result.Tasks.Failed

	records := e.normalizer.Normalize(offers)
	result.Outbound, result.Inbound = fare.Split(records)
	fare.Sort(result.Outbound, e.cfg.MilesRate)
	fare.Sort(result.Inbound, e.cfg.MilesRate)
	return result
}

// run executes one task to completion. It never panics: an adapter panic
// becomes an INTERNAL_ERROR outcome after the pool has discarded the page.
func (e *Engine) run(ctx context.Context, index int, t task, req *models.SearchRequest, legs []airline.Query) (out outcome) {
	out.index = index
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panicked", "airline", t.airline, "kind", t.kind, "panic", r)
			out.offers = nil
			out.err = models.NewAirlineError(t.airline, models.ErrCodeInternal, fmt.Sprintf("task panicked: %v", r), nil)
		}
	}()

	if t.kind == models.TaskExternal {
		out.attempts = 1
		out.offers, out.err = e.fetchExternal(ctx, req)
		out = cutOff(ctx, t, out)
		e.logOutcome(t, out)
		return out
	}

	maxAttempts := 1
	if t.kind == models.TaskCash {
		maxAttempts = cashAttempts
	}
	for out.attempts < maxAttempts {
		out.attempts++
		out.offers, out.err = e.attempt(ctx, t, legs)
		if out.err == nil || !models.Retryable(out.err) || ctx.Err() != nil {
			break
		}
		if out.attempts < maxAttempts {
			slog.Warn("retrying after navigation timeout", "airline", t.airline, "attempt", out.attempts, "error", out.err)
		}
	}
	out = cutOff(ctx, t, out)
	e.logOutcome(t, out)
	return out
}

// cutOff records a failure that ended because the search itself was over as
// DEADLINE_EXCEEDED, whatever the adapter reported while unwinding.
func cutOff(ctx context.Context, t task, out outcome) outcome {
	if out.err == nil || ctx.Err() == nil || models.CodeOf(out.err) == models.ErrCodeDeadlineExceeded {
		return out
	}
	reason := "canceled at the search deadline"
	if errors.Is(ctx.Err(), context.Canceled) {
		reason = "search canceled by caller"
	}
	out.err = models.NewAirlineError(t.airline, models.ErrCodeDeadlineExceeded, reason, out.err)
	return out
}

func (e *Engine) fetchExternal(ctx context.Context, req *models.SearchRequest) ([]models.RawFareOffer, error) {
	taskCtx, cancel := context.WithTimeout(ctx, e.cfg.TaskTimeout)
	defer cancel()
	return e.source.Fetch(taskCtx, req)
}

// attempt runs every leg of a browser task on one page. The task timeout
// starts once the page is held; waiting for a page is bounded by the
// pool's own acquire timeout.
func (e *Engine) attempt(ctx context.Context, t task, legs []airline.Query) ([]models.RawFareOffer, error) {
	if err := e.limiter.wait(ctx, t.airline); err != nil {
		return nil, err
	}

	var offers []models.RawFareOffer
	err := e.pool.With(ctx, func(ctx context.Context, page scraper.Page) error {
		taskCtx, cancel := context.WithTimeout(ctx, e.cfg.TaskTimeout)
		defer cancel()

		for _, leg := range legs {
			got, err := e.searchLeg(taskCtx, t, page, leg)
			if errors.Is(err, models.ErrNoResults) {
				slog.Debug("no flights", "airline", t.airline, "kind", t.kind, "direction", leg.Direction)
				continue
			}
			if err != nil {
				return err
			}
			offers = append(offers, got...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return offers, nil
}

func (e *Engine) searchLeg(ctx context.Context, t task, page scraper.Page, leg airline.Query) ([]models.RawFareOffer, error) {
	if t.kind == models.TaskMiles {
		ms, ok := t.adapter.(airline.MilesSearcher)
		if !ok {
			return nil, models.NewAirlineError(t.airline, models.ErrCodeInternal, "adapter has no award search", nil)
		}
		return ms.SearchMiles(ctx, page, leg, t.account)
	}
	return t.adapter.SearchCash(ctx, page, leg)
}

func (e *Engine) logOutcome(t task, o outcome) {
	if o.err != nil {
		slog.Warn("task failed",
			"airline", t.airline,
			"kind", t.kind,
			"code", models.CodeOf(o.err),
			"attempts", o.attempts,
			"error", o.err,
		)
		return
	}
	slog.Debug("task succeeded", "airline", t.airline, "kind", t.kind, "offers", len(o.offers), "attempts", o.attempts)
}

// reasonOf is the human-readable part of an error, without the code prefix
// already carried in TaskFailure.Code.
func reasonOf(err error) string {
	var fe *models.FareError
	if errors.As(err, &fe) {
		if fe.Err != nil {
			return fmt.Sprintf("%s: %v", fe.Message, fe.Err)
		}
		return fe.Message
	}
	return err.Error()
}
