package search

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/farescout/airline"
	"github.com/use-agent/farescout/engine"
	"github.com/use-agent/farescout/fare"
	"github.com/use-agent/farescout/models"
	"github.com/use-agent/farescout/scraper"
)

// stubPage satisfies scraper.Page; adapters under test never touch it
// except to detect double use.
type stubPage struct {
	inUse atomic.Bool
}

func (p *stubPage) Navigate(ctx context.Context, url string) error           { return nil }
func (p *stubPage) WaitVisible(ctx context.Context, selector string) error   { return nil }
func (p *stubPage) Has(ctx context.Context, selector string) (bool, error)   { return false, nil }
func (p *stubPage) Fill(ctx context.Context, selector, value string) error   { return nil }
func (p *stubPage) Click(ctx context.Context, selector string) error         { return nil }
func (p *stubPage) Select(ctx context.Context, selector, value string) error { return nil }
func (p *stubPage) Eval(ctx context.Context, js string) (string, error)      { return "", nil }
func (p *stubPage) HTML(ctx context.Context) (string, error)                 { return "", nil }

type searchFunc func(ctx context.Context, page scraper.Page, q airline.Query) ([]models.RawFareOffer, error)

// fakeAdapter is a cash-only adapter whose behavior is scripted per test.
type fakeAdapter struct {
	code  models.AirlineCode
	cash  searchFunc
	calls atomic.Int32
}

func (a *fakeAdapter) Code() models.AirlineCode { return a.code }

func (a *fakeAdapter) SearchCash(ctx context.Context, page scraper.Page, q airline.Query) ([]models.RawFareOffer, error) {
	a.calls.Add(1)
	return a.cash(ctx, page, q)
}

// fakeMilesAdapter adds award search.
type fakeMilesAdapter struct {
	*fakeAdapter
	miles      searchFunc
	milesCalls atomic.Int32
	accounts   sync.Map
}

func (a *fakeMilesAdapter) SearchMiles(ctx context.Context, page scraper.Page, q airline.Query, acct *models.MileageAccount) ([]models.RawFareOffer, error) {
	a.milesCalls.Add(1)
	a.accounts.Store(acct.MemberID, true)
	return a.miles(ctx, page, q)
}

func cashOffer(code models.AirlineCode, price string) searchFunc {
	return func(ctx context.Context, page scraper.Page, q airline.Query) ([]models.RawFareOffer, error) {
		return []models.RawFareOffer{{
			Airline:       code,
			Direction:     q.Direction,
			FlightNumbers: []string{string(code) + "1"},
			PriceText:     price,
			Source:        models.SourceBrowser,
		}}, nil
	}
}

func milesOffer(code models.AirlineCode, miles string) searchFunc {
	return func(ctx context.Context, page scraper.Page, q airline.Query) ([]models.RawFareOffer, error) {
		return []models.RawFareOffer{{
			Airline:   code,
			Direction: q.Direction,
			MilesText: miles,
			TaxesText: "NT$3,200",
			Source:    models.SourceBrowser,
		}}, nil
	}
}

func failWith(code string) searchFunc {
	return func(ctx context.Context, page scraper.Page, q airline.Query) ([]models.RawFareOffer, error) {
		return nil, models.NewFareError(code, "scripted failure", nil)
	}
}

// stallUntilDone honors ctx the way a real page does.
func stallUntilDone(ctx context.Context, page scraper.Page, q airline.Query) ([]models.RawFareOffer, error) {
	<-ctx.Done()
	return nil, models.NewFareError(models.ErrCodeNavigationTimeout, "page did not respond", ctx.Err())
}

func newCash(code models.AirlineCode, fn searchFunc) *fakeAdapter {
	return &fakeAdapter{code: code, cash: fn}
}

func newMiles(code models.AirlineCode, cash, miles searchFunc) *fakeMilesAdapter {
	return &fakeMilesAdapter{fakeAdapter: newCash(code, cash), miles: miles}
}

type fakeSource struct {
	calls  atomic.Int32
	offers []models.RawFareOffer
	err    error
}

func (s *fakeSource) Fetch(ctx context.Context, req *models.SearchRequest) ([]models.RawFareOffer, error) {
	s.calls.Add(1)
	return s.offers, s.err
}

type testRig struct {
	pool    *engine.Pool[scraper.Page]
	opened  atomic.Int32
	doubled atomic.Bool
}

func newRig(t *testing.T, size int) *testRig {
	t.Helper()
	return newRigWithAcquire(t, size, 5*time.Second)
}

func newRigWithAcquire(t *testing.T, size int, acquire time.Duration) *testRig {
	t.Helper()
	rig := &testRig{}
	rig.pool = engine.NewPool[scraper.Page](
		engine.PoolConfig{Size: size, AcquireTimeout: acquire},
		func(ctx context.Context) (scraper.Page, error) {
			rig.opened.Add(1)
			return &stubPage{}, nil
		},
		nil, nil,
	)
	t.Cleanup(rig.pool.Close)
	return rig
}

func (r *testRig) engine(cfg Config, opts []Option, adapters ...airline.Adapter) *Engine {
	n := fare.NewNormalizer("TWD", map[string]float64{"USD": 32})
	return New(r.pool, airline.NewRegistry(adapters...), n, cfg, opts...)
}

func oneWay(airlines ...models.AirlineCode) *models.SearchRequest {
	return &models.SearchRequest{
		Origin:        "TPE",
		Destination:   "NRT",
		DepartureDate: "2026-04-01",
		Airlines:      airlines,
	}
}

func fastConfig() Config {
	return Config{TaskTimeout: 2 * time.Second, Deadline: 5 * time.Second}
}

func TestSearch_RejectsSameOriginBeforeScheduling(t *testing.T) {
	rig := newRig(t, 2)
	ci := newCash(models.ChinaAirlines, cashOffer(models.ChinaAirlines, "NT$1"))
	src := &fakeSource{}
	e := rig.engine(fastConfig(), []Option{WithSource(src)}, ci)

	req := oneWay()
	req.Destination = "tpe"
	res, err := e.Search(context.Background(), req)

	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, models.ErrCodeInvalidInput, models.CodeOf(err))
	assert.Zero(t, ci.calls.Load())
	assert.Zero(t, src.calls.Load())
	assert.Zero(t, rig.opened.Load())
}

func TestSearch_RejectsReturnBeforeDeparture(t *testing.T) {
	rig := newRig(t, 1)
	e := rig.engine(fastConfig(), nil)

	req := oneWay()
	req.ReturnDate = "2026-03-30"
	_, err := e.Search(context.Background(), req)
	assert.Equal(t, models.ErrCodeInvalidInput, models.CodeOf(err))

	req.ReturnDate = "2026-02-30"
	_, err = e.Search(context.Background(), req)
	assert.Equal(t, models.ErrCodeInvalidInput, models.CodeOf(err))
}

func TestPlan_MilesOnlyWhereAccountExists(t *testing.T) {
	rig := newRig(t, 2)
	ci := newMiles(models.ChinaAirlines, cashOffer(models.ChinaAirlines, "NT$18,000"), milesOffer(models.ChinaAirlines, "50,000 miles"))
	br := newMiles(models.EVAAir, cashOffer(models.EVAAir, "NT$17,000"), milesOffer(models.EVAAir, "45,000 miles"))
	jx := newMiles(models.Starlux, cashOffer(models.Starlux, "NT$19,000"), milesOffer(models.Starlux, "40,000 miles"))

	accounts := models.Accounts{
		models.ChinaAirlines: {Airline: models.ChinaAirlines, MemberID: "ci-member", Credential: "x"},
		models.EVAAir:        {Airline: models.EVAAir, MemberID: "br-member", Credential: "y"},
	}
	e := rig.engine(fastConfig(), []Option{WithAccounts(accounts)}, ci, br, jx)

	req := oneWay(models.ChinaAirlines, models.EVAAir, models.Starlux)
	req.Defaults()
	tasks := e.plan(req)

	var cash, miles int
	for _, tk := range tasks {
		switch tk.kind {
		case models.TaskCash:
			cash++
		case models.TaskMiles:
			miles++
			assert.NotEqual(t, models.Starlux, tk.airline)
		}
	}
	assert.Equal(t, 3, cash)
	assert.Equal(t, 2, miles)

	res, err := e.Search(context.Background(), oneWay(models.ChinaAirlines, models.EVAAir, models.Starlux))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Tasks.Scheduled)
	assert.Equal(t, 5, res.Tasks.Succeeded)
	assert.Empty(t, res.Failures)
	assert.Len(t, res.Outbound, 5)
	assert.Zero(t, jx.milesCalls.Load())
}

func TestPlan_RequestAccountsOverrideConfigured(t *testing.T) {
	rig := newRig(t, 2)
	ci := newMiles(models.ChinaAirlines, cashOffer(models.ChinaAirlines, "NT$1"), milesOffer(models.ChinaAirlines, "1000"))
	jx := newMiles(models.Starlux, cashOffer(models.Starlux, "NT$1"), milesOffer(models.Starlux, "1000"))
	configured := models.Accounts{
		models.ChinaAirlines: {Airline: models.ChinaAirlines, MemberID: "configured", Credential: "x"},
	}
	e := rig.engine(fastConfig(), []Option{WithAccounts(configured)}, ci, jx)

	req := oneWay(models.ChinaAirlines, models.Starlux)
	req.MileageAccounts = models.Accounts{
		models.ChinaAirlines: {Airline: models.ChinaAirlines, MemberID: "override", Credential: "z"},
		models.Starlux:       {Airline: models.Starlux, MemberID: "jx-request", Credential: "w"},
	}
	res, err := e.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Tasks.Scheduled)

	_, usedOverride := ci.accounts.Load("override")
	_, usedConfigured := ci.accounts.Load("configured")
	assert.True(t, usedOverride)
	assert.False(t, usedConfigured)
	assert.Equal(t, int32(1), jx.milesCalls.Load())

	// The configured set is untouched by the request.
	assert.Equal(t, "configured", configured[models.ChinaAirlines].MemberID)
	assert.NotContains(t, configured, models.Starlux)
}

func TestPlan_LowerCaseAccountKeys(t *testing.T) {
	rig := newRig(t, 2)
	ci := newMiles(models.ChinaAirlines, cashOffer(models.ChinaAirlines, "NT$1"), milesOffer(models.ChinaAirlines, "1000"))
	e := rig.engine(fastConfig(), nil, ci)

	req := oneWay(models.ChinaAirlines)
	req.MileageAccounts = models.Accounts{
		"ci": {Airline: models.ChinaAirlines, MemberID: "lower", Credential: "z"},
	}
	res, err := e.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tasks.Scheduled)
	assert.Equal(t, int32(1), ci.milesCalls.Load())
	assert.Contains(t, req.MileageAccounts, models.AirlineCode("ci"), "caller's map is not rewritten")
}

func TestSearch_PartialFailureKeepsSiblings(t *testing.T) {
	rig := newRig(t, 2)
	ci := newCash(models.ChinaAirlines, cashOffer(models.ChinaAirlines, "NT$18,000"))
	br := newCash(models.EVAAir, failWith(models.ErrCodeLayoutChanged))
	jx := newCash(models.Starlux, cashOffer(models.Starlux, "NT$16,000"))
	cx := newCash(models.CathayPacific, failWith(models.ErrCodeBrowserCrash))
	e := rig.engine(fastConfig(), nil, ci, br, jx, cx)

	res, err := e.Search(context.Background(), oneWay())
	require.NoError(t, err)

	assert.Equal(t, models.TaskStats{Scheduled: 4, Succeeded: 2, Failed: 2}, res.Tasks)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, models.EVAAir, res.Failures[0].Airline)
	assert.Equal(t, models.ErrCodeLayoutChanged, res.Failures[0].Code)
	assert.Equal(t, 1, res.Failures[0].Attempts)
	assert.Equal(t, models.CathayPacific, res.Failures[1].Airline)
	assert.Equal(t, models.ErrCodeBrowserCrash, res.Failures[1].Code)

	require.Len(t, res.Outbound, 2)
	assert.Equal(t, models.Starlux, res.Outbound[0].Airline, "sorted by price")
	assert.Equal(t, models.ChinaAirlines, res.Outbound[1].Airline)
	assert.Empty(t, res.Inbound)
	assert.ElementsMatch(t, []models.AirlineCode{models.EVAAir, models.CathayPacific}, res.FailedAirlines())
}

func TestSearch_AllTasksFail(t *testing.T) {
	rig := newRig(t, 2)
	e := rig.engine(fastConfig(), []Option{WithSource(&fakeSource{err: models.ErrSourceUnavailable})},
		newCash(models.ChinaAirlines, failWith(models.ErrCodeLayoutChanged)),
	)

	res, err := e.Search(context.Background(), oneWay())
	require.NoError(t, err)
	assert.Empty(t, res.Outbound)
	assert.Len(t, res.Failures, 2)
	assert.Equal(t, models.TaskExternal, res.Failures[1].Kind)
	assert.Equal(t, models.ErrCodeSourceUnavailable, res.Failures[1].Code)
}

func TestSearch_CashRetriedOnceOnNavigationTimeout(t *testing.T) {
	rig := newRig(t, 1)
	ci := newCash(models.ChinaAirlines, failWith(models.ErrCodeNavigationTimeout))
	e := rig.engine(fastConfig(), nil, ci)

	res, err := e.Search(context.Background(), oneWay())
	require.NoError(t, err)
	assert.Equal(t, int32(2), ci.calls.Load())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, models.ErrCodeNavigationTimeout, res.Failures[0].Code)
	assert.Equal(t, 2, res.Failures[0].Attempts)
}

func TestSearch_RetrySucceeds(t *testing.T) {
	rig := newRig(t, 1)
	var n atomic.Int32
	ci := newCash(models.ChinaAirlines, func(ctx context.Context, page scraper.Page, q airline.Query) ([]models.RawFareOffer, error) {
		if n.Add(1) == 1 {
			return nil, models.NewFareError(models.ErrCodeNavigationTimeout, "slow", nil)
		}
		return cashOffer(models.ChinaAirlines, "NT$9,000")(ctx, page, q)
	})
	e := rig.engine(fastConfig(), nil, ci)

	res, err := e.Search(context.Background(), oneWay())
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	require.Len(t, res.Outbound, 1)
	assert.Equal(t, 9000.0, res.Outbound[0].Cash.Amount)
}

func TestSearch_NoRetryOnOtherFailures(t *testing.T) {
	for _, code := range []string{
		models.ErrCodeLayoutChanged,
		models.ErrCodeNavigation,
		models.ErrCodeBrowserCrash,
		models.ErrCodeAuthFailed,
	} {
		t.Run(code, func(t *testing.T) {
			rig := newRig(t, 1)
			ci := newCash(models.ChinaAirlines, failWith(code))
			e := rig.engine(fastConfig(), nil, ci)

			res, err := e.Search(context.Background(), oneWay())
			require.NoError(t, err)
			assert.Equal(t, int32(1), ci.calls.Load())
			require.Len(t, res.Failures, 1)
			assert.Equal(t, code, res.Failures[0].Code)
		})
	}
}

func TestSearch_MilesNotRetried(t *testing.T) {
	rig := newRig(t, 1)
	ci := newMiles(models.ChinaAirlines, cashOffer(models.ChinaAirlines, "NT$1"), failWith(models.ErrCodeNavigationTimeout))
	e := rig.engine(fastConfig(), []Option{WithAccounts(models.Accounts{
		models.ChinaAirlines: {Airline: models.ChinaAirlines, MemberID: "m", Credential: "c"},
	})}, ci)

	res, err := e.Search(context.Background(), oneWay())
	require.NoError(t, err)
	assert.Equal(t, int32(1), ci.milesCalls.Load())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, models.TaskMiles, res.Failures[0].Kind)
	assert.Len(t, res.Outbound, 1, "cash half still succeeds")
}

func TestSearch_AuthFailureOnlyFailsMilesHalf(t *testing.T) {
	rig := newRig(t, 2)
	ci := newMiles(models.ChinaAirlines, cashOffer(models.ChinaAirlines, "NT$18,000"), failWith(models.ErrCodeAuthFailed))
	e := rig.engine(fastConfig(), []Option{WithAccounts(models.Accounts{
		models.ChinaAirlines: {Airline: models.ChinaAirlines, MemberID: "m", Credential: "bad"},
	})}, ci)

	res, err := e.Search(context.Background(), oneWay())
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, models.ErrCodeAuthFailed, res.Failures[0].Code)
	assert.Equal(t, models.TaskMiles, res.Failures[0].Kind)
	require.Len(t, res.Outbound, 1)
	assert.True(t, res.Outbound[0].IsCash())
}

func TestSearch_TaskTimeoutCancelsStalledTask(t *testing.T) {
	rig := newRig(t, 1)
	ci := newCash(models.ChinaAirlines, stallUntilDone)
	jx := newCash(models.Starlux, cashOffer(models.Starlux, "NT$5,000"))
	e := rig.engine(Config{TaskTimeout: 50 * time.Millisecond, Deadline: 5 * time.Second}, nil, ci, jx)

	start := time.Now()
	res, err := e.Search(context.Background(), oneWay())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, int32(2), ci.calls.Load(), "timeout is retried once")
	require.Len(t, res.Failures, 1)
	assert.Equal(t, models.ErrCodeNavigationTimeout, res.Failures[0].Code)
	assert.Len(t, res.Outbound, 1)
	assert.Equal(t, 0, rig.pool.Stats().ActivePages, "stalled task released its page")
}

func TestSearch_GlobalDeadline(t *testing.T) {
	rig := newRig(t, 2)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	// Ignores ctx entirely, like a wedged adapter.
	wedged := newCash(models.ChinaAirlines, func(ctx context.Context, page scraper.Page, q airline.Query) ([]models.RawFareOffer, error) {
		<-release
		return nil, nil
	})
	fast := newCash(models.EVAAir, cashOffer(models.EVAAir, "NT$7,000"))
	e := rig.engine(Config{TaskTimeout: 10 * time.Second, Deadline: 100 * time.Millisecond}, nil, wedged, fast)

	start := time.Now()
	res, err := e.Search(context.Background(), oneWay())
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Less(t, elapsed, 600*time.Millisecond)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, models.ChinaAirlines, res.Failures[0].Airline)
	assert.Equal(t, models.ErrCodeDeadlineExceeded, res.Failures[0].Code)
	require.Len(t, res.Outbound, 1)
	assert.Equal(t, models.EVAAir, res.Outbound[0].Airline)
}

func TestSearch_CallerCancellation(t *testing.T) {
	rig := newRig(t, 1)
	e := rig.engine(fastConfig(), nil, newCash(models.ChinaAirlines, stallUntilDone))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := e.Search(ctx, oneWay())
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, models.ErrCodeDeadlineExceeded, res.Failures[0].Code)
}

func TestSearch_CallerCancelReason(t *testing.T) {
	rig := newRig(t, 1)
	e := rig.engine(fastConfig(), nil, newCash(models.ChinaAirlines, stallUntilDone))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	res, err := e.Search(ctx, oneWay())
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, models.ErrCodeDeadlineExceeded, res.Failures[0].Code)
	assert.Contains(t, res.Failures[0].Reason, "canceled by caller")
}

func TestSearch_CooperativeStallAtDeadline(t *testing.T) {
	rig := newRig(t, 1)
	ci := newCash(models.ChinaAirlines, stallUntilDone)
	e := rig.engine(Config{TaskTimeout: 10 * time.Second, Deadline: 20 * time.Millisecond}, nil, ci)

	for i := 0; i < 20; i++ {
		res, err := e.Search(context.Background(), oneWay())
		require.NoError(t, err)
		require.Len(t, res.Failures, 1)
		assert.Equal(t, models.ErrCodeDeadlineExceeded, res.Failures[0].Code, "run %d", i)
	}
	assert.Eventually(t, func() bool { return rig.pool.Stats().ActivePages == 0 }, time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, ci.calls.Load(), int32(20), "a deadline cut is never retried")
}

func TestSearch_PoolExhaustedSkipsOnlyStarvedTask(t *testing.T) {
	rig := newRigWithAcquire(t, 1, 50*time.Millisecond)
	hold := func(code models.AirlineCode) searchFunc {
		offer := cashOffer(code, "NT$6,000")
		return func(ctx context.Context, page scraper.Page, q airline.Query) ([]models.RawFareOffer, error) {
			time.Sleep(300 * time.Millisecond)
			return offer(ctx, page, q)
		}
	}
	ci := newCash(models.ChinaAirlines, hold(models.ChinaAirlines))
	br := newCash(models.EVAAir, hold(models.EVAAir))
	src := &fakeSource{offers: []models.RawFareOffer{
		{Airline: models.Scoot, Direction: models.Outbound, PriceText: "USD 140", Source: models.SourceAPI},
	}}
	e := rig.engine(fastConfig(), []Option{WithSource(src)}, ci, br)

	res, err := e.Search(context.Background(), oneWay(models.ChinaAirlines, models.EVAAir, models.Scoot))
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	starved := res.Failures[0]
	assert.Equal(t, models.ErrCodePoolExhausted, starved.Code)
	assert.Equal(t, models.TaskCash, starved.Kind)
	assert.Equal(t, 1, starved.Attempts, "pool exhaustion is not retried")
	assert.Equal(t, int32(1), ci.calls.Load()+br.calls.Load(), "the starved adapter never ran")

	require.Len(t, res.Outbound, 2)
	airlines := []models.AirlineCode{res.Outbound[0].Airline, res.Outbound[1].Airline}
	assert.Contains(t, airlines, models.Scoot)
	assert.NotContains(t, airlines, starved.Airline)
	assert.Equal(t, 2, res.Tasks.Succeeded)
}

func TestSearch_PoolBoundsConcurrency(t *testing.T) {
	rig := newRig(t, 2)
	var (
		concurrent atomic.Int32
		maxSeen    atomic.Int32
	)
	work := func(code models.AirlineCode) searchFunc {
		return func(ctx context.Context, page scraper.Page, q airline.Query) ([]models.RawFareOffer, error) {
			sp := page.(*stubPage)
			if !sp.inUse.CompareAndSwap(false, true) {
				rig.doubled.Store(true)
			}
			defer sp.inUse.Store(false)

			n := concurrent.Add(1)
			defer concurrent.Add(-1)
			for {
				old := maxSeen.Load()
				if n <= old || maxSeen.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			return cashOffer(code, "NT$1,000")(ctx, page, q)
		}
	}

	codes := []models.AirlineCode{
		models.ChinaAirlines, models.EVAAir, models.Starlux, models.CathayPacific, models.TigerairTaiwan,
	}
	var adapters []airline.Adapter
	for _, c := range codes {
		adapters = append(adapters, newCash(c, work(c)))
	}
	e := rig.engine(fastConfig(), nil, adapters...)

	res, err := e.Search(context.Background(), oneWay())
	require.NoError(t, err)

	assert.Empty(t, res.Failures)
	assert.Len(t, res.Outbound, 5)
	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
	assert.False(t, rig.doubled.Load(), "a page was used by two tasks at once")
	assert.LessOrEqual(t, rig.opened.Load(), int32(2))
}

func TestSearch_ExternalSource(t *testing.T) {
	rig := newRig(t, 1)
	src := &fakeSource{offers: []models.RawFareOffer{
		{Airline: models.Scoot, Direction: models.Outbound, PriceText: "USD 140", Source: models.SourceAPI},
		{Airline: models.Peach, Direction: models.Inbound, PriceText: "garbage", Source: models.SourceAPI},
	}}
	ci := newCash(models.ChinaAirlines, cashOffer(models.ChinaAirlines, "NT$4,000"))
	e := rig.engine(fastConfig(), []Option{WithSource(src)}, ci)

	req := oneWay(models.ChinaAirlines, models.Scoot)
	res, err := e.Search(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Tasks.Scheduled, "Scoot has no adapter, only the external task covers it")
	assert.Empty(t, res.Failures)
	require.Len(t, res.Outbound, 2, "unparseable offer is dropped")
	assert.Equal(t, models.ChinaAirlines, res.Outbound[0].Airline)
	assert.Equal(t, models.Scoot, res.Outbound[1].Airline)
	assert.Equal(t, models.SourceAPI, res.Outbound[1].Source)
	assert.Equal(t, 4480.0, res.Outbound[1].Cash.Amount)
}

func TestSearch_ExternalRateLimitedNotRetried(t *testing.T) {
	rig := newRig(t, 1)
	src := &fakeSource{err: models.NewFareError(models.ErrCodeRateLimited, "slow down", nil)}
	e := rig.engine(fastConfig(), []Option{WithSource(src)})

	res, err := e.Search(context.Background(), oneWay())
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())
	require.Len(t, res.Failures, 1)
	assert.Equal(t, models.ErrCodeRateLimited, res.Failures[0].Code)
	assert.Equal(t, models.TaskExternal, res.Failures[0].Kind)
	assert.Empty(t, res.Failures[0].Airline)
}

func TestSearch_NoResultsIsNotAFailure(t *testing.T) {
	rig := newRig(t, 1)
	ci := newCash(models.ChinaAirlines, failWith(models.ErrCodeNoResults))
	e := rig.engine(fastConfig(), nil, ci)

	res, err := e.Search(context.Background(), oneWay())
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	assert.Empty(t, res.Outbound)
	assert.Equal(t, 1, res.Tasks.Succeeded)
}

func TestSearch_RoundTripCoversBothLegs(t *testing.T) {
	rig := newRig(t, 1)
	var dirs sync.Map
	ci := newCash(models.ChinaAirlines, func(ctx context.Context, page scraper.Page, q airline.Query) ([]models.RawFareOffer, error) {
		dirs.Store(q.Direction, q.Origin)
		return cashOffer(models.ChinaAirlines, "NT$8,000")(ctx, page, q)
	})
	e := rig.engine(fastConfig(), nil, ci)

	req := oneWay()
	req.ReturnDate = "2026-04-08"
	res, err := e.Search(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int32(2), ci.calls.Load())
	assert.Len(t, res.Outbound, 1)
	assert.Len(t, res.Inbound, 1)
	origin, _ := dirs.Load(models.Inbound)
	assert.Equal(t, "NRT", origin)
}

func TestSearch_AdapterPanicIsContained(t *testing.T) {
	rig := newRig(t, 1)
	bad := newCash(models.ChinaAirlines, func(ctx context.Context, page scraper.Page, q airline.Query) ([]models.RawFareOffer, error) {
		panic("selector table out of range")
	})
	good := newCash(models.EVAAir, cashOffer(models.EVAAir, "NT$6,000"))
	e := rig.engine(fastConfig(), nil, bad, good)

	res, err := e.Search(context.Background(), oneWay())
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, models.ErrCodeInternal, res.Failures[0].Code)
	assert.Len(t, res.Outbound, 1)
	assert.Equal(t, 0, rig.pool.Stats().ActivePages)
}

func TestSearch_DoesNotMutateRequest(t *testing.T) {
	rig := newRig(t, 1)
	e := rig.engine(fastConfig(), nil, newCash(models.ChinaAirlines, cashOffer(models.ChinaAirlines, "NT$1")))

	req := &models.SearchRequest{Origin: "tpe", Destination: "nrt", DepartureDate: "2026-04-01",
		Airlines: []models.AirlineCode{"ci"}}
	res, err := e.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "tpe", req.Origin)
	assert.Equal(t, models.AirlineCode("ci"), req.Airlines[0])
	assert.Equal(t, "TPE", res.Request.Origin)
	assert.Equal(t, 1, res.Request.Passengers)
}

func TestAirlineLimiter_Paces(t *testing.T) {
	l := newAirlineLimiter(20, 1)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.wait(ctx, models.ChinaAirlines))
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	// Other airlines have their own budget.
	start = time.Now()
	require.NoError(t, l.wait(ctx, models.EVAAir))
	assert.Less(t, time.Since(start), 20*time.Millisecond)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Equal(t, models.ErrCodeDeadlineExceeded, models.CodeOf(l.wait(canceled, models.ChinaAirlines)))
}
