package airline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/farescout/models"
)

// fakePage serves canned HTML. Navigating loads the page registered for the
// URL (by prefix), and clicking a registered selector swaps in a new page,
// which is enough to walk a search form through to its results.
type fakePage struct {
	mu sync.Mutex

	pages   map[string]string
	onClick map[string]string
	navErr  error
	evalOut string

	current   string
	navigated []string
	waited    []string
	filled    map[string]string
	selected  map[string]string
	evals     []string
}

func newFakePage() *fakePage {
	return &fakePage{
		pages:    make(map[string]string),
		onClick:  make(map[string]string),
		filled:   make(map[string]string),
		selected: make(map[string]string),
		evalOut:  "ok",
		current:  "<html><body></body></html>",
	}
}

func (p *fakePage) has(selector string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.current))
	if err != nil {
		return false
	}
	return doc.Find(selector).Length() > 0
}

func (p *fakePage) missing(selector string) error {
	return models.NewFareError(models.ErrCodeLayoutChanged, "element "+selector+" not found", nil)
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.navErr != nil {
		return p.navErr
	}
	p.navigated = append(p.navigated, url)
	p.current = "<html><body></body></html>"
	for prefix, body := range p.pages {
		if strings.HasPrefix(url, prefix) {
			p.current = body
		}
	}
	return nil
}

func (p *fakePage) WaitVisible(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waited = append(p.waited, selector)
	if !p.has(selector) {
		return p.missing(selector)
	}
	return nil
}

func (p *fakePage) Has(ctx context.Context, selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.has(selector), nil
}

func (p *fakePage) Fill(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.has(selector) {
		return p.missing(selector)
	}
	p.filled[selector] = value
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.has(selector) {
		return p.missing(selector)
	}
	if next, ok := p.onClick[selector]; ok {
		p.current = next
	}
	return nil
}

func (p *fakePage) Select(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.has(selector) {
		return p.missing(selector)
	}
	p.selected[selector] = value
	return nil
}

func (p *fakePage) Eval(ctx context.Context, js string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evals = append(p.evals, js)
	return p.evalOut, nil
}

func (p *fakePage) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

const ciForm = `<html><body>
<form>
  <input id="ci-origin"><input id="ci-destination"><input id="ci-depart-date">
  <select id="ci-cabin"></select><select id="ci-adults"></select>
  <button id="ci-search-submit">搜尋</button>
  <button id="ci-award-submit">兌換</button>
</form>
</body></html>`

const ciResults = `<html><body><div class="results">
<div class="flight-result-item">
  <span class="flight-no">CI 100</span>
  <time class="depart-time" datetime="2026-04-01T08:00">08:00</time>
  <time class="arrive-time" datetime="2026-04-01T12:15">12:15</time>
  <span class="stops">直飛</span>
  <div class="fare-price"><span class="amount">NT$18,000</span></div>
  <span class="fare-family">Economy Basic</span>
</div>
<div class="flight-result-item">
  <span class="flight-no">CI 102</span>
  <time class="depart-time" datetime="2026-04-01T13:40">13:40</time>
  <time class="arrive-time" datetime="2026-04-01T20:05">20:05</time>
  <span class="stops">1 轉機</span>
  <div class="fare-price"><span class="amount">NT$15,500</span></div>
</div>
<div class="flight-result-item">
  <span class="flight-no">CI 104</span>
  <div class="fare-price"><span class="amount">售完</span></div>
</div>
</div></body></html>`

const ciEmpty = `<html><body><div class="no-flight-result">查無航班</div></body></html>`

const ciLogin = `<html><body>
<input id="dynasty-id"><input id="dynasty-password" type="password">
<button id="login-submit">登入</button>
</body></html>`

const ciAward = `<html><body>
<div class="award-flight">
  <span class="flight-no">CI 100</span>
  <time class="depart-time" datetime="2026-04-01T08:00">08:00</time>
  <time class="arrive-time" datetime="2026-04-01T12:15">12:15</time>
  <span class="award-miles">50,000 哩</span>
  <span class="award-taxes">NT$3,200</span>
</div>
</body></html>`

func testQuery() Query {
	return Query{
		Origin:      "TPE",
		Destination: "NRT",
		Date:        time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Direction:   models.Outbound,
		Cabin:       models.CabinBusiness,
		Passengers:  2,
	}
}

func chinaAirlinesPage() *fakePage {
	p := newFakePage()
	p.pages["https://www.china-airlines.com/tw/zh/booking/book-flights"] = ciForm
	p.pages["https://www.china-airlines.com/tw/zh/member/award-ticket"] = ciForm
	p.pages["https://www.china-airlines.com/tw/zh/member/login"] = ciLogin
	p.onClick["#ci-search-submit"] = ciResults
	p.onClick["#ci-award-submit"] = ciAward
	p.onClick["#login-submit"] = `<html><body><span class="member-greeting">您好</span></body></html>`
	return p
}

func TestChinaAirlines_SearchCash(t *testing.T) {
	page := chinaAirlinesPage()
	a := newChinaAirlines(nil)

	offers, err := a.SearchCash(context.Background(), page, testQuery())
	require.NoError(t, err)
	require.Len(t, offers, 2, "sold-out row is skipped")

	first := offers[0]
	assert.Equal(t, models.ChinaAirlines, first.Airline)
	assert.Equal(t, models.Outbound, first.Direction)
	assert.Equal(t, []string{"CI100"}, first.FlightNumbers)
	assert.Equal(t, "NT$18,000", first.PriceText)
	assert.Equal(t, "2026-04-01T08:00", first.DepartureText)
	assert.Equal(t, "2026-04-01T12:15", first.ArrivalText)
	assert.Equal(t, 0, first.Stops)
	assert.Equal(t, "Economy Basic", first.FareBasis)
	assert.Equal(t, models.SourceBrowser, first.Source)
	assert.Equal(t, models.CabinBusiness, first.Cabin)
	assert.False(t, first.IsMiles())

	assert.Equal(t, 1, offers[1].Stops)

	assert.Equal(t, "TPE", page.filled["#ci-origin"])
	assert.Equal(t, "NRT", page.filled["#ci-destination"])
	assert.Equal(t, "商務艙", page.selected["#ci-cabin"])
	assert.Equal(t, "2", page.selected["#ci-adults"])
	require.Len(t, page.evals, 1)
	assert.Contains(t, page.evals[0], `"2026/04/01"`)
}

func TestChinaAirlines_NoResults(t *testing.T) {
	page := chinaAirlinesPage()
	page.onClick["#ci-search-submit"] = ciEmpty

	_, err := newChinaAirlines(nil).SearchCash(context.Background(), page, testQuery())
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNoResults))
}

func TestChinaAirlines_FormRedesigned(t *testing.T) {
	page := chinaAirlinesPage()
	page.pages["https://www.china-airlines.com/tw/zh/booking/book-flights"] =
		`<html><body><input id="new-origin"></body></html>`

	_, err := newChinaAirlines(nil).SearchCash(context.Background(), page, testQuery())
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeLayoutChanged, models.CodeOf(err))

	var fe *models.FareError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, models.ChinaAirlines, fe.Airline)
	assert.Contains(t, fe.Message, "#ci-origin")
}

func TestChinaAirlines_ResultsRedesigned(t *testing.T) {
	page := chinaAirlinesPage()
	page.onClick["#ci-search-submit"] = `<html><body><div class="fresh-new-results"></div></body></html>`

	a := newChinaAirlines(nil).(*milesAdapter)
	a.resultsWait = 50 * time.Millisecond

	_, err := a.SearchCash(context.Background(), page, testQuery())
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeLayoutChanged, models.CodeOf(err))
}

func TestChinaAirlines_RowsWithoutPrices(t *testing.T) {
	page := chinaAirlinesPage()
	page.onClick["#ci-search-submit"] = `<html><body>
		<div class="flight-result-item"><span class="flight-no">CI 1</span><span class="cost">18000</span></div>
	</body></html>`

	_, err := newChinaAirlines(nil).SearchCash(context.Background(), page, testQuery())
	assert.Equal(t, models.ErrCodeLayoutChanged, models.CodeOf(err))
}

func TestChinaAirlines_TaskTimeoutWhileWaiting(t *testing.T) {
	page := chinaAirlinesPage()
	page.onClick["#ci-search-submit"] = `<html><body><div class="spinner"></div></body></html>`

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := newChinaAirlines(nil).SearchCash(ctx, page, testQuery())
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeNavigationTimeout, models.CodeOf(err))
	assert.True(t, models.Retryable(err))
}

func TestChinaAirlines_NavigationErrorKeepsCode(t *testing.T) {
	page := chinaAirlinesPage()
	page.navErr = models.NewFareError(models.ErrCodeNavigationTimeout, "navigation to x failed", context.DeadlineExceeded)

	_, err := newChinaAirlines(nil).SearchCash(context.Background(), page, testQuery())
	assert.Equal(t, models.ErrCodeNavigationTimeout, models.CodeOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestChinaAirlines_SearchMiles(t *testing.T) {
	page := chinaAirlinesPage()
	a := newChinaAirlines(nil)
	ms, ok := a.(MilesSearcher)
	require.True(t, ok)

	acct := &models.MileageAccount{Airline: models.ChinaAirlines, MemberID: "CI99887766", Credential: "hunter2"}
	offers, err := ms.SearchMiles(context.Background(), page, testQuery(), acct)
	require.NoError(t, err)
	require.Len(t, offers, 1)

	assert.True(t, offers[0].IsMiles())
	assert.Equal(t, "50,000 哩", offers[0].MilesText)
	assert.Equal(t, "NT$3,200", offers[0].TaxesText)
	assert.Equal(t, "CI99887766", page.filled["#dynasty-id"])
	assert.Equal(t, "hunter2", page.filled["#dynasty-password"])
	assert.Contains(t, page.waited, "#dynasty-id")
}

func TestChinaAirlines_LoginFormMissing(t *testing.T) {
	page := chinaAirlinesPage()
	page.pages["https://www.china-airlines.com/tw/zh/member/login"] = `<html><body><p>維護中</p></body></html>`

	acct := &models.MileageAccount{Airline: models.ChinaAirlines, MemberID: "CI99887766", Credential: "hunter2"}
	_, err := newChinaAirlines(nil).(MilesSearcher).SearchMiles(context.Background(), page, testQuery(), acct)
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeLayoutChanged, models.CodeOf(err))
	assert.Equal(t, []string{"#dynasty-id"}, page.waited)
	assert.Empty(t, page.filled)
}

func TestChinaAirlines_LoginRejected(t *testing.T) {
	page := chinaAirlinesPage()
	page.onClick["#login-submit"] = `<html><body><p class="login-error">帳號或密碼錯誤</p></body></html>`

	acct := &models.MileageAccount{Airline: models.ChinaAirlines, MemberID: "CI99887766", Credential: "hunter2"}
	_, err := newChinaAirlines(nil).(MilesSearcher).SearchMiles(context.Background(), page, testQuery(), acct)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrAuthFailed))
	assert.NotContains(t, err.Error(), "hunter2")
	assert.NotContains(t, err.Error(), "CI99887766")
}

func TestEVAAir_DeepLink(t *testing.T) {
	page := newFakePage()
	page.pages["https://booking.evaair.com/flyeva/eva/b2c/booking-online.aspx"] = `<html><body><table>
		<tr class="flight-row">
			<td class="flt-number"><span>BR 198</span></td>
			<td><span class="dep-time" data-datetime="2026-04-01T08:50">08:50</span></td>
			<td><span class="arr-time" data-datetime="2026-04-01T13:10">13:10</span></td>
			<td class="transfer-info">Nonstop</td>
			<td class="lowest-fare">TWD 16,820</td>
		</tr>
	</table></body></html>`

	q := testQuery()
	q.Direction = models.Inbound
	offers, err := newEVAAir(nil).SearchCash(context.Background(), page, q)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, models.Inbound, offers[0].Direction)
	assert.Equal(t, []string{"BR198"}, offers[0].FlightNumbers)
	assert.Equal(t, "TWD 16,820", offers[0].PriceText)

	require.Len(t, page.navigated, 1)
	assert.Contains(t, page.navigated[0], "from=TPE")
	assert.Contains(t, page.navigated[0], "date=20260401")
	assert.Contains(t, page.navigated[0], "cabin=C")
	assert.Contains(t, page.navigated[0], "adt=2")
}

func TestRunSteps_SetValueMissing(t *testing.T) {
	page := newFakePage()
	page.evalOut = "missing"

	err := runSteps(context.Background(), page, models.Starlux, []step{setValue("#date", "2026-04-01")})
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeLayoutChanged, models.CodeOf(err))
	assert.Contains(t, err.Error(), "step 0")
}

func TestRunSteps_ClickIfPresentSkipsAbsent(t *testing.T) {
	page := newFakePage()
	require.NoError(t, runSteps(context.Background(), page, models.Starlux, []step{clickIfPresent(".cookie")}))
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(nil)

	assert.Equal(t, []models.AirlineCode{
		models.ChinaAirlines, models.EVAAir, models.Starlux, models.CathayPacific, models.TigerairTaiwan,
	}, r.Codes())

	for _, code := range []models.AirlineCode{models.ChinaAirlines, models.EVAAir, models.Starlux, models.CathayPacific} {
		a, ok := r.Get(code)
		require.True(t, ok)
		assert.True(t, SupportsMiles(a), code)
	}
	it, ok := r.Get(models.TigerairTaiwan)
	require.True(t, ok)
	assert.False(t, SupportsMiles(it))

	_, ok = r.Get(models.Scoot)
	assert.False(t, ok)
}

func TestLegs(t *testing.T) {
	req := &models.SearchRequest{Origin: "TPE", Destination: "KIX", DepartureDate: "2026-04-01", Passengers: 1}
	legs := Legs(req)
	require.Len(t, legs, 1)
	assert.Equal(t, models.Outbound, legs[0].Direction)

	req.ReturnDate = "2026-04-08"
	legs = Legs(req)
	require.Len(t, legs, 2)
	assert.Equal(t, "KIX", legs[1].Origin)
	assert.Equal(t, "TPE", legs[1].Destination)
	assert.Equal(t, models.Inbound, legs[1].Direction)
	assert.Equal(t, 8, legs[1].Date.Day())
}
