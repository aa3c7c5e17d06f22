package airline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/use-agent/farescout/models"
	"github.com/use-agent/farescout/scraper"
)

// formSpec is a search form filled field by field.
type formSpec struct {
	URL         string
	Consent     string // cookie banner button, clicked when present
	Origin      string
	Destination string
	Date        string // date input, assigned through script
	DateLayout  string
	Cabin       string // <select>, chosen by visible label
	Passengers  string // <select>, chosen by visible number
	Submit      string
}

// searchSpec describes how to reach and read one results page. Exactly one
// of form and deepLink is set.
type searchSpec struct {
	form     *formSpec
	deepLink func(q Query) string
	results  resultSelectors
}

// loginSpec describes a frequent-flyer sign-in form.
type loginSpec struct {
	URL      string
	Consent  string
	MemberID string
	Password string
	Submit   string
	Success  string // present once signed in
	Failure  string // present when the credentials were rejected
}

// site is the static description of one airline website. Concrete
// airlines differ only in this table.
type site struct {
	code        models.AirlineCode
	currency    string
	cabinLabels map[models.CabinClass]string
	cash        searchSpec
	login       *loginSpec
	award       *searchSpec
}

// resultsWait bounds how long a submitted search may take to show either
// result rows or the empty marker before the page is judged redesigned.
const resultsWait = 20 * time.Second

// cashAdapter is an Adapter driven by a site table.
type cashAdapter struct {
	site        site
	cash        *extractor
	memory      *LayoutMemory
	resultsWait time.Duration
}

// milesAdapter adds award search for sites with a login.
type milesAdapter struct {
	*cashAdapter
	award *extractor
}

// build compiles a site into an adapter, with the miles capability only
// when the site has both a login and an award search.
func build(s site, memory *LayoutMemory) Adapter {
	ca := &cashAdapter{
		site:        s,
		cash:        s.cash.results.compile(),
		memory:      memory,
		resultsWait: resultsWait,
	}
	if s.login == nil || s.award == nil {
		return ca
	}
	return &milesAdapter{cashAdapter: ca, award: s.award.results.compile()}
}

func (a *cashAdapter) Code() models.AirlineCode { return a.site.code }

func (a *cashAdapter) SearchCash(ctx context.Context, page scraper.Page, q Query) ([]models.RawFareOffer, error) {
	return a.search(ctx, page, q, a.site.cash, a.cash, false)
}

func (a *milesAdapter) SearchMiles(ctx context.Context, page scraper.Page, q Query, account *models.MileageAccount) ([]models.RawFareOffer, error) {
	if account == nil {
		return nil, models.NewAirlineError(a.site.code, models.ErrCodeAuthFailed, "no mileage account", nil)
	}
	if err := a.signIn(ctx, page, account); err != nil {
		return nil, err
	}
	return a.search(ctx, page, q, *a.site.award, a.award, true)
}

func (a *milesAdapter) signIn(ctx context.Context, page scraper.Page, account *models.MileageAccount) error {
	l := a.site.login
	steps := []step{navigate(l.URL)}
	if l.Consent != "" {
		steps = append(steps, clickIfPresent(l.Consent))
	}
	steps = append(steps,
		waitFor(l.MemberID),
		fill(l.MemberID, account.MemberID),
		fill(l.Password, account.Credential),
		click(l.Submit),
	)
	if err := runSteps(ctx, page, a.site.code, steps); err != nil {
		return err
	}

	which, err := waitAny(ctx, page, a.site.code, l.Success, l.Failure)
	if err != nil {
		return err
	}
	if which == 1 {
		return models.NewAirlineError(a.site.code, models.ErrCodeAuthFailed,
			fmt.Sprintf("login rejected for %s", account), nil)
	}
	slog.Debug("mileage login ok", "airline", a.site.code, "account", account.String())
	return nil
}

// search runs the form or deep link, waits for rows or the empty marker,
// and extracts offers from the rendered page.
func (a *cashAdapter) search(ctx context.Context, page scraper.Page, q Query, spec searchSpec, ex *extractor, miles bool) ([]models.RawFareOffer, error) {
	if err := runSteps(ctx, page, a.site.code, a.steps(spec, q)); err != nil {
		return nil, err
	}

	outcomes := []string{ex.rowSelector}
	if ex.emptySelector != "" {
		outcomes = append(outcomes, ex.emptySelector)
	}
	waitCtx, cancel := context.WithTimeout(ctx, a.resultsWait)
	_, err := waitAny(waitCtx, page, a.site.code, outcomes...)
	cancel()
	if err != nil {
		if ctx.Err() == nil && waitCtx.Err() != nil {
			return nil, models.NewAirlineError(a.site.code, models.ErrCodeLayoutChanged,
				fmt.Sprintf("neither %q nor the empty marker appeared", ex.rowSelector), err)
		}
		return nil, err
	}

	rendered, err := page.HTML(ctx)
	if err != nil {
		return nil, models.NewAirlineError(a.site.code, models.CodeOf(err), "reading results page", err)
	}

	res, err := ex.extract(rendered, offerTemplate{
		airline:   a.site.code,
		direction: q.Direction,
		cabin:     q.Cabin,
		currency:  a.site.currency,
		miles:     miles,
	})
	if err != nil {
		a.memory.Forget(a.site.code, pageKind(miles))
		return nil, err
	}
	a.memory.Observe(a.site.code, pageKind(miles), rendered)

	if res.empty {
		return nil, models.NewAirlineError(a.site.code, models.ErrCodeNoResults,
			fmt.Sprintf("no flights %s-%s on %s", q.Origin, q.Destination, q.Date.Format(models.DateLayout)), nil)
	}
	slog.Debug("airline results extracted",
		"airline", a.site.code,
		"direction", q.Direction,
		"miles", miles,
		"rows", res.rows,
		"offers", len(res.offers),
	)
	return res.offers, nil
}

// steps expands a searchSpec into the concrete script for one query.
func (a *cashAdapter) steps(spec searchSpec, q Query) []step {
	if spec.deepLink != nil {
		return []step{navigate(spec.deepLink(q))}
	}
	f := spec.form
	steps := []step{navigate(f.URL)}
	if f.Consent != "" {
		steps = append(steps, clickIfPresent(f.Consent))
	}
	steps = append(steps,
		fill(f.Origin, q.Origin),
		fill(f.Destination, q.Destination),
		setValue(f.Date, q.Date.Format(f.DateLayout)),
	)
	if f.Cabin != "" {
		steps = append(steps, choose(f.Cabin, a.cabinLabel(q.Cabin)))
	}
	if f.Passengers != "" {
		steps = append(steps, choose(f.Passengers, strconv.Itoa(max(q.Passengers, 1))))
	}
	return append(steps, click(f.Submit))
}

func (a *cashAdapter) cabinLabel(c models.CabinClass) string {
	if l, ok := a.site.cabinLabels[c]; ok {
		return l
	}
	return a.site.cabinLabels[models.CabinEconomy]
}

func pageKind(miles bool) string {
	if miles {
		return "miles"
	}
	return "cash"
}
