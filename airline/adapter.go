// Package airline holds the per-carrier browser adapters. Every adapter
// implements the same contract, so the search engine drives them without
// knowing which site is behind one.
package airline

import (
	"context"
	"time"

	"github.com/use-agent/farescout/models"
	"github.com/use-agent/farescout/scraper"
)

// Query is one leg of a search as an adapter sees it.
type Query struct {
	Origin      string
	Destination string
	Date        time.Time
	Direction   models.Direction
	Cabin       models.CabinClass
	Passengers  int
}

// Legs splits a validated request into its outbound and, when a return
// date is set, inbound queries.
func Legs(req *models.SearchRequest) []Query {
	legs := []Query{{
		Origin:      req.Origin,
		Destination: req.Destination,
		Date:        req.Departure(),
		Direction:   models.Outbound,
		Cabin:       req.Cabin,
		Passengers:  req.Passengers,
	}}
	if ret, ok := req.Return(); ok {
		legs = append(legs, Query{
			Origin:      req.Destination,
			Destination: req.Origin,
			Date:        ret,
			Direction:   models.Inbound,
			Cabin:       req.Cabin,
			Passengers:  req.Passengers,
		})
	}
	return legs
}

// Adapter searches one airline's website for cash fares.
//
// Errors are *models.FareError values with one of these codes:
// NAVIGATION_TIMEOUT, NAVIGATION_FAILED, LAYOUT_CHANGED, NO_RESULTS
// or BROWSER_CRASH. NO_RESULTS means the site answered with an explicit
// empty result.
type Adapter interface {
	Code() models.AirlineCode
	SearchCash(ctx context.Context, page scraper.Page, q Query) ([]models.RawFareOffer, error)
}

// MilesSearcher is implemented by adapters whose site offers award search.
// A rejected login is AUTH_FAILED.
type MilesSearcher interface {
	SearchMiles(ctx context.Context, page scraper.Page, q Query, account *models.MileageAccount) ([]models.RawFareOffer, error)
}

// SupportsMiles reports whether a has the redemption capability.
func SupportsMiles(a Adapter) bool {
	_, ok := a.(MilesSearcher)
	return ok
}

// Registry maps roster codes to adapters. It is built once at startup and
// read-only afterwards.
type Registry struct {
	adapters map[models.AirlineCode]Adapter
}

// NewRegistry registers the given adapters. A later adapter for the same
// code replaces an earlier one.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.AirlineCode]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Code()] = a
	}
	return r
}

// DefaultRegistry returns the browser adapters for every supported site.
// memory may be nil.
func DefaultRegistry(memory *LayoutMemory) *Registry {
	return NewRegistry(
		newChinaAirlines(memory),
		newEVAAir(memory),
		newStarlux(memory),
		newCathayPacific(memory),
		newTigerairTaiwan(memory),
	)
}

// Get returns the adapter for code.
func (r *Registry) Get(code models.AirlineCode) (Adapter, bool) {
	a, ok := r.adapters[code]
	return a, ok
}

// Codes lists the registered airlines in roster order.
func (r *Registry) Codes() []models.AirlineCode {
	codes := make([]models.AirlineCode, 0, len(r.adapters))
	for _, c := range models.Roster {
		if _, ok := r.adapters[c]; ok {
			codes = append(codes, c)
		}
	}
	return codes
}
