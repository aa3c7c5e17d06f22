package models

import "time"

// Direction distinguishes the legs of a round trip.
type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

// Source records which channel produced an offer.
type Source string

const (
	SourceBrowser Source = "browser"
	SourceAPI     Source = "api"
)

// RawFareOffer is one unnormalized extraction result, exactly as an adapter
// or the external source saw it. Adapters never mutate an offer after
// returning it.
type RawFareOffer struct {
	Airline       AirlineCode
	Direction     Direction
	FlightNumbers []string

	// PriceText is the displayed cash price, e.g. "NT$18,000" or "USD 560.20".
	PriceText string

	// MilesText is the displayed redemption cost, e.g. "50,000 miles" or
	// "50,000 miles + NT$3,200" when taxes are shown inline.
	MilesText string

	// TaxesText is the taxes/fees shown next to a redemption, if separate.
	TaxesText string

	// Currency is used when the price text carries no currency marker.
	Currency string

	// DepartureText and ArrivalText are local wall-clock timestamps,
	// "2006-01-02T15:04" or "2006-01-02 15:04".
	DepartureText string
	ArrivalText   string

	Cabin     CabinClass
	Stops     int
	FareBasis string
	Source    Source
}

// IsMiles reports whether the offer is a redemption fare.
func (o RawFareOffer) IsMiles() bool {
	return o.MilesText != ""
}

// Money is an amount in the reporting currency.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// MilesCost is a redemption price: miles plus cash taxes in the reporting currency.
type MilesCost struct {
	Miles    int     `json:"miles"`
	Taxes    float64 `json:"taxes"`
	Currency string  `json:"currency"`
}

// FareRecord is the normalized, common-schema form of one offer.
// Exactly one of Cash and Miles is set.
type FareRecord struct {
	Airline         AirlineCode `json:"airline"`
	Direction       Direction   `json:"direction"`
	FlightNumbers   []string    `json:"flight_numbers,omitempty"`
	Cash            *Money      `json:"cash,omitempty"`
	Miles           *MilesCost  `json:"miles,omitempty"`
	DurationMinutes int         `json:"duration_minutes"`
	Stops           int         `json:"stops"`
	DepartureLocal  time.Time   `json:"departure_local"`
	ArrivalLocal    time.Time   `json:"arrival_local"`
	Cabin           CabinClass  `json:"cabin"`
	FareBasis       string      `json:"fare_basis,omitempty"`
	Source          Source      `json:"source"`
	FetchedAt       time.Time   `json:"fetched_at"`
}

// IsCash reports whether the record carries a cash price.
func (f FareRecord) IsCash() bool { return f.Cash != nil }

// IsMiles reports whether the record carries a redemption price.
func (f FareRecord) IsMiles() bool { return f.Miles != nil }

// Valid enforces the exactly-one-price invariant.
func (f FareRecord) Valid() bool {
	return (f.Cash != nil) != (f.Miles != nil)
}

// ValuationVerdict compares one cash fare with one redemption fare for a
// comparable itinerary.
type ValuationVerdict struct {
	CashPrice       float64 `json:"cash_price"`
	Miles           int     `json:"miles"`
	Taxes           float64 `json:"taxes"`
	Rate            float64 `json:"rate"`
	CashEquivalent  float64 `json:"cash_equivalent"`
	TotalEquivalent float64 `json:"total_equivalent"`
	Savings         float64 `json:"savings"`
	ValuePerMile    float64 `json:"value_per_mile"`
	WorthIt         bool    `json:"worth_it"`
	Currency        string  `json:"currency"`
}
