package models

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// DateLayout is the calendar-date format used by SearchRequest.
const DateLayout = "2006-01-02"

// SearchRequest is the structured input to a fare search, accepted both
// in-process and as the payload for POST /api/v1/search.
type SearchRequest struct {
	// Origin is the departure airport IATA code. Required.
	Origin string `json:"origin" binding:"required,len=3,alpha"`

	// Destination is the arrival airport IATA code. Must differ from Origin.
	Destination string `json:"destination" binding:"required,len=3,alpha,nefield=Origin"`

	// DepartureDate is the outbound date (YYYY-MM-DD). Required.
	DepartureDate string `json:"departure_date" binding:"required,datetime=2006-01-02"`

	// ReturnDate is the inbound date (YYYY-MM-DD). Empty for one-way.
	ReturnDate string `json:"return_date,omitempty" binding:"omitempty,datetime=2006-01-02"`

	// Passengers is the adult passenger count. Default: 1. Max: 9.
	Passengers int `json:"passengers,omitempty" binding:"omitempty,min=1,max=9"`

	// Cabin is the travel class. Default: "economy".
	Cabin CabinClass `json:"cabin,omitempty" binding:"omitempty,oneof=economy premium_economy business first"`

	// Airlines restricts the search to these carriers. Default: every
	// carrier with a browser adapter.
	Airlines []AirlineCode `json:"airlines,omitempty" binding:"omitempty,max=7,dive,len=2"`

	// MileageAccounts supplies per-request redemption logins. They take
	// precedence over configured accounts for the same airline.
	MileageAccounts Accounts `json:"mileage_accounts,omitempty"`
}

// SearchCall is the payload for POST /api/v1/search: a SearchRequest plus
// cache control.
type SearchCall struct {
	SearchRequest

	// MaxAge (milliseconds) accepts a cached result younger than this.
	// 0 bypasses the cache.
	MaxAge int `json:"max_age,omitempty" binding:"omitempty,min=0"`
}

// Defaults applies default values to unset fields and upper-cases codes.
func (r *SearchRequest) Defaults() {
	r.Origin = strings.ToUpper(strings.TrimSpace(r.Origin))
	r.Destination = strings.ToUpper(strings.TrimSpace(r.Destination))
	if r.Passengers == 0 {
		r.Passengers = 1
	}
	if r.Cabin == "" {
		r.Cabin = CabinEconomy
	}
	for i, a := range r.Airlines {
		r.Airlines[i] = AirlineCode(strings.ToUpper(string(a)))
	}
	if len(r.MileageAccounts) > 0 {
		r.MileageAccounts = upperKeys(r.MileageAccounts)
	}
}

// upperKeys copies accounts under upper-cased codes. An exact upper-case
// key wins over a lower-case duplicate.
func upperKeys(accounts Accounts) Accounts {
	out := make(Accounts, len(accounts))
	for code, acct := range accounts {
		if up := AirlineCode(strings.ToUpper(string(code))); up == code {
			out[up] = acct
		}
	}
	for code, acct := range accounts {
		up := AirlineCode(strings.ToUpper(string(code)))
		if _, ok := out[up]; !ok {
			out[up] = acct
		}
	}
	return out
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// requestValidator shares gin's tag name so one set of struct tags serves
// both the HTTP binding and in-process callers.
func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.SetTagName("binding")
	})
	return validate
}

// Validate checks the request invariants. It is called before any work is
// scheduled; the returned error is always an INVALID_INPUT FareError.
func (r *SearchRequest) Validate() error {
	if err := requestValidator().Struct(r); err != nil {
		return NewFareError(ErrCodeInvalidInput, describeValidation(err), err)
	}
	if strings.EqualFold(r.Origin, r.Destination) {
		return NewFareError(ErrCodeInvalidInput, "origin and destination must differ", nil)
	}

	dep, err := time.Parse(DateLayout, r.DepartureDate)
	if err != nil {
		return NewFareError(ErrCodeInvalidInput, "departure_date is not a valid date", err)
	}
	if r.ReturnDate != "" {
		ret, err := time.Parse(DateLayout, r.ReturnDate)
		if err != nil {
			return NewFareError(ErrCodeInvalidInput, "return_date is not a valid date", err)
		}
		if ret.Before(dep) {
			return NewFareError(ErrCodeInvalidInput, "return_date is before departure_date", nil)
		}
	}

	for _, a := range r.Airlines {
		if !a.Valid() {
			return NewFareError(ErrCodeInvalidInput, fmt.Sprintf("unsupported airline %q", a), nil)
		}
	}
	for code, acct := range r.MileageAccounts {
		if !code.Valid() {
			return NewFareError(ErrCodeInvalidInput, fmt.Sprintf("mileage account for unsupported airline %q", code), nil)
		}
		if acct == nil || acct.MemberID == "" || acct.Credential == "" {
			return NewFareError(ErrCodeInvalidInput, fmt.Sprintf("incomplete mileage account for %s", code), nil)
		}
	}
	return nil
}

// Departure returns the parsed departure date. Call after Validate.
func (r *SearchRequest) Departure() time.Time {
	t, _ := time.Parse(DateLayout, r.DepartureDate)
	return t
}

// Return returns the parsed return date and whether one is set.
func (r *SearchRequest) Return() (time.Time, bool) {
	if r.ReturnDate == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, r.ReturnDate)
	return t, err == nil
}

// describeValidation turns validator output into a one-line message.
func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "nefield":
			parts = append(parts, "origin and destination must differ")
		case "datetime":
			parts = append(parts, fmt.Sprintf("%s must be a YYYY-MM-DD date", fe.Field()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
