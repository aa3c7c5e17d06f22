package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AirlineCode is a two-letter IATA carrier designator from the supported roster.
type AirlineCode string

// The supported roster. Adding a carrier means adding a constant here and,
// for browser coverage, an adapter in package airline.
const (
	ChinaAirlines  AirlineCode = "CI"
	EVAAir         AirlineCode = "BR"
	Starlux        AirlineCode = "JX"
	CathayPacific  AirlineCode = "CX"
	TigerairTaiwan AirlineCode = "IT"
	Scoot          AirlineCode = "TR"
	Peach          AirlineCode = "MM"
)

// Roster lists every airline a SearchRequest may name, in display order.
var Roster = []AirlineCode{
	ChinaAirlines, EVAAir, Starlux, CathayPacific, TigerairTaiwan, Scoot, Peach,
}

var airlineNames = map[AirlineCode]string{
	ChinaAirlines:  "China Airlines",
	EVAAir:         "EVA Air",
	Starlux:        "STARLUX Airlines",
	CathayPacific:  "Cathay Pacific",
	TigerairTaiwan: "Tigerair Taiwan",
	Scoot:          "Scoot",
	Peach:          "Peach Aviation",
}

// Valid reports whether the code belongs to the roster.
func (c AirlineCode) Valid() bool {
	_, ok := airlineNames[c]
	return ok
}

// Name returns the carrier's display name, or the code itself when unknown.
func (c AirlineCode) Name() string {
	if n, ok := airlineNames[c]; ok {
		return n
	}
	return string(c)
}

// ParseAirlineCodes parses a comma-separated list such as "CI,br, JX".
func ParseAirlineCodes(s string) ([]AirlineCode, error) {
	var codes []AirlineCode
	for _, part := range strings.Split(s, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		code := AirlineCode(part)
		if !code.Valid() {
			return nil, fmt.Errorf("unsupported airline %q", part)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// CabinClass is the requested travel class.
type CabinClass string

const (
	CabinEconomy        CabinClass = "economy"
	CabinPremiumEconomy CabinClass = "premium_economy"
	CabinBusiness       CabinClass = "business"
	CabinFirst          CabinClass = "first"
)

// MileageAccount is a frequent-flyer login used for redemption searches.
// Instances are owned by configuration and passed around by pointer.
type MileageAccount struct {
	Airline    AirlineCode `json:"airline"`
	MemberID   string      `json:"member_id"`
	Credential string      `json:"credential"`
}

// String never includes the credential.
func (a *MileageAccount) String() string {
	if a == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s:%s", a.Airline, maskMemberID(a.MemberID))
}

// MarshalJSON redacts the credential so accounts never leak into logs or
// API responses.
func (a MileageAccount) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Airline  AirlineCode `json:"airline"`
		MemberID string      `json:"member_id"`
	}{a.Airline, maskMemberID(a.MemberID)})
}

func maskMemberID(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(id)-4) + id[len(id)-4:]
}

// Accounts maps an airline to its configured mileage account.
type Accounts map[AirlineCode]*MileageAccount

// Merge returns a new map where entries from override replace the receiver's.
// Neither input is modified and account values are shared, not copied.
func (a Accounts) Merge(override Accounts) Accounts {
	out := make(Accounts, len(a)+len(override))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range override {
		if v != nil {
			out[k] = v
		}
	}
	return out
}
