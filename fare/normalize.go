// Package fare turns raw adapter output into normalized FareRecords, orders
// them, and computes the cash-vs-miles verdict.
package fare

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/farescout/models"
)

// currencySymbols maps the price prefixes seen on airline sites to ISO codes.
// Longer symbols come first so "NT$" wins over "$".
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"NT$", "TWD"},
	{"HK$", "HKD"},
	{"US$", "USD"},
	{"S$", "SGD"},
	{"￥", "JPY"},
	{"¥", "JPY"},
	{"元", "TWD"},
}

// isoCurrencies are the codes accepted when spelled out in price text.
// Other three-letter words, such as "TAX" or "FEE", are not currencies.
var isoCurrencies = map[string]bool{
	"TWD": true, "USD": true, "HKD": true, "JPY": true, "SGD": true,
	"EUR": true, "GBP": true, "KRW": true, "CNY": true, "MOP": true,
	"THB": true, "MYR": true, "PHP": true, "VND": true, "IDR": true,
	"AUD": true, "NZD": true, "CAD": true, "CHF": true, "INR": true,
}

var (
	amountRe   = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	isoCodeRe  = regexp.MustCompile(`\b([A-Z]{3})\b`)
	milesRe    = regexp.MustCompile(`(?i)(\d[\d,]*)\s*(?:miles|mile|mi\b|avios|哩|里程)`)
	bareMileRe = regexp.MustCompile(`^\s*(\d[\d,]*)\s*$`)
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006/01/02 15:04",
}

// Normalizer converts RawFareOffers into FareRecords priced in one
// reporting currency. It holds only read-only configuration and is safe
// for concurrent use.
type Normalizer struct {
	currency string
	rates    map[string]float64
	known    map[string]bool
	now      func() time.Time
}

// NewNormalizer creates a Normalizer. rates gives units of currency per
// unit of each foreign currency.
func NewNormalizer(currency string, rates map[string]float64) *Normalizer {
	currency = strings.ToUpper(currency)
	if currency == "" {
		currency = "TWD"
	}
	cp := make(map[string]float64, len(rates))
	known := map[string]bool{currency: true}
	for code := range isoCurrencies {
		known[code] = true
	}
	for k, v := range rates {
		cp[strings.ToUpper(k)] = v
		known[strings.ToUpper(k)] = true
	}
	return &Normalizer{currency: currency, rates: cp, known: known, now: time.Now}
}

// Currency returns the reporting currency.
func (n *Normalizer) Currency() string { return n.currency }

// Normalize converts every offer it can. Offers that cannot be parsed are
// logged and dropped; they never fail the batch.
func (n *Normalizer) Normalize(offers []models.RawFareOffer) []models.FareRecord {
	fetched := n.now().UTC()
	records := make([]models.FareRecord, 0, len(offers))
	for _, o := range offers {
		rec, err := n.normalize(o, fetched)
		if err != nil {
			slog.Warn("dropping unparseable offer",
				"airline", o.Airline,
				"direction", o.Direction,
				"flights", strings.Join(o.FlightNumbers, "/"),
				"error", err,
			)
			continue
		}
		records = append(records, rec)
	}
	return records
}

// NormalizeOne converts a single offer.
func (n *Normalizer) NormalizeOne(o models.RawFareOffer) (models.FareRecord, error) {
	return n.normalize(o, n.now().UTC())
}

func (n *Normalizer) normalize(o models.RawFareOffer, fetched time.Time) (models.FareRecord, error) {
	rec := models.FareRecord{
		Airline:       o.Airline,
		Direction:     o.Direction,
		FlightNumbers: o.FlightNumbers,
		Stops:         o.Stops,
		Cabin:         o.Cabin,
		FareBasis:     strings.TrimSpace(o.FareBasis),
		Source:        o.Source,
		FetchedAt:     fetched,
	}
	if rec.Direction == "" {
		rec.Direction = models.Outbound
	}

	if o.IsMiles() {
		mc, err := n.parseMilesCost(o)
		if err != nil {
			return rec, err
		}
		rec.Miles = mc
	} else {
		amount, cur, err := parseMoney(o.PriceText, n.hint(o), n.known)
		if err != nil {
			return rec, err
		}
		converted, err := n.convert(amount, cur)
		if err != nil {
			return rec, err
		}
		rec.Cash = &models.Money{Amount: converted, Currency: n.currency}
	}

	dep, depAbs, err := parseTimestamp(o.DepartureText)
	if err != nil {
		return rec, fmt.Errorf("departure: %w", err)
	}
	arr, arrAbs, err := parseTimestamp(o.ArrivalText)
	if err != nil {
		return rec, fmt.Errorf("arrival: %w", err)
	}
	rec.DepartureLocal = dep
	rec.ArrivalLocal = arr
	rec.DurationMinutes = durationMinutes(dep, arr, depAbs && arrAbs)
	return rec, nil
}

func (n *Normalizer) parseMilesCost(o models.RawFareOffer) (*models.MilesCost, error) {
	miles, rest, err := ParseMiles(o.MilesText)
	if err != nil {
		return nil, err
	}
	taxText := strings.TrimSpace(o.TaxesText)
	if taxText == "" {
		taxText = rest
	}
	var taxes float64
	if taxText != "" {
		amount, cur, err := parseMoney(taxText, n.hint(o), n.known)
		if err != nil {
			return nil, fmt.Errorf("taxes: %w", err)
		}
		if taxes, err = n.convert(amount, cur); err != nil {
			return nil, err
		}
	}
	return &models.MilesCost{Miles: miles, Taxes: taxes, Currency: n.currency}, nil
}

// hint is the currency assumed when an offer's text carries none. The fare
// API prices in the reporting currency unless it says otherwise.
func (n *Normalizer) hint(o models.RawFareOffer) string {
	if o.Currency == "" && o.Source == models.SourceAPI {
		return n.currency
	}
	return o.Currency
}

// convert expresses amount in the reporting currency.
func (n *Normalizer) convert(amount float64, currency string) (float64, error) {
	if currency == "" || currency == n.currency {
		return round2(amount), nil
	}
	rate, ok := n.rates[currency]
	if !ok {
		return 0, fmt.Errorf("no exchange rate for %s", currency)
	}
	return round2(amount * rate), nil
}

// ParseMoney extracts an amount and ISO currency from display text such as
// "NT$18,000", "TWD 18000", "HK$2,310" or "USD 560.20". hint is used when
// the text carries no currency marker; a bare "$" also defers to hint.
func ParseMoney(text, hint string) (float64, string, error) {
	return parseMoney(text, hint, isoCurrencies)
}

func parseMoney(text, hint string, known map[string]bool) (float64, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, "", fmt.Errorf("empty price")
	}
	num := amountRe.FindString(text)
	if num == "" {
		return 0, "", fmt.Errorf("no amount in %q", text)
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", ""), 64)
	if err != nil {
		return 0, "", fmt.Errorf("bad amount in %q: %w", text, err)
	}
	if amount < 0 || math.IsInf(amount, 0) {
		return 0, "", fmt.Errorf("bad amount in %q", text)
	}

	currency := ""
	for _, cs := range currencySymbols {
		if strings.Contains(text, cs.symbol) {
			currency = cs.code
			break
		}
	}
	if currency == "" {
		for _, m := range isoCodeRe.FindAllStringSubmatch(strings.ToUpper(text), -1) {
			if known[m[1]] {
				currency = m[1]
				break
			}
		}
	}
	if currency == "" {
		currency = strings.ToUpper(strings.TrimSpace(hint))
	}
	if currency == "" {
		return 0, "", fmt.Errorf("no currency for %q", text)
	}
	return amount, currency, nil
}

// ParseMiles extracts the miles figure from text such as "50,000 miles",
// "50000" or "50,000 miles + NT$3,200". The remainder after "+" is returned
// so inline taxes can be parsed as money.
func ParseMiles(text string) (int, string, error) {
	head, rest, _ := strings.Cut(text, "+")
	var digits string
	if m := milesRe.FindStringSubmatch(head); m != nil {
		digits = m[1]
	} else if m := bareMileRe.FindStringSubmatch(head); m != nil {
		digits = m[1]
	} else {
		return 0, "", fmt.Errorf("no miles in %q", text)
	}
	miles, err := strconv.Atoi(strings.ReplaceAll(digits, ",", ""))
	if err != nil {
		return 0, "", fmt.Errorf("bad miles in %q: %w", text, err)
	}
	return miles, strings.TrimSpace(rest), nil
}

// parseTimestamp reads a local wall-clock time. abs reports whether the
// text carried a UTC offset. Empty text yields the zero time.
func parseTimestamp(text string) (t time.Time, abs bool, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false, nil
	}
	for i, layout := range timestampLayouts {
		if t, err = time.Parse(layout, text); err == nil {
			return t, i == 0, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognized timestamp %q", text)
}

// durationMinutes is exact when both ends carry offsets. Otherwise the
// wall-clock difference is used, and a non-positive result means the
// flight crossed time zones in a way the page did not disclose.
func durationMinutes(dep, arr time.Time, absolute bool) int {
	if dep.IsZero() || arr.IsZero() {
		return 0
	}
	var d time.Duration
	if absolute {
		d = arr.Sub(dep)
	} else {
		d = wallClock(arr).Sub(wallClock(dep))
	}
	if d <= 0 {
		return 0
	}
	return int(d.Minutes())
}

func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
