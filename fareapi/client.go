// Package fareapi is the client for the external fare aggregator, the
// non-browser channel that supplements airline website results.
package fareapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/use-agent/farescout/config"
	"github.com/use-agent/farescout/models"
)

const (
	userAgent   = "farescout/1.0"
	faresPath   = "/v1/fares"
	maxBodySize = 8 << 20
)

// Client queries the fare API once per search. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
	limiter *rate.Limiter
}

// New builds a client from configuration. logger receives retry diagnostics.
func New(cfg config.FareAPIConfig, logger *slog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = keepLastResponse
	if logger != nil {
		rc.Logger = logger.With("component", "fareapi")
	} else {
		rc.Logger = nil
	}

	rps := cfg.RPS
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    rc,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// checkRetry retries network errors and 5xx like the default policy but
// never a 429: the provider asked us to back off, and the search has a
// deadline to meet.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// keepLastResponse hands back the final response once retries run out so
// Fetch can classify it by status and report the provider's message.
func keepLastResponse(resp *http.Response, err error, attempts int) (*http.Response, error) {
	if resp != nil {
		return resp, nil
	}
	return nil, fmt.Errorf("giving up after %d attempt(s): %w", attempts, err)
}

// Fetch returns every offer the API has for the request's outbound and
// inbound legs. Offers for carriers outside the roster, or outside the
// request's airline list when one is given, are dropped.
//
// Errors are SOURCE_UNAVAILABLE (network, auth, 5xx, malformed body) or
// RATE_LIMITED (HTTP 429).
func (c *Client) Fetch(ctx context.Context, req *models.SearchRequest) ([]models.RawFareOffer, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, models.NewFareError(models.ErrCodeRateLimited, "client-side request budget exhausted", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(req), nil)
	if err != nil {
		return nil, models.NewFareError(models.ErrCodeSourceUnavailable, "building fare request", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, models.NewFareError(models.ErrCodeSourceUnavailable, "fare API unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, models.NewFareError(models.ErrCodeSourceUnavailable, "reading fare API response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		msg := "fare API rate limit reached"
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			msg += ", retry after " + ra
		}
		return nil, models.NewFareError(models.ErrCodeRateLimited, msg, nil)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, models.NewFareError(models.ErrCodeSourceUnavailable,
			fmt.Sprintf("fare API rejected credentials (HTTP %d)", resp.StatusCode), nil)
	case resp.StatusCode >= 300:
		return nil, models.NewFareError(models.ErrCodeSourceUnavailable,
			fmt.Sprintf("fare API returned HTTP %d: %s", resp.StatusCode, gjson.GetBytes(body, "error.message").String()), nil)
	}

	offers, err := parseOffers(body, allowedCarriers(req))
	if err != nil {
		return nil, err
	}
	slog.Info("fare API search done",
		"origin", req.Origin,
		"destination", req.Destination,
		"offers", len(offers),
		"durationMs", time.Since(start).Milliseconds(),
	)
	return offers, nil
}

func (c *Client) endpoint(req *models.SearchRequest) string {
	v := url.Values{}
	v.Set("origin", req.Origin)
	v.Set("destination", req.Destination)
	v.Set("departure_date", req.DepartureDate)
	if req.ReturnDate != "" {
		v.Set("return_date", req.ReturnDate)
	}
	v.Set("cabin", string(req.Cabin))
	v.Set("adults", strconv.Itoa(max(req.Passengers, 1)))
	if len(req.Airlines) > 0 {
		codes := make([]string, len(req.Airlines))
		for i, a := range req.Airlines {
			codes[i] = string(a)
		}
		v.Set("carriers", strings.Join(codes, ","))
	}
	return c.baseURL + faresPath + "?" + v.Encode()
}

func allowedCarriers(req *models.SearchRequest) map[models.AirlineCode]bool {
	allowed := make(map[models.AirlineCode]bool)
	if len(req.Airlines) == 0 {
		for _, c := range models.Roster {
			allowed[c] = true
		}
		return allowed
	}
	for _, c := range req.Airlines {
		allowed[c] = true
	}
	return allowed
}

// parseOffers reads the "data" array of the fares response. A fare is
// either cash, with price.amount and price.currency, or an award, with
// miles and optional taxes.amount and taxes.currency.
func parseOffers(body []byte, allowed map[models.AirlineCode]bool) ([]models.RawFareOffer, error) {
	if !gjson.ValidBytes(body) {
		return nil, models.NewFareError(models.ErrCodeSourceUnavailable, "fare API returned malformed JSON", nil)
	}
	data := gjson.GetBytes(body, "data")
	if !data.IsArray() {
		return nil, models.NewFareError(models.ErrCodeSourceUnavailable, "fare API response has no data array", nil)
	}

	var offers []models.RawFareOffer
	skipped := 0
	data.ForEach(func(_, item gjson.Result) bool {
		code := models.AirlineCode(strings.ToUpper(item.Get("carrier").String()))
		if !allowed[code] {
			skipped++
			return true
		}

		offer := models.RawFareOffer{
			Airline:       code,
			Direction:     models.Outbound,
			DepartureText: item.Get("departure").String(),
			ArrivalText:   item.Get("arrival").String(),
			Cabin:         models.CabinClass(item.Get("cabin").String()),
			Stops:         int(item.Get("stops").Int()),
			FareBasis:     item.Get("fare_basis").String(),
			Source:        models.SourceAPI,
		}
		if item.Get("direction").String() == string(models.Inbound) {
			offer.Direction = models.Inbound
		}
		for _, f := range item.Get("flights").Array() {
			offer.FlightNumbers = append(offer.FlightNumbers, f.String())
		}

		if miles := item.Get("miles"); miles.Exists() {
			offer.MilesText = strconv.FormatInt(miles.Int(), 10)
			if taxes := item.Get("taxes.amount"); taxes.Exists() {
				offer.TaxesText = formatAmount(taxes.Float())
				offer.Currency = item.Get("taxes.currency").String()
			}
		} else {
			price := item.Get("price.amount")
			if !price.Exists() {
				skipped++
				return true
			}
			offer.PriceText = formatAmount(price.Float())
			offer.Currency = item.Get("price.currency").String()
		}
		offers = append(offers, offer)
		return true
	})

	if skipped > 0 {
		slog.Debug("fare API offers skipped", "count", skipped)
	}
	return offers, nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
