// Package client talks to a running farescout server over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/use-agent/farescout/models"
)

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
}

// New creates a client. timeout bounds one HTTP exchange and should exceed
// the server's search deadline.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil
	rc.CheckRetry = connectionErrorsOnly
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    rc,
	}
}

// connectionErrorsOnly retries when the server could not be reached. A
// search that answered with any status is never repeated.
func connectionErrorsOnly(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return err != nil, nil
}

// wireAccount carries the credential, which models.MileageAccount redacts
// when marshaled.
type wireAccount struct {
	Airline    models.AirlineCode `json:"airline"`
	MemberID   string             `json:"member_id"`
	Credential string             `json:"credential"`
}

type searchPayload struct {
	Origin          string                             `json:"origin"`
	Destination     string                             `json:"destination"`
	DepartureDate   string                             `json:"departure_date"`
	ReturnDate      string                             `json:"return_date,omitempty"`
	Passengers      int                                `json:"passengers,omitempty"`
	Cabin           models.CabinClass                  `json:"cabin,omitempty"`
	Airlines        []models.AirlineCode               `json:"airlines,omitempty"`
	MileageAccounts map[models.AirlineCode]wireAccount `json:"mileage_accounts,omitempty"`
	MaxAge          int64                              `json:"max_age,omitempty"`
	WebhookURL      string                             `json:"webhook_url,omitempty"`
	WebhookSecret   string                             `json:"webhook_secret,omitempty"`
}

func newSearchPayload(req *models.SearchRequest) searchPayload {
	p := searchPayload{
		Origin:        req.Origin,
		Destination:   req.Destination,
		DepartureDate: req.DepartureDate,
		ReturnDate:    req.ReturnDate,
		Passengers:    req.Passengers,
		Cabin:         req.Cabin,
		Airlines:      req.Airlines,
	}
	if len(req.MileageAccounts) > 0 {
		p.MileageAccounts = make(map[models.AirlineCode]wireAccount, len(req.MileageAccounts))
		for code, a := range req.MileageAccounts {
			if a == nil {
				continue
			}
			p.MileageAccounts[code] = wireAccount{Airline: a.Airline, MemberID: a.MemberID, Credential: a.Credential}
		}
	}
	return p
}

// Search runs a synchronous search. maxAge > 0 lets the server answer from
// its cache. Request-level failures come back as *models.FareError.
func (c *Client) Search(ctx context.Context, req *models.SearchRequest, maxAge time.Duration) (*models.SearchResponse, error) {
	p := newSearchPayload(req)
	p.MaxAge = maxAge.Milliseconds()

	var resp models.SearchResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/search", p, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, detailError(resp.Error)
	}
	return &resp, nil
}

// SearchAsync starts a background search and returns its job id.
func (c *Client) SearchAsync(ctx context.Context, req *models.SearchRequest, webhookURL, webhookSecret string) (string, error) {
	p := newSearchPayload(req)
	p.WebhookURL = webhookURL
	p.WebhookSecret = webhookSecret

	var resp struct {
		models.JobResponse
		Error *models.ErrorDetail `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/search/async", p, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", detailError(resp.Error)
	}
	return resp.ID, nil
}

// Job fetches the current state of an async search.
func (c *Client) Job(ctx context.Context, id string) (*models.JobStatusResponse, error) {
	var resp struct {
		models.JobStatusResponse
		NotFound *models.ErrorDetail `json:"error"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/search/"+id, nil, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, detailError(resp.NotFound)
	}
	out := resp.JobStatusResponse
	out.Error = resp.NotFound
	return &out, nil
}

// Wait polls a job every interval until it leaves "processing" or ctx ends.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration) (*models.JobStatusResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status != models.JobProcessing {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Valuate asks the server for a cash-vs-miles verdict. rate <= 0 uses the
// server's configured rate.
func (c *Client) Valuate(ctx context.Context, cash, miles models.FareRecord, rate float64) (*models.ValuationVerdict, error) {
	var resp models.ValuateResponse
	req := models.ValuateRequest{Cash: cash, Miles: miles, Rate: rate}
	if err := c.do(ctx, http.MethodPost, "/api/v1/valuate", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Verdict == nil {
		return nil, detailError(resp.Error)
	}
	return resp.Verdict, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return models.NewFareError(models.ErrCodeSourceUnavailable, "farescout API unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("HTTP %d: parse response: %w", resp.StatusCode, err)
	}
	return nil
}

func detailError(d *models.ErrorDetail) error {
	if d == nil {
		return models.NewFareError(models.ErrCodeInternal, "server returned no result", nil)
	}
	return models.NewFareError(d.Code, d.Message, nil)
}
