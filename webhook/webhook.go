// Package webhook delivers async search completions to caller endpoints.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// EventSearchCompleted is sent once an async search job settles.
const EventSearchCompleted = "search.completed"

// SignatureHeader carries "sha256=<hex HMAC of body>" when a secret is set.
const SignatureHeader = "X-Farescout-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// Notifier posts events with retries. It is safe for concurrent use.
type Notifier struct {
	client *retryablehttp.Client
}

// NewNotifier builds a notifier retrying up to retryMax times on network
// errors and 5xx, backing off between waitMin and waitMax.
func NewNotifier(retryMax int, waitMin, waitMax time.Duration) *Notifier {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.RetryWaitMin = waitMin
	rc.RetryWaitMax = waitMax
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil
	return &Notifier{client: rc}
}

// Default retries three times between 1s and 30s.
func Default() *Notifier {
	return NewNotifier(3, time.Second, 30*time.Second)
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value in constant time.
func Verify(secret string, body []byte, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Deliver posts event to url and waits for the outcome, retries included.
func (n *Notifier) Deliver(ctx context.Context, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Farescout-Webhook/1.0")
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// DeliverAsync sends event in the background and logs the outcome.
func (n *Notifier) DeliverAsync(url, secret string, event *Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if err := n.Deliver(ctx, url, secret, event); err != nil {
			slog.Error("webhook delivery failed",
				"url", url,
				"event", event.Type,
				"job_id", event.JobID,
				"error", err,
			)
			return
		}
		slog.Info("webhook delivered", "url", url, "event", event.Type, "job_id", event.JobID)
	}()
}
