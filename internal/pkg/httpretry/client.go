// Package httpretry provides an HTTP client wrapper with a small, bounded
// retry budget and a short fixed backoff. Routine spreadsheet and
// event-log calls skip it and propagate failures to the scheduler, which
// retries the whole pass; the wrapper is reserved for operations that
// must not be re-run wholesale, such as push-notification watch renewal.
package httpretry

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer with bounded fixed-backoff retries on
// transient failures (network errors, 429, 5xx).
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	backoff    time.Duration
}

// NewRetryClient wraps client with up to maxRetries retry attempts spaced
// by a fixed backoff. A nil client gets a 30s-timeout http.Client; a
// non-positive maxRetries defaults to 3 and a zero backoff to 2s.
func NewRetryClient(client HTTPDoer, maxRetries int, backoff time.Duration) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &RetryClient{client: client, maxRetries: maxRetries, backoff: backoff}
}

// Do executes the request, retrying transient failures. Client errors
// (4xx other than 429) and context cancellation are returned immediately.
// On the final attempt the response is returned as-is so the caller can
// inspect the status and body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}

			log.Printf("[httpretry] retry %d/%d for %s %s%s", attempt, rc.maxRetries,
				req.Method, req.URL.Host, req.URL.Path)

			timer := time.NewTimer(rc.backoff)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		if !retryableStatus(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		// Drain for connection reuse before retrying.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
