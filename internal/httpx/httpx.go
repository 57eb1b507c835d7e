// Package httpx wraps net/http with the timeout and retry/backoff
// behavior every outbound HTTP call in this module needs: a bounded
// timeout, a capped number of retries, and exponential backoff with
// jitter applied only to 5xx and transient network errors (never to
// 4xx).
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/PersonalProjectsDsully/newsgrouping/internal/apperr"
)

// Options configures a Client's retry behavior.
type Options struct {
	Timeout      time.Duration
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
}

// DefaultOptions is a conservative default: a 12s timeout, 3 retries,
// exponential backoff.
func DefaultOptions() Options {
	return Options{
		Timeout:    12 * time.Second,
		MaxRetries: 3,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// Client performs GET requests with timeout and retry/backoff.
type Client struct {
	httpClient *http.Client
	opts       Options
}

// New builds a Client with the given options.
func New(opts Options) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
	}
}

// NewDefault builds a Client with DefaultOptions.
func NewDefault() *Client {
	return New(DefaultOptions())
}

// isRetryable reports whether a response status should be retried.
// Only 5xx and explicit network errors are transient; 4xx is never
// retried.
func isRetryable(status int, err error) bool {
	if err != nil {
		return true
	}
	return status >= 500 && status <= 599
}

// Get issues a GET request to url, retrying transient failures with
// exponential backoff. The returned body (when err is nil) has
// already been fully read and the response closed.
func (c *Client) Get(ctx context.Context, url string) ([]byte, int, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.opts.BaseDelay, c.opts.MaxDelay, attempt)
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("building request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if !isRetryable(0, err) {
				return nil, 0, apperr.Transient(err)
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		lastStatus = resp.StatusCode

		if readErr != nil {
			lastErr = readErr
			continue
		}

		if !isRetryable(resp.StatusCode, nil) {
			if resp.StatusCode >= 400 {
				return body, resp.StatusCode, fmt.Errorf("http %d", resp.StatusCode)
			}
			return body, resp.StatusCode, nil
		}

		lastErr = fmt.Errorf("http %d", resp.StatusCode)
	}

	if lastErr == nil {
		lastErr = errors.New("request failed with no error recorded")
	}
	return nil, lastStatus, apperr.Transient(lastErr)
}

// backoffDelay computes an exponential delay with full jitter, capped
// at maxDelay.
func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > maxDelay {
			d = maxDelay
			break
		}
	}
	if d > maxDelay {
		d = maxDelay
	}
	jittered := time.Duration(rand.Int63n(int64(d) + 1))
	return jittered
}
