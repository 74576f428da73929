// Package http wraps the standard client with the process-wide request
// discipline: a shared rate limiter and a single exponential backoff
// policy for transient failures.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Client is a wrapper for HTTP client with rate limiting.
type Client struct {
	HTTPClient      *http.Client
	Limiter         *rate.Limiter
	maxRetryTimeout time.Duration
}

// ClientOptions holds options for creating a new Client.
type ClientOptions struct {
	Timeout         time.Duration
	RequestsPerSec  int
	MaxRetryTimeout time.Duration
}

// NewClient creates a new HTTP client with rate limiting.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 5
	}
	if opts.MaxRetryTimeout == 0 {
		opts.MaxRetryTimeout = 30 * time.Second
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout: opts.Timeout,
		},
		Limiter:         rate.NewLimiter(rate.Every(time.Second), opts.RequestsPerSec),
		maxRetryTimeout: opts.MaxRetryTimeout,
	}
}

// DoRequest performs an HTTP request with rate limiting and retries.
// A 429 from the server is not retried; it surfaces immediately so the
// caller can skip the instrument for the cycle.
func (c *Client) DoRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp *http.Response
	operation := func() error {
		var err error
		resp, err = c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			return backoff.Permanent(&HTTPStatusError{StatusCode: resp.StatusCode})
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return &HTTPStatusError{StatusCode: resp.StatusCode}
		}
		return nil
	}

	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.MaxElapsedTime = c.maxRetryTimeout

	if err := backoff.Retry(operation, backoff.WithContext(backoffStrategy, ctx)); err != nil {
		return nil, err
	}

	return resp, nil
}

// HTTPStatusError represents an error due to a non-200 HTTP status code.
type HTTPStatusError struct {
	StatusCode int
}

// Error implements the error interface.
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRateLimited reports whether the error carries an HTTP 429.
func IsRateLimited(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests
}
