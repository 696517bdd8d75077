// Package httputil provides the retrying HTTP transport used for calls to
// external quote and identity services.
package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// Jitter adds randomness to backoff (0.0 to 1.0).
	Jitter               float64
	RetryableStatusCodes []int
}

// DefaultRetryConfig returns a small bounded retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    200 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryableStatusCodes: []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// HTTPError reports a non-success status after retries were exhausted.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// RetryTransport is an http.RoundTripper that retries network errors and
// retryable status codes with exponential backoff. Only requests without a
// body, or with GetBody set, are retried.
type RetryTransport struct {
	base   http.RoundTripper
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error

	attempts int64
	retries  int64
}

// NewRetryTransport wraps base (http.DefaultTransport when nil).
func NewRetryTransport(base http.RoundTripper, cfg RetryConfig) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	return &RetryTransport{base: base, config: cfg, sleep: sleepContext}
}

// NewClient returns an http.Client using a RetryTransport.
func NewClient(timeout time.Duration, cfg RetryConfig) *http.Client {
	return &http.Client{Timeout: timeout, Transport: NewRetryTransport(nil, cfg)}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var (
		resp    *http.Response
		lastErr error
	)
	for attempt := 0; attempt <= t.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if req.Body != nil && req.GetBody == nil {
				break
			}
			atomic.AddInt64(&t.retries, 1)
			if err := t.sleep(req.Context(), t.backoff(attempt)); err != nil {
				return nil, err
			}
			req = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				req.Body = body
			}
		}

		atomic.AddInt64(&t.attempts, 1)
		resp, lastErr = t.base.RoundTrip(req)
		if lastErr != nil {
			if !retryableError(lastErr) {
				return nil, lastErr
			}
			continue
		}
		if !t.retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if attempt < t.config.MaxRetries {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			resp.Body.Close()
			lastErr = &HTTPError{StatusCode: resp.StatusCode}
			resp = nil
		}
	}
	if resp != nil {
		return resp, nil
	}
	return nil, lastErr
}

// Stats returns total attempts and retries made through the transport.
func (t *RetryTransport) Stats() (attempts, retries int64) {
	return atomic.LoadInt64(&t.attempts), atomic.LoadInt64(&t.retries)
}

func (t *RetryTransport) backoff(attempt int) time.Duration {
	backoff := float64(t.config.InitialBackoff) * math.Pow(t.config.BackoffMultiplier, float64(attempt-1))
	if t.config.MaxBackoff > 0 && backoff > float64(t.config.MaxBackoff) {
		backoff = float64(t.config.MaxBackoff)
	}
	if t.config.Jitter > 0 {
		backoff += backoff * t.config.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(backoff)
}

func (t *RetryTransport) retryableStatus(code int) bool {
	for _, c := range t.config.RetryableStatusCodes {
		if c == code {
			return true
		}
	}
	return false
}

func retryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ReadAllWithLimit reads up to limit bytes and reports whether the body was truncated.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}
