// Package actions implements the remedial action channels driven by the
// violation dispatcher: email alerts over SQS, signed webhooks, on-chain
// violation reports, and monetary penalties through Stripe. Outbound HTTP
// goes through ResilientClient, which enforces circuit breaking, bounded
// retries, and error mapping on every call.
package actions

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"slasentinel/internal/types"
)

// RetryPolicy configures retry behavior for outbound channel calls.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy suits partner-facing endpoints: a couple of quick
// retries, never more than a few seconds of added latency per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    250 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// ResilientClient wraps an *http.Client with a circuit breaker and retry
// loop. Channel clients share one instance per upstream so breaker state
// reflects that upstream's health.
type ResilientClient struct {
	client       *http.Client
	breaker      *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy  RetryPolicy
	upstreamCode types.ErrorCode
	sleepFn      func(time.Duration)
}

// ResilientClientOption configures a ResilientClient.
type ResilientClientOption func(*ResilientClient)

// WithSleepFunc overrides the inter-retry sleep, for tests.
func WithSleepFunc(fn func(time.Duration)) ResilientClientOption {
	return func(c *ResilientClient) {
		c.sleepFn = fn
	}
}

// NewResilientClient creates a ResilientClient. breakerName labels the
// circuit breaker; upstreamCode is the error code used when the upstream is
// unreachable or exhausted.
func NewResilientClient(
	httpClient *http.Client,
	breakerName string,
	retryPolicy RetryPolicy,
	upstreamCode types.ErrorCode,
	opts ...ResilientClientOption,
) *ResilientClient {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	rc := &ResilientClient{
		client:       httpClient,
		breaker:      cb,
		retryPolicy:  retryPolicy,
		upstreamCode: upstreamCode,
		sleepFn:      time.Sleep,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Do executes the request with trace propagation, circuit breaking, and
// retries on 429/5xx. Any other response comes back as-is with its body
// open; the caller closes it. Exhausted retries and open-breaker states map
// to an AppError carrying the client's upstream code.
func (c *ResilientClient) Do(req *http.Request) (*http.Response, error) {
	if traceID := types.GetRequestID(req.Context()); traceID != "" {
		req.Header.Set("X-Request-Id", traceID)
	}

	// Snapshot the body so retries can replay it.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
				"reading request body for retry support", err)
		}
		req.Body.Close()
	}

	var lastResp *http.Response
	var lastErr error

	maxAttempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if resp != nil {
			if attempt < maxAttempts-1 {
				resp.Body.Close()
			} else {
				lastResp = resp
			}
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}

		if attempt < maxAttempts-1 {
			c.sleepFn(c.backoff(attempt, resp))
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, c.mapError(lastErr)
}

// backoff computes the wait before the next attempt: Retry-After when the
// upstream supplied one, otherwise exponential backoff with full jitter
// clamped to [MinWait, MaxWait].
func (c *ResilientClient) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if header := resp.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
				wait := time.Duration(seconds) * time.Second
				if wait > c.retryPolicy.MaxWait {
					wait = c.retryPolicy.MaxWait
				}
				return wait
			}
		}
	}

	base := float64(c.retryPolicy.MinWait) * math.Pow(2, float64(attempt))
	if maxWait := float64(c.retryPolicy.MaxWait); base > maxWait {
		base = maxWait
	}
	minWait := float64(c.retryPolicy.MinWait)
	if base <= minWait {
		return c.retryPolicy.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

func (c *ResilientClient) mapError(err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(c.upstreamCode,
			"circuit breaker open, upstream unavailable", err)
	}
	return types.NewAppError(c.upstreamCode, "upstream request failed", err)
}
