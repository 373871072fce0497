// Package external is the anti-corruption layer between the subscription
// domain and third-party HTTP APIs (Mercado Pago, Supabase). Every outbound
// call goes through BaseClient, which applies the circuit breaker, bounded
// retries and the mapping of transport failures onto types.AppError.
package external

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

	"guied/internal/types"
)

// RetryPolicy configures how many times BaseClient retries 429/5xx responses
// and how long it waits in between.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// NoRetryPolicy performs exactly one attempt. Webhook-path fetches use it:
// the provider redelivers notifications on its own schedule.
func NoRetryPolicy() RetryPolicy {
	return RetryPolicy{MinWait: 250 * time.Millisecond, MaxWait: 2 * time.Second}
}

// BaseClient wraps an *http.Client with a circuit breaker and retry policy.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     func(time.Duration)
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the sleep used between retries. Tests pass a no-op.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) { c.sleepFn = fn }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) BaseClientOption {
	return func(c *BaseClient) { c.breaker = cb }
}

// NewBreaker returns the default breaker: it opens after more than five
// consecutive failures and half-opens after 30s.
func NewBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})
}

// NewBaseClient creates a BaseClient. The http client's Timeout bounds each
// attempt.
func NewBaseClient(
	httpClient *http.Client,
	breakerName string,
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	bc := &BaseClient{
		client:      httpClient,
		breaker:     NewBreaker(breakerName),
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		sleepFn:     time.Sleep,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// errRetryable marks a response the breaker should count as a failure.
var errRetryable = errors.New("retryable upstream status")

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Do sends req. It propagates the request id, retries 429/5xx up to the
// policy limit and maps exhausted retries, transport failures and an open
// breaker onto *types.AppError. Any other response, 4xx included, is
// returned to the caller, who must close the body.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if reqID := types.GetRequestID(req.Context()); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Buffer the body so each attempt can replay it.
	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
		}
	}

	attempts := 1 + max(c.retryPolicy.MaxRetries, 0)
	var (
		lastStatus int
		lastErr    error
	)
	for attempt := range attempts {
		if payload != nil {
			req.Body = io.NopCloser(bytes.NewReader(payload))
			req.ContentLength = int64(len(payload))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			if isRetryableStatus(r.StatusCode) {
				return r, fmt.Errorf("%w: %d", errRetryable, r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		lastStatus = 0
		var wait time.Duration
		if resp != nil {
			lastStatus = resp.StatusCode
			wait = c.backoff(attempt, resp.Header.Get("Retry-After"))
			resp.Body.Close()
		} else {
			wait = c.backoff(attempt, "")
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if req.Context().Err() != nil {
			break
		}
		if attempt < attempts-1 {
			c.sleepFn(wait)
		}
	}

	return nil, c.mapError(lastStatus, lastErr)
}

// backoff honors Retry-After (seconds or HTTP date) and otherwise uses
// exponential backoff with jitter, clamped to [MinWait, MaxWait].
func (c *BaseClient) backoff(attempt int, retryAfter string) time.Duration {
	p := c.retryPolicy
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			return min(time.Duration(secs)*time.Second, p.MaxWait)
		}
		if at, err := http.ParseTime(retryAfter); err == nil {
			wait := time.Until(at)
			if wait <= 0 {
				return p.MinWait
			}
			return min(wait, p.MaxWait)
		}
	}

	ceiling := math.Min(float64(p.MinWait)*math.Pow(2, float64(attempt)), float64(p.MaxWait))
	floor := float64(p.MinWait)
	if ceiling <= floor {
		return p.MinWait
	}
	return time.Duration(floor + rand.Float64()*(ceiling-floor))
}

func (c *BaseClient) mapError(status int, err error) *types.AppError {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker open", err)
	case status == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
	case status >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("upstream returned %d", status), err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
	}
}
