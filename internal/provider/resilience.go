package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// BackoffConfig controls retry behaviour for transient provider failures.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var (
	errRateLimited = errors.New("rate limited")
	errServerError = errors.New("server error")
	errCircuitOpen = errors.New("circuit breaker open")
)

// statusError is a non-retryable HTTP status from the provider.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.code)
}

// resilientClient sends provider requests through a rate limiter, a circuit
// breaker and a bounded exponential backoff loop, in that order.
type resilientClient struct {
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	backoff BackoffConfig
}

func (c *resilientClient) do(ctx context.Context, buildRequest func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	var attempt int

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := buildRequest(ctx)
		if err != nil {
			return nil, err
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			resp, execErr := c.http.Do(req)
			if execErr != nil {
				return nil, execErr
			}

			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return resp, nil
			}

			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, errRateLimited
			case resp.StatusCode >= 500:
				return nil, errServerError
			default:
				return nil, &statusError{code: resp.StatusCode}
			}
		})
		if err == nil {
			return result.(*http.Response), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var se *statusError
		if errors.As(err, &se) || attempt >= c.backoff.MaxRetries {
			return nil, err
		}

		timer := time.NewTimer(c.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}

func (c *resilientClient) delay(attempt int) time.Duration {
	d := c.backoff.InitialInterval << attempt
	if c.backoff.MaxInterval > 0 && (d > c.backoff.MaxInterval || d <= 0) {
		d = c.backoff.MaxInterval
	}
	return d
}
