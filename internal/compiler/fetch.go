package compiler

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default fetch schedule: 10s, 20s, 40s, 80s.
const (
	DefaultInitialTimeout = 10 * time.Second
	DefaultRetries        = 4
)

// BackoffConfig bounds FetchWithBackoff. Attempt n (from zero) is given
// InitialTimeout * 2^n to complete, and there are Retries attempts after
// the first.
type BackoffConfig struct {
	InitialTimeout time.Duration
	Retries        int
}

// DefaultBackoff returns the default fetch schedule.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{InitialTimeout: DefaultInitialTimeout, Retries: DefaultRetries}
}

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is a non-200 response from an artifact host.
type StatusError struct {
	Resource string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.Resource, e.Code)
}

// FetchWithBackoff downloads resource. Each attempt is cancelled once its
// own timeout elapses and the next attempt starts immediately with twice
// the timeout. Transport errors, timeouts, 429 and 5xx responses are
// retried; any other non-200 status fails at once.
func FetchWithBackoff(ctx context.Context, client Doer, resource string, cfg BackoffConfig) ([]byte, error) {
	if cfg.InitialTimeout <= 0 {
		cfg.InitialTimeout = DefaultInitialTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}

	timeouts := backoff.NewExponentialBackOff()
	timeouts.InitialInterval = cfg.InitialTimeout
	timeouts.Multiplier = 2
	timeouts.RandomizationFactor = 0
	timeouts.MaxInterval = time.Duration(math.MaxInt64)
	timeouts.MaxElapsedTime = 0
	timeouts.Reset()

	// The schedule between attempts is zero; only the per-attempt
	// timeout grows.
	attempts := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(cfg.Retries)), ctx)

	n := 0
	body, err := backoff.RetryWithData(func() ([]byte, error) {
		n++
		return fetchOnce(ctx, client, resource, timeouts.NextBackOff())
	}, attempts)
	if err != nil {
		return nil, &DownloadError{Resource: resource, Attempts: n, Err: err}
	}
	return body, nil
}

func fetchOnce(ctx context.Context, client Doer, resource string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resource, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &StatusError{Resource: resource, Code: resp.StatusCode}
	default:
		return nil, backoff.Permanent(&StatusError{Resource: resource, Code: resp.StatusCode})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}
