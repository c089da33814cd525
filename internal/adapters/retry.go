package adapters

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy enables bounded exponential backoff around a single outbound
// call. The zero value disables retries. Only safe methods are retried unless
// RetryWrites is set.
type RetryPolicy struct {
	MaxTries        uint          `mapstructure:"max_tries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	RetryWrites     bool          `mapstructure:"retry_writes"`
}

func (p RetryPolicy) enabled(method string) bool {
	if p.MaxTries <= 1 {
		return false
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return p.RetryWrites
	}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

func retry(ctx context.Context, p RetryPolicy, method string, fn func() error) error {
	if !p.enabled(method) {
		return fn()
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(p.backOff()), backoff.WithMaxTries(p.MaxTries))
	return err
}

func retryable(err error) bool {
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	var de *decodeError
	if errors.As(err, &de) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
