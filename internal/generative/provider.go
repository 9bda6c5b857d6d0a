// Package generative abstracts text-completion backends used for suggestions.
package generative

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// Provider completes a prompt into free text. Implementations must honour ctx deadlines.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// ErrEmptyCompletion is returned when a backend answered 2xx without any text.
var ErrEmptyCompletion = errors.New("empty completion")

// StatusError is a non-2xx response from a backend.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Recoverable reports whether retrying the request may succeed.
// 4xx client errors are final except 408 and 429.
func (e *StatusError) Recoverable() bool {
	switch {
	case e.StatusCode == 408 || e.StatusCode == 429:
		return true
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return false
	default:
		return true
	}
}

// RetryPolicy bounds Retry.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy keeps retries well inside a suggestion request budget.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second}

// Retry runs fn with exponential backoff until it succeeds, returns a
// non-recoverable error, exhausts MaxAttempts or ctx is done.
func Retry(ctx context.Context, p RetryPolicy, fn func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.Multiplier = 2
	exp.MaxInterval = p.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var b backoff.BackOff = backoff.WithMaxRetries(exp, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Recoverable() {
			return backoff.Permanent(err)
		}
		if errors.Is(err, ErrEmptyCompletion) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
