// Package retry runs backend calls under an exponential backoff policy
// for transient gRPC failures.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config bounds the retry loop.
type Config struct {
	// MaxRetries is the number of attempts after the first.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// Multiplier scales the delay between successive retries.
	Multiplier float64
}

// DefaultConfig matches the standard dispatch policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		Multiplier:     2.0,
	}
}

// Retryable reports whether a gRPC error is worth retrying. Only statuses
// signalling transient backend conditions qualify; everything else is
// either a client error or a deterministic failure.
func Retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// Do runs fn under the policy, stopping early on non-retryable errors or
// context cancellation. notify, when non-nil, observes each retry.
func Do(ctx context.Context, cfg Config, fn func() error, notify func(err error)) error {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	bo := backoff.NewExponentialBackOff()
	if cfg.InitialBackoff > 0 {
		bo.InitialInterval = cfg.InitialBackoff
	}
	if cfg.Multiplier > 0 {
		bo.Multiplier = cfg.Multiplier
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(cfg.MaxRetries)), ctx)

	return backoff.RetryNotify(
		func() error {
			err := fn()
			if err != nil && !Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		policy,
		func(err error, _ time.Duration) {
			if notify != nil {
				notify(err)
			}
		},
	)
}
