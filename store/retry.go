/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package store

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acronis/go-throttle/tokenbucket"
)

// RetryPolicy defines a backoff strategy for retrying failed store operations.
type RetryPolicy interface {
	NewBackOff() backoff.BackOff
}

// RetryPolicyFunc is an adapter to allow the use of ordinary functions as RetryPolicy.
type RetryPolicyFunc func() backoff.BackOff

// NewBackOff implements RetryPolicy.
func (f RetryPolicyFunc) NewBackOff() backoff.BackOff {
	return f()
}

// NewExponentialRetryPolicy returns a policy that retries up to maxAttempts times with exponentially growing delays.
func NewExponentialRetryPolicy(initialInterval time.Duration, maxAttempts int) RetryPolicy {
	return RetryPolicyFunc(func() backoff.BackOff {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = initialInterval
		return withMaxRetries(eb, maxAttempts)
	})
}

// NewConstantRetryPolicy returns a policy that retries up to maxAttempts times with the constant delay.
func NewConstantRetryPolicy(interval time.Duration, maxAttempts int) RetryPolicy {
	return RetryPolicyFunc(func() backoff.BackOff {
		return withMaxRetries(backoff.NewConstantBackOff(interval), maxAttempts)
	})
}

func withMaxRetries(b backoff.BackOff, maxAttempts int) backoff.BackOff {
	if maxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(maxAttempts))
	}
	b.Reset()
	return b
}

// IsRetryableFunc tells whether the error is transient. nil means any error is retried.
type IsRetryableFunc func(err error) bool

// Retrying is a TokenStore decorator that retries failed operations of the underlying store.
// The throttle itself never retries, wrapping the store is the way to opt in.
type Retrying struct {
	delegate    TokenStore
	policy      RetryPolicy
	isRetryable IsRetryableFunc
}

var _ TokenStore = (*Retrying)(nil)

// WithRetry wraps the store with the retrying decorator.
func WithRetry(s TokenStore, policy RetryPolicy, isRetryable IsRetryableFunc) *Retrying {
	return &Retrying{delegate: s, policy: policy, isRetryable: isRetryable}
}

// Get calls Get of the underlying store with retries.
func (r *Retrying) Get(ctx context.Context, key string) (state tokenbucket.State, found bool, err error) {
	err = r.do(ctx, func(ctx context.Context) error {
		var getErr error
		state, found, getErr = r.delegate.Get(ctx, key)
		return getErr
	})
	return state, found, err
}

// Put calls Put of the underlying store with retries.
func (r *Retrying) Put(ctx context.Context, key string, state tokenbucket.State) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.delegate.Put(ctx, key, state)
	})
}

func (r *Retrying) do(ctx context.Context, fn func(ctx context.Context) error) error {
	bctx := backoff.WithContext(r.policy.NewBackOff(), ctx)
	return backoff.Retry(func() error {
		err := fn(bctx.Context())
		if err != nil && r.isRetryable != nil && !r.isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bctx)
}
