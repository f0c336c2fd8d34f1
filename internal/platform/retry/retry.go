// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package retry wraps github.com/cenkalti/backoff/v4 with the bounded-retry
policies the change-capture pipeline needs.

Two distinct shapes show up in the spec: a short, small number of retries
while a previous replication-slot holder releases (PG_OBJECT_IN_USE), and an
unbounded exponential backoff for transient PostgreSQL connection errors at
the outer reconnect loop. Both are exposed here so callers never hand-roll
a sleep loop.
*/
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures a retry loop's backoff curve and retry ceiling.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration // zero means unbounded
}

// SlotHandoff is the short, bounded policy used while a previous
// replication-slot holder is in the process of releasing it.
func SlotHandoff() Policy {
	return Policy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  10 * time.Second,
	}
}

// Unbounded is the outer-loop policy for transient PostgreSQL errors: retry
// forever with capped exponential backoff.
func Unbounded() Policy {
	return Policy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsedTime:  0,
	}
}

func (p Policy) backoff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = p.MaxElapsedTime
	return backoff.WithContext(eb, ctx)
}

// Do runs fn, retrying on any non-nil error per the policy, until fn
// succeeds, the policy's elapsed-time ceiling is hit, or ctx is cancelled.
func Do(ctx context.Context, p Policy, fn func() error) error {
	return backoff.Retry(fn, p.backoff(ctx))
}

// Notify is like Do but invokes onRetry before each sleep, with the error
// that triggered the retry and the delay about to be taken — used to log
// each reconnect attempt.
func Notify(ctx context.Context, p Policy, fn func() error, onRetry func(err error, wait time.Duration)) error {
	return backoff.RetryNotify(fn, p.backoff(ctx), onRetry)
}
