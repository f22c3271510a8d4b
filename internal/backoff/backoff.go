// Package backoff provides the reconnect and resync delay policy.
package backoff

import (
	"context"
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"
)

// Defaults
const (
	DefaultBase          = time.Second
	DefaultMultiplier    = 2.0
	DefaultCapMultiplier = 32
)

// Policy is an exponential delay: Base, Base*Multiplier, ... capped at
// Base*CapMultiplier. Reset returns it to Base.
type Policy struct {
	Base          time.Duration
	Multiplier    float64
	CapMultiplier int
	Jitter        float64 // Randomization factor in [0, 1); 0 is deterministic

	exp *cbackoff.ExponentialBackOff
}

// New creates a Policy. Non-positive values fall back to defaults.
func New(base time.Duration, multiplier float64, capMultiplier int, jitter float64) *Policy {
	if base <= 0 {
		base = DefaultBase
	}
	if multiplier < 1 {
		multiplier = DefaultMultiplier
	}
	if capMultiplier < 1 {
		capMultiplier = DefaultCapMultiplier
	}
	if jitter < 0 || jitter >= 1 {
		jitter = 0
	}

	exp := cbackoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.Multiplier = multiplier
	exp.RandomizationFactor = jitter
	exp.MaxInterval = base * time.Duration(capMultiplier)
	exp.Reset()

	return &Policy{
		Base:          base,
		Multiplier:    multiplier,
		CapMultiplier: capMultiplier,
		Jitter:        jitter,
		exp:           exp,
	}
}

// Next returns the delay before the next attempt and advances the policy.
func (p *Policy) Next() time.Duration {
	return p.exp.NextBackOff()
}

// Reset returns the policy to its base delay.
func (p *Policy) Reset() {
	p.exp.Reset()
}

// Max returns the capped delay.
func (p *Policy) Max() time.Duration {
	return p.exp.MaxInterval
}

// Permanent marks err as final; Retry returns it without another attempt.
func Permanent(err error) error {
	return cbackoff.Permanent(err)
}

// Retry runs op until it succeeds, fails with a Permanent error or has been
// tried maxTries times, sleeping on p between attempts. notify, if set, is
// called before each sleep. p must not be shared with concurrent callers.
func Retry[T any](ctx context.Context, p *Policy, maxTries int, op func() (T, error), notify func(err error, next time.Duration)) (T, error) {
	if maxTries < 1 {
		maxTries = 1
	}
	opts := []cbackoff.RetryOption{
		cbackoff.WithBackOff(p.exp),
		cbackoff.WithMaxTries(uint(maxTries)),
	}
	if notify != nil {
		opts = append(opts, cbackoff.WithNotify(notify))
	}
	return cbackoff.Retry[T](ctx, cbackoff.Operation[T](op), opts...)
}

// Wait sleeps for Next() or until ctx is done.
func (p *Policy) Wait(ctx context.Context) error {
	return Sleep(ctx, p.Next())
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
