// Package ratelimit paces provider job submissions with an adaptive delay.
//
// The delay shrinks multiplicatively after each successful batch and grows
// after each failure, bounded by a floor and a ceiling. Consecutive failures
// are counted so the pipeline can halt instead of hammering a provider that is
// rejecting every request. A Limiter is owned by a single pipeline run and is
// not safe for concurrent use.
package ratelimit

import (
	"context"
	"time"

	"gravekeeper/internal/config"
)

// Options bounds the adaptive delay.
type Options struct {
	MinDelay      time.Duration
	MaxDelay      time.Duration
	InitialDelay  time.Duration
	SuccessFactor float64
	ErrorFactor   float64
	MaxErrors     int
}

// OptionsFromConfig converts the [rate_limit] section.
func OptionsFromConfig(cfg *config.Config) Options {
	rl := cfg.RateLimit
	return Options{
		MinDelay:      time.Duration(rl.MinDelayMillis) * time.Millisecond,
		MaxDelay:      time.Duration(rl.MaxDelayMillis) * time.Millisecond,
		InitialDelay:  time.Duration(rl.InitialMillis) * time.Millisecond,
		SuccessFactor: rl.SuccessFactor,
		ErrorFactor:   rl.ErrorFactor,
		MaxErrors:     rl.MaxErrors,
	}
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleeper overrides how Wait blocks.
func WithSleeper(sleep Sleeper) Option {
	return func(l *Limiter) {
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// Limiter holds the adaptive delay state for one run.
type Limiter struct {
	opts      Options
	delay     time.Duration
	lastGrant time.Time
	errors    int
	now       func() time.Time
	sleep     Sleeper
}

// New constructs a Limiter. Out-of-range options are clamped rather than rejected.
func New(opts Options, options ...Option) *Limiter {
	if opts.MinDelay < 0 {
		opts.MinDelay = 0
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	if opts.SuccessFactor <= 0 || opts.SuccessFactor > 1 {
		opts.SuccessFactor = 0.9
	}
	if opts.ErrorFactor < 1 {
		opts.ErrorFactor = 1.5
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = 5
	}
	l := &Limiter{
		opts:  opts,
		delay: clamp(opts.InitialDelay, opts.MinDelay, opts.MaxDelay),
		now:   time.Now,
		sleep: SleepWithContext,
	}
	for _, opt := range options {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Wait blocks until the current delay has elapsed since the previous grant,
// then records a new grant. The first call is granted immediately.
func (l *Limiter) Wait(ctx context.Context) error {
	if !l.lastGrant.IsZero() {
		if remaining := l.delay - l.now().Sub(l.lastGrant); remaining > 0 {
			if err := l.sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.lastGrant = l.now()
	return nil
}

// OnSuccess decays the delay toward the floor and clears the error streak.
func (l *Limiter) OnSuccess() {
	l.delay = clamp(scale(l.delay, l.opts.SuccessFactor), l.opts.MinDelay, l.opts.MaxDelay)
	l.errors = 0
}

// OnError grows the delay toward the ceiling and extends the error streak.
func (l *Limiter) OnError() {
	l.delay = clamp(scale(l.delay, l.opts.ErrorFactor), l.opts.MinDelay, l.opts.MaxDelay)
	l.errors++
}

// ShouldStop reports whether the error streak reached the configured threshold.
func (l *Limiter) ShouldStop() bool {
	return l.errors >= l.opts.MaxErrors
}

// Delay returns the current inter-request delay.
func (l *Limiter) Delay() time.Duration { return l.delay }

// ConsecutiveErrors returns the current error streak.
func (l *Limiter) ConsecutiveErrors() int { return l.errors }

// SleepWithContext sleeps for d, returning early with ctx.Err() on cancellation.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func scale(d time.Duration, factor float64) time.Duration {
	next := time.Duration(float64(d) * factor)
	// Growing from zero would stay at zero forever.
	if factor > 1 && next == d {
		next = d + time.Millisecond
	}
	return next
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
