package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now    time.Time
	slept  []time.Duration
	cancel bool
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if c.cancel {
		return context.Canceled
	}
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

func testOptions() Options {
	return Options{
		MinDelay:      time.Second,
		MaxDelay:      60 * time.Second,
		InitialDelay:  2 * time.Second,
		SuccessFactor: 0.9,
		ErrorFactor:   1.5,
		MaxErrors:     5,
	}
}

func newTestLimiter(clock *fakeClock) *Limiter {
	return New(testOptions(), WithClock(clock.Now), WithSleeper(clock.Sleep))
}

func TestWaitHonorsDelaySinceLastGrant(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := newTestLimiter(clock)
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(clock.slept) != 0 {
		t.Fatalf("first wait should not sleep, slept %v", clock.slept)
	}

	clock.now = clock.now.Add(500 * time.Millisecond)
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(clock.slept) != 1 || clock.slept[0] != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s sleep, got %v", clock.slept)
	}

	clock.now = clock.now.Add(10 * time.Second)
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(clock.slept) != 1 {
		t.Fatalf("expected no sleep after delay elapsed, got %v", clock.slept)
	}
}

func TestWaitPropagatesCancellation(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := newTestLimiter(clock)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	clock.cancel = true
	if err := l.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOnErrorIsMonotonicAndBounded(t *testing.T) {
	l := New(testOptions())
	prev := l.Delay()
	for i := 0; i < 50; i++ {
		l.OnError()
		if l.Delay() < prev {
			t.Fatalf("delay decreased on error: %v -> %v", prev, l.Delay())
		}
		if l.Delay() > 60*time.Second {
			t.Fatalf("delay exceeded ceiling: %v", l.Delay())
		}
		prev = l.Delay()
	}
	if l.Delay() != 60*time.Second {
		t.Fatalf("expected delay pinned at ceiling, got %v", l.Delay())
	}
}

func TestOnSuccessIsMonotonicAndBounded(t *testing.T) {
	opts := testOptions()
	opts.InitialDelay = 30 * time.Second
	l := New(opts)
	prev := l.Delay()
	for i := 0; i < 100; i++ {
		l.OnSuccess()
		if l.Delay() > prev {
			t.Fatalf("delay increased on success: %v -> %v", prev, l.Delay())
		}
		if l.Delay() < time.Second {
			t.Fatalf("delay fell below floor: %v", l.Delay())
		}
		prev = l.Delay()
	}
	if l.Delay() != time.Second {
		t.Fatalf("expected delay pinned at floor, got %v", l.Delay())
	}
}

func TestShouldStopAfterConsecutiveErrors(t *testing.T) {
	l := New(testOptions())
	for i := 0; i < 4; i++ {
		l.OnError()
		if l.ShouldStop() {
			t.Fatalf("stopped early after %d errors", i+1)
		}
	}
	l.OnSuccess()
	if l.ConsecutiveErrors() != 0 {
		t.Fatalf("success should reset streak, got %d", l.ConsecutiveErrors())
	}
	for i := 0; i < 5; i++ {
		l.OnError()
	}
	if !l.ShouldStop() {
		t.Fatal("expected ShouldStop after five consecutive errors")
	}
}

func TestNewClampsInitialDelay(t *testing.T) {
	opts := testOptions()
	opts.InitialDelay = 0
	if got := New(opts).Delay(); got != time.Second {
		t.Fatalf("expected floor, got %v", got)
	}
	opts.InitialDelay = time.Hour
	if got := New(opts).Delay(); got != time.Minute {
		t.Fatalf("expected ceiling, got %v", got)
	}
}

func TestGrowthFromZeroFloor(t *testing.T) {
	l := New(Options{MaxDelay: time.Second})
	l.OnError()
	if l.Delay() <= 0 {
		t.Fatalf("expected delay to grow from zero, got %v", l.Delay())
	}
}
