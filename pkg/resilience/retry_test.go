// pkg/resilience/retry_test.go
package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testRetrier(policy Policy, breaker *Breaker) *Retrier {
	r := NewRetrier(policy, breaker, zap.NewNop())
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return r
}

func TestPolicyDelayBackoff(t *testing.T) {
	p := Policy{
		MaxRetries:    5,
		InitialDelay:  time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      5 * time.Second,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestRetrierSucceedsAfterTransientFailures(t *testing.T) {
	breaker := NewBreaker(5, time.Minute, zap.NewNop())
	r := testRetrier(Policy{MaxRetries: 3, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: time.Second}, breaker)

	calls := 0
	err := r.Do(context.Background(), "test-op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if breaker.State() != "closed" {
		t.Errorf("expected closed breaker after success, got %s", breaker.State())
	}
}

func TestRetrierExhaustsRetries(t *testing.T) {
	breaker := NewBreaker(100, time.Minute, zap.NewNop())
	r := testRetrier(Policy{MaxRetries: 2, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: time.Second}, breaker)

	calls := 0
	err := r.Do(context.Background(), "test-op", func(ctx context.Context) error {
		calls++
		return errors.New("still failing")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", calls)
	}
}

func TestRetrierPermanentErrorStopsImmediately(t *testing.T) {
	breaker := NewBreaker(5, time.Minute, zap.NewNop())
	r := testRetrier(Policy{MaxRetries: 3, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: time.Second}, breaker)

	sentinel := errors.New("bad input")
	calls := 0
	err := r.Do(context.Background(), "test-op", func(ctx context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	// Permanent failures do not trip the breaker.
	if breaker.State() != "closed" {
		t.Errorf("expected closed breaker, got %s", breaker.State())
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	breaker := NewBreaker(3, time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		if !breaker.Allow() {
			t.Fatalf("breaker refused call %d while closed", i)
		}
		breaker.RecordFailure()
	}

	if breaker.State() != "open" {
		t.Fatalf("expected open after 3 failures, got %s", breaker.State())
	}
	if breaker.Allow() {
		t.Error("open breaker should refuse calls")
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	breaker := NewBreaker(1, time.Minute, zap.NewNop())
	base := time.Now()
	breaker.now = func() time.Time { return base }

	breaker.RecordFailure()
	if breaker.State() != "open" {
		t.Fatalf("expected open, got %s", breaker.State())
	}

	// Before the window: still refusing.
	base = base.Add(30 * time.Second)
	if breaker.Allow() {
		t.Error("breaker should refuse before recovery window elapses")
	}

	// After the window: single trial admitted, second call refused.
	base = base.Add(31 * time.Second)
	if !breaker.Allow() {
		t.Fatal("breaker should admit a trial after recovery window")
	}
	if breaker.State() != "half-open" {
		t.Fatalf("expected half-open, got %s", breaker.State())
	}
	if breaker.Allow() {
		t.Error("only one trial should be admitted while half-open")
	}

	breaker.RecordSuccess()
	if breaker.State() != "closed" {
		t.Errorf("expected closed after trial success, got %s", breaker.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	breaker := NewBreaker(1, time.Minute, zap.NewNop())
	base := time.Now()
	breaker.now = func() time.Time { return base }

	breaker.RecordFailure()
	base = base.Add(2 * time.Minute)
	if !breaker.Allow() {
		t.Fatal("expected trial admission")
	}
	breaker.RecordFailure()
	if breaker.State() != "open" {
		t.Errorf("expected reopened breaker, got %s", breaker.State())
	}
	if breaker.Allow() {
		t.Error("reopened breaker should refuse calls")
	}
}

func TestRetrierCircuitOpen(t *testing.T) {
	breaker := NewBreaker(1, time.Minute, zap.NewNop())
	breaker.RecordFailure()

	r := testRetrier(DefaultPolicy(), breaker)
	err := r.Do(context.Background(), "test-op", func(ctx context.Context) error {
		t.Fatal("fn should not run while breaker is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestRetrierTimedOutCallCountsAsFailure(t *testing.T) {
	breaker := NewBreaker(4, time.Minute, zap.NewNop())
	r := testRetrier(Policy{MaxRetries: 3, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: time.Second}, breaker)

	calls := 0
	err := r.Do(context.Background(), "test-op", func(ctx context.Context) error {
		calls++
		// A per-call deadline surfaces like this from a wrapped download.
		return fmt.Errorf("download: %w", context.DeadlineExceeded)
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls (1 + 3 retries), got %d", calls)
	}
	if breaker.State() != "open" {
		t.Errorf("expected open breaker after repeated timeouts, got %s", breaker.State())
	}
}

func TestRetrierContextCancellation(t *testing.T) {
	breaker := NewBreaker(100, time.Minute, zap.NewNop())
	r := testRetrier(Policy{MaxRetries: 5, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: time.Second}, breaker)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Do(ctx, "test-op", func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation stopped retries, got %d", calls)
	}
}
