// pkg/resilience/retry.go
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned without attempting the operation while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Policy controls retry pacing for transient failures.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// DefaultPolicy matches the pipeline defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
	}
}

// Delay returns the backoff before the given attempt. Attempt 0 is the
// first retry.
func (p Policy) Delay(attempt int) time.Duration {
	delay := p.InitialDelay
	for i := 0; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.BackoffFactor)
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. The retrier fails immediately and
// the failure does not count toward the breaker threshold.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker is a shared circuit breaker. After Threshold consecutive
// failures it opens for RecoveryWindow, then allows a single trial call.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	recovery  time.Duration
	failures  int
	state     breakerState
	openedAt  time.Time

	now    func() time.Time
	logger *zap.Logger

	onStateChange func(state string)
}

// NewBreaker builds a breaker with the given consecutive-failure threshold
// and recovery window.
func NewBreaker(threshold int, recovery time.Duration, logger *zap.Logger) *Breaker {
	return &Breaker{
		threshold: threshold,
		recovery:  recovery,
		now:       time.Now,
		logger:    logger.Named("breaker"),
	}
}

// OnStateChange registers a callback invoked on state transitions. Used to
// export breaker state as a gauge.
func (b *Breaker) OnStateChange(fn func(state string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Allow reports whether a call may proceed. When the recovery window has
// elapsed it admits one trial call and moves to half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateHalfOpen:
		// One trial is already in flight.
		return false
	default:
		if b.now().Sub(b.openedAt) >= b.recovery {
			b.transition(stateHalfOpen)
			return true
		}
		return false
	}
}

// RecordSuccess resets the failure counter and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != stateClosed {
		b.transition(stateClosed)
	}
}

// RecordFailure counts a transient failure, opening the breaker at the
// threshold. A failed half-open trial reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.openedAt = b.now()
		b.transition(stateOpen)
		return
	}

	b.failures++
	if b.state == stateClosed && b.failures >= b.threshold {
		b.openedAt = b.now()
		b.transition(stateOpen)
	}
}

// State returns the current breaker state as a string.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (b *Breaker) transition(next breakerState) {
	prev := b.state
	b.state = next
	b.logger.Info("Circuit breaker state changed",
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
		zap.Int("failures", b.failures))
	if b.onStateChange != nil {
		b.onStateChange(next.String())
	}
}

// Retrier runs operations under a retry policy and a shared breaker.
type Retrier struct {
	policy  Policy
	breaker *Breaker
	logger  *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier builds a retrier. The breaker may be shared across retriers
// so that unrelated operations trip it together.
func NewRetrier(policy Policy, breaker *Breaker, logger *zap.Logger) *Retrier {
	return &Retrier{
		policy:  policy,
		breaker: breaker,
		logger:  logger.Named("retrier"),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn with retries. Permanent errors and context cancellation stop
// the attempts immediately. ErrCircuitOpen is returned when the breaker
// refuses the call.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !r.breaker.Allow() {
			return fmt.Errorf("%s: %w", op, ErrCircuitOpen)
		}

		err := fn(ctx)
		if err == nil {
			r.breaker.RecordSuccess()
			return nil
		}

		if IsPermanent(err) {
			return err
		}
		// Only the caller's own context stops the attempts. A deadline
		// raised inside fn (per-call download timeout) is a transient
		// failure like any other and must count toward the breaker.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		r.breaker.RecordFailure()
		lastErr = err

		if attempt == r.policy.MaxRetries {
			break
		}

		delay := r.policy.Delay(attempt)
		r.logger.Warn("Operation failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", r.policy.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", op, r.policy.MaxRetries+1, lastErr)
}
