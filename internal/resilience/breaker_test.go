// ABOUTME: Tests for the circuit breaker
// ABOUTME: Validates state transitions, failure counting, and half-open recovery

package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBreaker_InitialState(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{})

	if b.State() != StateClosed {
		t.Errorf("Initial state = %v, want %v", b.State(), StateClosed)
	}
}

func TestBreaker_Execute_Success(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{})
	ctx := context.Background()

	executed := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		executed = true
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if !executed {
		t.Error("Function was not executed")
	}
}

func TestBreaker_Execute_Failure(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{})
	ctx := context.Background()

	expectedErr := errors.New("test error")
	err := b.Execute(ctx, func(ctx context.Context) error {
		return expectedErr
	})

	if !errors.Is(err, expectedErr) {
		t.Errorf("Execute() error = %v, want %v", err, expectedErr)
	}
}

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		MaxFailures:  3,
		ResetTimeout: 1 * time.Second,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, func(ctx context.Context) error {
			return errors.New("failure")
		})
	}

	if b.State() != StateOpen {
		t.Errorf("State = %v, want %v after max failures", b.State(), StateOpen)
	}
}

func TestBreaker_RejectsWhenOpen(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 1 * time.Hour, // Long timeout.
	})
	ctx := context.Background()

	// Trigger failure to open.
	_ = b.Execute(ctx, func(ctx context.Context) error {
		return errors.New("failure")
	})

	// Next call should be rejected.
	executed := false
	err := b.Execute(ctx, func(ctx context.Context) error {
		executed = true
		return nil
	})

	if executed {
		t.Error("Function should not be executed when circuit is open")
	}
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Execute() error = %v, want %v", err, ErrOpen)
	}
}

func TestBreaker_TransitionsToHalfOpen(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		MaxFailures:  1,
		ResetTimeout: 50 * time.Millisecond,
	})
	ctx := context.Background()

	_ = b.Execute(ctx, func(ctx context.Context) error {
		return errors.New("failure")
	})

	if b.State() != StateOpen {
		t.Fatalf("State = %v, want %v", b.State(), StateOpen)
	}

	// Wait for reset timeout.
	time.Sleep(100 * time.Millisecond)

	if b.State() != StateHalfOpen {
		t.Errorf("State = %v, want %v after timeout", b.State(), StateHalfOpen)
	}
}

func TestBreaker_HalfOpenToClosedOnSuccess(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		MaxFailures:      1,
		ResetTimeout:     50 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})
	ctx := context.Background()

	// Open the circuit.
	_ = b.Execute(ctx, func(ctx context.Context) error {
		return errors.New("failure")
	})

	// Wait for half-open.
	time.Sleep(100 * time.Millisecond)

	// Successful probe closes the circuit.
	err := b.Execute(ctx, func(ctx context.Context) error {
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("State = %v, want %v after success in half-open", b.State(), StateClosed)
	}
}

func TestBreaker_HalfOpenToOpenOnFailure(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		MaxFailures:      1,
		ResetTimeout:     50 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})
	ctx := context.Background()

	// Open the circuit.
	_ = b.Execute(ctx, func(ctx context.Context) error {
		return errors.New("failure")
	})

	// Wait for half-open.
	time.Sleep(100 * time.Millisecond)

	// A failed probe reopens the circuit.
	_ = b.Execute(ctx, func(ctx context.Context) error {
		return errors.New("another failure")
	})

	if b.State() != StateOpen {
		t.Errorf("State = %v, want %v after failure in half-open", b.State(), StateOpen)
	}
}

func TestBreaker_HalfOpenCapsProbes(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		MaxFailures:      1,
		ResetTimeout:     10 * time.Millisecond,
		HalfOpenMaxCalls: 2,
	})
	ctx := context.Background()

	_ = b.Execute(ctx, func(ctx context.Context) error {
		return errors.New("failure")
	})
	time.Sleep(20 * time.Millisecond)

	// Holding probes open exhausts the half-open budget; further calls are
	// rejected until a probe reports back.
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(ctx, func(ctx context.Context) error {
				<-release
				return nil
			})
		}()
	}
	time.Sleep(20 * time.Millisecond)

	err := b.Execute(ctx, func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Execute() error = %v, want %v when probe budget exhausted", err, ErrOpen)
	}

	close(release)
	wg.Wait()

	if b.State() != StateClosed {
		t.Errorf("State = %v, want %v after successful probes", b.State(), StateClosed)
	}
}

func TestBreaker_Stats(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		Name:        "redis",
		MaxFailures: 10,
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = b.Execute(ctx, func(ctx context.Context) error {
			return nil
		})
	}
	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, func(ctx context.Context) error {
			return errors.New("failure")
		})
	}

	stats := b.Stats()

	if stats.Name != "redis" {
		t.Errorf("Name = %q, want %q", stats.Name, "redis")
	}
	if stats.State != "closed" {
		t.Errorf("State = %q, want %q", stats.State, "closed")
	}
	if stats.TotalCalls != 8 {
		t.Errorf("TotalCalls = %d, want 8", stats.TotalCalls)
	}
	if stats.Successes != 5 {
		t.Errorf("Successes = %d, want 5", stats.Successes)
	}
	if stats.Failures != 3 {
		t.Errorf("Failures = %d, want 3", stats.Failures)
	}
	if stats.ConsecutiveFailures != 3 {
		t.Errorf("ConsecutiveFailures = %d, want 3", stats.ConsecutiveFailures)
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		MaxFailures: 1,
	})
	ctx := context.Background()

	_ = b.Execute(ctx, func(ctx context.Context) error {
		return errors.New("failure")
	})

	if b.State() != StateOpen {
		t.Fatalf("State = %v, want %v", b.State(), StateOpen)
	}

	b.Reset()

	if b.State() != StateClosed {
		t.Errorf("State = %v, want %v after reset", b.State(), StateClosed)
	}
	if got := b.Stats().ConsecutiveFailures; got != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0 after reset", got)
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var transitions []string

	b := NewBreaker(BreakerConfig{
		MaxFailures:  2,
		ResetTimeout: 20 * time.Millisecond,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+">"+to.String())
			mu.Unlock()
		},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = b.Execute(ctx, func(ctx context.Context) error {
			return errors.New("failure")
		})
	}
	time.Sleep(40 * time.Millisecond)
	_ = b.Execute(ctx, func(ctx context.Context) error {
		return nil
	})

	mu.Lock()
	defer mu.Unlock()

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		MaxFailures:  100,
		ResetTimeout: 1 * time.Hour,
	})
	ctx := context.Background()

	var executed atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(ctx, func(ctx context.Context) error {
				executed.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()

	if executed.Load() != 100 {
		t.Errorf("Executed = %d, want 100", executed.Load())
	}
}

func TestBreakerConfig_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{})

	if b.config.MaxFailures != DefaultMaxFailures {
		t.Errorf("MaxFailures = %d, want %d", b.config.MaxFailures, DefaultMaxFailures)
	}
	if b.config.ResetTimeout != DefaultResetTimeout {
		t.Errorf("ResetTimeout = %v, want %v", b.config.ResetTimeout, DefaultResetTimeout)
	}
	if b.config.HalfOpenMaxCalls != DefaultHalfOpenMaxCalls {
		t.Errorf("HalfOpenMaxCalls = %d, want %d", b.config.HalfOpenMaxCalls, DefaultHalfOpenMaxCalls)
	}
}
