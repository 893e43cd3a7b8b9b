package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func recordSleeps(out *[]time.Duration) ExecutorOption {
	return WithSleep(func(_ context.Context, d time.Duration) error {
		*out = append(*out, d)
		return nil
	})
}

func TestExecuteRetriesTransientFailureWithExponentialBackoff(t *testing.T) {
	var sleeps []time.Duration
	exec := NewExecutor(Config{
		MaxRetries:      3,
		BaseDelay:       10 * time.Millisecond,
		MaxDelay:        time.Second,
		DelayMultiplier: 2,
		BreakerEnabled:  false,
	}, recordSleeps(&sleeps))

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 4 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 4 {
		t.Fatalf("expected 1 call + 3 retries, got %d attempts", attempts)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	if len(sleeps) != len(want) {
		t.Fatalf("expected %d waits, got %v", len(want), sleeps)
	}
	for i := range want {
		if sleeps[i] != want[i] {
			t.Fatalf("wait %d: expected %v, got %v", i, want[i], sleeps[i])
		}
	}
}

func TestExecuteStopsAfterRetryBudget(t *testing.T) {
	exec := NewExecutor(Config{
		MaxRetries:     2,
		BaseDelay:      time.Millisecond,
		MaxDelay:       time.Millisecond,
		BreakerEnabled: false,
	}, WithSleep(func(context.Context, time.Duration) error { return nil }))

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errTemp
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if !errors.Is(err, errTemp) {
		t.Fatalf("expected last error to surface, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		MaxRetries:     3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		BreakerEnabled: false,
	})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		MaxRetries:              0,
		BaseDelay:               time.Millisecond,
		MaxDelay:                time.Millisecond,
		DelayMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errTemp := errors.New("temporary")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if !IsCircuitOpen(err) {
		t.Fatalf("IsCircuitOpen should recognize %v", err)
	}
}

func TestExecuteHonorsCanceledContext(t *testing.T) {
	exec := NewExecutor(Config{MaxRetries: 3, BreakerEnabled: false})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := exec.Execute(ctx, "op", func(context.Context) error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Fatalf("operation must not run on a canceled context")
	}
}
