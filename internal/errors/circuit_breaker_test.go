package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"ratchet/internal/taxonomy"
)

func TestCircuitBreakerStaysClosedOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: 100 * time.Millisecond})

	for i := 0; i < 5; i++ {
		if err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
			t.Fatalf("Execute returned error: %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed state after successes, got %v", cb.State())
	}
}

func TestCircuitBreakerOpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: 100 * time.Millisecond})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open state after %d failures, got %v", 3, cb.State())
	}

	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Fatal("fn must not run while the breaker is open")
	}
	if err == nil || taxonomy.KindOf(err) != taxonomy.ServiceUnavailable {
		t.Fatalf("expected a ServiceUnavailable error while open, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenRecoversOnSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Millisecond})

	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatalf("expected open after one failure, got %v", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected the half-open probe to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after a successful half-open probe, got %v", cb.State())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker("test", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})
	_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	if cb.State() != StateOpen {
		t.Fatal("expected open state")
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("expected Reset to force closed state, got %v", cb.State())
	}
}

func TestCircuitBreakerManagerIsolatesBreakersByName(t *testing.T) {
	mgr := NewCircuitBreakerManager(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})

	a := mgr.Get("source-a")
	_ = a.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })

	b := mgr.Get("source-b")
	if b.State() != StateClosed {
		t.Fatal("expected an unrelated named breaker to remain closed")
	}
	if mgr.Get("source-a") != a {
		t.Fatal("expected Get to return the same breaker instance for a repeated name")
	}
}
