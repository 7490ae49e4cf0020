package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failingOp(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return errBoom
	}
}

func succeedingOp(calls *int) func(context.Context) error {
	return func(context.Context) error {
		*calls++
		return nil
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := New("test", Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	calls := 0
	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, failingOp(&calls)); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected operation error, got %v", i, err)
		}
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open after threshold, got %q", got)
	}

	// Next call must fail fast without invoking the operation.
	before := calls
	err := b.Execute(ctx, failingOp(&calls))
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if calls != before {
		t.Errorf("operation was invoked while open (%d calls)", calls-before)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("test", Config{FailureThreshold: 3})
	ctx := context.Background()

	calls := 0
	b.Execute(ctx, failingOp(&calls))
	b.Execute(ctx, failingOp(&calls))
	if err := b.Execute(ctx, succeedingOp(&calls)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Two more failures should not open it: the counter was reset.
	b.Execute(ctx, failingOp(&calls))
	b.Execute(ctx, failingOp(&calls))
	if got := b.State(); got != StateClosed {
		t.Errorf("expected closed after interleaved success, got %q", got)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b := New("test", Config{FailureThreshold: 1, RecoveryTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	calls := 0
	b.Execute(ctx, failingOp(&calls))
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open, got %q", got)
	}

	time.Sleep(50 * time.Millisecond)

	// The trial call is admitted; success closes the breaker.
	if err := b.Execute(ctx, succeedingOp(&calls)); err != nil {
		t.Fatalf("trial call should be admitted: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("expected closed after successful trial, got %q", got)
	}
	if s := b.Stats(); s.Failures != 0 {
		t.Errorf("expected failure count reset, got %d", s.Failures)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New("test", Config{FailureThreshold: 1, RecoveryTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	calls := 0
	b.Execute(ctx, failingOp(&calls))
	time.Sleep(50 * time.Millisecond)

	if err := b.Execute(ctx, failingOp(&calls)); !errors.Is(err, errBoom) {
		t.Fatalf("expected operation error on trial, got %v", err)
	}
	if got := b.State(); got != StateOpen {
		t.Errorf("expected reopened after failed trial, got %q", got)
	}

	// The recovery timer restarted: an immediate call fails fast.
	if err := b.Execute(ctx, failingOp(&calls)); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen right after reopen, got %v", err)
	}
}

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	b := New("test", Config{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	calls := 0
	b.Execute(ctx, failingOp(&calls))
	time.Sleep(40 * time.Millisecond)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	// While the trial is in flight a second call is rejected.
	if err := b.Execute(ctx, succeedingOp(&calls)); !errors.Is(err, ErrOpen) {
		t.Errorf("expected ErrOpen while trial in flight, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("expected closed, got %q", got)
	}
}

func TestBreaker_ClassifierFiltersErrors(t *testing.T) {
	qualifying := errors.New("transient")
	b := New("test", Config{
		FailureThreshold: 1,
		Classify:         func(err error) bool { return errors.Is(err, qualifying) },
	})
	ctx := context.Background()

	// A non-qualifying error propagates but does not open the breaker.
	err := b.Execute(ctx, func(context.Context) error { return errBoom })
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected error to propagate, got %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("non-qualifying error must not open breaker, got %q", got)
	}

	if err := b.Execute(ctx, func(context.Context) error { return qualifying }); err == nil {
		t.Fatal("expected error")
	}
	if got := b.State(); got != StateOpen {
		t.Errorf("qualifying error should open breaker at threshold 1, got %q", got)
	}
}

func TestBreaker_Stats(t *testing.T) {
	b := New("league", Config{FailureThreshold: 2})
	ctx := context.Background()

	calls := 0
	b.Execute(ctx, succeedingOp(&calls))
	b.Execute(ctx, succeedingOp(&calls))
	b.Execute(ctx, failingOp(&calls))

	s := b.Stats()
	if s.Name != "league" {
		t.Errorf("expected name 'league', got %q", s.Name)
	}
	if s.TotalRequests != 3 || s.TotalSuccesses != 2 || s.TotalFailures != 1 {
		t.Errorf("unexpected counters: %+v", s)
	}
	if s.SuccessRate < 0.66 || s.SuccessRate > 0.67 {
		t.Errorf("expected success rate ~0.667, got %f", s.SuccessRate)
	}
	if s.LastSuccess == nil || s.LastFailure == nil {
		t.Error("expected last success and failure timestamps")
	}
}
