package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEvery_RejectsBadInterval(t *testing.T) {
	s := NewScheduler()
	if err := s.Every("prune", 0, func(context.Context) error { return nil }); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestRun_RunsImmediatelyAndRepeats(t *testing.T) {
	s := NewScheduler()
	var runs atomic.Int32
	if err := s.Every("count", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 runs, got %d", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if err := s.Every("late", time.Second, func(context.Context) error { return nil }); err == nil {
		t.Error("expected registration after Run to fail")
	}
}

func TestRun_SurvivesFailuresAndPanics(t *testing.T) {
	s := NewScheduler()
	var calls atomic.Int32
	s.Every("flaky", 5*time.Millisecond, func(context.Context) error {
		if calls.Add(1)%2 == 1 {
			panic("boom")
		}
		return errors.New("still broken")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)
	if calls.Load() < 3 {
		t.Errorf("expected the job to keep running after failures, got %d calls", calls.Load())
	}
}
