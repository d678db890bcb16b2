// Package scheduler runs CarSherpa's periodic housekeeping jobs, such as pruning old
// dedup records and conversation snapshots.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrInvalidInterval is returned for a non-positive job interval.
var ErrInvalidInterval = errors.New("job interval must be positive")

// JobFunc is one run of a periodic job.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
}

// Scheduler runs registered jobs on fixed intervals.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []job
	running bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Every registers fn to run every interval once Run is called.
func (s *Scheduler) Every(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("%s: %w", name, ErrInvalidInterval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("%s: scheduler already running", name)
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, fn: fn})
	slog.Debug("Scheduler.Every: job registered", "job", name, "interval", interval)
	return nil
}

// Run starts every job and blocks until ctx is cancelled and all runs have returned.
// Each job runs once immediately, then on its interval; runs of one job never overlap.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.running = true
	jobs := append([]job(nil), s.jobs...)
	s.mu.Unlock()

	slog.Info("Scheduler.Run: starting", "jobs", len(jobs))
	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, j)
		}()
	}
	wg.Wait()
	slog.Info("Scheduler.Run: stopped")
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		runOnce(ctx, j)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, j job) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scheduler.runOnce: job panicked", "job", j.name, "panic", r)
		}
	}()
	start := time.Now()
	if err := j.fn(ctx); err != nil {
		slog.Error("Scheduler.runOnce: job failed", "job", j.name, "error", err)
		return
	}
	slog.Debug("Scheduler.runOnce: job finished", "job", j.name, "duration", time.Since(start))
}
