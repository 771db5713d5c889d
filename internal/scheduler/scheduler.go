// Package scheduler runs a job on a fixed interval. Each tick gets its own
// job id in the context so every log line of a run can be correlated.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
)

// Job is one scheduled unit of work. trigger is the tick time.
type Job func(ctx context.Context, trigger time.Time) error

// Scheduler invokes a Job every interval. A tick that arrives while the
// previous run is still going is skipped.
type Scheduler struct {
	name      string
	interval  time.Duration
	immediate bool
	running   atomic.Bool
	logger    *slog.Logger
}

// New creates a scheduler. When immediate is set the job also runs once at
// start instead of waiting for the first tick.
func New(name string, interval time.Duration, immediate bool) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		name:      name,
		interval:  interval,
		immediate: immediate,
		logger:    slog.Default().With("component", "scheduler", "job", name),
	}
}

// Run blocks until ctx is cancelled and the run in progress, if any, has
// returned. Runs happen off the ticker loop, so a tick that lands while a
// run is still going finds it busy and is skipped.
func (s *Scheduler) Run(ctx context.Context, job Job) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		s.logger.Info("scheduler stopped")
	}()

	start := func(trigger time.Time) {
		if !s.running.CompareAndSwap(false, true) {
			s.logger.Warn("previous run still in progress, skipping tick", "trigger", trigger)
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.running.Store(false)
			s.run(ctx, job, trigger)
		}()
	}

	s.logger.Info("scheduler started", "interval", s.interval)
	if s.immediate {
		start(time.Now())
	}
	for {
		select {
		case t := <-ticker.C:
			start(t)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job Job, trigger time.Time) {
	ctx = logger.WithJobID(ctx, uuid.NewString())
	log := logger.Attach(ctx, s.logger)
	start := time.Now()
	if err := job(ctx, trigger); err != nil {
		log.Error("scheduled run failed", "error", err, "duration", time.Since(start))
		return
	}
	log.Info("scheduled run finished", "duration", time.Since(start))
}
