package admin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
)

// maxFinishedJobs bounds how many finished jobs are remembered.
const maxFinishedJobs = 200

type JobStatus string

const (
	JobAccepted  JobStatus = "accepted"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is the externally visible state of one triggered run.
type Job struct {
	ID         string     `json:"job_id"`
	Kind       string     `json:"kind"`
	Status     JobStatus  `json:"status"`
	Message    string     `json:"message,omitempty"`
	Skipped    int        `json:"skipped"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobFunc does the work of a job. skipped is the number of units of work
// that did not make it through; result is reported as is.
type JobFunc func(ctx context.Context) (result any, skipped int, err error)

// Registry runs jobs in the background under a deadline and remembers their
// outcome.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	timeout time.Duration
	wg      sync.WaitGroup
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRegistry creates a Registry. m may be nil.
func NewRegistry(timeout time.Duration, m *metrics.Metrics) *Registry {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Registry{
		jobs:    make(map[string]*Job),
		timeout: timeout,
		metrics: m,
		logger:  slog.Default().With("component", "job-registry"),
	}
}

// Submit starts fn in the background and returns the accepted job.
func (r *Registry) Submit(kind string, fn JobFunc) Job {
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    JobAccepted,
		CreatedAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.jobs[job.ID] = job
	r.pruneLocked()
	snapshot := *job
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(job.ID, kind, fn)
	return snapshot
}

func (r *Registry) run(id, kind string, fn JobFunc) {
	defer r.wg.Done()
	ctx := logger.WithJobID(context.Background(), id)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	log := logger.Attach(ctx, r.logger)

	start := time.Now()
	r.update(id, func(j *Job) {
		t := start.UTC()
		j.Status = JobRunning
		j.StartedAt = &t
	})
	log.Info("job started", "kind", kind)

	result, skipped, err := fn(ctx)

	finished := time.Now()
	status := JobCompleted
	r.update(id, func(j *Job) {
		t := finished.UTC()
		j.FinishedAt = &t
		j.Result = result
		j.Skipped = skipped
		if err != nil {
			status = JobFailed
			j.Error = err.Error()
			j.Message = fmt.Sprintf("failed with %d skipped items", skipped)
		} else {
			j.Message = fmt.Sprintf("completed with %d skipped items", skipped)
		}
		j.Status = status
	})

	if r.metrics != nil {
		r.metrics.JobRunsTotal.WithLabelValues(kind, string(status)).Inc()
		r.metrics.JobDuration.WithLabelValues(kind).Observe(finished.Sub(start).Seconds())
	}
	if err != nil {
		log.Error("job failed", "kind", kind, "skipped", skipped, "error", err)
		return
	}
	log.Info("job completed", "kind", kind, "skipped", skipped, "duration", finished.Sub(start))
}

func (r *Registry) update(id string, fn func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		fn(j)
	}
}

// Get returns a copy of the job with the given id.
func (r *Registry) Get(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job %s: %w", id, apperrors.ErrJobNotFound)
	}
	return *j, nil
}

// Wait blocks until every submitted job has finished.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// pruneLocked forgets the oldest finished jobs beyond maxFinishedJobs.
func (r *Registry) pruneLocked() {
	var finished []*Job
	for _, j := range r.jobs {
		if j.Status == JobCompleted || j.Status == JobFailed {
			finished = append(finished, j)
		}
	}
	if len(finished) <= maxFinishedJobs {
		return
	}
	sort.Slice(finished, func(i, k int) bool { return finished[i].CreatedAt.Before(finished[k].CreatedAt) })
	for _, j := range finished[:len(finished)-maxFinishedJobs] {
		delete(r.jobs, j.ID)
	}
}
