// Package runner drives one ingestion run: aggregate preferences into work
// items, fetch each pair from the catalog provider with bounded concurrency,
// and publish one event per discovered title.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/tracing"
)

type Aggregator interface {
	Aggregate(ctx context.Context) (ingestion.Plan, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, item ingestion.WorkItem) (ingestion.Discovery, error)
}

type Publisher interface {
	Publish(ctx context.Context, d ingestion.Discovery, cause string) publisher.Result
}

// Runner wires the three stages together.
type Runner struct {
	aggregator  Aggregator
	fetcher     Fetcher
	publisher   Publisher
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Runner. concurrency bounds in-flight work items; m may be nil.
func New(a Aggregator, f Fetcher, p Publisher, concurrency int, m *metrics.Metrics) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{
		aggregator:  a,
		fetcher:     f,
		publisher:   p,
		concurrency: concurrency,
		metrics:     m,
		logger:      slog.Default().With("component", "ingestion-runner"),
	}
}

// tally accumulates per-pair outcomes from concurrent workers.
type tally struct {
	mu      sync.Mutex
	summary ingestion.RunSummary
}

func (t *tally) add(fn func(s *ingestion.RunSummary)) {
	t.mu.Lock()
	fn(&t.summary)
	t.mu.Unlock()
}

// Run executes one ingestion run. Only a failure to read preferences, or
// cancellation of ctx, is returned as an error. Failed pairs and dropped
// events are counted in the summary.
func (r *Runner) Run(ctx context.Context, cause string) (ingestion.RunSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestion.run", logger.JobID(ctx))
	defer span.Finish()
	span.SetAttr("cause", cause)
	log := logger.Attach(ctx, r.logger)

	t := &tally{summary: ingestion.RunSummary{StartedAt: time.Now().UTC()}}

	aggCtx, aggSpan := tracing.StartChildSpan(ctx, "aggregate")
	plan, err := r.aggregator.Aggregate(aggCtx)
	aggSpan.End()
	if err != nil {
		aggSpan.Fail(err)
		return t.summary, fmt.Errorf("aggregating preferences: %w", err)
	}
	t.summary.Users = plan.Users
	t.summary.UsersExcluded = len(plan.ExcludedUsers)
	t.summary.WorkItems = len(plan.WorkItems)
	if r.metrics != nil {
		r.metrics.WorkItemsTotal.Add(float64(len(plan.WorkItems)))
		r.metrics.UsersExcludedTotal.Add(float64(len(plan.ExcludedUsers)))
	}

	fanCtx, fanSpan := tracing.StartChildSpan(ctx, "fetch_and_publish")
	fanSpan.SetAttr("work_items", len(plan.WorkItems))
	g, gctx := errgroup.WithContext(fanCtx)
	g.SetLimit(r.concurrency)
	for _, item := range plan.WorkItems {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			d, err := r.fetcher.Fetch(gctx, item)
			if err != nil {
				t.add(func(s *ingestion.RunSummary) { s.PairsSkipped++ })
				return nil
			}
			res := r.publisher.Publish(gctx, d, cause)
			t.add(func(s *ingestion.RunSummary) {
				s.TitlesDiscovered += len(d.Listings)
				s.EventsPublished += res.Published
				s.EventsDropped += res.Dropped
			})
			return nil
		})
	}
	err = g.Wait()
	fanSpan.End()

	summary := t.summary
	summary.FinishedAt = time.Now().UTC()
	span.SetAttr("pairs_skipped", summary.PairsSkipped)
	span.SetAttr("events_published", summary.EventsPublished)
	if err != nil {
		span.Fail(err)
		return summary, fmt.Errorf("ingestion run interrupted: %w", err)
	}

	log.Info("ingestion run complete",
		"users", summary.Users,
		"users_excluded", summary.UsersExcluded,
		"work_items", summary.WorkItems,
		"pairs_skipped", summary.PairsSkipped,
		"titles_discovered", summary.TitlesDiscovered,
		"events_published", summary.EventsPublished,
		"events_dropped", summary.EventsDropped,
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
	)
	return summary, nil
}
