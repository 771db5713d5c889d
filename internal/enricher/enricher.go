// Package enricher fills in title details (poster, plot, rating) in reaction
// to writes on canonical title records. The enricher's own write shows up on
// the change feed again; catalog.AlreadyEnriched turns that event into a
// no-op, which is what stops the loop.
package enricher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kvstore"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/tracing"
)

const consumerName = "enricher"

type Outcome string

const (
	OutcomeEnriched        Outcome = "enriched"
	OutcomeAlreadyEnriched Outcome = "already_enriched"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeSkipped         Outcome = "skipped"
	OutcomeMalformed       Outcome = "malformed"
)

// DetailsFetcher fetches one title's details from the catalog provider.
type DetailsFetcher interface {
	Details(ctx context.Context, id catalog.ID) (catalog.Details, error)
}

type Enricher struct {
	store       kvstore.Store
	fetcher     DetailsFetcher
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates an Enricher. concurrency bounds how many titles are enriched
// at once; m may be nil.
func New(store kvstore.Store, fetcher DetailsFetcher, concurrency int, m *metrics.Metrics) *Enricher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Enricher{
		store:       store,
		fetcher:     fetcher,
		concurrency: concurrency,
		metrics:     m,
		logger:      slog.Default().With("component", "enricher"),
	}
}

// HandleChanges is the change-feed batch handler. Records of the same title
// are handled in order; different titles run concurrently. A store failure
// fails the batch, anything else only skips its record.
func (e *Enricher) HandleChanges(ctx context.Context, records []kafka.Record) error {
	byKey := make(map[string][]kafka.Record)
	var order []string
	for _, r := range records {
		if _, ok := byKey[r.PartitionKey]; !ok {
			order = append(order, r.PartitionKey)
		}
		byKey[r.PartitionKey] = append(byKey[r.PartitionKey], r)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, key := range order {
		group := byKey[key]
		g.Go(func() error {
			for _, r := range group {
				outcome, err := e.handleRecord(gctx, r)
				if err != nil {
					return fmt.Errorf("change record partition=%d offset=%d key=%s: %w", r.Partition, r.Offset, r.PartitionKey, err)
				}
				e.count(outcome)
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Enricher) handleRecord(ctx context.Context, r kafka.Record) (Outcome, error) {
	ev, err := kafka.DecodeJSON[kvstore.ChangeEvent](r.Data)
	if err != nil {
		logger.Attach(ctx, e.logger).Warn("skipping undecodable change record",
			"partition_key", r.PartitionKey, "offset", r.Offset, "error", err)
		return OutcomeMalformed, nil
	}
	return e.HandleChange(ctx, ev)
}

// HandleChange reacts to one change event. Only inserts and modifications
// of canonical title records are of interest.
func (e *Enricher) HandleChange(ctx context.Context, ev kvstore.ChangeEvent) (Outcome, error) {
	if ev.EventName != kvstore.EventInsert && ev.EventName != kvstore.EventModify {
		return OutcomeIgnored, nil
	}
	id, ok := catalog.TitleIDFromKey(ev.Keys)
	if !ok {
		return OutcomeIgnored, nil
	}
	if catalog.AlreadyEnriched(ev.NewImage) {
		return OutcomeAlreadyEnriched, nil
	}
	return e.Enrich(ctx, id)
}

// Enrich fetches and writes the details of one title unless the stored
// record already has them. Provider failures skip the title.
func (e *Enricher) Enrich(ctx context.Context, id catalog.ID) (Outcome, error) {
	key := catalog.TitleKey(id)
	current, err := e.store.Get(ctx, key)
	if errors.Is(err, apperrors.ErrNotFound) {
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading title %s: %w", id, err)
	}
	if catalog.AlreadyEnriched(current.Attrs) {
		return OutcomeAlreadyEnriched, nil
	}

	details, err := e.fetcher.Details(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return OutcomeSkipped, nil
	}
	if err := e.store.Merge(ctx, key, catalog.DetailAttrs(details)); err != nil {
		return "", fmt.Errorf("writing details of title %s: %w", id, err)
	}
	logger.Attach(ctx, e.logger).Debug("title enriched", "title_id", id)
	return OutcomeEnriched, nil
}

// BackfillSummary counts what a backfill pass did.
type BackfillSummary struct {
	Scanned         int `json:"scanned"`
	Enriched        int `json:"enriched"`
	AlreadyEnriched int `json:"already_enriched"`
	Skipped         int `json:"skipped"`
}

// Backfill enriches every stored title that is not enriched yet.
func (e *Enricher) Backfill(ctx context.Context) (BackfillSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "enrichment.backfill", logger.JobID(ctx))
	defer span.Finish()

	items, err := e.store.Scan(ctx, catalog.PrefixTitle)
	if err != nil {
		span.Fail(err)
		return BackfillSummary{}, fmt.Errorf("scanning titles: %w", err)
	}

	var summary BackfillSummary
	outcomes := make(chan Outcome, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, item := range items {
		id, ok := catalog.TitleIDFromKey(item.Key)
		if !ok {
			continue
		}
		summary.Scanned++
		if catalog.AlreadyEnriched(item.Attrs) {
			outcomes <- OutcomeAlreadyEnriched
			continue
		}
		g.Go(func() error {
			outcome, err := e.Enrich(gctx, id)
			if err != nil {
				return err
			}
			outcomes <- outcome
			return nil
		})
	}
	err = g.Wait()
	close(outcomes)
	for o := range outcomes {
		if e.metrics != nil {
			e.metrics.EnrichmentsTotal.WithLabelValues(string(o)).Inc()
		}
		switch o {
		case OutcomeEnriched:
			summary.Enriched++
		case OutcomeAlreadyEnriched:
			summary.AlreadyEnriched++
		case OutcomeSkipped:
			summary.Skipped++
		}
	}
	span.SetAttr("scanned", summary.Scanned)
	span.SetAttr("enriched", summary.Enriched)
	span.SetAttr("skipped", summary.Skipped)
	if err != nil {
		span.Fail(err)
		return summary, fmt.Errorf("enrichment backfill: %w", err)
	}
	logger.Attach(ctx, e.logger).Info("enrichment backfill complete",
		"scanned", summary.Scanned,
		"enriched", summary.Enriched,
		"already_enriched", summary.AlreadyEnriched,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

func (e *Enricher) count(o Outcome) {
	if e.metrics == nil {
		return
	}
	e.metrics.EnrichmentsTotal.WithLabelValues(string(o)).Inc()
	e.metrics.StreamRecordsTotal.WithLabelValues(consumerName, string(o)).Inc()
}
