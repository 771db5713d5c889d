// Package consumer builds the catalog from title events. For each record it
// union-merges the event's sources and genres into the canonical title and
// writes one inverted index entry per (source, genre) pair the event asserts.
// Both writes are idempotent, so redelivered batches are harmless.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kvstore"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
)

const consumerName = "indexer"

// Outcome of applying one event to the store.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeGrown     Outcome = "grown"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeMalformed Outcome = "malformed"
)

// CacheInvalidator drops cached query results for a (source, genre) pair.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, sourceID, genreID catalog.ID) error
}

// IndexBuilder is the title-event batch handler.
type IndexBuilder struct {
	store   kvstore.Store
	cache   CacheInvalidator
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates an IndexBuilder. m may be nil.
func New(store kvstore.Store, m *metrics.Metrics) *IndexBuilder {
	return &IndexBuilder{
		store:   store,
		metrics: m,
		logger:  slog.Default().With("component", "index-builder"),
	}
}

// WithCache makes the builder invalidate cached query results for every
// pair it writes index entries under.
func (b *IndexBuilder) WithCache(c CacheInvalidator) *IndexBuilder {
	b.cache = c
	return b
}

// HandleBatch applies every record of a batch in order. A malformed record
// is logged and skipped. Any store failure fails the batch so the stream
// delivers it again.
func (b *IndexBuilder) HandleBatch(ctx context.Context, records []kafka.Record) error {
	start := time.Now()
	status := "ok"
	defer func() {
		if b.metrics != nil {
			b.metrics.BatchDuration.WithLabelValues(consumerName, status).Observe(time.Since(start).Seconds())
		}
	}()

	for _, r := range records {
		outcome, err := b.handleRecord(ctx, r)
		if err != nil {
			status = "failed"
			return fmt.Errorf("record partition=%d offset=%d key=%s: %w", r.Partition, r.Offset, r.PartitionKey, err)
		}
		b.count(outcome)
	}
	return nil
}

func (b *IndexBuilder) handleRecord(ctx context.Context, r kafka.Record) (Outcome, error) {
	ev, err := catalog.DecodeTitleEvent(r.Data)
	if err != nil {
		logger.Attach(ctx, b.logger).Warn("skipping malformed record",
			"partition_key", r.PartitionKey,
			"partition", r.Partition,
			"offset", r.Offset,
			"error", err,
		)
		return OutcomeMalformed, nil
	}
	return b.Apply(ctx, ev.Payload)
}

// Apply writes one title sighting: canonical record first, then its index
// entries, so an entry never points at a title that lacks its pair.
func (b *IndexBuilder) Apply(ctx context.Context, p catalog.TitlePayload) (Outcome, error) {
	if p.ID == "" {
		return OutcomeMalformed, nil
	}
	outcome, err := b.upsertTitle(ctx, p)
	if err != nil {
		return "", err
	}
	entries := p.IndexEntries()
	for _, e := range entries {
		item := kvstore.Item{
			Key: catalog.IndexKey(e),
			Attrs: kvstore.Attrs{
				"source_id": e.SourceID,
				"genre_id":  e.GenreID,
				"title_id":  e.TitleID,
			},
		}
		if err := b.store.Put(ctx, item); err != nil {
			return "", fmt.Errorf("writing index entry %s: %w", item.Key, err)
		}
	}
	if b.metrics != nil {
		b.metrics.IndexEntriesTotal.Add(float64(len(entries)))
	}
	if outcome != OutcomeUnchanged {
		b.invalidate(ctx, entries)
	}
	return outcome, nil
}

func (b *IndexBuilder) upsertTitle(ctx context.Context, p catalog.TitlePayload) (Outcome, error) {
	key := catalog.TitleKey(p.ID)
	current, err := b.store.Get(ctx, key)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		attrs := kvstore.Attrs{}
		for k, v := range p.Fields {
			attrs[k] = v
		}
		// Enrichment fields belong to the enricher.
		for _, f := range catalog.EnrichmentFields {
			delete(attrs, f)
		}
		attrs[catalog.AttrID] = p.ID
		attrs[catalog.AttrTitle] = p.Title
		attrs[catalog.AttrSourceIDs] = catalog.Distinct(p.SourceIDs)
		attrs[catalog.AttrGenreIDs] = catalog.Distinct(p.GenreIDs)
		if err := b.store.Merge(ctx, key, attrs); err != nil {
			return "", fmt.Errorf("creating title %s: %w", p.ID, err)
		}
		return OutcomeCreated, nil
	case err != nil:
		return "", fmt.Errorf("reading title %s: %w", p.ID, err)
	}

	stored, err := catalog.DecodeAssociations(current.Attrs)
	if err != nil {
		// Only the attribute that failed to decode is rebuilt from this sighting.
		logger.Attach(ctx, b.logger).Warn("stored title associations unreadable", "title_id", p.ID, "error", err)
	}
	sources, sourcesGrown := catalog.Union(stored.SourceIDs, p.SourceIDs)
	genres, genresGrown := catalog.Union(stored.GenreIDs, p.GenreIDs)
	attrs := kvstore.Attrs{
		catalog.AttrSourceIDs: sources,
		catalog.AttrGenreIDs:  genres,
	}
	if stored.Title == "" && p.Title != "" {
		attrs[catalog.AttrTitle] = p.Title
	}
	// Written even when nothing grew: the write is what puts the title on the
	// change feed again when an earlier attempt stored it but failed to
	// report it.
	if err := b.store.Merge(ctx, key, attrs); err != nil {
		return "", fmt.Errorf("merging associations of title %s: %w", p.ID, err)
	}
	if !sourcesGrown && !genresGrown {
		return OutcomeUnchanged, nil
	}
	return OutcomeGrown, nil
}

func (b *IndexBuilder) invalidate(ctx context.Context, entries []catalog.IndexEntry) {
	if b.cache == nil {
		return
	}
	for _, e := range entries {
		if err := b.cache.Invalidate(ctx, e.SourceID, e.GenreID); err != nil {
			b.logger.Warn("query cache invalidation failed",
				"source_id", e.SourceID, "genre_id", e.GenreID, "error", err)
		}
	}
}

func (b *IndexBuilder) count(o Outcome) {
	if b.metrics == nil {
		return
	}
	b.metrics.StreamRecordsTotal.WithLabelValues(consumerName, string(o)).Inc()
	switch o {
	case OutcomeCreated, OutcomeGrown:
		b.metrics.TitlesUpsertedTotal.WithLabelValues(string(o)).Inc()
	}
}
