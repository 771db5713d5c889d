// Package publisher turns discovered titles into stream events. Every title
// sighting becomes one event asserting the single (source, genre) pair it was
// found under, keyed by title id so all events of a title share a partition.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/resilience"
)

// maxBatch bounds one write call. A failed chunk is dropped on its own.
const maxBatch = 500

// EventWriter is satisfied by *kafka.Producer.
type EventWriter interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Result counts what happened to one discovery's events.
type Result struct {
	Published int
	Dropped   int
}

// Publisher emits title events.
type Publisher struct {
	writer  EventWriter
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Publisher. m may be nil.
func New(writer EventWriter, retry resilience.RetryConfig, m *metrics.Metrics) *Publisher {
	retry.ShouldRetry = func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}
	return &Publisher{
		writer:  writer,
		retry:   retry,
		metrics: m,
		now:     time.Now,
		logger:  slog.Default().With("component", "event-publisher"),
	}
}

// Events builds the events for one discovery without publishing them.
func (p *Publisher) Events(d ingestion.Discovery, cause string) []kafka.Event {
	header := catalog.EventHeader{
		PublishingComponent: ingestion.PublishingComponent,
		Timestamp:           p.now().UTC(),
		PublishCause:        cause,
	}
	events := make([]kafka.Event, 0, len(d.Listings))
	for _, l := range d.Listings {
		events = append(events, kafka.Event{
			Key: string(l.ID),
			Value: catalog.TitleEvent{
				Header: header,
				Payload: catalog.TitlePayload{
					ID:        l.ID,
					Title:     l.Title,
					SourceIDs: []catalog.ID{d.Item.SourceID},
					GenreIDs:  []catalog.ID{d.Item.GenreID},
					Fields:    l.Fields,
				},
			},
		})
	}
	return events
}

// Publish writes the events of one discovery. Write failures are retried
// with backoff; a chunk that still fails is dropped and counted, never
// returned, because the next run rediscovers the same titles.
func (p *Publisher) Publish(ctx context.Context, d ingestion.Discovery, cause string) Result {
	var res Result
	events := p.Events(d, cause)
	log := logger.Attach(ctx, p.logger)

	for start := 0; start < len(events); start += maxBatch {
		end := start + maxBatch
		if end > len(events) {
			end = len(events)
		}
		chunk := events[start:end]

		err := resilience.Retry(ctx, "publish title events", p.retry, func() error {
			if err := p.writer.PublishBatch(ctx, chunk); err != nil {
				return fmt.Errorf("%w: %w", apperrors.ErrPublishFailure, err)
			}
			return nil
		})
		if err != nil {
			res.Dropped += len(chunk)
			keys := make([]string, len(chunk))
			for i, ev := range chunk {
				keys[i] = ev.Key
			}
			log.Error("dropping title events after retries",
				"source_id", d.Item.SourceID,
				"genre_id", d.Item.GenreID,
				"count", len(chunk),
				"title_ids", keys,
				"error", err,
			)
			continue
		}
		res.Published += len(chunk)
	}

	if p.metrics != nil {
		p.metrics.EventsPublishedTotal.Add(float64(res.Published))
		p.metrics.EventsDroppedTotal.Add(float64(res.Dropped))
	}
	return res
}
