package publisher

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/resilience"
)

type fakeWriter struct {
	failures int
	calls    int
	written  []kafka.Event
}

func (w *fakeWriter) PublishBatch(_ context.Context, events []kafka.Event) error {
	w.calls++
	if w.failures > 0 {
		w.failures--
		return errors.New("broker unavailable")
	}
	w.written = append(w.written, events...)
	return nil
}

var fastRetry = resilience.RetryConfig{
	MaxAttempts:  3,
	InitialDelay: time.Millisecond,
	MaxDelay:     2 * time.Millisecond,
}

func discovery() ingestion.Discovery {
	return ingestion.Discovery{
		Item: ingestion.WorkItem{SourceID: "203", GenreID: "4"},
		Listings: []catalog.Listing{
			{ID: "3173903", Title: "Breaking Bad", Fields: map[string]any{"year": float64(2008)}},
			{ID: "345534", Title: "Stranger Things"},
		},
	}
}

func TestEventsCarryTheSinglePairAndTitleKey(t *testing.T) {
	p := New(&fakeWriter{}, fastRetry, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	events := p.Events(discovery(), ingestion.CauseScheduled)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	ev := events[0]
	if ev.Key != "3173903" {
		t.Errorf("key = %q, want the title id", ev.Key)
	}
	te, ok := ev.Value.(catalog.TitleEvent)
	if !ok {
		t.Fatalf("value is %T", ev.Value)
	}
	if te.Header.PublishingComponent != ingestion.PublishingComponent ||
		!te.Header.Timestamp.Equal(fixed) ||
		te.Header.PublishCause != ingestion.CauseScheduled {
		t.Errorf("header = %+v", te.Header)
	}
	if !reflect.DeepEqual(te.Payload.SourceIDs, []catalog.ID{"203"}) ||
		!reflect.DeepEqual(te.Payload.GenreIDs, []catalog.ID{"4"}) {
		t.Errorf("payload pair = %v x %v", te.Payload.SourceIDs, te.Payload.GenreIDs)
	}
	if te.Payload.Fields["year"] != float64(2008) {
		t.Errorf("raw fields lost: %v", te.Payload.Fields)
	}
}

func TestPublishRetriesThenSucceeds(t *testing.T) {
	w := &fakeWriter{failures: 2}
	m := metrics.NewNoop()
	res := New(w, fastRetry, m).Publish(context.Background(), discovery(), ingestion.CauseScheduled)
	if res.Published != 2 || res.Dropped != 0 {
		t.Errorf("result = %+v", res)
	}
	if w.calls != 3 {
		t.Errorf("calls = %d, want 3", w.calls)
	}
	if got := testutil.ToFloat64(m.EventsPublishedTotal); got != 2 {
		t.Errorf("published metric = %v", got)
	}
}

func TestPublishDropsAfterExhaustion(t *testing.T) {
	w := &fakeWriter{failures: 10}
	m := metrics.NewNoop()
	res := New(w, fastRetry, m).Publish(context.Background(), discovery(), ingestion.CauseScheduled)
	if res.Published != 0 || res.Dropped != 2 {
		t.Errorf("result = %+v, want everything dropped", res)
	}
	if w.calls != fastRetry.MaxAttempts {
		t.Errorf("calls = %d, want %d", w.calls, fastRetry.MaxAttempts)
	}
	if got := testutil.ToFloat64(m.EventsDroppedTotal); got != 2 {
		t.Errorf("dropped metric = %v", got)
	}
}

func TestPublishEmptyDiscovery(t *testing.T) {
	w := &fakeWriter{}
	res := New(w, fastRetry, nil).Publish(context.Background(), ingestion.Discovery{}, ingestion.CauseManual)
	if res != (Result{}) || w.calls != 0 {
		t.Errorf("result = %+v, calls = %d", res, w.calls)
	}
}
