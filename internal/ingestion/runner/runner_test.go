package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion/aggregator"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion/fetcher"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kvstore"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/resilience"
)

type fakeProvider struct {
	mu     sync.Mutex
	calls  map[ingestion.WorkItem]int
	titles map[ingestion.WorkItem][]catalog.Listing
	fail   map[ingestion.WorkItem]error
}

func (p *fakeProvider) ListTitles(_ context.Context, s, g catalog.ID) ([]catalog.Listing, error) {
	item := ingestion.WorkItem{SourceID: s, GenreID: g}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[item]++
	if err := p.fail[item]; err != nil {
		return nil, err
	}
	return p.titles[item], nil
}

func (p *fakeProvider) TitleDetails(context.Context, catalog.ID) (catalog.Details, error) {
	return catalog.Details{}, nil
}

type recordingWriter struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (w *recordingWriter) PublishBatch(_ context.Context, events []kafka.Event) error {
	w.mu.Lock()
	w.events = append(w.events, events...)
	w.mu.Unlock()
	return nil
}

func setup(t *testing.T, users map[string][2][]catalog.ID, provider *fakeProvider) (*Runner, *recordingWriter) {
	t.Helper()
	ctx := context.Background()
	repo := catalog.NewRepository(kvstore.NewMemoryStore())
	for user, p := range users {
		if err := repo.SetPreferences(ctx, user, p[0], p[1]); err != nil {
			t.Fatal(err)
		}
	}
	w := &recordingWriter{}
	pub := publisher.New(w, resilience.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond}, nil)
	r := New(aggregator.New(repo, config.PairingPerUser), fetcher.New(provider), pub, 4, metrics.NewNoop())
	return r, w
}

func TestSharedPairIsFetchedOnce(t *testing.T) {
	provider := &fakeProvider{
		calls: map[ingestion.WorkItem]int{},
		titles: map[ingestion.WorkItem][]catalog.Listing{
			{SourceID: "203", GenreID: "4"}: {{ID: "1", Title: "One"}, {ID: "2", Title: "Two"}},
		},
	}
	users := map[string][2][]catalog.ID{
		"A": {{"203"}, {"4"}},
		"B": {{"203"}, {"4"}},
	}
	r, w := setup(t, users, provider)

	summary, err := r.Run(context.Background(), ingestion.CauseScheduled)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := provider.calls[ingestion.WorkItem{SourceID: "203", GenreID: "4"}]; n != 1 {
		t.Errorf("fetches of (203,4) = %d, want 1", n)
	}
	if summary.WorkItems != 1 || summary.TitlesDiscovered != 2 || summary.EventsPublished != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if len(w.events) != 2 {
		t.Errorf("events written = %d, want 2", len(w.events))
	}
}

func TestFailedPairIsSkippedAndRunContinues(t *testing.T) {
	bad := ingestion.WorkItem{SourceID: "349", GenreID: "6"}
	provider := &fakeProvider{
		calls: map[ingestion.WorkItem]int{},
		titles: map[ingestion.WorkItem][]catalog.Listing{
			{SourceID: "203", GenreID: "4"}: {{ID: "1", Title: "One"}},
			{SourceID: "349", GenreID: "4"}: {{ID: "1", Title: "One"}, {ID: "3", Title: "Three"}},
		},
		fail: map[ingestion.WorkItem]error{bad: apperrors.ErrPermanentAPI},
	}
	users := map[string][2][]catalog.ID{
		"A": {{"203"}, {"4"}},
		"B": {{"349"}, {"4", "6"}},
		"C": {{"26"}, nil},
	}
	r, w := setup(t, users, provider)

	summary, err := r.Run(context.Background(), ingestion.CauseScheduled)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.WorkItems != 3 || summary.PairsSkipped != 1 || summary.UsersExcluded != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.EventsPublished != 3 || summary.Skipped() != 1 {
		t.Errorf("published = %d, skipped = %d", summary.EventsPublished, summary.Skipped())
	}
	if len(w.events) != 3 {
		t.Errorf("events written = %d, want 3", len(w.events))
	}
}

type brokenAggregator struct{}

func (brokenAggregator) Aggregate(context.Context) (ingestion.Plan, error) {
	return ingestion.Plan{}, apperrors.ErrStoreUnavailable
}

func TestAggregationFailureAbortsRun(t *testing.T) {
	provider := &fakeProvider{calls: map[ingestion.WorkItem]int{}}
	w := &recordingWriter{}
	r := New(brokenAggregator{}, fetcher.New(provider), publisher.New(w, resilience.RetryConfig{}, nil), 2, nil)

	_, err := r.Run(context.Background(), ingestion.CauseScheduled)
	if !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if len(provider.calls) != 0 || len(w.events) != 0 {
		t.Error("stages after aggregation ran")
	}
}
