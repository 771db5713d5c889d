package admin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/enricher"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/query"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/refdata"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kvstore"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
)

type fakeIngestor struct{ cause string }

func (f *fakeIngestor) Run(_ context.Context, cause string) (ingestion.RunSummary, error) {
	f.cause = cause
	return ingestion.RunSummary{WorkItems: 3, PairsSkipped: 1, EventsDropped: 1, EventsPublished: 4}, nil
}

type fakeBackfiller struct{ err error }

func (f fakeBackfiller) Backfill(context.Context) (enricher.BackfillSummary, error) {
	return enricher.BackfillSummary{Scanned: 5, Enriched: 3, Skipped: 2}, f.err
}

type fakeRefresher struct{}

func (fakeRefresher) Refresh(context.Context) (refdata.Summary, error) {
	return refdata.Summary{SourcesWritten: 2, GenresWritten: 3}, nil
}

type fakeQuery struct {
	sources, genres []catalog.ID
	filter          query.Filter
	userID          string
}

func (f *fakeQuery) TitlesForUser(_ context.Context, userID string, filter query.Filter) ([]catalog.CanonicalTitle, error) {
	f.userID, f.filter = userID, filter
	return []catalog.CanonicalTitle{{ID: "2", Title: "Line of Duty"}}, nil
}

type fakeCache struct {
	invalidated int
	err         error
}

func (c *fakeCache) InvalidateAll(context.Context) error {
	if c.err != nil {
		return c.err
	}
	c.invalidated++
	return nil
}

func (c *fakeCache) Stats() (int64, int64) { return 7, 3 }

func (f *fakeQuery) GetTitlesForPreferences(_ context.Context, sources, genres []catalog.ID, filter query.Filter) ([]catalog.CanonicalTitle, error) {
	f.sources, f.genres, f.filter = sources, genres, filter
	return []catalog.CanonicalTitle{{ID: "1", Title: "Breaking Bad"}}, nil
}

type fixture struct {
	router   http.Handler
	jobs     *Registry
	ingestor *fakeIngestor
	query    *fakeQuery
	store    kvstore.Store
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, backfillErr error) *fixture {
	return newFixtureWithCache(t, backfillErr, nil)
}

func newFixtureWithCache(t *testing.T, backfillErr error, cache QueryCache) *fixture {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	store := kvstore.NewMemoryStore()
	if err := store.Put(context.Background(), kvstore.Item{Key: catalog.TitleKey("1"), Attrs: kvstore.Attrs{"id": "1"}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(context.Background(), kvstore.Item{Key: catalog.SourceKey("203"), Attrs: kvstore.Attrs{"id": "203", "name": "Netflix"}}); err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		jobs:     NewRegistry(time.Minute, m),
		ingestor: &fakeIngestor{},
		query:    &fakeQuery{},
		store:    store,
		metrics:  m,
	}
	h := NewHandler(Deps{
		Ingestor:  f.ingestor,
		Enricher:  fakeBackfiller{err: backfillErr},
		Refresher: fakeRefresher{},
		Query:     f.query,
		Store:     store,
		Jobs:      f.jobs,
		Cache:     cache,
	})
	f.router = NewRouter(h, health.NewChecker(), m, nil)
	return f
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	return f.doBody(t, method, path, "")
}

func (f *fixture) doBody(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func (f *fixture) trigger(t *testing.T, path string) Job {
	t.Helper()
	rec := f.do(t, http.MethodPost, path)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST %s status = %d, body = %s", path, rec.Code, rec.Body.String())
	}
	var ack acceptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatal(err)
	}
	if ack.JobID == "" || ack.Message == "" {
		t.Fatalf("acknowledgement = %+v", ack)
	}
	f.jobs.Wait()

	rec = f.do(t, http.MethodGet, "/admin/jobs/"+ack.JobID)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET job status = %d", rec.Code)
	}
	var job Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatal(err)
	}
	return job
}

func TestTitleRefreshReportsSkippedItems(t *testing.T) {
	f := newFixture(t, nil)
	job := f.trigger(t, "/admin/titles/refresh")

	if job.Status != JobCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.Message != "completed with 2 skipped items" {
		t.Errorf("message = %q", job.Message)
	}
	if f.ingestor.cause != ingestion.CauseManual {
		t.Errorf("cause = %q, want %q", f.ingestor.cause, ingestion.CauseManual)
	}
	if got := testutil.ToFloat64(f.metrics.JobRunsTotal.WithLabelValues(JobTitleIngestion, "completed")); got != 1 {
		t.Errorf("job_runs_total = %v, want 1", got)
	}
}

func TestReferenceRefreshJob(t *testing.T) {
	f := newFixture(t, nil)
	job := f.trigger(t, "/admin/reference/refresh")
	if job.Kind != JobReferenceRefresh || job.Message != "completed with 0 skipped items" {
		t.Errorf("job = %+v", job)
	}
}

func TestFailedEnrichmentJob(t *testing.T) {
	f := newFixture(t, errors.New("scan failed"))
	job := f.trigger(t, "/admin/titles/enrich")
	if job.Status != JobFailed || job.Error != "scan failed" || job.Skipped != 2 {
		t.Errorf("job = %+v", job)
	}
}

func TestUnknownJob(t *testing.T) {
	f := newFixture(t, nil)
	if rec := f.do(t, http.MethodGet, "/admin/jobs/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStoreSummary(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/admin/store/summary")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"item_count":2`) {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestReferenceListings(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/admin/sources")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"name":"Netflix"`) {
		t.Errorf("sources status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodGet, "/admin/genres")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total":0`) {
		t.Errorf("genres status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestListTitles(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantStatus int
		check      func(t *testing.T, q *fakeQuery)
	}{
		{
			name:       "plain",
			path:       "/admin/titles?source_ids=203,349&genre_ids=4",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, q *fakeQuery) {
				if len(q.sources) != 2 || len(q.genres) != 1 || q.filter.RequireEnriched || q.filter.MinRating != nil {
					t.Errorf("query = %+v", q)
				}
			},
		},
		{
			name:       "recommended",
			path:       "/admin/titles?source_ids=203&genre_ids=4&recommended=true",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, q *fakeQuery) {
				if !q.filter.RequireEnriched || q.filter.MinRating == nil || *q.filter.MinRating != query.DefaultMinRating {
					t.Errorf("filter = %+v", q.filter)
				}
			},
		},
		{
			name:       "min rating override",
			path:       "/admin/titles?source_ids=203&genre_ids=4&min_rating=8.5",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, q *fakeQuery) {
				if q.filter.MinRating == nil || *q.filter.MinRating != 8.5 {
					t.Errorf("filter = %+v", q.filter)
				}
			},
		},
		{name: "missing genres", path: "/admin/titles?source_ids=203", wantStatus: http.StatusBadRequest},
		{name: "bad rating", path: "/admin/titles?source_ids=203&genre_ids=4&min_rating=high", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := f.do(t, http.MethodGet, tt.path)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.check != nil {
				tt.check(t, f.query)
			}
		})
	}
}

func TestHealthAndRequestID(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/health/live")
	if rec.Code != http.StatusOK {
		t.Errorf("live status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	if rec := f.do(t, http.MethodGet, "/health/ready"); rec.Code != http.StatusOK {
		t.Errorf("ready status = %d", rec.Code)
	}
}

func TestStoreSummaryIncludesCacheStats(t *testing.T) {
	f := newFixtureWithCache(t, nil, &fakeCache{})
	rec := f.do(t, http.MethodGet, "/admin/store/summary")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"query_cache":{"hits":7,"misses":3}`) {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestInvalidateCache(t *testing.T) {
	cache := &fakeCache{}
	f := newFixtureWithCache(t, nil, cache)
	if rec := f.do(t, http.MethodPost, "/admin/cache/invalidate"); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if cache.invalidated != 1 {
		t.Errorf("invalidated = %d, want 1", cache.invalidated)
	}

	cache.err = errors.New("redis down")
	if rec := f.do(t, http.MethodPost, "/admin/cache/invalidate"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status with failing cache = %d, want 503", rec.Code)
	}

	if rec := newFixture(t, nil).do(t, http.MethodPost, "/admin/cache/invalidate"); rec.Code != http.StatusConflict {
		t.Errorf("status without cache = %d, want 409", rec.Code)
	}
}

func TestSetUserPreferences(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	repo := catalog.NewRepository(f.store)

	rec := f.doBody(t, http.MethodPut, "/admin/users/A/preferences", `{"source_ids":["203","349"],"genre_ids":["4"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = f.doBody(t, http.MethodPut, "/admin/users/A/preferences", `{"source_ids":["349"],"genre_ids":["4","6"]}`)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"source_ids":["349"]`) {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	sources, genres, err := repo.UserPreferences(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 1 || sources[0] != "349" || len(genres) != 2 {
		t.Errorf("stored preferences = %v / %v", sources, genres)
	}

	rec = f.doBody(t, http.MethodPut, "/admin/users/A/preferences", `{"source_ids":`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "invalid preferences body") {
		t.Errorf("malformed body status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestListUserTitles(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/admin/users/B/titles?recommended=true")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"title":"Line of Duty"`) {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if f.query.userID != "B" || !f.query.filter.RequireEnriched {
		t.Errorf("query = %+v", f.query)
	}

	rec = f.do(t, http.MethodGet, "/admin/users/B/titles?min_rating=high")
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), `got \"high\"`) {
		t.Errorf("bad rating status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
