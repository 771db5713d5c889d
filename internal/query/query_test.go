package query

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kvstore"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
)

func seed(t *testing.T, store kvstore.Store, id catalog.ID, rating float64, pairs ...[2]catalog.ID) {
	t.Helper()
	ctx := context.Background()
	attrs := kvstore.Attrs{"id": id, "title": "T" + string(id)}
	if rating > 0 {
		for k, v := range catalog.DetailAttrs(catalog.Details{Poster: "p.jpg", PlotOverview: "plot", UserRating: &rating}) {
			attrs[k] = v
		}
	}
	if err := store.Merge(ctx, catalog.TitleKey(id), attrs); err != nil {
		t.Fatal(err)
	}
	for _, p := range pairs {
		e := catalog.IndexEntry{SourceID: p[0], GenreID: p[1], TitleID: id}
		if err := store.Put(ctx, kvstore.Item{Key: catalog.IndexKey(e)}); err != nil {
			t.Fatal(err)
		}
	}
}

func titleIDs(titles []catalog.CanonicalTitle) string {
	ids := make([]string, len(titles))
	for i, t := range titles {
		ids[i] = string(t.ID)
	}
	return strings.Join(ids, ",")
}

func TestUnionAcrossPairs(t *testing.T) {
	store := kvstore.NewMemoryStore()
	seed(t, store, "1", 8, [2]catalog.ID{"203", "4"})
	seed(t, store, "2", 0, [2]catalog.ID{"349", "4"})
	seed(t, store, "3", 9, [2]catalog.ID{"349", "6"})
	seed(t, store, "10", 6, [2]catalog.ID{"203", "4"}, [2]catalog.ID{"349", "4"})

	svc := New(catalog.NewRepository(store))
	got, err := svc.GetTitlesForPreferences(context.Background(), []catalog.ID{"203", "349"}, []catalog.ID{"4"}, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if ids := titleIDs(got); ids != "1,2,10" {
		t.Errorf("titles = %s, want 1,2,10", ids)
	}

	got, err = svc.GetTitlesForPreferences(context.Background(), []catalog.ID{"203", "349"}, []catalog.ID{"4", "6"}, Recommended())
	if err != nil {
		t.Fatal(err)
	}
	if ids := titleIDs(got); ids != "1,3" {
		t.Errorf("recommended = %s, want 1,3", ids)
	}
}

func TestEmptyPreferencesGiveNoTitles(t *testing.T) {
	svc := New(catalog.NewRepository(kvstore.NewMemoryStore()))
	got, err := svc.GetTitlesForPreferences(context.Background(), []catalog.ID{"203"}, nil, Filter{})
	if err != nil || len(got) != 0 {
		t.Errorf("got %v, %v", got, err)
	}
}

func TestTitlesForUser(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	seed(t, store, "1", 8, [2]catalog.ID{"203", "4"})
	repo := catalog.NewRepository(store)
	if err := repo.SetPreferences(ctx, "A", []catalog.ID{"203"}, []catalog.ID{"4"}); err != nil {
		t.Fatal(err)
	}
	got, err := New(repo).TitlesForUser(ctx, "A", Filter{RequireEnriched: true})
	if err != nil || titleIDs(got) != "1" {
		t.Errorf("TitlesForUser = %v, %v", got, err)
	}
}

type memKV struct {
	mu   sync.Mutex
	data map[string]string
	sets int
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", goredis.Nil
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.data[key] = string(value.([]byte))
	return nil
}

func (m *memKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memKV) FlushPrefix(_ context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func TestCacheServesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	seed(t, store, "1", 8, [2]catalog.ID{"203", "4"})
	kv := &memKV{data: map[string]string{}}
	cache := NewRedisCache(kv, time.Minute, metrics.NewNoop())
	svc := New(catalog.NewRepository(store)).WithCache(cache)

	for i := 0; i < 2; i++ {
		if _, err := svc.GetTitlesForPreferences(ctx, []catalog.ID{"203"}, []catalog.ID{"4"}, Filter{}); err != nil {
			t.Fatal(err)
		}
	}
	if hits, misses := cache.Stats(); hits != 1 || misses != 1 {
		t.Errorf("hits = %d, misses = %d, want 1 and 1", hits, misses)
	}

	// A new index entry is invisible until the pair is invalidated.
	seed(t, store, "2", 8, [2]catalog.ID{"203", "4"})
	got, _ := svc.GetTitlesForPreferences(ctx, []catalog.ID{"203"}, []catalog.ID{"4"}, Filter{})
	if titleIDs(got) != "1" {
		t.Fatalf("titles before invalidation = %s", titleIDs(got))
	}
	if err := cache.Invalidate(ctx, "203", "4"); err != nil {
		t.Fatal(err)
	}
	got, _ = svc.GetTitlesForPreferences(ctx, []catalog.ID{"203"}, []catalog.ID{"4"}, Filter{})
	if titleIDs(got) != "1,2" {
		t.Errorf("titles after invalidation = %s, want 1,2", titleIDs(got))
	}

	if err := cache.InvalidateAll(ctx); err != nil || len(kv.data) != 0 {
		t.Errorf("InvalidateAll left %d keys, err %v", len(kv.data), err)
	}
}
