// Package query answers "which titles match these sources and genres" from
// the inverted index: one prefix query per (source, genre) pair, a union of
// the title ids, then a lookup of each canonical record.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
)

// DefaultMinRating is the recommendation threshold. Ratings must be strictly
// above it.
const DefaultMinRating = 7.0

const defaultConcurrency = 8

// Filter narrows a result. The zero Filter keeps everything.
type Filter struct {
	// RequireEnriched drops titles without a real poster and plot.
	RequireEnriched bool
	// MinRating, when set, keeps titles rated strictly above it.
	MinRating *float64
}

// Recommended is the filter for recommendations.
func Recommended() Filter {
	threshold := DefaultMinRating
	return Filter{RequireEnriched: true, MinRating: &threshold}
}

func (f Filter) keep(t catalog.CanonicalTitle) bool {
	if f.RequireEnriched && !t.HasArtwork() {
		return false
	}
	if f.MinRating != nil && (t.UserRating == nil || *t.UserRating <= *f.MinRating) {
		return false
	}
	return true
}

// Service runs title queries.
type Service struct {
	repo        *catalog.Repository
	cache       PairCache
	concurrency int
	logger      *slog.Logger
}

func New(repo *catalog.Repository) *Service {
	return &Service{
		repo:        repo,
		concurrency: defaultConcurrency,
		logger:      slog.Default().With("component", "query"),
	}
}

// WithCache caches index lookups per pair.
func (s *Service) WithCache(c PairCache) *Service {
	s.cache = c
	return s
}

// GetTitlesForPreferences returns the titles indexed under any pair of the
// cross product of sources and genres, ordered by id.
func (s *Service) GetTitlesForPreferences(ctx context.Context, sources, genres []catalog.ID, f Filter) ([]catalog.CanonicalTitle, error) {
	sources, genres = catalog.Distinct(sources), catalog.Distinct(genres)
	if len(sources) == 0 || len(genres) == 0 {
		return []catalog.CanonicalTitle{}, nil
	}

	var mu sync.Mutex
	var ids []catalog.ID
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, src := range sources {
		for _, gen := range genres {
			g.Go(func() error {
				found, err := s.indexed(gctx, src, gen)
				if err != nil {
					return err
				}
				mu.Lock()
				ids = append(ids, found...)
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	ids = catalog.Distinct(ids)

	titles := make([]*catalog.CanonicalTitle, len(ids))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			t, err := s.repo.Title(gctx, id)
			if catalog.IsNotFound(err) {
				logger.Attach(ctx, s.logger).Warn("index entry points at a missing title", "title_id", id)
				return nil
			}
			if err != nil {
				return fmt.Errorf("loading title %s: %w", id, err)
			}
			titles[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]catalog.CanonicalTitle, 0, len(titles))
	for _, t := range titles {
		if t != nil && f.keep(*t) {
			out = append(out, *t)
		}
	}
	return out, nil
}

// TitlesForUser runs GetTitlesForPreferences over a user's stored
// preferences.
func (s *Service) TitlesForUser(ctx context.Context, userID string, f Filter) ([]catalog.CanonicalTitle, error) {
	sources, genres, err := s.repo.UserPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.GetTitlesForPreferences(ctx, sources, genres, f)
}

func (s *Service) indexed(ctx context.Context, sourceID, genreID catalog.ID) ([]catalog.ID, error) {
	if s.cache == nil {
		return s.repo.IndexedTitleIDs(ctx, sourceID, genreID)
	}
	ids, _, err := s.cache.GetOrLoad(ctx, sourceID, genreID, func(ctx context.Context) ([]catalog.ID, error) {
		return s.repo.IndexedTitleIDs(ctx, sourceID, genreID)
	})
	return ids, err
}
