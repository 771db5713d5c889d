// Package refdata keeps the stored source and genre catalogs in line with the
// provider. Each refresh overwrites every record the provider lists and
// removes the ones it no longer lists.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kvstore"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/tracing"
)

// Provider lists the reference catalogs.
type Provider interface {
	Sources(ctx context.Context, regions string) ([]catalog.Source, error)
	Genres(ctx context.Context) ([]catalog.Genre, error)
}

// Summary counts what one refresh wrote and removed.
type Summary struct {
	SourcesWritten int `json:"sources_written"`
	SourcesDeleted int `json:"sources_deleted"`
	GenresWritten  int `json:"genres_written"`
	GenresDeleted  int `json:"genres_deleted"`
}

type Refresher struct {
	store    kvstore.Store
	repo     *catalog.Repository
	provider Provider
	regions  string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Refresher. regions is passed to the provider's source
// listing; m may be nil.
func New(store kvstore.Store, provider Provider, regions string, m *metrics.Metrics) *Refresher {
	return &Refresher{
		store:    store,
		repo:     catalog.NewRepository(store),
		provider: provider,
		regions:  regions,
		metrics:  m,
		logger:   slog.Default().With("component", "refdata-refresher"),
	}
}

// record is one reference entity ready to be stored.
type record struct {
	key   kvstore.Key
	value any
}

// Refresh replaces both catalogs. Sources and genres are refreshed
// independently; a failure of one does not stop the other.
func (r *Refresher) Refresh(ctx context.Context) (Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "reference.refresh", logger.JobID(ctx))
	defer span.Finish()
	span.SetAttr("regions", r.regions)

	var summary Summary
	var errs []error

	sctx, sspan := tracing.StartChildSpan(ctx, "sources")
	sources, err := r.provider.Sources(sctx, r.regions)
	if err != nil {
		errs = append(errs, fmt.Errorf("listing sources: %w", err))
	} else {
		records := make([]record, 0, len(sources))
		for _, s := range sources {
			if s.ID == "" {
				continue
			}
			records = append(records, record{key: catalog.SourceKey(s.ID), value: s})
		}
		summary.SourcesWritten, summary.SourcesDeleted, err = r.replace(sctx, "source", catalog.PrefixSource, records)
		if err != nil {
			errs = append(errs, err)
		}
	}
	sspan.SetAttr("written", summary.SourcesWritten)
	sspan.Fail(err)
	sspan.End()

	gctx, gspan := tracing.StartChildSpan(ctx, "genres")
	genres, err := r.provider.Genres(gctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("listing genres: %w", err))
	} else {
		records := make([]record, 0, len(genres))
		for _, g := range genres {
			if g.ID == "" {
				continue
			}
			records = append(records, record{key: catalog.GenreKey(g.ID), value: g})
		}
		summary.GenresWritten, summary.GenresDeleted, err = r.replace(gctx, "genre", catalog.PrefixGenre, records)
		if err != nil {
			errs = append(errs, err)
		}
	}
	gspan.SetAttr("written", summary.GenresWritten)
	gspan.Fail(err)
	gspan.End()

	if err := errors.Join(errs...); err != nil {
		return summary, err
	}
	logger.Attach(ctx, r.logger).Info("reference data refreshed",
		"sources_written", summary.SourcesWritten,
		"sources_deleted", summary.SourcesDeleted,
		"genres_written", summary.GenresWritten,
		"genres_deleted", summary.GenresDeleted,
	)
	return summary, nil
}

// replace overwrites every record and deletes stored ones of the same kind
// that are not in records. An empty listing is treated as a provider fault
// and leaves the stored catalog alone.
func (r *Refresher) replace(ctx context.Context, kind, prefix string, records []record) (written, deleted int, err error) {
	if len(records) == 0 {
		logger.Attach(ctx, r.logger).Warn("provider returned no records, keeping stored catalog", "kind", kind)
		return 0, 0, nil
	}

	keep := make(map[kvstore.Key]struct{}, len(records))
	for _, rec := range records {
		attrs, err := toAttrs(rec.value)
		if err != nil {
			return written, deleted, fmt.Errorf("encoding %s %s: %w", kind, rec.key, err)
		}
		if err := r.store.Put(ctx, kvstore.Item{Key: rec.key, Attrs: attrs}); err != nil {
			return written, deleted, fmt.Errorf("writing %s %s: %w", kind, rec.key, err)
		}
		keep[rec.key] = struct{}{}
		written++
	}

	stored, err := r.repo.ReferenceKeys(ctx, prefix)
	if err != nil {
		return written, deleted, err
	}
	for _, key := range stored {
		if _, ok := keep[key]; ok {
			continue
		}
		if err := r.store.Delete(ctx, key); err != nil {
			return written, deleted, fmt.Errorf("deleting stale %s %s: %w", kind, key, err)
		}
		deleted++
	}

	if r.metrics != nil {
		r.metrics.ReferenceWritesTotal.WithLabelValues(kind, "written").Add(float64(written))
		r.metrics.ReferenceWritesTotal.WithLabelValues(kind, "deleted").Add(float64(deleted))
	}
	return written, deleted, nil
}

func toAttrs(v any) (kvstore.Attrs, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var attrs kvstore.Attrs
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}
