// Package fetcher pulls titles for one work item, or details for one title,
// from the catalog provider. Retry, backoff and rate limiting live in the
// provider client; this layer decides what a failure means for the run.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/logger"
)

// Provider is the part of the catalog provider client the fetcher needs.
type Provider interface {
	ListTitles(ctx context.Context, sourceID, genreID catalog.ID) ([]catalog.Listing, error)
	TitleDetails(ctx context.Context, id catalog.ID) (catalog.Details, error)
}

type Fetcher struct {
	provider Provider
	logger   *slog.Logger
}

func New(provider Provider) *Fetcher {
	return &Fetcher{
		provider: provider,
		logger:   slog.Default().With("component", "title-fetcher"),
	}
}

// Fetch lists the titles for one work item. Any error means the pair is
// skipped for this run; the caller only needs to count it.
func (f *Fetcher) Fetch(ctx context.Context, item ingestion.WorkItem) (ingestion.Discovery, error) {
	listings, err := f.provider.ListTitles(ctx, item.SourceID, item.GenreID)
	if err != nil {
		f.logFailure(ctx, err, "skipping work item",
			"source_id", item.SourceID, "genre_id", item.GenreID)
		return ingestion.Discovery{Item: item}, fmt.Errorf("fetching %s: %w", item, err)
	}
	logger.Attach(ctx, f.logger).Debug("work item fetched",
		"source_id", item.SourceID,
		"genre_id", item.GenreID,
		"titles", len(listings),
	)
	return ingestion.Discovery{Item: item, Listings: listings}, nil
}

// Details fetches the detail fields of a single title.
func (f *Fetcher) Details(ctx context.Context, id catalog.ID) (catalog.Details, error) {
	d, err := f.provider.TitleDetails(ctx, id)
	if err != nil {
		f.logFailure(ctx, err, "title details unavailable", "title_id", id)
		return catalog.Details{}, fmt.Errorf("fetching details of title %s: %w", id, err)
	}
	return d, nil
}

func (f *Fetcher) logFailure(ctx context.Context, err error, msg string, args ...any) {
	kind := "permanent"
	if apperrors.IsTransient(err) {
		kind = "transient"
	}
	args = append(args, "kind", kind, "error", err)
	if ctx.Err() != nil {
		logger.Attach(ctx, f.logger).Debug(msg, args...)
		return
	}
	logger.Attach(ctx, f.logger).Warn(msg, args...)
}
