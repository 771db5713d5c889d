package fetcher

import (
	"context"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
)

type stubProvider struct {
	listings []catalog.Listing
	details  catalog.Details
	err      error
}

func (s stubProvider) ListTitles(context.Context, catalog.ID, catalog.ID) ([]catalog.Listing, error) {
	return s.listings, s.err
}

func (s stubProvider) TitleDetails(context.Context, catalog.ID) (catalog.Details, error) {
	return s.details, s.err
}

func TestFetchReturnsDiscovery(t *testing.T) {
	item := ingestion.WorkItem{SourceID: "203", GenreID: "4"}
	f := New(stubProvider{listings: []catalog.Listing{{ID: "1", Title: "One"}}})
	d, err := f.Fetch(context.Background(), item)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if d.Item != item || len(d.Listings) != 1 {
		t.Errorf("discovery = %+v", d)
	}
}

func TestFetchKeepsErrorKind(t *testing.T) {
	f := New(stubProvider{err: apperrors.ErrTransientAPI})
	_, err := f.Fetch(context.Background(), ingestion.WorkItem{SourceID: "1", GenreID: "2"})
	if !errors.Is(err, apperrors.ErrTransientAPI) {
		t.Errorf("err = %v, want ErrTransientAPI", err)
	}
	_, err = New(stubProvider{err: apperrors.ErrPermanentAPI}).Details(context.Background(), "9")
	if !errors.Is(err, apperrors.ErrPermanentAPI) {
		t.Errorf("err = %v, want ErrPermanentAPI", err)
	}
}
