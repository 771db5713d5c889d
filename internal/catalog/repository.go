package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kvstore"
)

// Repository gives typed reads over the store and the preference writes
// the admin surface and tests need. Pipeline writers go through
// kvstore.Store.Merge directly so each touches only its own attributes.
type Repository struct {
	store  kvstore.Store
	logger *slog.Logger
}

func NewRepository(store kvstore.Store) *Repository {
	return &Repository{
		store:  store,
		logger: slog.Default().With("component", "catalog-repository"),
	}
}

func (r *Repository) Store() kvstore.Store { return r.store }

// Preferences returns every stored preference row. Rows with unparseable
// keys are logged and skipped.
func (r *Repository) Preferences(ctx context.Context) ([]UserPreference, error) {
	items, err := r.store.Scan(ctx, PrefixUserPref)
	if err != nil {
		return nil, fmt.Errorf("scanning preferences: %w", err)
	}
	prefs := make([]UserPreference, 0, len(items))
	for _, item := range items {
		p, err := ParsePreference(item.Key)
		if err != nil {
			r.logger.Warn("skipping malformed preference", "pk", item.PK, "sk", item.SK, "error", err)
			continue
		}
		prefs = append(prefs, p)
	}
	return prefs, nil
}

// UserPreferences returns one user's sources and genres.
func (r *Repository) UserPreferences(ctx context.Context, userID string) (sources, genres []ID, err error) {
	items, err := r.store.Query(ctx, PrefixUserPref+userID, "")
	if err != nil {
		return nil, nil, fmt.Errorf("querying preferences of %s: %w", userID, err)
	}
	for _, item := range items {
		p, err := ParsePreference(item.Key)
		if err != nil {
			continue
		}
		switch p.Kind {
		case KindSource:
			sources = append(sources, p.ValueID)
		case KindGenre:
			genres = append(genres, p.ValueID)
		}
	}
	return Distinct(sources), Distinct(genres), nil
}

// SetPreferences makes the stored preferences of userID equal to the given
// sets, writing only the difference.
func (r *Repository) SetPreferences(ctx context.Context, userID string, sources, genres []ID) error {
	if userID == "" {
		return fmt.Errorf("user id is required: %w", apperrors.ErrInvalidInput)
	}
	curSources, curGenres, err := r.UserPreferences(ctx, userID)
	if err != nil {
		return err
	}
	apply := func(kind PreferenceKind, current, wanted []ID) error {
		want := toSet(Distinct(wanted))
		have := toSet(current)
		for id := range want {
			if _, ok := have[id]; ok {
				continue
			}
			if err := r.store.Put(ctx, kvstore.Item{Key: UserPrefKey(userID, kind, id)}); err != nil {
				return fmt.Errorf("adding %s preference %s: %w", kind, id, err)
			}
		}
		for id := range have {
			if _, ok := want[id]; ok {
				continue
			}
			if err := r.store.Delete(ctx, UserPrefKey(userID, kind, id)); err != nil {
				return fmt.Errorf("removing %s preference %s: %w", kind, id, err)
			}
		}
		return nil
	}
	if err := apply(KindSource, curSources, sources); err != nil {
		return err
	}
	return apply(KindGenre, curGenres, genres)
}

// Title loads a canonical title.
func (r *Repository) Title(ctx context.Context, id ID) (*CanonicalTitle, error) {
	item, err := r.store.Get(ctx, TitleKey(id))
	if err != nil {
		return nil, err
	}
	t, err := DecodeTitle(item.Attrs)
	if err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = id
	}
	return &t, nil
}

// IndexedTitleIDs lists the titles indexed under (source, genre).
func (r *Repository) IndexedTitleIDs(ctx context.Context, sourceID, genreID ID) ([]ID, error) {
	items, err := r.store.Query(ctx, IndexPK(sourceID, genreID), PrefixTitle)
	if err != nil {
		return nil, fmt.Errorf("querying index %s: %w", IndexPK(sourceID, genreID), err)
	}
	ids := make([]ID, 0, len(items))
	for _, item := range items {
		if id, ok := TitleIDFromIndexSK(item.SK); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Sources lists the stored reference sources.
func (r *Repository) Sources(ctx context.Context) ([]Source, error) {
	return scanReference[Source](ctx, r, PrefixSource)
}

// Genres lists the stored reference genres.
func (r *Repository) Genres(ctx context.Context) ([]Genre, error) {
	return scanReference[Genre](ctx, r, PrefixGenre)
}

func scanReference[T any](ctx context.Context, r *Repository, prefix string) ([]T, error) {
	items, err := r.store.Scan(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("scanning %s records: %w", prefix, err)
	}
	var out []T
	for _, item := range items {
		if !isReferenceKey(item.Key, prefix) {
			continue
		}
		v, err := decodeAttrs[T](item.Attrs)
		if err != nil {
			r.logger.Warn("skipping undecodable reference record", "pk", item.PK, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// ReferenceKeys lists the keys of stored reference records under prefix.
func (r *Repository) ReferenceKeys(ctx context.Context, prefix string) ([]kvstore.Key, error) {
	items, err := r.store.Scan(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("scanning %s records: %w", prefix, err)
	}
	var keys []kvstore.Key
	for _, item := range items {
		if isReferenceKey(item.Key, prefix) {
			keys = append(keys, item.Key)
		}
	}
	return keys, nil
}

// DecodeTitle reads a canonical title from stored attributes.
func DecodeTitle(attrs kvstore.Attrs) (CanonicalTitle, error) {
	return decodeAttrs[CanonicalTitle](attrs)
}

// Associations are the attributes of a title record the index builder owns.
type Associations struct {
	Title     string
	SourceIDs []ID
	GenreIDs  []ID
}

// DecodeAssociations reads only the title and the association sets of a
// stored title. Other attributes are provider data and may hold anything, so
// they never get in the way of the union. An attribute that does not decode
// is reported in the error and left zero; the rest are still returned.
func DecodeAssociations(attrs kvstore.Attrs) (Associations, error) {
	var a Associations
	err := errors.Join(
		decodeAttr(attrs, AttrTitle, &a.Title),
		decodeAttr(attrs, AttrSourceIDs, &a.SourceIDs),
		decodeAttr(attrs, AttrGenreIDs, &a.GenreIDs),
	)
	return a, err
}

func decodeAttr(attrs kvstore.Attrs, name string, dst any) error {
	v, ok := attrs[name]
	if !ok || v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}

func decodeAttrs[T any](attrs kvstore.Attrs) (T, error) {
	var out T
	data, err := json.Marshal(attrs)
	if err != nil {
		return out, fmt.Errorf("encoding attributes: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decoding attributes: %w", err)
	}
	return out, nil
}

// IsNotFound reports whether err means the item does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}

func toSet(ids []ID) map[ID]struct{} {
	set := make(map[ID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
