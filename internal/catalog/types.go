// Package catalog holds the stored entities of the title catalog, their
// key layout in the single-table store and the stream envelope shared by the
// ingestion publisher and the index builder.
package catalog

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/goccy/go-json"
)

// ID is a catalog provider identifier. The provider sends numbers, stored
// records and stream payloads may carry strings; both decode to the same ID.
type ID string

func (id ID) String() string { return string(id) }

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decoding id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("decoding id %s: %w", b, err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

// Source is a streaming service from the provider's reference catalog.
type Source struct {
	ID      ID       `json:"id"`
	Name    string   `json:"name"`
	Type    string   `json:"type,omitempty"`
	Logo    string   `json:"logo_100px,omitempty"`
	Regions []string `json:"regions,omitempty"`
}

// Genre is a genre from the provider's reference catalog.
type Genre struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	TMDbID int    `json:"tmdb_id,omitempty"`
}

type PreferenceKind string

const (
	KindSource PreferenceKind = "source"
	KindGenre  PreferenceKind = "genre"
)

// UserPreference is one stored preference row.
type UserPreference struct {
	UserID  string
	Kind    PreferenceKind
	ValueID ID
}

// Details are the fields the enricher adds to a canonical title.
type Details struct {
	Poster       string   `json:"poster,omitempty"`
	PlotOverview string   `json:"plot_overview,omitempty"`
	UserRating   *float64 `json:"user_rating,omitempty"`
}

// CanonicalTitle is the authoritative stored record of a title.
type CanonicalTitle struct {
	ID        ID     `json:"id"`
	Title     string `json:"title"`
	Year      int    `json:"year,omitempty"`
	Type      string `json:"type,omitempty"`
	IMDbID    string `json:"imdb_id,omitempty"`
	SourceIDs []ID   `json:"source_ids"`
	GenreIDs  []ID   `json:"genre_ids"`
	Details
}

// Listing is a title as the provider lists it. Fields holds every other
// attribute of the listing untouched.
type Listing struct {
	ID     ID
	Title  string
	Fields map[string]any
}

// IndexEntry says title TitleID was discovered under (SourceID, GenreID).
type IndexEntry struct {
	SourceID ID
	GenreID  ID
	TitleID  ID
}

// Union returns the sorted set union of current and incoming and whether it
// holds anything current did not.
func Union(current, incoming []ID) ([]ID, bool) {
	seen := make(map[ID]struct{}, len(current)+len(incoming))
	out := make([]ID, 0, len(current)+len(incoming))
	for _, id := range current {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	grown := false
	for _, id := range incoming {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		grown = true
	}
	SortIDs(out)
	return out, grown
}

// SortIDs orders numeric ids numerically and everything else lexically,
// numbers first.
func SortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return Less(ids[i], ids[j]) })
}

// Less reports whether a sorts before b under SortIDs.
func Less(a, b ID) bool {
	ai, aErr := strconv.ParseInt(string(a), 10, 64)
	bi, bErr := strconv.ParseInt(string(b), 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		return ai < bi
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	default:
		return a < b
	}
}

// Distinct returns ids without duplicates or empties, sorted.
func Distinct(ids []ID) []ID {
	out, _ := Union(nil, ids)
	return out
}
