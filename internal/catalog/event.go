package catalog

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
)

// Attribute names of the canonical title record.
const (
	AttrID           = "id"
	AttrTitle        = "title"
	AttrSourceIDs    = "source_ids"
	AttrGenreIDs     = "genre_ids"
	AttrPoster       = "poster"
	AttrPlotOverview = "plot_overview"
	AttrUserRating   = "user_rating"
)

// EventHeader identifies who published a title event and why.
type EventHeader struct {
	PublishingComponent string    `json:"publishingComponent"`
	Timestamp           time.Time `json:"timestamp"`
	PublishCause        string    `json:"publishCause,omitempty"`
}

// TitlePayload is one sighting of a title. ID is required; SourceIDs and
// GenreIDs are what this sighting asserts, not the accumulated sets. Fields
// carries the provider's other attributes verbatim.
type TitlePayload struct {
	ID        ID
	Title     string
	SourceIDs []ID
	GenreIDs  []ID
	Fields    map[string]any
}

func (p TitlePayload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Fields)+4)
	for k, v := range p.Fields {
		out[k] = v
	}
	out[AttrID] = p.ID
	out[AttrTitle] = p.Title
	out[AttrSourceIDs] = nonNil(p.SourceIDs)
	out[AttrGenreIDs] = nonNil(p.GenreIDs)
	return json.Marshal(out)
}

func (p *TitlePayload) UnmarshalJSON(b []byte) error {
	var known struct {
		ID        ID     `json:"id"`
		Title     string `json:"title"`
		SourceIDs []ID   `json:"source_ids"`
		GenreIDs  []ID   `json:"genre_ids"`
	}
	if err := json.Unmarshal(b, &known); err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	for _, k := range []string{AttrID, AttrTitle, AttrSourceIDs, AttrGenreIDs} {
		delete(fields, k)
	}
	*p = TitlePayload{
		ID:        known.ID,
		Title:     known.Title,
		SourceIDs: known.SourceIDs,
		GenreIDs:  known.GenreIDs,
		Fields:    fields,
	}
	return nil
}

// TitleEvent is the stream envelope.
type TitleEvent struct {
	Header  EventHeader  `json:"header"`
	Payload TitlePayload `json:"payload"`
}

// Validate checks the required parts of an event.
func (e TitleEvent) Validate() error {
	if e.Payload.ID == "" {
		return fmt.Errorf("payload.id is required: %w", apperrors.ErrMalformedRecord)
	}
	for _, id := range append(append([]ID{}, e.Payload.SourceIDs...), e.Payload.GenreIDs...) {
		if id == "" {
			return fmt.Errorf("empty association id on title %s: %w", e.Payload.ID, apperrors.ErrMalformedRecord)
		}
	}
	return nil
}

// DecodeTitleEvent parses and validates one stream record body. Every
// failure wraps apperrors.ErrMalformedRecord.
func DecodeTitleEvent(data []byte) (TitleEvent, error) {
	var ev TitleEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("decoding title event: %w: %v", apperrors.ErrMalformedRecord, err)
	}
	if err := ev.Validate(); err != nil {
		return ev, err
	}
	return ev, nil
}

// IndexEntries is the cross product of the payload's own sources and
// genres. The accumulated sets of the stored record play no part.
func (p TitlePayload) IndexEntries() []IndexEntry {
	sources, genres := Distinct(p.SourceIDs), Distinct(p.GenreIDs)
	entries := make([]IndexEntry, 0, len(sources)*len(genres))
	for _, s := range sources {
		for _, g := range genres {
			entries = append(entries, IndexEntry{SourceID: s, GenreID: g, TitleID: p.ID})
		}
	}
	return entries
}

func nonNil(ids []ID) []ID {
	if ids == nil {
		return []ID{}
	}
	return ids
}
