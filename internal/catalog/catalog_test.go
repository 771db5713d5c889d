package catalog

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/goccy/go-json"

	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/kvstore"
)

func TestIDAcceptsNumbersAndStrings(t *testing.T) {
	var got struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a": 203, "b": "349", "c": null}`), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.A != "203" || got.B != "349" || got.C != "" {
		t.Errorf("got %+v", got)
	}
	out, _ := json.Marshal(got.A)
	if string(out) != `"203"` {
		t.Errorf("Marshal = %s, want \"203\"", out)
	}
}

func TestUnion(t *testing.T) {
	got, grown := Union([]ID{"349", "26"}, []ID{"203", "26"})
	if !reflect.DeepEqual(got, []ID{"26", "203", "349"}) || !grown {
		t.Errorf("Union = %v, %v", got, grown)
	}
	got, grown = Union([]ID{"4"}, []ID{"4"})
	if !reflect.DeepEqual(got, []ID{"4"}) || grown {
		t.Errorf("Union with nothing new = %v, %v", got, grown)
	}
	a, _ := Union([]ID{"1"}, []ID{"2"})
	b, _ := Union([]ID{"2"}, []ID{"1"})
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Union depends on order: %v vs %v", a, b)
	}
}

func TestKeys(t *testing.T) {
	e := IndexEntry{SourceID: "203", GenreID: "4", TitleID: "3173903"}
	if k := IndexKey(e); k.PK != "source:203:genre:4" || k.SK != "title:3173903" {
		t.Errorf("IndexKey = %v", k)
	}
	if k := TitleKey("7"); k.PK != "title:7" || k.SK != "record" {
		t.Errorf("TitleKey = %v", k)
	}
	if id, ok := TitleIDFromKey(kvstore.Key{PK: "title:7", SK: "record"}); !ok || id != "7" {
		t.Errorf("TitleIDFromKey = %q, %v", id, ok)
	}
	if _, ok := TitleIDFromKey(kvstore.Key{PK: "source:1:genre:2", SK: "title:7"}); ok {
		t.Error("index key accepted as title record")
	}
	if !isReferenceKey(kvstore.Key{PK: "source:203", SK: "record"}, PrefixSource) {
		t.Error("source record not recognised")
	}
	if isReferenceKey(kvstore.Key{PK: "source:203:genre:4", SK: "title:1"}, PrefixSource) {
		t.Error("index entry mistaken for a source record")
	}
}

func TestParsePreference(t *testing.T) {
	tests := []struct {
		key     kvstore.Key
		want    UserPreference
		wantErr bool
	}{
		{kvstore.Key{PK: "userpref:a", SK: "source:203"}, UserPreference{"a", KindSource, "203"}, false},
		{kvstore.Key{PK: "userpref:a", SK: "genre:4"}, UserPreference{"a", KindGenre, "4"}, false},
		{kvstore.Key{PK: "userpref:a", SK: "region:GB"}, UserPreference{}, true},
		{kvstore.Key{PK: "userpref:a", SK: "genre"}, UserPreference{}, true},
		{kvstore.Key{PK: "title:1", SK: "record"}, UserPreference{}, true},
	}
	for _, tt := range tests {
		got, err := ParsePreference(tt.key)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePreference(%v) err = %v, wantErr %v", tt.key, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePreference(%v) = %+v, want %+v", tt.key, got, tt.want)
		}
	}
}

func TestTitleEventRoundTripKeepsRawFields(t *testing.T) {
	ev := TitleEvent{
		Header: EventHeader{PublishingComponent: "ingestion", Timestamp: time.Unix(0, 0).UTC()},
		Payload: TitlePayload{
			ID: "42", Title: "Dark", SourceIDs: []ID{"203"}, GenreIDs: []ID{"4"},
			Fields: map[string]any{"year": float64(2017), "imdb_id": "tt5753856"},
		},
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := DecodeTitleEvent(data)
	if err != nil {
		t.Fatalf("DecodeTitleEvent: %v", err)
	}
	if !reflect.DeepEqual(got, ev) {
		t.Errorf("round trip = %+v, want %+v", got, ev)
	}
}

func TestDecodeTitleEventRejectsMalformed(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{"header":{},"payload":{"title":"no id"}}`,
		`{"header":{},"payload":{"id":1,"source_ids":[""]}}`,
	} {
		if _, err := DecodeTitleEvent([]byte(body)); !errors.Is(err, apperrors.ErrMalformedRecord) {
			t.Errorf("DecodeTitleEvent(%s) err = %v, want ErrMalformedRecord", body, err)
		}
	}
}

func TestIndexEntriesCrossProduct(t *testing.T) {
	p := TitlePayload{ID: "T", SourceIDs: []ID{"S1", "S2"}, GenreIDs: []ID{"G1"}}
	want := []IndexEntry{{"S1", "G1", "T"}, {"S2", "G1", "T"}}
	if got := p.IndexEntries(); !reflect.DeepEqual(got, want) {
		t.Errorf("IndexEntries = %v, want %v", got, want)
	}
	if got := (TitlePayload{ID: "T", SourceIDs: []ID{"S1"}}).IndexEntries(); len(got) != 0 {
		t.Errorf("no genres should give no entries, got %v", got)
	}
}

func TestAlreadyEnriched(t *testing.T) {
	tests := []struct {
		name  string
		attrs kvstore.Attrs
		want  bool
	}{
		{"bare", kvstore.Attrs{"title": "x"}, false},
		{"all fields", kvstore.Attrs{"poster": "p", "plot_overview": "o", "user_rating": 7.1}, true},
		{"placeholders", DetailAttrs(Details{}), true},
		{"blank poster", kvstore.Attrs{"poster": " ", "plot_overview": "o", "user_rating": 7.1}, false},
		{"missing rating", kvstore.Attrs{"poster": "p", "plot_overview": "o"}, false},
		{"null rating", kvstore.Attrs{"poster": "p", "plot_overview": "o", "user_rating": nil}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AlreadyEnriched(tt.attrs); got != tt.want {
				t.Errorf("AlreadyEnriched = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetailAttrsCoversEnrichmentFields(t *testing.T) {
	attrs := DetailAttrs(Details{})
	for _, f := range EnrichmentFields {
		if _, ok := attrs[f]; !ok {
			t.Errorf("DetailAttrs does not write %s", f)
		}
	}
	if len(attrs) != len(EnrichmentFields) {
		t.Errorf("DetailAttrs writes %d fields, EnrichmentFields lists %d", len(attrs), len(EnrichmentFields))
	}
}

func TestRepositoryPreferencesAndReference(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	repo := NewRepository(store)

	if err := repo.SetPreferences(ctx, "a", []ID{"203", "349"}, []ID{"4"}); err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}
	if err := repo.SetPreferences(ctx, "a", []ID{"349"}, []ID{"4", "6"}); err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}
	sources, genres, err := repo.UserPreferences(ctx, "a")
	if err != nil {
		t.Fatalf("UserPreferences: %v", err)
	}
	if !reflect.DeepEqual(sources, []ID{"349"}) || !reflect.DeepEqual(genres, []ID{"4", "6"}) {
		t.Errorf("preferences = %v / %v", sources, genres)
	}

	_ = store.Put(ctx, kvstore.Item{Key: SourceKey("203"), Attrs: kvstore.Attrs{"id": 203, "name": "Netflix"}})
	_ = store.Put(ctx, kvstore.Item{Key: IndexKey(IndexEntry{"203", "4", "1"})})
	got, err := repo.Sources(ctx)
	if err != nil {
		t.Fatalf("Sources: %v", err)
	}
	if len(got) != 1 || got[0].ID != "203" || got[0].Name != "Netflix" {
		t.Errorf("Sources = %+v", got)
	}
}

func TestRepositoryTitle(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	repo := NewRepository(store)

	if _, err := repo.Title(ctx, "1"); !IsNotFound(err) {
		t.Fatalf("Title missing: err = %v", err)
	}
	_ = store.Put(ctx, kvstore.Item{Key: TitleKey("1"), Attrs: kvstore.Attrs{
		"id": 1, "title": "Dark", "source_ids": []string{"203"}, "genre_ids": []int{4},
		"poster": "p.jpg", "plot_overview": "o", "user_rating": 8.4,
	}})
	title, err := repo.Title(ctx, "1")
	if err != nil {
		t.Fatalf("Title: %v", err)
	}
	if title.Title != "Dark" || title.GenreIDs[0] != "4" || title.UserRating == nil || *title.UserRating != 8.4 {
		t.Errorf("Title = %+v", title)
	}
	if !title.HasArtwork() {
		t.Error("HasArtwork = false")
	}
}
