package kvstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
)

type recordingSink struct {
	events []ChangeEvent
	err    error
}

func (r *recordingSink) PublishChange(_ context.Context, ev ChangeEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func titleRecords(k Key) bool {
	return strings.HasPrefix(k.PK, "title:") && k.SK == "record"
}

func TestNotifyingEmitsInsertThenModify(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	s := NewNotifying(NewMemoryStore(), sink, titleRecords)
	key := Key{PK: "title:7", SK: "record"}

	if err := s.Merge(ctx, key, Attrs{"title": "Dark"}); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if err := s.Merge(ctx, key, Attrs{"poster": "p.jpg"}); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if len(sink.events) != 2 {
		t.Fatalf("events = %d, want 2", len(sink.events))
	}
	first, second := sink.events[0], sink.events[1]
	if first.EventName != EventInsert || first.OldImage != nil {
		t.Errorf("first event = %+v, want INSERT without old image", first)
	}
	if second.EventName != EventModify {
		t.Errorf("second event name = %q, want MODIFY", second.EventName)
	}
	if second.NewImage["title"] != "Dark" || second.NewImage["poster"] != "p.jpg" {
		t.Errorf("new image is not the full item: %v", second.NewImage)
	}
	if second.Keys != key {
		t.Errorf("keys = %v, want %v", second.Keys, key)
	}
}

func TestNotifyingIgnoresUnmatchedKeys(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	s := NewNotifying(NewMemoryStore(), sink, titleRecords)

	_ = s.Put(ctx, Item{Key: Key{PK: "source:203:genre:4", SK: "title:7"}})
	_ = s.Put(ctx, Item{Key: Key{PK: "genre:4", SK: "record"}, Attrs: Attrs{"name": "Drama"}})

	if len(sink.events) != 0 {
		t.Errorf("events = %v, want none", sink.events)
	}
}

func TestNotifyingRemove(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	s := NewNotifying(NewMemoryStore(), sink, nil)
	key := Key{PK: "title:1", SK: "record"}

	_ = s.Delete(ctx, key)
	if len(sink.events) != 0 {
		t.Fatalf("deleting a missing item emitted %v", sink.events)
	}
	_ = s.Put(ctx, Item{Key: key, Attrs: Attrs{"title": "x"}})
	_ = s.Delete(ctx, key)
	last := sink.events[len(sink.events)-1]
	if last.EventName != EventRemove || last.OldImage["title"] != "x" {
		t.Errorf("last event = %+v, want REMOVE with old image", last)
	}
}

func TestNotifyingSinkFailure(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	s := NewNotifying(NewMemoryStore(), sink, nil)

	err := s.Merge(context.Background(), Key{PK: "title:1", SK: "record"}, Attrs{"title": "x"})
	if !errors.Is(err, apperrors.ErrPublishFailure) {
		t.Fatalf("err = %v, want ErrPublishFailure", err)
	}
}
