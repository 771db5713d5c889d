package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
)

// Change event names, as a DynamoDB stream reports them.
const (
	EventInsert = "INSERT"
	EventModify = "MODIFY"
	EventRemove = "REMOVE"
)

// ChangeEvent describes one write to the store.
type ChangeEvent struct {
	EventName string    `json:"eventName"`
	Keys      Key       `json:"keys"`
	NewImage  Attrs     `json:"newImage,omitempty"`
	OldImage  Attrs     `json:"oldImage,omitempty"`
	At        time.Time `json:"at"`
}

// ChangeSink receives change events. Implementations must preserve order
// per Keys.PK.
type ChangeSink interface {
	PublishChange(ctx context.Context, ev ChangeEvent) error
}

// ChangeSinkFunc adapts a function to ChangeSink.
type ChangeSinkFunc func(ctx context.Context, ev ChangeEvent) error

func (f ChangeSinkFunc) PublishChange(ctx context.Context, ev ChangeEvent) error {
	return f(ctx, ev)
}

// Notifying wraps a Store and emits a ChangeEvent after every successful
// write whose key satisfies Match. It is the change-capture feed for
// backends that have no native stream.
//
// Every write is reported, including writes that leave the item unchanged.
// Consumers of the feed have to recognise their own writes.
type Notifying struct {
	Store
	sink  ChangeSink
	match func(Key) bool
	now   func() time.Time
}

// NewNotifying returns a decorator over store. A nil match reports every key.
func NewNotifying(store Store, sink ChangeSink, match func(Key) bool) *Notifying {
	if match == nil {
		match = func(Key) bool { return true }
	}
	return &Notifying{Store: store, sink: sink, match: match, now: time.Now}
}

func (n *Notifying) Put(ctx context.Context, item Item) error {
	if !n.match(item.Key) {
		return n.Store.Put(ctx, item)
	}
	old, err := n.previous(ctx, item.Key)
	if err != nil {
		return err
	}
	if err := n.Store.Put(ctx, item); err != nil {
		return err
	}
	return n.emitCurrent(ctx, item.Key, old)
}

func (n *Notifying) Merge(ctx context.Context, key Key, attrs Attrs) error {
	if !n.match(key) {
		return n.Store.Merge(ctx, key, attrs)
	}
	old, err := n.previous(ctx, key)
	if err != nil {
		return err
	}
	if err := n.Store.Merge(ctx, key, attrs); err != nil {
		return err
	}
	return n.emitCurrent(ctx, key, old)
}

func (n *Notifying) Delete(ctx context.Context, key Key) error {
	if !n.match(key) {
		return n.Store.Delete(ctx, key)
	}
	old, err := n.previous(ctx, key)
	if err != nil {
		return err
	}
	if err := n.Store.Delete(ctx, key); err != nil {
		return err
	}
	if old == nil {
		return nil
	}
	return n.publish(ctx, ChangeEvent{EventName: EventRemove, Keys: key, OldImage: old})
}

func (n *Notifying) previous(ctx context.Context, key Key) (Attrs, error) {
	item, err := n.Store.Get(ctx, key)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.Attrs, nil
}

func (n *Notifying) emitCurrent(ctx context.Context, key Key, old Attrs) error {
	item, err := n.Store.Get(ctx, key)
	if err != nil {
		return err
	}
	name := EventModify
	if old == nil {
		name = EventInsert
	}
	return n.publish(ctx, ChangeEvent{EventName: name, Keys: key, NewImage: item.Attrs, OldImage: old})
}

func (n *Notifying) publish(ctx context.Context, ev ChangeEvent) error {
	ev.At = n.now().UTC()
	if err := n.sink.PublishChange(ctx, ev); err != nil {
		return fmt.Errorf("publishing change for %s: %w: %v", ev.Keys, apperrors.ErrPublishFailure, err)
	}
	return nil
}
