// Package kvstore is the single-table key-value store behind the catalog.
// Items are addressed by a partition key / sort key pair and carry a flat
// attribute map. Three backends share the Store interface: an in-memory map
// for tests and local runs, PostgreSQL (JSONB rows) and DynamoDB.
package kvstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Key addresses one item.
type Key struct {
	PK string `json:"pk"`
	SK string `json:"sk"`
}

func (k Key) String() string {
	return k.PK + "/" + k.SK
}

// Attrs is the attribute map of an item. Values are JSON-compatible:
// strings, float64, bool, []any, map[string]any.
type Attrs map[string]any

// Item is a stored row.
type Item struct {
	Key
	Attrs Attrs `json:"attrs"`
}

// Store is implemented by every backend. Missing items are reported with
// apperrors.ErrNotFound and backend failures with
// apperrors.ErrStoreUnavailable.
type Store interface {
	Get(ctx context.Context, key Key) (*Item, error)
	// Put replaces the whole item.
	Put(ctx context.Context, item Item) error
	// Merge upserts the given top-level attributes and leaves every other
	// attribute of an existing item untouched.
	Merge(ctx context.Context, key Key, attrs Attrs) error
	Delete(ctx context.Context, key Key) error
	// Query returns items with PK equal to pk and SK starting with skPrefix,
	// ordered by SK.
	Query(ctx context.Context, pk, skPrefix string) ([]Item, error)
	// Scan returns all items whose PK starts with pkPrefix.
	Scan(ctx context.Context, pkPrefix string) ([]Item, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Normalize round-trips attrs through JSON so that typed values ([]string,
// int, structs) compare equal to what a backend would hand back.
func Normalize(attrs Attrs) (Attrs, error) {
	if attrs == nil {
		return Attrs{}, nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encoding attributes: %w", err)
	}
	out := Attrs{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding attributes: %w", err)
	}
	return out, nil
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].PK != items[j].PK {
			return items[i].PK < items[j].PK
		}
		return items[i].SK < items[j].SK
	})
}

func hasPrefix(s, prefix string) bool {
	return prefix == "" || strings.HasPrefix(s, prefix)
}
