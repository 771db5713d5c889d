package kvstore

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
)

// MemoryStore keeps items in a map. Values are normalized on the way in and
// copied on the way out so callers never share state with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[Key]Attrs
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[Key]Attrs)}
}

func (m *MemoryStore) Get(_ context.Context, key Key) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	attrs, ok := m.items[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, apperrors.ErrNotFound)
	}
	return &Item{Key: key, Attrs: copyAttrs(attrs)}, nil
}

func (m *MemoryStore) Put(_ context.Context, item Item) error {
	attrs, err := Normalize(item.Attrs)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.items[item.Key] = attrs
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Merge(_ context.Context, key Key, attrs Attrs) error {
	normalized, err := Normalize(attrs)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[key]
	if !ok {
		m.items[key] = normalized
		return nil
	}
	merged := copyAttrs(current)
	for k, v := range normalized {
		merged[k] = v
	}
	m.items[key] = merged
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Query(_ context.Context, pk, skPrefix string) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Item
	for key, attrs := range m.items {
		if key.PK == pk && hasPrefix(key.SK, skPrefix) {
			out = append(out, Item{Key: key, Attrs: copyAttrs(attrs)})
		}
	}
	sortItems(out)
	return out, nil
}

func (m *MemoryStore) Scan(_ context.Context, pkPrefix string) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Item
	for key, attrs := range m.items {
		if hasPrefix(key.PK, pkPrefix) {
			out = append(out, Item{Key: key, Attrs: copyAttrs(attrs)})
		}
	}
	sortItems(out)
	return out, nil
}

func (m *MemoryStore) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.items)), nil
}

func (m *MemoryStore) Close() error { return nil }

// copyAttrs deep-copies a normalized attribute map.
func copyAttrs(attrs Attrs) Attrs {
	out := make(Attrs, len(attrs))
	for k, v := range attrs {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case []any:
		cp := make([]any, len(t))
		for i := range t {
			cp[i] = copyValue(t[i])
		}
		return cp
	case map[string]any:
		cp := make(map[string]any, len(t))
		for k, inner := range t {
			cp[k] = copyValue(inner)
		}
		return cp
	default:
		return v
	}
}
