package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory document store. It backs tests and small
// deployments; the SQLite store is the durable option.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]json.RawMessage
	subs   map[int]*subscription
	nextID int
}

type subscription struct {
	path string
	fn   SubscribeFunc
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]json.RawMessage),
		subs: make(map[int]*subscription),
	}
}

// Read loads the value at path into dest.
func (ms *MemoryStore) Read(ctx context.Context, path string, dest any) (bool, error) {
	ms.mu.RLock()
	raw, ok := ms.docs[path]
	ms.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("failed to decode value at %s: %w", path, err)
	}
	return true, nil
}

// Write replaces the value at path and notifies listeners.
func (ms *MemoryStore) Write(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", path, err)
	}

	ms.mu.Lock()
	ms.docs[path] = raw
	listeners := ms.listenersFor(path)
	ms.mu.Unlock()

	for _, fn := range listeners {
		fn(path, raw)
	}
	return nil
}

// Update merges fields into the object at path.
func (ms *MemoryStore) Update(ctx context.Context, path string, fields map[string]any) error {
	ms.mu.Lock()
	merged := make(map[string]any)
	if raw, ok := ms.docs[path]; ok {
		// Non-object values are replaced wholesale.
		_ = json.Unmarshal(raw, &merged)
	}
	for k, v := range fields {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		ms.mu.Unlock()
		return fmt.Errorf("failed to encode update for %s: %w", path, err)
	}
	ms.docs[path] = raw
	listeners := ms.listenersFor(path)
	ms.mu.Unlock()

	for _, fn := range listeners {
		fn(path, raw)
	}
	return nil
}

// Delete removes path and every descendant, notifying listeners once
// per removed document.
func (ms *MemoryStore) Delete(ctx context.Context, path string) error {
	prefix := path + "/"

	ms.mu.Lock()
	var removed []string
	for p := range ms.docs {
		if p == path || strings.HasPrefix(p, prefix) {
			removed = append(removed, p)
		}
	}
	for _, p := range removed {
		delete(ms.docs, p)
	}
	notify := make(map[string][]SubscribeFunc, len(removed))
	for _, p := range removed {
		notify[p] = ms.listenersFor(p)
	}
	ms.mu.Unlock()

	sort.Strings(removed)
	for _, p := range removed {
		for _, fn := range notify[p] {
			fn(p, nil)
		}
	}
	return nil
}

// Subscribe attaches fn to path. The initial callback fires before
// Subscribe returns.
func (ms *MemoryStore) Subscribe(path string, fn SubscribeFunc) (Unsubscribe, error) {
	ms.mu.Lock()
	id := ms.nextID
	ms.nextID++
	ms.subs[id] = &subscription{path: path, fn: fn}
	raw := ms.docs[path]
	ms.mu.Unlock()

	fn(path, raw)

	var once sync.Once
	return func() {
		once.Do(func() {
			ms.mu.Lock()
			delete(ms.subs, id)
			ms.mu.Unlock()
		})
	}, nil
}

// RangeQuery returns direct children of collection keyed within
// [startKey, endKey], endKey prefix-inclusive.
func (ms *MemoryStore) RangeQuery(ctx context.Context, collection, startKey, endKey string) (map[string]json.RawMessage, error) {
	prefix := collection + "/"

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	result := make(map[string]json.RawMessage)
	for p, raw := range ms.docs {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		key := strings.TrimPrefix(p, prefix)
		if strings.Contains(key, "/") {
			continue // grandchildren are not part of the collection
		}
		if keyInRange(key, startKey, endKey) {
			result[key] = raw
		}
	}
	return result, nil
}

// Close releases the store. No-op for the in-memory backend.
func (ms *MemoryStore) Close() error {
	return nil
}

// listenersFor collects callbacks registered at p or any ancestor of p.
// Callers must hold ms.mu.
func (ms *MemoryStore) listenersFor(p string) []SubscribeFunc {
	var fns []SubscribeFunc
	for _, sub := range ms.subs {
		if sub.path == p || strings.HasPrefix(p, sub.path+"/") {
			fns = append(fns, sub.fn)
		}
	}
	return fns
}

// keyInRange reports whether key falls in [start, end], treating end as
// prefix-inclusive so hour-range queries keep their last hour.
func keyInRange(key, start, end string) bool {
	if key < start {
		return false
	}
	return key <= end || strings.HasPrefix(key, end)
}
