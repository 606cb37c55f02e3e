package store

import (
	"context"
	"encoding/json"
)

// Store is a hierarchical, path-keyed document store with realtime
// subscription semantics. Paths are slash-separated strings; values are
// JSON documents. The store is the single source of truth for the
// pipeline: all in-memory guards and pointers must be rebuildable from
// its content on cold start.
type Store interface {
	// Read loads the value at path into dest. Returns false if nothing
	// is stored there; dest is untouched in that case.
	Read(ctx context.Context, path string, dest any) (bool, error)

	// Write replaces the value at path.
	Write(ctx context.Context, path string, value any) error

	// Update merges fields into the JSON object at path, creating it if
	// absent. Non-object existing values are replaced.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the value at path and every descendant under it.
	Delete(ctx context.Context, path string) error

	// Subscribe registers fn for changes at path or any descendant.
	// fn fires once immediately with the current value at path (nil raw
	// if absent), then on every subsequent write/delete; deletes deliver
	// a nil raw. The returned handle detaches the listener and is safe
	// to call more than once.
	Subscribe(path string, fn SubscribeFunc) (Unsubscribe, error)

	// RangeQuery returns every direct child of collection whose key is
	// lexicographically >= startKey and <= endKey, where endKey also
	// matches keys that extend it (so "20250930_23" matches
	// "20250930_233045123"). Keys are returned relative to collection.
	RangeQuery(ctx context.Context, collection, startKey, endKey string) (map[string]json.RawMessage, error)

	Close() error
}

// SubscribeFunc receives the absolute path that changed and its new raw
// value; nil raw means the path was deleted.
type SubscribeFunc func(path string, raw json.RawMessage)

// Unsubscribe detaches a subscription. Calling it twice is a no-op.
type Unsubscribe func()
