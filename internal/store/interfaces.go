package store

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrDeferredUnsupported is returned by backends without
	// connection-scoped deferred writes; callers fall back to heartbeats.
	ErrDeferredUnsupported = errors.New("store: deferred writes not supported")

	ErrClosed = errors.New("store: closed")
)

// ChildHandler receives one child per call, existing children first (in key
// order), then future ones as they are appended.
type ChildHandler func(key string, value json.RawMessage)

// ValueHandler receives the full value at the watched path on every change
// at or below it. A nil value means the path is absent. The handler fires
// once immediately with the current value.
type ValueHandler func(value json.RawMessage)

type Subscription interface {
	Close()
}

// Store is a key-path tree with last-write-wins sets, partial merges,
// order-preserving child appends and live subscriptions. Values must be
// JSON-marshalable. Consistency is single-key only; multi-step workflows
// must tolerate partial failure.
type Store interface {
	// Write sets the value at path, replacing any existing subtree.
	Write(ctx context.Context, path string, value any) error

	// Update merges fields into the object at path, creating it if absent.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Read fetches the value at path into dst. The second return is false
	// when the path is absent.
	Read(ctx context.Context, path string, dst any) (bool, error)

	// Delete removes the subtree at path. Deleting an absent path is a
	// no-op.
	Delete(ctx context.Context, path string) error

	// AppendChild stores value under a fresh order-preserving key below
	// path and returns that key.
	AppendChild(ctx context.Context, path string, value any) (string, error)

	SubscribeChildAdded(path string, handler ChildHandler) (Subscription, error)
	SubscribeValue(path string, handler ValueHandler) (Subscription, error)

	// OnDisconnectDeferred registers a write (or delete, when value is nil)
	// that fires when this client's connection drops without a clean
	// shutdown. Returns ErrDeferredUnsupported when the backend cannot
	// provide it.
	OnDisconnectDeferred(ctx context.Context, path string, value any) error

	Close() error
}
