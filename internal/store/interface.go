package store

import (
	"context"
	"encoding/json"
)

// Snapshot is the full current state at a path, delivered on every
// change (never a delta). Value is set for leaf paths; Children is set
// for branch paths, keyed by the child's last path segment.
type Snapshot struct {
	Value    json.RawMessage
	Children map[string]json.RawMessage
}

// UnsubscribeFunc detaches a subscription. Safe to call more than once.
type UnsubscribeFunc func()

// DisconnectHandle is a registered cleanup action that fires if the
// connection to this client is lost. Cancel must confirm before
// returning so a graceful-leave deletion never races a stale action.
type DisconnectHandle interface {
	Cancel(ctx context.Context) error
}

// Store is the abstract remote data capability the engine runs against:
// a path-addressed JSON tree with per-path subscriptions and single-key
// atomic compare-and-set. Mutation discipline is last-write-wins at
// path granularity except where SetIfAbsent/Transact is used.
//
// Ordering is per-path: each path's snapshots arrive consistent with a
// single linearizable history, with no cross-path guarantee.
type Store interface {
	// Get reads the value at a leaf path. Absence is (nil, nil).
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// GetChildren reads the immediate children of a branch path,
	// keyed by last segment. An absent branch yields an empty map.
	GetChildren(ctx context.Context, path string) (map[string]json.RawMessage, error)

	// Set unconditionally writes a value at a leaf path.
	Set(ctx context.Context, path string, value any) error

	// Update merges the given fields into the JSON object at a leaf
	// path, leaving other fields untouched. A nil field value deletes
	// that field.
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the value at a path. Removing an absent path is
	// a no-op.
	Delete(ctx context.Context, path string) error

	// DeleteAll removes every listed path in a single batched write.
	DeleteAll(ctx context.Context, paths []string) error

	// Push appends value as a new child of path under a store-assigned
	// id that sorts after previously assigned ids.
	Push(ctx context.Context, path string, value any) (string, error)

	// SetIfAbsent atomically writes value only if the path is
	// currently absent. Returns false when the reservation was lost.
	SetIfAbsent(ctx context.Context, path string, value any) (bool, error)

	// Transact atomically replaces the value at a leaf path with the
	// result of fn applied to its current value (nil when absent).
	// fn returning nil deletes the path.
	Transact(ctx context.Context, path string, fn func(current json.RawMessage) (any, error)) error

	// Subscribe registers fn to receive the full snapshot at path on
	// every change, including an initial snapshot of the current state.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (UnsubscribeFunc, error)

	// OnDisconnect registers removal of the value at path should the
	// connection to this client be lost.
	OnDisconnect(ctx context.Context, path string) (DisconnectHandle, error)

	// Close tears down the connection and all subscriptions.
	Close() error
}

// Auth exposes the store's identity facility: a current-user id and a
// readiness signal. Implementations without authentication return an
// empty id and an already-closed channel.
type Auth interface {
	// CurrentUserID returns the authenticated user id, or "" if none.
	CurrentUserID() string

	// Ready is closed once the authentication round-trip has settled.
	Ready() <-chan struct{}
}
