// Package storage defines the key-value persistence surface and the event log
// kept on top of it.
package storage

import (
	"context"
	"errors"
)

// Sentinel errors for the storage package.
var (
	// ErrInvalidCursor is returned when a cursor cannot be decoded.
	ErrInvalidCursor = errors.New("invalid cursor format")

	// ErrStaleCursor is returned when a cursor no longer points into the log,
	// typically after the log was cleared.
	ErrStaleCursor = errors.New("stale cursor")

	// ErrClosed is returned by drivers after Close.
	ErrClosed = errors.New("storage closed")
)

// KV is a key-value store holding opaque values.
type KV interface {
	// Get returns the value for key. ok is false when the key does not exist.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set replaces the value for key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}
