// Package kvstore provides the key-value persistence used to remember which
// stations a user tracks.
package kvstore

import (
	"context"
	"errors"
	"fmt"
)

// Store errors.
var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("key not found")

	// ErrStorageUnavailable is returned when the underlying engine is missing,
	// closed or unreachable. Callers are expected to degrade, not fail.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Store is a persistent mapping from string keys to opaque values.
// Each call is atomic for a single key; there are no cross-key transactions.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every key.
	Clear(ctx context.Context) error

	// Keys returns all keys in the store.
	Keys(ctx context.Context) ([]string, error)

	// Close releases the underlying engine.
	Close() error
}

// IsUnavailable reports whether err means the storage engine could not be used.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("kvstore %s: %w: %w", op, ErrStorageUnavailable, err)
}
