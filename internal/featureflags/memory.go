package featureflags

import (
	"context"
	"maps"
	"sync"
)

// InMemoryRepository keeps flags in process memory. It is used when no
// database is configured and by tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	flags map[string]Flag
}

// NewInMemoryRepository creates a repository holding the given overrides.
func NewInMemoryRepository(flags ...Flag) *InMemoryRepository {
	r := &InMemoryRepository{flags: make(map[string]Flag, len(flags))}
	for _, f := range flags {
		r.flags[f.Key] = f
	}
	return r
}

// All returns a copy of the stored flags.
func (r *InMemoryRepository) All(_ context.Context) (map[string]Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.flags), nil
}

// Save stores flags, replacing existing values.
func (r *InMemoryRepository) Save(_ context.Context, flags []Flag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range flags {
		r.flags[f.Key] = f
	}
	return nil
}

var _ Repository = (*InMemoryRepository)(nil)
