package featureflags

import "context"

// Repository stores flag overrides. Keys without a stored value use their
// default.
type Repository interface {
	// All returns every stored flag keyed by flag key.
	All(ctx context.Context) (map[string]Flag, error)

	// Save creates or replaces flags atomically.
	Save(ctx context.Context, flags []Flag) error
}
