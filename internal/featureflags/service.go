package featureflags

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCacheTTL is how long a loaded snapshot is reused.
const DefaultCacheTTL = time.Minute

// ServiceConfig holds configuration for the feature flag service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger
	CacheTTL   time.Duration
}

// Service evaluates flags from a cached snapshot of the repository merged
// over the defaults. When the repository fails the last snapshot, or the
// defaults, keep serving.
type Service struct {
	repo     Repository
	logger   zerolog.Logger
	cacheTTL time.Duration
	now      func() time.Time

	mu     sync.RWMutex
	flags  map[string]Flag
	expiry time.Time
}

// NewService creates a new feature flag service.
func NewService(cfg ServiceConfig) *Service {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &Service{
		repo:     cfg.Repository,
		logger:   cfg.Logger,
		cacheTTL: ttl,
		now:      time.Now,
	}
}

// Enabled reports whether key is on. Unknown keys are off.
func (s *Service) Enabled(ctx context.Context, key string) bool {
	return s.snapshot(ctx)[key].Enabled
}

// List returns every known flag, sorted by key.
func (s *Service) List(ctx context.Context) []Flag {
	snap := s.snapshot(ctx)
	flags := make([]Flag, 0, len(snap))
	for _, f := range snap {
		flags = append(flags, f)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Key < flags[j].Key })
	return flags
}

// Apply stores the requested updates and returns the updated flags. Every
// key must be defined; nothing is stored otherwise.
func (s *Service) Apply(ctx context.Context, req FlagUpdateRequest) ([]Flag, error) {
	now := s.now().UTC()
	updated := make([]Flag, 0, len(req.Updates))
	for _, u := range req.Updates {
		def, ok := Lookup(u.Key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFlag, u.Key)
		}
		if u.Enabled == nil {
			return nil, fmt.Errorf("flag %s: missing value", u.Key)
		}
		updated = append(updated, Flag{
			Key:         u.Key,
			Enabled:     *u.Enabled,
			Description: def.Description,
			Reason:      req.Reason,
			UpdatedAt:   now,
		})
	}

	if err := s.repo.Save(ctx, updated); err != nil {
		return nil, fmt.Errorf("saving feature flags: %w", err)
	}

	s.InvalidateCache()
	return updated, nil
}

// InvalidateCache forces the next evaluation to reload the repository.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiry = time.Time{}
}

// snapshot returns the current flags, reloading them once the TTL expired.
// The returned map is never mutated.
func (s *Service) snapshot(ctx context.Context) map[string]Flag {
	s.mu.RLock()
	if s.flags != nil && s.now().Before(s.expiry) {
		flags := s.flags
		s.mu.RUnlock()
		return flags
	}
	s.mu.RUnlock()

	stored, err := s.repo.All(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load feature flags, keeping previous values")
		if s.flags == nil {
			return defaults()
		}
		return s.flags
	}

	merged := defaults()
	for key, f := range stored {
		def, ok := definitions[key]
		if !ok {
			continue
		}
		f.Key = key
		f.Description = def.Description
		merged[key] = f
	}

	s.flags = merged
	s.expiry = s.now().Add(s.cacheTTL)
	return merged
}

// Convenience methods for well-known flags.

// IsLastKnownGoodFallbackEnabled reports whether failed fetches fall back to
// the station's last successful schedule.
func (s *Service) IsLastKnownGoodFallbackEnabled(ctx context.Context) bool {
	return s.Enabled(ctx, FlagFallbackLastKnownGood)
}

// IsBackgroundRefreshDisabled reports whether periodic refresh is paused.
func (s *Service) IsBackgroundRefreshDisabled(ctx context.Context) bool {
	return s.Enabled(ctx, FlagDisableBackgroundRefresh)
}

// IsFuzzyCatalogSearchEnabled reports whether catalog search is fuzzy.
func (s *Service) IsFuzzyCatalogSearchEnabled(ctx context.Context) bool {
	return s.Enabled(ctx, FlagFuzzyCatalogSearch)
}
