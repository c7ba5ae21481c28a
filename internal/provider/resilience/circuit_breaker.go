// Package resilience wraps the upstream HTTP client with optional retries,
// circuit breaking and health reporting for the ops status endpoint.
package resilience

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig decides when the upstream breaker opens and how it recovers.
type BreakerConfig struct {
	// MinRequests is the sample size needed before FailureRatio is considered.
	MinRequests uint32
	// FailureRatio opens the breaker once this share of calls has failed.
	FailureRatio float64
	// OpenFor is how long the breaker rejects calls before probing again.
	OpenFor time.Duration
	// HalfOpenProbes is the number of calls let through while probing.
	HalfOpenProbes uint32
	// ResetEvery clears the counts while closed. Zero never clears them.
	ResetEvery time.Duration
}

// DefaultBreakerConfig opens after half of at least five calls failed and
// lets a trial request through after a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MinRequests:    5,
		FailureRatio:   0.5,
		OpenFor:        time.Minute,
		HalfOpenProbes: 1,
	}
}

// ShouldTrip reports whether counts warrant opening the breaker.
func (c BreakerConfig) ShouldTrip(counts gobreaker.Counts) bool {
	if counts.Requests == 0 || counts.Requests < c.MinRequests {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}

func newBreaker[T any](name string, cfg BreakerConfig, log zerolog.Logger) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenProbes,
		Interval:    cfg.ResetEvery,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: cfg.ShouldTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("upstream breaker changed state")
		},
	})
}
