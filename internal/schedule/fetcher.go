package schedule

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stationboard/stationboard/internal/station"
	"github.com/stationboard/stationboard/internal/telemetry"
)

// FetcherConfig holds configuration for the schedule fetcher.
type FetcherConfig struct {
	// Provider is the upstream schedule API.
	Provider Provider

	// Cache is consulted for a provisional result. Optional.
	Cache ResponseCache

	// Presenter receives every update.
	Presenter Presenter

	// Flags selects the failure fallback policy. Optional.
	Flags FlagSource

	// Metrics records upstream calls and cache hits. Optional.
	Metrics *telemetry.ProviderMetrics

	// Logger for fetch operations.
	Logger zerolog.Logger
}

// Fetcher delivers station schedules to a presenter: a cached copy first when
// one exists, then the network result, or a fallback when the network fails.
type Fetcher struct {
	provider  Provider
	cache     ResponseCache
	presenter Presenter
	flags     FlagSource
	metrics   *telemetry.ProviderMetrics
	logger    zerolog.Logger

	mu            sync.RWMutex
	lastKnownGood map[string]Result
}

// NewFetcher creates a new schedule fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	return &Fetcher{
		provider:      cfg.Provider,
		cache:         cfg.Cache,
		presenter:     cfg.Presenter,
		flags:         cfg.Flags,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		lastKnownGood: make(map[string]Result),
	}
}

// Fetch retrieves the schedule for ref and delivers it to the presenter.
//
// The cache lookup and the network request are issued together. A cache hit
// is delivered as soon as it is decoded; the network outcome is delivered
// only once the cache lookup has finished, so the authoritative update is
// always the last one. On network failure the fallback result is delivered
// and the error is returned for logging; callers need not act on it.
func (f *Fetcher) Fetch(ctx context.Context, ref station.Reference) error {
	cacheDone := make(chan struct{})

	var g errgroup.Group

	g.Go(func() error {
		defer close(cacheDone)
		if result, ok := f.fromCache(ctx, ref); ok {
			f.presenter.Update(*result)
		}
		return nil
	})

	g.Go(func() error {
		result, err := f.fromNetwork(ctx, ref)
		<-cacheDone
		if err != nil {
			f.presenter.Update(f.fallback(ctx, ref))
			return err
		}
		f.remember(*result)
		f.presenter.Update(*result)
		return nil
	})

	return g.Wait()
}

// LastKnownGood returns the last authoritative result for key.
func (f *Fetcher) LastKnownGood(key string) (Result, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.lastKnownGood[key]
	return r, ok
}

func (f *Fetcher) fromCache(ctx context.Context, ref station.Reference) (*Result, bool) {
	if f.cache == nil {
		return nil, false
	}

	url := f.provider.ScheduleURL(ref.Key)
	body, ok, err := f.cache.MatchBody(ctx, url)
	if err != nil {
		f.logger.Warn().Err(err).Str("url", url).Msg("response cache lookup failed")
		return nil, false
	}
	f.metrics.RecordCacheLookup(f.provider.Name(), ok)
	if !ok {
		return nil, false
	}

	result, err := f.provider.Decode(body, ref)
	if err != nil {
		f.logger.Warn().Err(err).Str("station", ref.Key).Msg("ignoring undecodable cached schedule")
		return nil, false
	}

	f.logger.Debug().Str("station", ref.Key).Msg("delivering cached schedule")
	return result, true
}

func (f *Fetcher) fromNetwork(ctx context.Context, ref station.Reference) (*Result, error) {
	start := time.Now()
	result, err := f.provider.GetSchedule(ctx, ref)
	f.metrics.RecordFetch(f.provider.Name(), time.Since(start), err)

	if err != nil {
		f.logger.Warn().Err(err).
			Str("station", ref.Key).
			Str("provider", f.provider.Name()).
			Msg("failed to fetch schedule")

		if !errors.Is(err, ErrNetworkFailure) && !errors.Is(err, ErrParseFailure) {
			err = errors.Join(ErrNetworkFailure, err)
		}
		return nil, err
	}
	return result, nil
}

// fallback picks the result shown after a failed fetch.
func (f *Fetcher) fallback(ctx context.Context, ref station.Reference) Result {
	if f.flags != nil && f.flags.IsLastKnownGoodFallbackEnabled(ctx) {
		if r, ok := f.LastKnownGood(ref.Key); ok {
			return r
		}
	}
	return FallbackResult()
}

func (f *Fetcher) remember(r Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastKnownGood[r.Key] = r
}
