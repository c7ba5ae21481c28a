// Package app holds the application state: the selected-station list, the
// card board and the startup sequence that restores them.
package app

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stationboard/stationboard/internal/card"
	"github.com/stationboard/stationboard/internal/schedule"
	"github.com/stationboard/stationboard/internal/station"
)

// DefaultFetchConcurrency bounds concurrent schedule fetches.
const DefaultFetchConcurrency = 4

// Fetcher fetches a station schedule and delivers it to the board.
type Fetcher interface {
	Fetch(ctx context.Context, ref station.Reference) error
}

// Config holds the collaborators of an App.
type Config struct {
	// Repository persists the selected-station list.
	Repository *station.Repository

	// Fetcher delivers schedules to Board.
	Fetcher Fetcher

	// Board holds the visible cards.
	Board *card.Board

	// FetchConcurrency bounds concurrent fetches (optional).
	FetchConcurrency int

	// Logger for application events.
	Logger zerolog.Logger
}

// App is the application state shared by every surface.
type App struct {
	repo        *station.Repository
	fetcher     Fetcher
	board       *card.Board
	concurrency int
	logger      zerolog.Logger

	initOnce sync.Once
	initErr  error

	mu       sync.RWMutex
	selected []station.Reference
}

// New creates an App. Init must be called before use.
func New(cfg Config) *App {
	concurrency := cfg.FetchConcurrency
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}

	return &App{
		repo:        cfg.Repository,
		fetcher:     cfg.Fetcher,
		board:       cfg.Board,
		concurrency: concurrency,
		logger:      cfg.Logger,
	}
}

// Board returns the card board.
func (a *App) Board() *card.Board {
	return a.board
}

// Init restores the selected stations and fetches each of them. When nothing
// is stored, or the store cannot be read, the default station's fallback
// schedule is shown and the default station is persisted as the selection.
// Init runs once; later calls return the first result.
func (a *App) Init(ctx context.Context) error {
	a.initOnce.Do(func() {
		a.initErr = a.init(ctx)
	})
	return a.initErr
}

func (a *App) init(ctx context.Context) error {
	refs, err := a.repo.List(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("could not read selected stations, starting from default")
		refs = nil
	}

	if len(refs) > 0 {
		a.setSelected(refs)
		a.logger.Info().Int("stations", len(refs)).Msg("restoring selected stations")
		a.fetchAll(ctx, refs)
		return nil
	}

	def := station.Default()
	a.board.Update(schedule.FallbackResult())
	a.setSelected([]station.Reference{def})

	if err := a.repo.Save(ctx, []station.Reference{def}); err != nil {
		a.logger.Warn().Err(err).Msg("could not persist default station")
		return err
	}

	a.logger.Info().Str("station", def.Key).Msg("initialised with default station")
	return nil
}

// AddStation fetches ref, appends it to the selection and persists it.
// Adding a station that is already selected does nothing and returns false.
func (a *App) AddStation(ctx context.Context, ref station.Reference) (bool, error) {
	if err := ref.Validate(); err != nil {
		return false, err
	}

	a.mu.Lock()
	if slices.ContainsFunc(a.selected, func(r station.Reference) bool { return r.Key == ref.Key }) {
		a.mu.Unlock()
		return false, nil
	}
	a.selected = append(a.selected, ref)
	a.mu.Unlock()

	if err := a.fetcher.Fetch(ctx, ref); err != nil {
		a.logger.Warn().Err(err).Str("station", ref.Key).Msg("schedule fetch failed, showing fallback")
	}

	if _, err := a.repo.Add(ctx, ref); err != nil {
		a.logger.Error().Err(err).Str("station", ref.Key).Msg("could not persist station")
		return true, err
	}

	a.logger.Info().Str("station", ref.Key).Msg("station added")
	return true, nil
}

// Refresh fetches every selected station and every other visible card again.
// Fetch failures have already been shown as fallback cards; they are
// returned joined for logging.
func (a *App) Refresh(ctx context.Context) error {
	_, err := a.RefreshStations(ctx)
	return err
}

// RefreshStations is Refresh reporting how many stations were fetched.
func (a *App) RefreshStations(ctx context.Context) (int, error) {
	refs := a.refreshTargets()
	return len(refs), a.fetchAll(ctx, refs)
}

// refreshTargets lists the selected stations, with their stored labels,
// followed by visible cards outside the selection. A selected station whose
// first fetch failed has no card of its own yet and is retried here.
func (a *App) refreshTargets() []station.Reference {
	refs := a.Stations()
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		seen[ref.Key] = true
	}
	for _, ref := range a.board.References() {
		if !seen[ref.Key] {
			seen[ref.Key] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

// Stations returns a snapshot of the selected stations.
func (a *App) Stations() []station.Reference {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.selected)
}

func (a *App) setSelected(refs []station.Reference) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selected = slices.Clone(refs)
}

func (a *App) fetchAll(ctx context.Context, refs []station.Reference) error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(a.concurrency)

	for _, ref := range refs {
		g.Go(func() error {
			if err := a.fetcher.Fetch(ctx, ref); err != nil {
				a.logger.Warn().Err(err).Str("station", ref.Key).Msg("schedule fetch failed, showing fallback")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
