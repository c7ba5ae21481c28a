// Package bootstrap wires configuration into the running application: the
// station store, the feature flags, the shell cache manager, the upstream
// client and the board. Every command builds the same stack.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/stationboard/stationboard/internal/api/handler"
	"github.com/stationboard/stationboard/internal/app"
	"github.com/stationboard/stationboard/internal/card"
	"github.com/stationboard/stationboard/internal/config"
	"github.com/stationboard/stationboard/internal/database"
	"github.com/stationboard/stationboard/internal/featureflags"
	"github.com/stationboard/stationboard/internal/kvstore"
	"github.com/stationboard/stationboard/internal/provider/resilience"
	"github.com/stationboard/stationboard/internal/schedule"
	"github.com/stationboard/stationboard/internal/schedule/ratp"
	"github.com/stationboard/stationboard/internal/shellcache"
	"github.com/stationboard/stationboard/internal/station"
	"github.com/stationboard/stationboard/internal/telemetry"
)

// Options holds process-specific collaborators.
type Options struct {
	Logger zerolog.Logger

	// Registerer receives the shell cache metrics. Optional.
	Registerer prometheus.Registerer
}

// Stack is the wired application.
type Stack struct {
	Config    *config.Config
	Store     kvstore.Store
	Pool      *pgxpool.Pool
	Flags     *featureflags.Service
	Providers *resilience.Registry
	Shell     *shellcache.Manager
	Upstream  *ratp.Client
	Board     *card.Board
	Fetcher   *schedule.Fetcher
	App       *app.App
	Catalog   *station.Catalog

	shellDB *shellcache.BoltStorage
	logger  zerolog.Logger
}

var (
	_ schedule.Provider      = (*ratp.Client)(nil)
	_ schedule.ResponseCache = (*shellcache.Manager)(nil)
	_ schedule.Presenter     = (*card.Board)(nil)
	_ schedule.FlagSource    = (*featureflags.Service)(nil)
	_ handler.SearchFlags    = (*featureflags.Service)(nil)
	_ app.Fetcher            = (*schedule.Fetcher)(nil)
)

// New builds the stack described by cfg. Nothing is fetched until Start.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Stack, error) {
	s := &Stack{
		Config:    cfg,
		Providers: resilience.NewRegistry(),
		Catalog:   station.DefaultCatalog(),
		logger:    opts.Logger,
	}

	if cfg.Storage.Backend == "postgres" || cfg.Flags.Backend == "postgres" {
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		s.Pool = pool
	}

	store, err := s.openStore(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Store = store

	flagRepo, err := s.flagRepository(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Flags = featureflags.NewService(featureflags.ServiceConfig{
		Repository: flagRepo,
		Logger:     opts.Logger,
		CacheTTL:   cfg.Flags.CacheTTL,
	})

	if err := s.buildShell(opts); err != nil {
		s.Close()
		return nil, err
	}

	providerMetrics, err := telemetry.NewProviderMetrics(nil)
	if err != nil {
		opts.Logger.Warn().Err(err).Msg("provider metrics unavailable")
	}

	s.Board = card.NewBoard()
	s.Fetcher = schedule.NewFetcher(schedule.FetcherConfig{
		Provider:  s.Upstream,
		Cache:     s.Shell,
		Presenter: s.Board,
		Flags:     s.Flags,
		Metrics:   providerMetrics,
		Logger:    opts.Logger,
	})

	s.App = app.New(app.Config{
		Repository:       station.NewRepository(s.Store),
		Fetcher:          s.Fetcher,
		Board:            s.Board,
		FetchConcurrency: cfg.Worker.Concurrency,
		Logger:           opts.Logger,
	})

	return s, nil
}

// Start activates the shell cache and restores the board, so the initial
// fetches are written through. The shell assets are installed first when
// auto install and an origin are configured; a failed install leaves the
// manager passing requests through.
func (s *Stack) Start(ctx context.Context) error {
	if s.Config.Shell.AutoInstall && s.Shell.OriginURL() != "" {
		if err := s.Shell.Install(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("shell install failed, serving without cache")
			return s.App.Init(ctx)
		}
	}

	if purged, err := s.Shell.Activate(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("shell activation failed")
	} else {
		s.logger.Info().Strs("purged", purged).Msg("shell cache activated")
	}

	return s.App.Init(ctx)
}

// Checks returns readiness checks for the stack's subsystems.
func (s *Stack) Checks() []handler.Check {
	checks := []handler.Check{
		{Name: "kvstore", Check: func(ctx context.Context) error {
			_, err := s.Store.Keys(ctx)
			return err
		}},
		{Name: "shellcache", Check: func(context.Context) error {
			_, err := s.Shell.Storage().Keys()
			return err
		}},
	}
	if s.Pool != nil {
		checks = append(checks, handler.Check{Name: "database", Check: s.Pool.Ping})
	}
	return checks
}

// Close releases the stores and the database pool.
func (s *Stack) Close() error {
	var errs []error
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	if s.shellDB != nil {
		errs = append(errs, s.shellDB.Close())
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
	return errors.Join(errs...)
}

func (s *Stack) openStore(ctx context.Context) (kvstore.Store, error) {
	switch s.Config.Storage.Backend {
	case "memory":
		return kvstore.NewMemoryStore(), nil
	case "bolt":
		store, err := kvstore.OpenBolt(s.Config.Storage.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("opening station store: %w", err)
		}
		return store, nil
	case "postgres":
		store := kvstore.NewPostgresStore(s.Pool, s.Config.Storage.Namespace)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("preparing station store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.Config.Storage.Backend)
	}
}

func (s *Stack) flagRepository(ctx context.Context) (featureflags.Repository, error) {
	if s.Config.Flags.Backend != "postgres" {
		return featureflags.NewInMemoryRepository(), nil
	}
	repo := featureflags.NewPostgresRepository(s.Pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("preparing feature flags: %w", err)
	}
	return repo, nil
}

func (s *Stack) buildShell(opts Options) error {
	cfg := s.Config

	upstreamCfg := resilience.DefaultClientConfig(ratp.ProviderName)
	if cfg.Upstream.Hardened {
		upstreamCfg = resilience.HardenedClientConfig(ratp.ProviderName)
		if cfg.Upstream.MaxRetries > 0 {
			upstreamCfg.MaxRetries = cfg.Upstream.MaxRetries
		}
	}
	upstreamCfg.Timeout = cfg.Upstream.Timeout
	upstreamCfg.Registry = s.Providers
	upstreamCfg.Logger = s.logger
	network := resilience.NewClient(upstreamCfg)

	var storage shellcache.Storage
	switch cfg.Shell.Backend {
	case "bolt":
		db, err := shellcache.OpenBoltStorage(cfg.Shell.BoltPath)
		if err != nil {
			return fmt.Errorf("opening shell cache: %w", err)
		}
		s.shellDB = db
		storage = db
	case "freecache":
		fc, err := shellcache.NewFreecacheStorage(cfg.Shell.CacheSizeMB << 20)
		if err != nil {
			return fmt.Errorf("creating shell cache: %w", err)
		}
		storage = fc
	default:
		storage = shellcache.NewMemoryStorage()
	}

	var metrics *shellcache.Metrics
	if opts.Registerer != nil {
		metrics = shellcache.NewMetrics(opts.Registerer, storage)
	}

	manifest, err := s.manifest()
	if err != nil {
		return err
	}

	s.Shell = shellcache.NewManager(shellcache.ManagerConfig{
		Storage:   storage,
		Manifest:  manifest,
		OriginURL: cfg.Shell.OriginURL,
		Network:   network,
		Metrics:   metrics,
		Logger:    opts.Logger,
	})

	// Schedule requests pass through the manager so responses are written
	// through to the data cache once it controls.
	s.Upstream = ratp.NewClient(ratp.ClientConfig{
		BaseURL:    cfg.Upstream.BaseURL,
		HTTPClient: &http.Client{Transport: s.Shell},
		Logger:     opts.Logger,
	})
	return nil
}

// manifest loads the configured manifest, or the built-in one pointed at
// the configured upstream.
func (s *Stack) manifest() (shellcache.Manifest, error) {
	if path := s.Config.Shell.ManifestPath; path != "" {
		m, err := shellcache.LoadManifest(path)
		if err != nil {
			return shellcache.Manifest{}, fmt.Errorf("loading shell manifest: %w", err)
		}
		return m, nil
	}

	m := shellcache.DefaultManifest()
	m.DataPrefix = strings.TrimRight(s.Config.Upstream.BaseURL, "/") + "/schedules"
	if err := m.Validate(); err != nil {
		return shellcache.Manifest{}, errors.Join(errors.New("upstream base URL unusable as data prefix"), err)
	}
	return m, nil
}
