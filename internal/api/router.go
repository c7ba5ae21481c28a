// Package api provides the HTTP API for stationboard.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/stationboard/stationboard/internal/api/handler"
	"github.com/stationboard/stationboard/internal/api/middleware"
	"github.com/stationboard/stationboard/internal/app"
	"github.com/stationboard/stationboard/internal/featureflags"
	"github.com/stationboard/stationboard/internal/provider/resilience"
	"github.com/stationboard/stationboard/internal/shellcache"
	"github.com/stationboard/stationboard/internal/station"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	App                *app.App
	Catalog            *station.Catalog
	FeatureFlagService *featureflags.Service
	Shell              *shellcache.Manager
	ScheduleURL        func(key string) string
	Registry           *resilience.Registry
	Checks             []handler.Check

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler

	// RateLimit is the per-IP request budget per minute for standard endpoints.
	RateLimit  int
	RequireTLS bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "stationboard-api"
	}

	catalog := cfg.Catalog
	if catalog == nil {
		catalog = station.DefaultCatalog()
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Registry, cfg.Checks...)

	refreshRateLimit := middleware.RateLimitByIP(middleware.RefreshRateLimit)
	expensiveRateLimit := middleware.RateLimitByIP(middleware.ExpensiveRateLimit)
	standardRateLimit := middleware.RateLimitByIP(middleware.PerMinute(cfg.RateLimit))

	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		if cfg.App != nil {
			var flags handler.SearchFlags
			if cfg.FeatureFlagService != nil {
				flags = cfg.FeatureFlagService
			}
			boardHandler := handler.NewBoardHandler(cfg.App.Board(), cfg.App, cfg.Logger)
			stationsHandler := handler.NewStationsHandler(cfg.App, catalog, flags, cfg.Logger)

			r.Route("/board", func(r chi.Router) {
				r.Use(standardRateLimit)
				r.Get("/", boardHandler.GetBoard)
				r.Get("/cards/*", boardHandler.GetCard)
				r.With(refreshRateLimit).Post("/refresh", boardHandler.RefreshBoard)
			})

			r.Route("/stations", func(r chi.Router) {
				r.Use(standardRateLimit)
				r.Get("/", stationsHandler.ListStations)
				r.With(middleware.RequireJSON).Post("/", stationsHandler.AddStation)
				r.Get("/catalog", stationsHandler.SearchCatalog)
			})
		}

		if cfg.Shell != nil {
			shellHandler := handler.NewShellHandler(cfg.Shell, cfg.ScheduleURL, cfg.Logger)
			r.Route("/shell", func(r chi.Router) {
				r.Use(refreshRateLimit)
				r.Get("/caches", shellHandler.Status)
				r.Post("/install", shellHandler.Install)
				r.Post("/activate", shellHandler.Activate)
			})
		}

		if cfg.FeatureFlagService != nil {
			featureFlagsHandler := handler.NewFeatureFlagsHandler(cfg.FeatureFlagService, cfg.Logger)
			r.Route("/admin", func(r chi.Router) {
				r.Use(standardRateLimit)
				r.Route("/feature-flags", func(r chi.Router) {
					r.Get("/", featureFlagsHandler.ListFeatureFlags)
					r.With(middleware.RequireJSON).Put("/", featureFlagsHandler.UpsertFeatureFlags)
					r.Post("/invalidate", featureFlagsHandler.InvalidateCache)
				})
			})
		}
	})

	// Offline proxies routed through the shell cache manager
	if cfg.Shell != nil {
		shellHandler := handler.NewShellHandler(cfg.Shell, cfg.ScheduleURL, cfg.Logger)
		r.With(standardRateLimit).Get("/shell/*", shellHandler.ServeAsset)
		if cfg.ScheduleURL != nil {
			r.With(expensiveRateLimit).Get("/v3/schedules/*", shellHandler.ServeSchedule)
		}
	}

	return r
}
