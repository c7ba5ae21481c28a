// Package main runs the stationboard HTTP API: the board, station and shell
// endpoints plus the offline proxies.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stationboard/stationboard/internal/api"
	"github.com/stationboard/stationboard/internal/api/middleware"
	"github.com/stationboard/stationboard/internal/bootstrap"
	"github.com/stationboard/stationboard/internal/config"
	"github.com/stationboard/stationboard/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const (
	serviceName  = "stationboard-api"
	drainTimeout = 30 * time.Second
)

func main() {
	log := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	if err := run(log); err != nil {
		log.Error().Err(err).Msg("api exited")
		os.Exit(1)
	}
}

func run(log zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log = log.Level(cfg.Level())
	log.Info().Str("build_time", BuildTime).Str("env", cfg.Env).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		Enabled:        cfg.Telemetry.Enabled,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry flush failed")
		}
	}()

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		return fmt.Errorf("registering http metrics: %w", err)
	}

	stack, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:     log,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}
	defer func() {
		if err := stack.Close(); err != nil {
			log.Warn().Err(err).Msg("closing station store")
		}
	}()
	log.Info().
		Str("storage", cfg.Storage.Backend).
		Str("shell_cache", cfg.Shell.Backend).
		Str("upstream", cfg.Upstream.BaseURL).
		Bool("telemetry", cfg.Telemetry.Enabled).
		Msg("application wired")

	// A failed first fetch still leaves fallback cards on the board.
	if err := stack.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("board started degraded")
	}

	server := &http.Server{
		Addr: ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler: api.NewRouter(api.RouterConfig{
			Version:            Version,
			BuildTime:          BuildTime,
			Logger:             log,
			ServiceName:        serviceName,
			Metrics:            httpMetrics,
			App:                stack.App,
			Catalog:            stack.Catalog,
			FeatureFlagService: stack.Flags,
			Shell:              stack.Shell,
			ScheduleURL:        stack.Upstream.ScheduleURL,
			Registry:           stack.Providers,
			Checks:             stack.Checks(),
			MetricsHandler:     promhttp.Handler(),
			RateLimit:          cfg.HTTP.RateLimit,
			RequireTLS:         cfg.HTTP.RequireTLS,
		}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("draining connections")
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return server.Shutdown(drainCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}
