package bootstrap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationboard/stationboard/internal/config"
	"github.com/stationboard/stationboard/internal/featureflags"
	"github.com/stationboard/stationboard/internal/schedule"
	"github.com/stationboard/stationboard/internal/shellcache"
	"github.com/stationboard/stationboard/internal/station"
)

const defaultPayload = `{
	"result": {"schedules": [
		{"message": "3 mn"}, {"message": "7 mn"}, {"message": "11 mn"}, {"message": "15 mn"}
	]},
	"_metadata": {"call": "GET /schedules/metros/1/bastille/A", "date": "2024-03-01T10:00:00+01:00"}
}`

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv, _ := newFlakyUpstream(t)
	return srv
}

// newFlakyUpstream serves the RATP API and the app shell; schedule requests
// answer 503 while down is set.
func newFlakyUpstream(t *testing.T) (*httptest.Server, *atomic.Bool) {
	t.Helper()

	down := &atomic.Bool{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/schedules/", func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, defaultPayload)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>"+r.URL.Path+"</html>")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, down
}

func testConfig(upstream string) *config.Config {
	return &config.Config{
		Env:      "test",
		LogLevel: "info",
		Storage:  config.StorageConfig{Backend: "memory", Namespace: "default"},
		Upstream: config.UpstreamConfig{BaseURL: upstream + "/v3", Timeout: 5 * time.Second},
		Shell:    config.ShellConfig{Backend: "memory", OriginURL: upstream},
		Flags:    config.FlagsConfig{Backend: "memory", CacheTTL: time.Minute},
		Worker:   config.WorkerConfig{Timeout: 5 * time.Second, Concurrency: 2},
	}
}

func TestNew_FirstRunShowsDefaultStation(t *testing.T) {
	upstream := newUpstream(t)
	ctx := context.Background()

	s, err := New(ctx, testConfig(upstream.URL), Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Start(ctx))

	assert.Equal(t, []station.Reference{station.Default()}, s.App.Stations())
	cards := s.Board.Cards()
	require.Len(t, cards, 1)
	assert.Equal(t, station.DefaultKey, cards[0].Key)
	assert.True(t, s.Shell.Controlling())

	require.NoError(t, s.App.Refresh(ctx))
	c, ok := s.Board.Card(station.DefaultKey)
	require.True(t, ok)
	assert.Equal(t, []string{"3 mn", "7 mn", "11 mn", "15 mn"}, c.Slots[:])
}

func TestStart_AutoInstallWritesSchedulesThrough(t *testing.T) {
	upstream := newUpstream(t)
	ctx := context.Background()

	cfg := testConfig(upstream.URL)
	cfg.Shell.AutoInstall = true
	reg := prometheus.NewRegistry()

	s, err := New(ctx, cfg, Options{Logger: zerolog.Nop(), Registerer: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Start(ctx))
	require.True(t, s.Shell.Controlling())

	require.NoError(t, s.App.Refresh(ctx))

	body, ok, err := s.Shell.MatchBody(ctx, s.Upstream.ScheduleURL(station.DefaultKey))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(body), "11 mn")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestStart_ActivatesWithoutShellOrigin(t *testing.T) {
	upstream := newUpstream(t)
	ctx := context.Background()

	cfg := testConfig(upstream.URL)
	cfg.Shell.OriginURL = ""

	s, err := New(ctx, cfg, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	stale, err := s.Shell.Storage().Open("stationPWA-old")
	require.NoError(t, err)
	require.NoError(t, stale.Put("/index.html", &shellcache.Response{URL: "/index.html", Status: http.StatusOK}))

	require.NoError(t, s.Start(ctx))
	require.True(t, s.Shell.Controlling())

	require.NoError(t, s.App.Refresh(ctx))

	body, ok, err := s.Shell.MatchBody(ctx, s.Upstream.ScheduleURL(station.DefaultKey))
	require.NoError(t, err)
	require.True(t, ok, "schedule response written through")
	assert.Contains(t, string(body), "11 mn")

	names, err := s.Shell.Storage().Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{s.Shell.Manifest().DataCache}, names)
}

func TestNew_BoltShellCacheSurvivesRestart(t *testing.T) {
	upstream := newUpstream(t)
	ctx := context.Background()

	cfg := testConfig(upstream.URL)
	cfg.Shell.Backend = "bolt"
	cfg.Shell.BoltPath = filepath.Join(t.TempDir(), "shell.db")

	first, err := New(ctx, cfg, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.App.Refresh(ctx))
	url := first.Upstream.ScheduleURL(station.DefaultKey)
	require.NoError(t, first.Close())

	second, err := New(ctx, cfg, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	body, ok, err := second.Shell.MatchBody(ctx, url)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(body), "15 mn")
}

func TestFallbackPolicyFlag(t *testing.T) {
	lastGood := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		enabled     bool
		wantUpdated time.Time
		wantSlots   []string
	}{
		{
			name:        "last known good",
			enabled:     true,
			wantUpdated: lastGood,
			wantSlots:   []string{"3 mn", "7 mn", "11 mn", "15 mn"},
		},
		{
			name:        "default placeholder",
			enabled:     false,
			wantUpdated: schedule.FallbackResult().Created,
			wantSlots:   []string{"0 mn", "2 mn", "5 mn", "15 mn"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream, down := newFlakyUpstream(t)
			ctx := context.Background()

			s, err := New(ctx, testConfig(upstream.URL), Options{Logger: zerolog.Nop()})
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			require.NoError(t, s.Start(ctx))
			require.NoError(t, s.App.Refresh(ctx))

			_, err = s.Flags.Apply(ctx, featureflags.FlagUpdateRequest{
				Updates: []featureflags.FlagUpdate{{Key: featureflags.FlagFallbackLastKnownGood, Enabled: &tt.enabled}},
				Reason:  "upstream maintenance",
			})
			require.NoError(t, err)

			down.Store(true)
			require.ErrorIs(t, s.App.Refresh(ctx), schedule.ErrNetworkFailure)

			c, ok := s.Board.Card(station.DefaultKey)
			require.True(t, ok)
			assert.True(t, tt.wantUpdated.Equal(c.LastUpdated), "last updated %s", c.LastUpdated)
			assert.Equal(t, tt.wantSlots, c.Slots[:])
		})
	}
}

func TestStart_AutoInstallFailureDegrades(t *testing.T) {
	upstream := newUpstream(t)
	ctx := context.Background()

	cfg := testConfig(upstream.URL)
	cfg.Shell.AutoInstall = true
	cfg.Shell.OriginURL = "http://127.0.0.1:1"

	s, err := New(ctx, cfg, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Start(ctx))
	assert.False(t, s.Shell.Controlling())
	assert.Len(t, s.Board.Cards(), 1)
}

func TestChecks(t *testing.T) {
	upstream := newUpstream(t)
	ctx := context.Background()

	s, err := New(ctx, testConfig(upstream.URL), Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	checks := s.Checks()
	names := make([]string, 0, len(checks))
	for _, c := range checks {
		names = append(names, c.Name)
		assert.NoError(t, c.Check(ctx), c.Name)
	}
	assert.Equal(t, []string{"kvstore", "shellcache"}, names)
}

func TestNew_BoltPersistsAcrossRestarts(t *testing.T) {
	upstream := newUpstream(t)
	ctx := context.Background()

	cfg := testConfig(upstream.URL)
	cfg.Storage.Backend = "bolt"
	cfg.Storage.BoltPath = filepath.Join(t.TempDir(), "stationboard.db")

	chatelet := station.Reference{Key: "metros/1/chateletleshalles/A", Label: "Châtelet, Direction La Défense"}

	first, err := New(ctx, cfg, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, first.Start(ctx))
	added, err := first.App.AddStation(ctx, chatelet)
	require.NoError(t, err)
	assert.True(t, added)
	require.NoError(t, first.Close())

	second, err := New(ctx, cfg, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	require.NoError(t, second.Start(ctx))

	assert.Equal(t, []station.Reference{station.Default(), chatelet}, second.App.Stations())
	assert.Len(t, second.Board.Cards(), 2)
}

func TestNew_ManifestFile(t *testing.T) {
	upstream := newUpstream(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "manifest.yaml")
	manifest := strings.Join([]string{
		"version: shell-v2",
		"data_cache: data-v2",
		"data_prefix: " + upstream.URL + "/v3/schedules",
		"assets:",
		"  - /",
		"  - /index.html",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o600))

	cfg := testConfig(upstream.URL)
	cfg.Shell.ManifestPath = path

	s, err := New(ctx, cfg, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, "shell-v2", s.Shell.Manifest().Version)
	assert.Equal(t, []string{"/", "/index.html"}, s.Shell.Manifest().Assets)
}

func TestNew_Errors(t *testing.T) {
	upstream := newUpstream(t)
	ctx := context.Background()

	tests := map[string]func(*config.Config){
		"unknown storage backend": func(c *config.Config) { c.Storage.Backend = "etcd" },
		"missing manifest":        func(c *config.Config) { c.Shell.ManifestPath = filepath.Join(t.TempDir(), "missing.yaml") },
		"unopenable bolt file":    func(c *config.Config) { c.Storage.Backend = "bolt"; c.Storage.BoltPath = t.TempDir() },
		"unopenable shell file":   func(c *config.Config) { c.Shell.Backend = "bolt"; c.Shell.BoltPath = t.TempDir() },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(upstream.URL)
			mutate(cfg)

			s, err := New(ctx, cfg, Options{Logger: zerolog.Nop()})
			assert.Error(t, err)
			assert.Nil(t, s)
		})
	}
}
