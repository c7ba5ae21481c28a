package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationboard/stationboard/internal/api"
	"github.com/stationboard/stationboard/internal/api/handler"
	"github.com/stationboard/stationboard/internal/api/models"
	"github.com/stationboard/stationboard/internal/app"
	"github.com/stationboard/stationboard/internal/card"
	"github.com/stationboard/stationboard/internal/featureflags"
	"github.com/stationboard/stationboard/internal/kvstore"
	"github.com/stationboard/stationboard/internal/provider/resilience"
	"github.com/stationboard/stationboard/internal/schedule"
	"github.com/stationboard/stationboard/internal/schedule/ratp"
	"github.com/stationboard/stationboard/internal/shellcache"
	"github.com/stationboard/stationboard/internal/station"
)

const bastillePayload = `{
	"result": {"schedules": [
		{"message": "3 mn", "destination": "La Defense"},
		{"message": "7 mn", "destination": "La Defense"},
		{"message": "11 mn", "destination": "La Defense"},
		{"message": "15 mn", "destination": "La Defense"},
		{"message": "19 mn", "destination": "La Defense"}
	]},
	"_metadata": {"call": "GET /schedules/metros/1/bastille/A", "date": "2024-03-01T10:00:00+01:00"}
}`

const chateletPayload = `{
	"result": {"schedules": [{"message": "A l'approche"}, {"message": "4 mn"}]},
	"_metadata": {"call": "GET /schedules/metros/1/chateletleshalles/A", "date": "2024-03-01T10:01:00+01:00"}
}`

var chatelet = station.Reference{Key: "metros/1/chateletleshalles/A", Label: "Châtelet, Direction La Défense"}

type fixture struct {
	upstream *httptest.Server
	router   http.Handler
	app      *app.App
	shell    *shellcache.Manager
}

// newFixture wires the full stack against a fake upstream serving both the
// shell assets and the schedule API.
func newFixture(t *testing.T, checks ...handler.Check) *fixture {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v3/schedules/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch strings.TrimPrefix(r.URL.Path, "/v3/schedules/") {
		case station.DefaultKey:
			_, _ = io.WriteString(w, bastillePayload)
		case chatelet.Key:
			_, _ = io.WriteString(w, chateletPayload)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>shell "+r.URL.Path+"</html>")
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	logger := zerolog.Nop()
	storage := shellcache.NewMemoryStorage()
	registry := prometheus.NewRegistry()

	manifest := shellcache.DefaultManifest()
	manifest.DataPrefix = upstream.URL + "/v3/schedules"
	shell := shellcache.NewManager(shellcache.ManagerConfig{
		Storage:   storage,
		Manifest:  manifest,
		OriginURL: upstream.URL,
		Network:   upstream.Client(),
		Metrics:   shellcache.NewMetrics(registry, storage),
		Logger:    logger,
	})

	client := ratp.NewClient(ratp.ClientConfig{
		BaseURL:    upstream.URL + "/v3",
		HTTPClient: &http.Client{Transport: shell},
		Logger:     logger,
	})

	flags := featureflags.NewService(featureflags.ServiceConfig{
		Repository: featureflags.NewInMemoryRepository(),
		Logger:     logger,
	})

	board := card.NewBoard()
	fetcher := schedule.NewFetcher(schedule.FetcherConfig{
		Provider:  client,
		Cache:     shell,
		Presenter: board,
		Flags:     flags,
		Logger:    logger,
	})

	a := app.New(app.Config{
		Repository: station.NewRepository(kvstore.NewMemoryStore()),
		Fetcher:    fetcher,
		Board:      board,
		Logger:     logger,
	})
	require.NoError(t, a.Init(context.Background()))

	providers := resilience.NewRegistry()
	upstreamCfg := resilience.DefaultClientConfig(ratp.ProviderName)
	upstreamCfg.Registry = providers
	resilience.NewClient(upstreamCfg)

	router := api.NewRouter(api.RouterConfig{
		Version:            "test",
		BuildTime:          "2024-01-01T00:00:00Z",
		Logger:             zerolog.New(io.Discard),
		App:                a,
		FeatureFlagService: flags,
		Shell:              shell,
		ScheduleURL:        client.ScheduleURL,
		Registry:           providers,
		Checks:             checks,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	return &fixture{upstream: upstream, router: router, app: a, shell: shell}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestRouter_HealthCheck(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/ops/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	health := decode[models.Health](t, w)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	f := newFixture(t, handler.Check{Name: "kvstore", Check: func(context.Context) error { return nil }})

	w := f.do(t, http.MethodGet, "/v1/ops/ready", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.HealthStatusOK, decode[models.Health](t, w).Status)
}

func TestRouter_ReadinessCheck_FailingSubsystem(t *testing.T) {
	f := newFixture(t, handler.Check{Name: "kvstore", Check: func(context.Context) error {
		return errors.New("bolt: database not open")
	}})

	w := f.do(t, http.MethodGet, "/v1/ops/ready", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestRouter_SystemStatus(t *testing.T) {
	f := newFixture(t, handler.Check{Name: "kvstore", Check: func(context.Context) error { return nil }})

	w := f.do(t, http.MethodGet, "/v1/ops/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	status := decode[models.SystemStatus](t, w)
	assert.Equal(t, models.HealthStatusOK, status.Status)
	require.Len(t, status.Subsystems, 1)
	assert.Equal(t, "kvstore", status.Subsystems[0].Name)
	require.Len(t, status.Providers, 1)
	assert.Equal(t, ratp.ProviderName, status.Providers[0].Provider)
	assert.Equal(t, "closed", status.Providers[0].CircuitState)
}

func TestRouter_GetBoard_ShowsDefaultOnFirstRun(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/board", nil)
	require.Equal(t, http.StatusOK, w.Code)

	board := decode[models.Board](t, w)
	assert.False(t, board.Loading)
	require.Len(t, board.Cards, 1)

	c := board.Cards[0]
	assert.Equal(t, station.DefaultKey, c.Key)
	assert.Equal(t, "Bastille", c.Title)
	assert.Equal(t, "Direction La Défense", c.Subtitle)
	assert.Equal(t, []string{"0 mn", "2 mn", "5 mn", ""}, c.Slots)
	require.NotNil(t, c.LastUpdated)
}

func TestRouter_RefreshBoard(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/board/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)

	board := decode[models.Board](t, w)
	require.Len(t, board.Cards, 1)
	assert.Equal(t, []string{"3 mn", "7 mn", "11 mn", "15 mn"}, board.Cards[0].Slots)
	require.NotNil(t, board.Cards[0].LastUpdated)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), time.Time(*board.Cards[0].LastUpdated).UTC())
}

func TestRouter_GetCard(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/board/cards/"+station.DefaultKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, station.DefaultKey, decode[models.Card](t, w).Key)

	w = f.do(t, http.MethodGet, "/v1/board/cards/metros/4/odeon/R", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_AddStation(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/stations", models.AddStationRequest{Key: chatelet.Key, Label: chatelet.Label})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/v1/board/cards/"+chatelet.Key, w.Header().Get("Location"))
	assert.True(t, decode[models.AddStationResponse](t, w).Added)

	c, ok := f.app.Board().Card(chatelet.Key)
	require.True(t, ok)
	assert.Equal(t, "Châtelet", c.Title)
	assert.Equal(t, "A l'approche", c.Slots[0])
	assert.Equal(t, "4 mn", c.Slots[1])
	assert.Empty(t, c.Slots[2])

	w = f.do(t, http.MethodGet, "/v1/stations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []station.Reference{station.Default(), chatelet}, decode[models.StationList](t, w).Stations)
}

func TestRouter_AddStation_AlreadyTracked(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/stations", models.AddStationRequest{Key: station.DefaultKey, Label: station.DefaultLabel})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[models.AddStationResponse](t, w).Added)
	assert.Len(t, f.app.Stations(), 1)
}

func TestRouter_AddStation_UpstreamFailureShowsFallback(t *testing.T) {
	f := newFixture(t)
	odeon := models.AddStationRequest{Key: "metros/4/odeon/R", Label: "Odéon, Direction Porte de Clignancourt"}

	w := f.do(t, http.MethodPost, "/v1/stations", odeon)

	require.Equal(t, http.StatusCreated, w.Code)
	_, ok := f.app.Board().Card(odeon.Key)
	assert.False(t, ok, "fallback result describes the default station")
	assert.Len(t, f.app.Stations(), 2)
}

func TestRouter_AddStation_ValidationError(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/stations", map[string]string{"key": "metros/4/odeon/R"})

	require.Equal(t, http.StatusBadRequest, w.Code)
	problem := decode[models.Problem](t, w)
	require.Len(t, problem.Errors, 1)
	assert.Equal(t, "label", problem.Errors[0].Field)
	assert.Equal(t, "REQUIRED", problem.Errors[0].Code)
}

func TestRouter_AddStation_InvalidJSON(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/stations", strings.NewReader("{"))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_SearchCatalog(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/stations/catalog?q=gdl", nil)
	require.Equal(t, http.StatusOK, w.Code)
	fuzzy := decode[models.StationList](t, w).Stations
	require.NotEmpty(t, fuzzy)
	assert.True(t, strings.HasPrefix(fuzzy[0].Label, "Gare de Lyon"))

	// Switch to plain substring search
	off := false
	w = f.do(t, http.MethodPut, "/v1/admin/feature-flags", featureflags.FlagUpdateRequest{
		Updates: []featureflags.FlagUpdate{{Key: featureflags.FlagFuzzyCatalogSearch, Enabled: &off}},
		Reason:  "test",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/v1/stations/catalog?q=gdl", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[models.StationList](t, w).Stations)

	w = f.do(t, http.MethodGet, "/v1/stations/catalog?q=gare+de", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[models.StationList](t, w).Stations, 2)
}

func TestRouter_FeatureFlags(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/admin/feature-flags", nil)
	require.Equal(t, http.StatusOK, w.Code)

	list := decode[featureflags.FlagList](t, w)
	keys := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		keys = append(keys, item.Key)
	}
	assert.Equal(t, []string{
		featureflags.FlagDisableBackgroundRefresh,
		featureflags.FlagFallbackLastKnownGood,
		featureflags.FlagFuzzyCatalogSearch,
	}, keys)

	on := true
	w = f.do(t, http.MethodPut, "/v1/admin/feature-flags", featureflags.FlagUpdateRequest{
		Updates: []featureflags.FlagUpdate{{Key: featureflags.FlagFallbackLastKnownGood, Enabled: &on}},
		Reason:  "incident 42",
	})
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[featureflags.FlagList](t, w).Items
	require.Len(t, updated, 1)
	assert.True(t, updated[0].Enabled)
	assert.Equal(t, "incident 42", updated[0].Reason)

	w = f.do(t, http.MethodPut, "/v1/admin/feature-flags", featureflags.FlagUpdateRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/v1/admin/feature-flags", featureflags.FlagUpdateRequest{
		Updates: []featureflags.FlagUpdate{{Key: "dark_mode", Enabled: &on}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "UNKNOWN_FLAG")

	// Missing value is a validation error
	w = f.do(t, http.MethodPut, "/v1/admin/feature-flags", featureflags.FlagUpdateRequest{
		Updates: []featureflags.FlagUpdate{{Key: featureflags.FlagFuzzyCatalogSearch}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/v1/admin/feature-flags/invalidate", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRouter_ShellLifecycle(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/shell/caches", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[models.ShellStatus](t, w)
	assert.False(t, status.Controlling)
	assert.Equal(t, shellcache.DefaultVersion, status.Version)
	assert.Empty(t, status.Caches)

	w = f.do(t, http.MethodPost, "/v1/shell/install", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodPost, "/v1/shell/activate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[models.ActivateResponse](t, w).Purged)

	w = f.do(t, http.MethodGet, "/v1/shell/caches", nil)
	status = decode[models.ShellStatus](t, w)
	assert.True(t, status.Controlling)
	assert.Equal(t, []string{shellcache.DefaultVersion}, status.Caches)
}

func TestRouter_ShellAssetsServedOffline(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/v1/shell/install", nil).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/shell/activate", nil).Code)

	f.upstream.Close()

	w := f.do(t, http.MethodGet, "/shell/index.html", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<html>shell /index.html</html>", w.Body.String())
	assert.Equal(t, "text/html", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "'self'")

	w = f.do(t, http.MethodGet, "/shell/not-precached.js", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestRouter_ScheduleProxyWritesThrough(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/shell/activate", nil).Code)

	w := f.do(t, http.MethodGet, "/v3/schedules/"+station.DefaultKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, bastillePayload, w.Body.String())

	body, ok, err := f.shell.MatchBody(context.Background(), f.upstream.URL+"/v3/schedules/"+station.DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, bastillePayload, string(body))
}

func TestRouter_Metrics(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/v1/shell/install", nil).Code)

	w := f.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stationboard_shell_installs_total")
}

func TestRouter_RequestID_Generated(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/ops/health", nil)

	requestID := w.Header().Get("X-Request-Id")
	assert.NotEmpty(t, requestID)
	assert.Contains(t, requestID, "req_")
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "custom_request_id")
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, req)

	assert.Equal(t, "custom_request_id", w.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/nonexistent", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_OptionalSurfaces(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{Logger: zerolog.Nop()})

	for _, path := range []string{"/v1/board", "/v1/shell/caches", "/metrics", "/shell/index.html"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}
