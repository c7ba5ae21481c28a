package shellcache_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stationboard/stationboard/internal/shellcache"
)

type origin struct {
	server   *httptest.Server
	failPath string
	apiCalls atomic.Int32
	down     atomic.Bool
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{}
	o.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if o.down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.URL.Path == o.failPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/v3/schedules/") {
			o.apiCalls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"result":{"schedules":[{"message":"2 mn"}]}}`)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "asset "+r.URL.Path)
	}))
	t.Cleanup(o.server.Close)
	return o
}

func (o *origin) manifest() shellcache.Manifest {
	m := shellcache.DefaultManifest()
	m.DataPrefix = o.server.URL + "/v3/schedules"
	return m
}

func newManager(o *origin, storage shellcache.Storage) *shellcache.Manager {
	return shellcache.NewManager(shellcache.ManagerConfig{
		Storage:   storage,
		Manifest:  o.manifest(),
		OriginURL: o.server.URL,
		Network:   o.server.Client(),
		Logger:    zerolog.Nop(),
	})
}

func get(t *testing.T, rt http.RoundTripper, url string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	require.NoError(t, err)

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestManager_Install(t *testing.T) {
	o := newOrigin(t)
	storage := shellcache.NewMemoryStorage()
	m := newManager(o, storage)

	require.NoError(t, m.Install(context.Background()))

	cache, err := storage.Open(shellcache.DefaultVersion)
	require.NoError(t, err)
	keys, err := cache.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, len(shellcache.DefaultManifest().Assets))

	r, ok, err := cache.Match(o.server.URL + "/scripts/app.js")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "asset /scripts/app.js", string(r.Body))
}

func TestManager_InstallIsAllOrNothing(t *testing.T) {
	o := newOrigin(t)
	o.failPath = "/styles/inline.css"
	storage := shellcache.NewMemoryStorage()
	m := newManager(o, storage)

	err := m.Install(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, shellcache.ErrInstallFailed)

	ok, err := storage.Has(shellcache.DefaultVersion)
	require.NoError(t, err)
	assert.False(t, ok, "no cache is created when an asset fails")
}

func TestManager_ActivateDeletesOnlyStaleCaches(t *testing.T) {
	o := newOrigin(t)
	storage := shellcache.NewMemoryStorage()
	for _, name := range []string{"v1", shellcache.DefaultVersion, shellcache.DefaultDataCache} {
		_, err := storage.Open(name)
		require.NoError(t, err)
	}
	m := newManager(o, storage)
	assert.False(t, m.Controlling())

	purged, err := m.Activate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"v1"}, purged)
	names, err := storage.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{shellcache.DefaultVersion, shellcache.DefaultDataCache}, names)
	assert.True(t, m.Controlling())
}

func TestManager_FetchShellFromCache(t *testing.T) {
	o := newOrigin(t)
	m := newManager(o, shellcache.NewMemoryStorage())

	require.NoError(t, m.Install(context.Background()))
	_, err := m.Activate(context.Background())
	require.NoError(t, err)

	o.down.Store(true)

	resp, body := get(t, m, o.server.URL+"/index.html")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "asset /index.html", body)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
}

func TestManager_FetchMissGoesToNetwork(t *testing.T) {
	o := newOrigin(t)
	m := newManager(o, shellcache.NewMemoryStorage())
	_, err := m.Activate(context.Background())
	require.NoError(t, err)

	_, body := get(t, m, o.server.URL+"/favicon.ico")
	assert.Equal(t, "asset /favicon.ico", body)
}

func TestManager_FailedMissFails(t *testing.T) {
	o := newOrigin(t)
	m := newManager(o, shellcache.NewMemoryStorage())
	_, err := m.Activate(context.Background())
	require.NoError(t, err)

	url := o.server.URL
	o.server.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url+"/index.html", http.NoBody)
	require.NoError(t, err)

	_, err = m.Fetch(req)
	assert.Error(t, err)
}

func TestManager_APIFetchWritesThrough(t *testing.T) {
	o := newOrigin(t)
	storage := shellcache.NewMemoryStorage()
	m := newManager(o, storage)
	_, err := m.Activate(context.Background())
	require.NoError(t, err)

	url := o.server.URL + "/v3/schedules/metros/1/bastille/A"
	resp, body := get(t, m, url)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "2 mn")

	data, err := storage.Open(shellcache.DefaultDataCache)
	require.NoError(t, err)
	keys, err := data.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{url}, keys, "stored under the exact request URL")

	cached, ok, err := m.MatchBody(context.Background(), url)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, body, string(cached))

	// API requests always go to the network, even with a cached copy.
	get(t, m, url)
	assert.Equal(t, int32(2), o.apiCalls.Load())
}

func TestManager_APIFailureIsNotCached(t *testing.T) {
	o := newOrigin(t)
	storage := shellcache.NewMemoryStorage()
	m := newManager(o, storage)
	_, err := m.Activate(context.Background())
	require.NoError(t, err)

	o.down.Store(true)
	resp, _ := get(t, m, o.server.URL+"/v3/schedules/metros/1/bastille/A")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ok, err := storage.Has(shellcache.DefaultDataCache)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_PassthroughBeforeActivate(t *testing.T) {
	o := newOrigin(t)
	storage := shellcache.NewMemoryStorage()
	m := newManager(o, storage)

	get(t, m, o.server.URL+"/v3/schedules/metros/1/bastille/A")

	ok, err := storage.Has(shellcache.DefaultDataCache)
	require.NoError(t, err)
	assert.False(t, ok, "nothing is intercepted before activation")
}

func TestManager_AsHTTPClientTransport(t *testing.T) {
	o := newOrigin(t)
	m := newManager(o, shellcache.NewMemoryStorage())
	require.NoError(t, m.Install(context.Background()))
	_, err := m.Activate(context.Background())
	require.NoError(t, err)

	client := &http.Client{Transport: m}
	o.down.Store(true)

	resp, err := client.Get(o.server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	o := newOrigin(t)
	storage := shellcache.NewMemoryStorage()
	reg := prometheus.NewRegistry()
	metrics := shellcache.NewMetrics(reg, storage)

	m := shellcache.NewManager(shellcache.ManagerConfig{
		Storage:   storage,
		Manifest:  o.manifest(),
		OriginURL: o.server.URL,
		Network:   o.server.Client(),
		Metrics:   metrics,
		Logger:    zerolog.Nop(),
	})

	require.NoError(t, m.Install(context.Background()))
	_, err := m.Activate(context.Background())
	require.NoError(t, err)
	get(t, m, o.server.URL+"/index.html")

	count, err := testutil.GatherAndCount(reg,
		"stationboard_shell_installs_total",
		"stationboard_shell_activations_total",
		"stationboard_shell_fetches_total",
		"stationboard_shell_cache_entries",
	)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	expected := `
# HELP stationboard_shell_cache_entries Number of entries per named cache
# TYPE stationboard_shell_cache_entries gauge
stationboard_shell_cache_entries{cache="stationPWA-pruebas-1-1"} 6
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "stationboard_shell_cache_entries"))
}
