package shellcache

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Network executes requests that are not served from a cache. Satisfied by
// *http.Client and *resilience.Client.
type Network interface {
	Do(req *http.Request) (*http.Response, error)
}

// ManagerConfig holds configuration for the shell cache manager.
type ManagerConfig struct {
	// Storage holds the named caches.
	Storage Storage

	// Manifest lists the shell assets and cache names.
	Manifest Manifest

	// OriginURL is the base URL the shell assets are fetched from.
	OriginURL string

	// Network performs every non-cached request. It must not route back
	// through the manager.
	Network Network

	// Metrics records cache activity. Optional.
	Metrics *Metrics

	// Logger for cache operations.
	Logger zerolog.Logger
}

// Manager installs and activates versioned shell caches and serves requests
// from them. Before Activate it does not intercept anything.
type Manager struct {
	storage   Storage
	manifest  Manifest
	originURL string
	network   Network
	metrics   *Metrics
	logger    zerolog.Logger

	installMu   sync.Mutex
	controlling atomic.Bool
}

// NewManager creates a new shell cache manager.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		storage:   cfg.Storage,
		manifest:  cfg.Manifest,
		originURL: strings.TrimRight(cfg.OriginURL, "/"),
		network:   cfg.Network,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Manifest returns the manifest the manager was created with.
func (m *Manager) Manifest() Manifest {
	return m.manifest
}

// Storage returns the underlying storage.
func (m *Manager) Storage() Storage {
	return m.storage
}

// Controlling reports whether Activate has completed.
func (m *Manager) Controlling() bool {
	return m.controlling.Load()
}

// OriginURL returns the base URL shell assets are fetched from.
func (m *Manager) OriginURL() string {
	return m.originURL
}

// AssetURL returns the absolute URL of a shell asset path.
func (m *Manager) AssetURL(path string) string {
	return m.originURL + path
}

// Install fetches every manifest asset and stores them in the cache named by
// the manifest version. Nothing is written unless every asset was fetched
// with a 2xx status.
func (m *Manager) Install(ctx context.Context) (err error) {
	m.installMu.Lock()
	defer m.installMu.Unlock()
	defer func() { m.metrics.recordInstall(err) }()

	log := m.logger.With().Str("cache", m.manifest.Version).Logger()
	log.Info().Int("assets", len(m.manifest.Assets)).Msg("caching app shell")

	entries := make(map[string]*Response, len(m.manifest.Assets))
	for _, path := range m.manifest.Assets {
		url := m.AssetURL(path)
		resp, err := m.fetchAsset(ctx, url)
		if err != nil {
			log.Error().Err(err).Str("url", url).Msg("app shell install aborted")
			return fmt.Errorf("%w: %s: %w", ErrInstallFailed, path, err)
		}
		entries[url] = resp
	}

	existed, err := m.storage.Has(m.manifest.Version)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	cache, err := m.storage.Open(m.manifest.Version)
	if err != nil {
		return fmt.Errorf("%w: opening cache: %w", ErrInstallFailed, err)
	}

	if err := cache.PutAll(entries); err != nil {
		if !existed {
			if _, delErr := m.storage.Delete(m.manifest.Version); delErr != nil {
				log.Warn().Err(delErr).Msg("failed to remove partial cache")
			}
		}
		return fmt.Errorf("%w: writing cache: %w", ErrInstallFailed, err)
	}

	log.Info().Msg("app shell cached")
	return nil
}

func (m *Manager) fetchAsset(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := m.network.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return NewResponse(url, resp)
}

// Activate deletes every cache other than the current version and the data
// cache, then starts intercepting requests. It returns the deleted names.
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	names, err := m.storage.Keys()
	if err != nil {
		return nil, fmt.Errorf("listing caches: %w", err)
	}

	var purged []string
	for _, name := range names {
		if name == m.manifest.Version || name == m.manifest.DataCache {
			continue
		}
		if err := ctx.Err(); err != nil {
			return purged, err
		}

		m.logger.Info().Str("cache", name).Msg("removing old cache")
		ok, err := m.storage.Delete(name)
		if err != nil {
			return purged, fmt.Errorf("deleting cache %s: %w", name, err)
		}
		if ok {
			purged = append(purged, name)
		}
	}

	m.controlling.Store(true)
	m.metrics.recordActivation(len(purged))
	return purged, nil
}

// Fetch serves req. Schedule API requests always go to the network and
// successful responses are written to the data cache under the full URL.
// Other requests are answered from the caches, falling back to the network
// on a miss. A failed miss is returned as an error.
func (m *Manager) Fetch(req *http.Request) (*http.Response, error) {
	if !m.controlling.Load() {
		m.metrics.recordFetch(SourcePassthrough)
		return m.network.Do(req)
	}

	url := req.URL.String()

	if m.manifest.IsData(url) {
		return m.writeThrough(req, url)
	}

	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		cached, ok, err := m.storage.Match(url)
		if err != nil {
			m.logger.Warn().Err(err).Str("url", url).Msg("cache lookup failed")
		}
		if ok {
			m.metrics.recordFetch(SourceCache)
			return cached.HTTPResponse(req), nil
		}
	}

	m.metrics.recordFetch(SourceNetwork)
	return m.network.Do(req)
}

func (m *Manager) writeThrough(req *http.Request, url string) (*http.Response, error) {
	resp, err := m.network.Do(req)
	if err != nil {
		return nil, err
	}
	if req.Method != http.MethodGet || resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.metrics.recordFetch(SourceNetwork)
		return resp, nil
	}

	stored, err := NewResponse(url, resp)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	cache, err := m.storage.Open(m.manifest.DataCache)
	if err == nil {
		err = cache.Put(url, stored)
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("url", url).Msg("failed to store schedule response")
	}

	m.metrics.recordFetch(SourceWriteThrough)
	return stored.HTTPResponse(req), nil
}

// RoundTrip implements http.RoundTripper.
func (m *Manager) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.Fetch(req)
}

// MatchBody returns the body stored for url in any cache.
func (m *Manager) MatchBody(_ context.Context, url string) ([]byte, bool, error) {
	r, ok, err := m.storage.Match(url)
	if err != nil || !ok {
		return nil, false, err
	}
	return r.Body, true, nil
}
