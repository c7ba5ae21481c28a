package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/stationboard/stationboard/internal/api/middleware"
	"github.com/stationboard/stationboard/internal/api/models"
	"github.com/stationboard/stationboard/internal/api/response"
	"github.com/stationboard/stationboard/internal/shellcache"
)

// proxiedHeaders are copied from cached or upstream responses.
var proxiedHeaders = []string{
	"Content-Type",
	"Cache-Control",
	"ETag",
	"Last-Modified",
}

// ShellHandler exposes the app shell cache manager: cache administration
// and the offline proxies for shell assets and schedule requests.
type ShellHandler struct {
	manager     *shellcache.Manager
	scheduleURL func(key string) string
	logger      zerolog.Logger
}

// NewShellHandler creates a new ShellHandler. scheduleURL maps a station key
// to the upstream schedule URL.
func NewShellHandler(manager *shellcache.Manager, scheduleURL func(key string) string, logger zerolog.Logger) *ShellHandler {
	return &ShellHandler{
		manager:     manager,
		scheduleURL: scheduleURL,
		logger:      logger,
	}
}

// Status handles GET /v1/shell/caches - cache names and activation state.
func (h *ShellHandler) Status(w http.ResponseWriter, r *http.Request) {
	names, err := h.manager.Storage().Keys()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list shell caches")
		response.InternalError(w, r, "failed to list caches")
		return
	}

	manifest := h.manager.Manifest()
	response.JSON(w, r, http.StatusOK, models.ShellStatus{
		Version:     manifest.Version,
		DataCache:   manifest.DataCache,
		Controlling: h.manager.Controlling(),
		Caches:      names,
	})
}

// Install handles POST /v1/shell/install - pre-cache the shell assets.
func (h *ShellHandler) Install(w http.ResponseWriter, r *http.Request) {
	if h.manager.OriginURL() == "" {
		response.ServiceUnavailable(w, r, "no shell origin configured")
		return
	}

	if err := h.manager.Install(r.Context()); err != nil {
		if errors.Is(err, shellcache.ErrInstallFailed) {
			response.BadGateway(w, r, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("shell install failed")
		response.InternalError(w, r, "failed to install shell")
		return
	}
	response.NoContent(w, r)
}

// Activate handles POST /v1/shell/activate - purge stale caches and take
// control of requests.
func (h *ShellHandler) Activate(w http.ResponseWriter, r *http.Request) {
	purged, err := h.manager.Activate(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("shell activation failed")
		response.InternalError(w, r, "failed to activate shell")
		return
	}
	if purged == nil {
		purged = []string{}
	}
	response.JSON(w, r, http.StatusOK, models.ActivateResponse{Purged: purged})
}

// ServeAsset handles GET /shell/* - shell assets, cache first.
func (h *ShellHandler) ServeAsset(w http.ResponseWriter, r *http.Request) {
	if h.manager.OriginURL() == "" {
		response.ServiceUnavailable(w, r, "no shell origin configured")
		return
	}

	w.Header().Set("Content-Security-Policy", middleware.ShellContentSecurityPolicy)
	h.proxy(w, r, h.manager.AssetURL("/"+chi.URLParam(r, "*")))
}

// ServeSchedule handles GET /v3/schedules/* - schedule requests, written
// through to the data cache.
func (h *ShellHandler) ServeSchedule(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		response.BadRequest(w, r, "station key is required", nil)
		return
	}
	h.proxy(w, r, h.scheduleURL(key))
}

func (h *ShellHandler) proxy(w http.ResponseWriter, r *http.Request, url string) {
	req, err := http.NewRequestWithContext(r.Context(), r.Method, url, http.NoBody)
	if err != nil {
		response.BadRequest(w, r, "invalid path", nil)
		return
	}

	resp, err := h.manager.Fetch(req)
	if err != nil {
		h.logger.Warn().Err(err).Str("url", url).Msg("proxy request failed")
		response.BadGateway(w, r, "upstream unavailable and nothing cached")
		return
	}
	defer resp.Body.Close()

	for _, name := range proxiedHeaders {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug().Err(err).Str("url", url).Msg("proxy copy interrupted")
	}
}
