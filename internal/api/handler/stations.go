package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/stationboard/stationboard/internal/api/models"
	"github.com/stationboard/stationboard/internal/api/response"
	"github.com/stationboard/stationboard/internal/station"
)

// StationService manages the selected-station list.
type StationService interface {
	Stations() []station.Reference
	AddStation(ctx context.Context, ref station.Reference) (bool, error)
}

// SearchFlags decides how the catalog is searched.
type SearchFlags interface {
	IsFuzzyCatalogSearchEnabled(ctx context.Context) bool
}

// StationsHandler handles station list and catalog endpoints.
type StationsHandler struct {
	stations StationService
	catalog  *station.Catalog
	flags    SearchFlags
	logger   zerolog.Logger
}

// NewStationsHandler creates a new StationsHandler. flags may be nil, in
// which case catalog search is fuzzy.
func NewStationsHandler(stations StationService, catalog *station.Catalog, flags SearchFlags, logger zerolog.Logger) *StationsHandler {
	return &StationsHandler{
		stations: stations,
		catalog:  catalog,
		flags:    flags,
		logger:   logger,
	}
}

// ListStations handles GET /v1/stations - the selected stations in order.
func (h *StationsHandler) ListStations(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.StationList{Stations: h.stations.Stations()})
}

// AddStation handles POST /v1/stations - fetch and track a station.
// Adding a station that is already tracked is a no-op answered with 200.
func (h *StationsHandler) AddStation(w http.ResponseWriter, r *http.Request) {
	var input models.AddStationRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	ref := input.Reference()
	added, err := h.stations.AddStation(r.Context(), ref)
	if err != nil {
		if errors.Is(err, station.ErrInvalidReference) {
			response.BadRequest(w, r, err.Error(), nil)
			return
		}
		h.logger.Error().Err(err).Str("station", ref.Key).Msg("failed to add station")
		response.InternalError(w, r, "failed to save station")
		return
	}

	body := models.AddStationResponse{Station: ref, Added: added}
	if !added {
		response.JSON(w, r, http.StatusOK, body)
		return
	}
	response.Created(w, r, "/v1/board/cards/"+ref.Key, body)
}

// SearchCatalog handles GET /v1/stations/catalog?q= - stations offered by
// the add dialog.
func (h *StationsHandler) SearchCatalog(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	var refs []station.Reference
	if h.flags == nil || h.flags.IsFuzzyCatalogSearchEnabled(r.Context()) {
		refs = h.catalog.Search(query)
	} else {
		refs = h.catalog.Contains(query)
	}
	if refs == nil {
		refs = []station.Reference{}
	}

	response.JSON(w, r, http.StatusOK, models.StationList{Stations: refs})
}
