package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/stationboard/stationboard/internal/api/models"
	"github.com/stationboard/stationboard/internal/api/response"
	"github.com/stationboard/stationboard/internal/featureflags"
)

// FeatureFlagsHandler handles feature flag endpoints.
type FeatureFlagsHandler struct {
	service *featureflags.Service
	logger  zerolog.Logger
}

// NewFeatureFlagsHandler creates a new FeatureFlagsHandler.
func NewFeatureFlagsHandler(service *featureflags.Service, logger zerolog.Logger) *FeatureFlagsHandler {
	return &FeatureFlagsHandler{service: service, logger: logger}
}

// ListFeatureFlags handles GET /v1/admin/feature-flags - every flag with its
// current value.
func (h *FeatureFlagsHandler) ListFeatureFlags(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, featureflags.FlagList{Items: h.service.List(r.Context())})
}

// UpsertFeatureFlags handles PUT /v1/admin/feature-flags - set one or more
// flags and return them.
func (h *FeatureFlagsHandler) UpsertFeatureFlags(w http.ResponseWriter, r *http.Request) {
	var input featureflags.FlagUpdateRequest
	if !decodeAndValidate(w, r, &input) {
		return
	}

	updated, err := h.service.Apply(r.Context(), input)
	if err != nil {
		if errors.Is(err, featureflags.ErrUnknownFlag) {
			response.BadRequest(w, r, err.Error(), []models.FieldError{{
				Field:   "updates.key",
				Message: "unknown feature flag",
				Code:    "UNKNOWN_FLAG",
			}})
			return
		}
		h.logger.Error().Err(err).Msg("failed to update feature flags")
		response.InternalError(w, r, "failed to update feature flags")
		return
	}

	h.logger.Info().
		Int("count", len(updated)).
		Str("reason", input.Reason).
		Msg("feature flags updated")
	response.JSON(w, r, http.StatusOK, featureflags.FlagList{Items: updated})
}

// InvalidateCache handles POST /v1/admin/feature-flags/invalidate - reload
// flags on next use.
func (h *FeatureFlagsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.service.InvalidateCache()
	response.NoContent(w, r)
}
