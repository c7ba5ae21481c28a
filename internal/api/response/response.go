// Package response writes the JSON and Problem+JSON bodies returned by the
// board API.
package response

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/stationboard/stationboard/internal/api/middleware"
	"github.com/stationboard/stationboard/internal/api/models"
)

// stampRequestID copies the request ID from the context onto the response.
func stampRequestID(w http.ResponseWriter, r *http.Request) string {
	id := middleware.GetRequestID(r.Context())
	if id != "" {
		w.Header().Set("X-Request-Id", id)
	}
	return id
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// JSON writes data with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	stampRequestID(w, r)
	writeJSON(w, status, data)
}

// Created writes a 201 with a Location header pointing at the new resource.
func Created(w http.ResponseWriter, r *http.Request, location string, data any) {
	stampRequestID(w, r)
	if location != "" {
		w.Header().Set("Location", location)
	}
	writeJSON(w, http.StatusCreated, data)
}

// NoContent writes a bare 204.
func NoContent(w http.ResponseWriter, r *http.Request) {
	stampRequestID(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// problem finishes p for r and writes it. The request ID doubles as the trace ID.
func problem(w http.ResponseWriter, r *http.Request, build func(traceID string) *models.Problem) {
	p := build(stampRequestID(w, r))
	p.Instance = r.URL.Path
	p.Write(w)
}

// BadRequest writes a 400 carrying per-field validation errors.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	problem(w, r, func(id string) *models.Problem { return models.NewBadRequest(id, detail, errors) })
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, func(id string) *models.Problem { return models.NewNotFound(id, detail) })
}

// InternalError writes a 500.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, func(id string) *models.Problem { return models.NewInternalError(id, detail) })
}

// BadGateway writes a 502, used when the schedule upstream could not be reached.
func BadGateway(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, func(id string) *models.Problem { return models.NewBadGateway(id, detail) })
}

// ServiceUnavailable writes a 503.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	problem(w, r, func(id string) *models.Problem { return models.NewServiceUnavailable(id, detail) })
}
