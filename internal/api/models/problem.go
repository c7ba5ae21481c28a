package models

import (
	"net/http"

	"github.com/goccy/go-json"
)

// Problem is an RFC 7807 error body, served as application/problem+json.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"traceId"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// FieldError reports why one request field was rejected.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

const (
	ProblemTypeValidation      = "https://stationboard.dev/problems/validation-error"
	ProblemTypeNotFound        = "https://stationboard.dev/problems/not-found"
	ProblemTypeTooManyRequests = "https://stationboard.dev/problems/too-many-requests"
	ProblemTypeInternal        = "https://stationboard.dev/problems/internal-error"
	ProblemTypeBadGateway      = "https://stationboard.dev/problems/upstream-failure"
	ProblemTypeUnavailable     = "https://stationboard.dev/problems/service-unavailable"
	ProblemTypeTLSRequired     = "https://stationboard.dev/problems/tls-required"
)

// NewProblem builds a problem of the given type.
func NewProblem(problemType, title string, status int, traceID, detail string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// Write sends p with its status code.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := NewProblem(ProblemTypeValidation, "Validation error", http.StatusBadRequest, traceID, detail)
	p.Errors = errors
	return p
}

func NewNotFound(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeNotFound, "Not found", http.StatusNotFound, traceID, detail)
}

func NewTooManyRequests(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests, traceID, detail)
}

func NewInternalError(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeInternal, "Internal server error", http.StatusInternalServerError, traceID, detail)
}

// NewBadGateway reports that the schedule upstream failed.
func NewBadGateway(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeBadGateway, "Upstream failure", http.StatusBadGateway, traceID, detail)
}

func NewServiceUnavailable(traceID, detail string) *Problem {
	return NewProblem(ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable, traceID, detail)
}
