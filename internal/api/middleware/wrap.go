package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// recorder captures status and size for the observability middlewares.
type recorder struct {
	chimw.WrapResponseWriter
}

func record(w http.ResponseWriter, r *http.Request) recorder {
	return recorder{chimw.NewWrapResponseWriter(w, r.ProtoMajor)}
}

// status reports 200 when the handler wrote a body without an explicit header.
func (rec recorder) status() int {
	if s := rec.Status(); s != 0 {
		return s
	}
	return http.StatusOK
}

// route returns the matched chi pattern, or the raw path outside a chi router.
// Only valid once the request has been routed.
func route(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
