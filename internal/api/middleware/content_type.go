package middleware

import (
	"mime"
	"net/http"

	"github.com/stationboard/stationboard/internal/api/models"
)

// ContentTypeJSON defaults the response Content-Type to JSON. Handlers that
// write problem+json override it.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// RequireJSON rejects request bodies declared as anything but JSON.
// A missing Content-Type is let through.
func RequireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "" {
			if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
				p := models.NewProblem(models.ProblemTypeValidation, "Unsupported media type",
					http.StatusUnsupportedMediaType, GetRequestID(r.Context()), "Content-Type must be application/json")
				p.Instance = r.URL.Path
				p.Write(w)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
