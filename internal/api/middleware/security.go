package middleware

import (
	"net/http"

	"github.com/stationboard/stationboard/internal/api/models"
)

// apiSecurityHeaders are sent on every response. The CSP suits JSON bodies;
// shell assets replace it with ShellContentSecurityPolicy.
var apiSecurityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "geolocation=(), camera=(), microphone=()"},
}

// SecurityHeaders sets the standard hardening headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		for _, kv := range apiSecurityHeaders {
			h.Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}

// ShellContentSecurityPolicy replaces the API policy on app shell responses,
// which are HTML documents loading their own scripts and styles.
const ShellContentSecurityPolicy = "default-src 'self'; connect-src 'self'; frame-ancestors 'none'"

// RequireTLS rejects requests a TLS-terminating proxy marked as plain HTTP
// through X-Forwarded-Proto. Requests without the header pass. When disabled
// the handler is returned unwrapped.
func RequireTLS(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" && proto != "https" {
				p := models.NewProblem(models.ProblemTypeTLSRequired, "TLS required", http.StatusForbidden,
					GetRequestID(r.Context()), "The board API is only served over HTTPS")
				p.Instance = r.URL.Path
				p.Write(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
