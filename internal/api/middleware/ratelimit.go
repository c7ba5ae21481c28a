package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/stationboard/stationboard/internal/api/models"
)

// RateLimitConfig is a request budget per client IP over a sliding window.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

var (
	// RefreshRateLimit guards routes that fan out to every tracked station or
	// rebuild the shell cache.
	RefreshRateLimit = PerMinute(10)

	// ExpensiveRateLimit guards the schedule write-through proxy.
	ExpensiveRateLimit = PerMinute(30)

	// StandardRateLimit is used for board, station and admin reads.
	StandardRateLimit = RateLimitConfig{RequestLimit: 100, WindowLength: time.Minute}
)

// PerMinute returns a one-minute budget of n requests. n <= 0 yields
// StandardRateLimit.
func PerMinute(n int) RateLimitConfig {
	if n <= 0 {
		return StandardRateLimit
	}
	return RateLimitConfig{RequestLimit: n, WindowLength: time.Minute}
}

// RateLimitByIP limits by the client address chi's RealIP resolved.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(cfg.WindowLength.Seconds()))
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			// httprate does not expose the window reset.
			w.Header().Set("Retry-After", retryAfter)
			p := models.NewTooManyRequests(GetRequestID(r.Context()), "Too many board requests, slow down.")
			p.Instance = r.URL.Path
			p.Write(w)
		}),
	)
}
