package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/stationboard/stationboard/internal/api/models"
)

// Recovery turns a handler panic into a logged 500 problem. http.ErrAbortHandler
// is re-raised so net/http can drop the connection as intended.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				id := GetRequestID(r.Context())
				log.Error().
					Str("request_id", id).
					Str("path", r.URL.Path).
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")

				p := models.NewInternalError(id, "the board hit an unexpected error")
				p.Instance = r.URL.Path
				p.Write(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
