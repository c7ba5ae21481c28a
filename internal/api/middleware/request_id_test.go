package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stationboard/stationboard/internal/api/middleware"
)

// idSeen runs RequestID with the given incoming header and returns the
// context ID and the echoed response header.
func idSeen(incoming string) (ctxID, header string) {
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = middleware.GetRequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/board", http.NoBody)
	if incoming != "" {
		req.Header.Set(middleware.RequestIDHeader, incoming)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return ctxID, rec.Header().Get(middleware.RequestIDHeader)
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"minted when absent", "", false},
		{"client id kept", "board-tui-7f3a", true},
		{"oversized id replaced", strings.Repeat("x", 65), false},
		{"control characters replaced", "abc\tdef", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctxID, header := idSeen(tt.incoming)
			assert.Equal(t, ctxID, header)
			if tt.keep {
				assert.Equal(t, tt.incoming, ctxID)
				return
			}
			assert.True(t, strings.HasPrefix(ctxID, "req_"), ctxID)
			assert.NotEqual(t, tt.incoming, ctxID)
		})
	}
}

func TestRequestID_Unique(t *testing.T) {
	seen := map[string]bool{}
	for range 50 {
		id, _ := idSeen("")
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/board", http.NoBody)
	assert.Empty(t, middleware.GetRequestID(req.Context()))
}
