package requestid

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailyroll/pkg/requestcontext"
)

func TestMiddleware(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.RequestID(r.Context())
	}))

	t.Run("generates uuid when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		_, err := uuid.Parse(seen)
		require.NoError(t, err)
		assert.Equal(t, seen, rec.Header().Get(HeaderName))
	})

	t.Run("keeps inbound id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(HeaderName, "edge-42")
		h.ServeHTTP(httptest.NewRecorder(), r)
		assert.Equal(t, "edge-42", seen)
	})

	t.Run("replaces oversized inbound id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set(HeaderName, strings.Repeat("x", 200))
		h.ServeHTTP(httptest.NewRecorder(), r)
		_, err := uuid.Parse(seen)
		assert.NoError(t, err)
	})
}
