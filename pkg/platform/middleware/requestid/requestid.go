// Package requestid assigns every request an identifier for log correlation.
package requestid

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"dailyroll/pkg/requestcontext"
)

// HeaderName is echoed on every response and honored when a proxy already set it.
const HeaderName = "X-Request-ID"

const maxInboundLength = 64

// Middleware reuses a sane inbound X-Request-ID or generates a UUID.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get(HeaderName))
		if reqID == "" || len(reqID) > maxInboundLength {
			reqID = uuid.NewString()
		}
		w.Header().Set(HeaderName, reqID)
		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
