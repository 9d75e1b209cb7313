// Package device extracts the anonymous device identity a browser presents.
//
// The identity token itself is generated and stored client side; this package
// only reads it so handlers can fall back to it when a request body omits it.
package device

import (
	"net/http"
	"strings"

	"dailyroll/pkg/requestcontext"
)

const (
	// HeaderName carries the device identity on API requests.
	HeaderName = "X-Device-ID"
	// CookieName carries the device identity for same-origin browser requests.
	CookieName = "device_id"
)

// Middleware stores the device identity, if present, in the request context.
// The header takes precedence over the cookie.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := FromRequest(r); id != "" {
			r = r.WithContext(requestcontext.WithDeviceID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// FromRequest returns the trimmed device identity from header or cookie.
func FromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderName)); v != "" {
		return v
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}
