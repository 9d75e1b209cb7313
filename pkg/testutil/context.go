package testutil

import (
	"net/http"
	"time"

	"dailyroll/pkg/requestcontext"
)

// WithRequestTime pins the request clock, which also fixes "today".
func WithRequestTime(req *http.Request, t time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), t))
}

// WithDeviceID adds a device id as the device middleware would.
func WithDeviceID(req *http.Request, deviceID string) *http.Request {
	return req.WithContext(requestcontext.WithDeviceID(req.Context(), deviceID))
}
