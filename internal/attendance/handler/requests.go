package handler

import "strings"

// CheckInRequest is the body of POST /attendance/check-in. Identity may be
// omitted when the client sends a device id instead.
type CheckInRequest struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
}

// Prepare trims the identity. The display name is trimmed by the service,
// which owns the length rule.
func (r *CheckInRequest) Prepare() {
	r.Identity = strings.TrimSpace(r.Identity)
}

// CancelRequest is the body of POST /attendance/cancel.
type CancelRequest struct {
	Identity string `json:"identity"`
}

func (r *CancelRequest) Prepare() {
	r.Identity = strings.TrimSpace(r.Identity)
}
