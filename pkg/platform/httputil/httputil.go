// Package httputil holds the JSON response and request helpers shared by handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	dErrors "dailyroll/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the envelope for transport-level errors.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Preparable requests normalize themselves after decoding.
type Preparable interface {
	Prepare()
}


// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to its HTTP status and error envelope.
// Internal and unavailable errors never leak their description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeInternal
	msg := ""
	if de, ok := dErrors.As(err); ok {
		code = de.Code
		msg = de.Message
	}
	resp := ErrorResponse{Error: string(code)}
	switch code {
	case dErrors.CodeInternal, dErrors.CodeUnavailable:
	default:
		resp.ErrorDescription = msg
	}
	WriteJSON(w, StatusFor(code), resp)
}

// StatusFor returns the HTTP status for a domain error code.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeValidation, dErrors.CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// DecodeAndPrepare decodes a JSON body into T, then runs Prepare when T
// implements it. Business validation belongs to the service. On failure it writes the error response and returns false.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	var req T
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		msg := "invalid request body"
		if errors.As(err, &maxErr) {
			msg = "request body too large"
		}
		logger.WarnContext(ctx, "failed to decode request",
			"request_id", requestID,
			"error", err,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, msg))
		return nil, false
	}
	if p, ok := any(&req).(Preparable); ok {
		p.Prepare()
	}
	return &req, true
}
