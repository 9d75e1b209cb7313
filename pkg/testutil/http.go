// Package testutil provides common test utilities for handler and router tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewJSONRequest creates an HTTP request whose body is v marshaled to JSON.
func NewJSONRequest(t *testing.T, method, path string, v any) *http.Request {
	t.Helper()

	var body io.Reader
	if v != nil {
		raw, err := json.Marshal(v)
		require.NoError(t, err, "failed to marshal request body")
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DoRequest executes a request against a handler and returns the recorder.
func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// UnmarshalResponse decodes the response body into T.
func UnmarshalResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) *T {
	t.Helper()
	var result T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result), "failed to unmarshal response")
	return &result
}

// AssertStatus asserts the response status code matches expected.
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	assert.Equal(t, expected, rr.Code, "unexpected status code")
}

// AssertFailure asserts an attendance failure body with the given reason.
func AssertFailure(t *testing.T, rr *httptest.ResponseRecorder, status int, reason string) {
	t.Helper()
	AssertStatus(t, rr, status)
	var body struct {
		Success bool   `json:"success"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), "failed to unmarshal failure response")
	assert.False(t, body.Success)
	assert.Equal(t, reason, body.Reason)
	assert.NotEmpty(t, body.Message)
}
