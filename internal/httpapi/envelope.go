// Package httpapi implements the HTTP/WS Surface: bearer-token
// auth, the REST endpoint table, the WebSocket turn stream, and SSE.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/chatgate/chatgate/internal/errkind"
	. "github.com/chatgate/chatgate/internal/logging"
)

// envelope is the {"status":...} wrapper every response body uses.
type envelope struct {
	Status    string `json:"status"`
	Data      any    `json:"data,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		L_warn("httpapi: failed to encode response", "error", err)
	}
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Status: "success", Data: data})
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// writeError translates an error into the error-kind -> HTTP status/code
// mapping and writes the error envelope.
func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeJSON(w, status, envelope{
		Status:    "error",
		Code:      code,
		Message:   err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func classify(err error) (int, string) {
	var notFound *errkind.NotFound
	var forbidden *errkind.Forbidden
	var validation *errkind.Validation
	var backendUnavailable *errkind.BackendUnavailable
	var policyDenied *errkind.PolicyDenied
	var duplicateName *errkind.DuplicateName
	var timeoutErr *errkind.Timeout

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.As(err, &forbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.As(err, &validation):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.As(err, &duplicateName):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.As(err, &policyDenied):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.As(err, &backendUnavailable):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"
	case errors.As(err, &timeoutErr):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
