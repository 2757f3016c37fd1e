// Package httputil provides common HTTP response/request helpers shared by
// the handler layer.
package httputil

import (
	"encoding/json"
	"net/http"

	kerrors "github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/errors"
	"github.com/vinay-lgtm-code/kontext-verify-sub003/infrastructure/logging"
)

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"traceId,omitempty"`
}

var defaultLogger = logging.NewFromEnv("httpapi")

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		defaultLogger.WithError(err).Warn("write json response")
	}
}

// WriteErrorResponse writes the standard error envelope for a raw status/code.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	traceID := ""
	if r != nil {
		traceID = logging.GetTraceID(r.Context())
	}
	WriteJSON(w, status, ErrorResponse{Code: code, Message: message, Details: details, TraceID: traceID})
}

// WriteError maps err to the standard error envelope. It unwraps
// *errors.ServiceError when present, else responds 500 Internal.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if svcErr := kerrors.GetServiceError(err); svcErr != nil {
		WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
		return
	}
	WriteErrorResponse(w, r, http.StatusInternalServerError, string(kerrors.ErrCodeInternal), "internal server error", nil)
}

// DecodeJSON decodes the request body into v. On failure it writes a 400
// INVALID_INPUT response and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil {
		WriteError(w, r, kerrors.InvalidInput("body", "request body is required"))
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, r, kerrors.InvalidInput("body", "request body must be valid JSON"))
		return false
	}
	return true
}
