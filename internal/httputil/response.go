// Package httputil holds the JSON envelope helpers and outbound HTTP plumbing used by PINNLO services.
package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pinnlo/service_layer/internal/errors"
	"github.com/pinnlo/service_layer/internal/logging"
)

// Envelope is the response body of every /api route.
type Envelope struct {
	Success bool                   `json:"success"`
	Data    interface{}            `json:"data,omitempty"`
	Count   *int                   `json:"count,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Code    string                 `json:"code,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes v as a success envelope.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	writeEnvelope(w, status, Envelope{Success: true, Data: v})
}

// WriteList writes items with their count.
func WriteList(w http.ResponseWriter, items interface{}, count int) {
	writeEnvelope(w, http.StatusOK, Envelope{Success: true, Data: items, Count: &count})
}

// WriteRaw writes v without the envelope. Used by health probes.
func WriteRaw(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NoContent writes a 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteErrorResponse writes a failure envelope.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	env := Envelope{Success: false, Error: message, Code: code, Details: details}
	if r != nil {
		env.TraceID = logging.GetTraceID(r.Context())
	}
	writeEnvelope(w, status, env)
}

var errorLog = logging.NewDefault("http")

// WriteError reports err, using its ServiceError status when present and 500
// otherwise. Errors without a ServiceError are logged and answered with a
// generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		entry := errorLog.WithError(err)
		if r != nil {
			entry = errorLog.WithContext(r.Context()).WithError(err).
				WithField("method", r.Method).WithField("path", r.URL.Path)
		}
		entry.Error("unhandled error")
		se = errors.Internal("Internal server error", err)
	}
	if se.HTTPStatus == http.StatusTooManyRequests {
		retryAfter := 1
		if secs, ok := se.Details["retry_after"].(int); ok && secs > 0 {
			retryAfter = secs
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

func BadRequest(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusBadRequest, string(errors.CodeBadRequest), message, nil)
}

func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Unauthorized"
	}
	WriteErrorResponse(w, nil, http.StatusUnauthorized, string(errors.CodeUnauthorized), message, nil)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusNotFound, string(errors.CodeNotFound), message, nil)
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
