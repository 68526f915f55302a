package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alexedwards/flow"
	"github.com/nomis52/provisiond/resume"
	"github.com/nomis52/provisiond/service"
)

// ErrorResponse is returned when an error occurs.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// targetParam reads the :target path parameter. It writes a 400 response
// and returns false when the target is unknown.
func targetParam(w http.ResponseWriter, r *http.Request) (resume.Target, bool) {
	target, err := resume.ParseTarget(flow.Param(r.Context(), "target"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return "", false
	}
	return target, true
}

// statusCode maps service errors onto HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrNoAttempt):
		return http.StatusNotFound
	case errors.Is(err, service.ErrProvisioningInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrResumeDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, service.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
