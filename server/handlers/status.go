package handlers

import (
	"net/http"
)

// StatusesHandler handles requests for the latest attempt of every target.
type StatusesHandler struct {
	provider StatusProvider
}

// NewStatusesHandler creates a new StatusesHandler.
func NewStatusesHandler(provider StatusProvider) *StatusesHandler {
	return &StatusesHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *StatusesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.Statuses())
}

// StatusHandler handles requests for the latest attempt of one target.
type StatusHandler struct {
	provider StatusProvider
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(provider StatusProvider) *StatusHandler {
	return &StatusHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, ok := targetParam(w, r)
	if !ok {
		return
	}
	status, err := h.provider.Status(target)
	if err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// LogsHandler handles requests for the captured task logs of a target's
// latest attempt.
type LogsHandler struct {
	provider StatusProvider
}

// NewLogsHandler creates a new LogsHandler.
func NewLogsHandler(provider StatusProvider) *LogsHandler {
	return &LogsHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler. The ?task= query parameter limits the
// response to one task.
func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, ok := targetParam(w, r)
	if !ok {
		return
	}
	logs, err := h.provider.Logs(target)
	if err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	if name := r.URL.Query().Get("task"); name != "" {
		writeJSON(w, http.StatusOK, logs[name])
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
