package handlers

import (
	"errors"
	"net/http"

	"github.com/alexedwards/flow"
)

// HistoryHandler handles requests for the attempt history.
type HistoryHandler struct {
	provider HistoryProvider
}

// NewHistoryHandler creates a new HistoryHandler.
func NewHistoryHandler(provider HistoryProvider) *HistoryHandler {
	return &HistoryHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	history := h.provider.History()
	writeJSON(w, http.StatusOK, history)
}

// AttemptHandler handles requests for one past attempt, with its task logs.
type AttemptHandler struct {
	provider HistoryProvider
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(provider HistoryProvider) *AttemptHandler {
	return &AttemptHandler{
		provider: provider,
	}
}

// ServeHTTP implements http.Handler.
func (h *AttemptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := flow.Param(r.Context(), "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing attempt id"))
		return
	}

	attempt, err := h.provider.Attempt(id)
	if err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}
