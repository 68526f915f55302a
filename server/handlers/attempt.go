package handlers

import (
	"log/slog"
	"net/http"
)

// CancelHandler handles requests to cancel the attempt of a target.
type CancelHandler struct {
	logger     *slog.Logger
	controller AttemptController
}

// NewCancelHandler creates a new CancelHandler.
func NewCancelHandler(logger *slog.Logger, c AttemptController) *CancelHandler {
	return &CancelHandler{
		logger:     logger,
		controller: c,
	}
}

// ServeHTTP implements http.Handler. Cancelling an attempt that ended is
// accepted and does nothing.
func (h *CancelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, ok := targetParam(w, r)
	if !ok {
		return
	}
	if err := h.controller.Cancel(target); err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	h.logger.Info("cancel requested", "target", target)
	w.WriteHeader(http.StatusAccepted)
}

// RemindHandler handles requests to persist the running attempt of a
// target for resumption after a reboot.
type RemindHandler struct {
	logger     *slog.Logger
	controller AttemptController
}

// NewRemindHandler creates a new RemindHandler.
func NewRemindHandler(logger *slog.Logger, c AttemptController) *RemindHandler {
	return &RemindHandler{
		logger:     logger,
		controller: c,
	}
}

// ServeHTTP implements http.Handler.
func (h *RemindHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, ok := targetParam(w, r)
	if !ok {
		return
	}
	if err := h.controller.Remind(r.Context(), target); err != nil {
		h.logger.Warn("remind failed", "target", target, "error", err)
		writeError(w, statusCode(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
