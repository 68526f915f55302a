package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/nomis52/provisiond/sysupdate"
)

// SystemUpdateResponse is returned by POST /api/v1/sysupdate. A report is
// returned even when some users failed.
type SystemUpdateResponse struct {
	Error  string           `json:"error,omitempty"`
	Report sysupdate.Report `json:"report"`
}

// SystemUpdateHandler handles requests to run the system update check now.
type SystemUpdateHandler struct {
	logger  *slog.Logger
	checker SystemUpdateChecker
}

// NewSystemUpdateHandler creates a new SystemUpdateHandler.
func NewSystemUpdateHandler(logger *slog.Logger, checker SystemUpdateChecker) *SystemUpdateHandler {
	return &SystemUpdateHandler{
		logger:  logger,
		checker: checker,
	}
}

// ServeHTTP implements http.Handler.
func (h *SystemUpdateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report, err := h.checker.Check(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, SystemUpdateResponse{Report: report})
	case errors.Is(err, sysupdate.ErrBusy), errors.Is(err, sysupdate.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	default:
		h.logger.Warn("system update check failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, SystemUpdateResponse{Error: err.Error(), Report: report})
	}
}
