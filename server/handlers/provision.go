package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/nomis52/provisiond/controller"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/service"
)

// ProvisionResponse is returned by POST /api/v1/provision. Error is set
// when the attempt did not start.
type ProvisionResponse struct {
	Error  string                `json:"error,omitempty"`
	Status service.AttemptStatus `json:"status"`
}

// ProvisionHandler handles requests to start provisioning.
type ProvisionHandler struct {
	logger      *slog.Logger
	provisioner Provisioner
}

// NewProvisionHandler creates a new ProvisionHandler.
func NewProvisionHandler(logger *slog.Logger, p Provisioner) *ProvisionHandler {
	return &ProvisionHandler{
		logger:      logger,
		provisioner: p,
	}
}

// ServeHTTP implements http.Handler. The body is a params.Request.
//
//   - 202 the attempt started, or encryption started and the attempt
//     runs after the reboot (Error says so)
//   - 400 the request is malformed or invalid
//   - 409 an attempt for the same target is in progress
//   - 422 a precondition failed
func (h *ProvisionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req params.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := req.Build()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	status, err := h.provisioner.Provision(r.Context(), p)
	var cerr *controller.Error
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, ProvisionResponse{Status: status})
	case errors.Is(err, service.ErrEncryptionPending):
		writeJSON(w, http.StatusAccepted, ProvisionResponse{Error: err.Error(), Status: status})
	case errors.As(err, &cerr):
		h.logger.Info("provisioning rejected", "variant", p.Variant(), "category", cerr.Category)
		writeJSON(w, http.StatusUnprocessableEntity, ProvisionResponse{Error: cerr.Message(), Status: status})
	case errors.Is(err, service.ErrProvisioningInProgress):
		writeJSON(w, http.StatusConflict, ProvisionResponse{Error: err.Error(), Status: status})
	default:
		h.logger.Error("failed to start provisioning", "error", err)
		writeError(w, statusCode(err), err)
	}
}
