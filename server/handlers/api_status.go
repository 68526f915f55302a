package handlers

import (
	"net/http"
	"time"

	"github.com/nomis52/provisiond/buildinfo"
	"github.com/nomis52/provisiond/service"
)

// NextRunResponse is the JSON response for the next system update check.
type NextRunResponse struct {
	Scheduled bool       `json:"scheduled"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}

// APIStatusResponse is the consolidated response for /api/v1/overview.
type APIStatusResponse struct {
	Build        buildinfo.Properties    `json:"build"`
	Busy         bool                    `json:"busy"`
	Attempts     []service.AttemptStatus `json:"attempts"`
	SystemUpdate NextRunResponse         `json:"system_update"`
}

// APIStatusHandler handles requests for the consolidated status endpoint.
type APIStatusHandler struct {
	provider  StatusProvider
	scheduler Scheduler
}

// NewAPIStatusHandler creates a new APIStatusHandler. scheduler may be nil
// when no system update schedule is configured.
func NewAPIStatusHandler(provider StatusProvider, scheduler Scheduler) *APIStatusHandler {
	return &APIStatusHandler{
		provider:  provider,
		scheduler: scheduler,
	}
}

// ServeHTTP implements http.Handler.
func (h *APIStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	attempts := h.provider.Statuses()
	resp := APIStatusResponse{
		Build:    buildinfo.Get(),
		Attempts: attempts,
	}
	for _, a := range attempts {
		if !a.State.Terminal() {
			resp.Busy = true
		}
	}
	if h.scheduler != nil {
		next := h.scheduler.NextRun()
		resp.SystemUpdate = NextRunResponse{Scheduled: true, NextRun: &next}
	}
	writeJSON(w, http.StatusOK, resp)
}
