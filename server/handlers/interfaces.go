// Package handlers provides HTTP handlers for the provisiond server.
//
// Each handler is in its own file and implements http.Handler.
// Handlers use interfaces to access server dependencies, avoiding
// circular imports. Path parameters are read with flow.Param, so
// handlers that take one must be mounted on a flow.Mux.
package handlers

import (
	"context"
	"time"

	"github.com/nomis52/provisiond/config"
	"github.com/nomis52/provisiond/logging"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/resume"
	"github.com/nomis52/provisiond/service"
	"github.com/nomis52/provisiond/sysupdate"
)

// ConfigProvider provides access to the current configuration.
type ConfigProvider interface {
	Config() *config.Config
}

// Provisioner starts attempts.
type Provisioner interface {
	Provision(ctx context.Context, p *params.Params) (service.AttemptStatus, error)
}

// AttemptController acts on the attempt of a flow target.
type AttemptController interface {
	Cancel(target resume.Target) error
	Remind(ctx context.Context, target resume.Target) error
}

// StatusProvider provides access to the latest attempt of each target.
type StatusProvider interface {
	Status(target resume.Target) (service.AttemptStatus, error)
	Statuses() []service.AttemptStatus
	Logs(target resume.Target) (map[string][]logging.LogEntry, error)
}

// HistoryProvider provides access to attempts that ended.
type HistoryProvider interface {
	History() []service.AttemptStatus
	Attempt(id string) (service.AttemptStatus, error)
}

// SystemUpdateChecker runs the system update check on demand.
type SystemUpdateChecker interface {
	Check(ctx context.Context) (sysupdate.Report, error)
}

// Scheduler reports the next scheduled run.
type Scheduler interface {
	NextRun() time.Time
}
