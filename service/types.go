package service

import (
	"time"

	"github.com/nomis52/provisiond/controller"
	"github.com/nomis52/provisiond/logging"
	"github.com/nomis52/provisiond/resume"
	"github.com/nomis52/provisiond/task"
)

// ErrorInfo is the terminal error of an attempt as reported to clients.
type ErrorInfo struct {
	Category             task.Category `json:"category"`
	Task                 string        `json:"task"`
	Message              string        `json:"message"`
	Detail               string        `json:"detail,omitempty"`
	FactoryResetRequired bool          `json:"factory_reset_required,omitempty"`
}

func errorInfo(err *controller.Error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{
		Category:             err.Category,
		Task:                 err.Task,
		Message:              err.Message(),
		Detail:               err.Error(),
		FactoryResetRequired: err.FactoryResetRequired,
	}
}

// TaskExecution is the status line and captured logs of one pipeline task.
type TaskExecution struct {
	Name   string             `json:"name"`
	Status string             `json:"status,omitempty"`
	Logs   []logging.LogEntry `json:"logs,omitempty"`
}

// AttemptStatus describes the current or a past provisioning attempt.
type AttemptStatus struct {
	ID        string           `json:"id"`
	Target    resume.Target    `json:"target"`
	Variant   string           `json:"variant"`
	Admin     string           `json:"admin"`
	State     controller.State `json:"state"`
	Step      task.Step        `json:"step,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	// EndedAt is nil while the attempt is not over.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	// Tasks are in pipeline order. History listings leave them out.
	Tasks []TaskExecution `json:"tasks,omitempty"`
}

// Duration returns how long the attempt ran, or zero while it runs.
func (s AttemptStatus) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

func (s AttemptStatus) summary() AttemptStatus {
	s.Tasks = nil
	return s
}
