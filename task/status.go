package task

import (
	"log/slog"
	"maps"
	"sync"
)

// StatusLine logs a task's status and records it in a StatusHandler.
// Bind one to each task of an attempt: statusLine.Set("verifying checksum").
type StatusLine struct {
	logger  *slog.Logger
	handler *StatusHandler
	name    string
}

// NewStatusLine creates a status line bound to a task name. The handler may
// be nil, in which case statuses are only logged.
func NewStatusLine(name string, logger *slog.Logger, handler *StatusHandler) *StatusLine {
	return &StatusLine{
		logger:  logger,
		handler: handler,
		name:    name,
	}
}

// Set logs status and stores it as the task's current status.
func (sl *StatusLine) Set(status string) {
	if sl == nil {
		return
	}
	sl.logger.Info(status, "task", sl.name)
	if sl.handler != nil {
		sl.handler.Set(sl.name, status)
	}
}

// Fail records code as the task's final status.
func (sl *StatusLine) Fail(code Code) {
	sl.Set("❌ " + code.Error())
}

// StatusHandler stores the latest status message per task name.
type StatusHandler struct {
	mu       sync.RWMutex
	statuses map[string]string
}

// NewStatusHandler creates an empty StatusHandler.
func NewStatusHandler() *StatusHandler {
	return &StatusHandler{
		statuses: make(map[string]string),
	}
}

// Set replaces the status for a task.
func (sh *StatusHandler) Set(name, status string) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.statuses[name] = status
}

// Get returns the status for a task, or "".
func (sh *StatusHandler) Get(name string) string {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.statuses[name]
}

// All returns a copy of every recorded status.
func (sh *StatusHandler) All() map[string]string {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return maps.Clone(sh.statuses)
}
