package logging

import (
	"log/slog"
)

// LoggerHook derives the logger handed to a single task.
type LoggerHook interface {
	LoggerForTask(base *slog.Logger, taskName string) *slog.Logger
}

// CapturingLoggerHook derives task loggers whose records are also kept in
// a LogCollector.
type CapturingLoggerHook struct {
	collector *LogCollector
}

// NewCapturingLoggerHook creates a hook storing task logs in collector.
func NewCapturingLoggerHook(collector *LogCollector) *CapturingLoggerHook {
	return &CapturingLoggerHook{collector: collector}
}

// LoggerForTask implements LoggerHook. The returned logger carries a "task"
// attribute.
func (h *CapturingLoggerHook) LoggerForTask(base *slog.Logger, taskName string) *slog.Logger {
	return slog.New(NewCapturingHandler(base.Handler(), h.collector, taskName)).With("task", taskName)
}

// Collector returns the collector the hook writes to.
func (h *CapturingLoggerHook) Collector() *LogCollector {
	return h.collector
}

// PlainLoggerHook tags task loggers without capturing anything.
type PlainLoggerHook struct{}

// LoggerForTask implements LoggerHook.
func (PlainLoggerHook) LoggerForTask(base *slog.Logger, taskName string) *slog.Logger {
	return base.With("task", taskName)
}
