package logging

import (
	"slices"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the records kept per task.
const DefaultMaxEntries = 500

// LogEntry is one captured log record.
type LogEntry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// LogCollector keeps the log records of one provisioning attempt, grouped
// by task name. Only the newest records are kept once a task exceeds the
// limit.
type LogCollector struct {
	mu    sync.RWMutex
	max   int
	logs  map[string][]LogEntry
	order []string
}

// NewLogCollector creates a collector keeping at most DefaultMaxEntries
// records per task.
func NewLogCollector() *LogCollector {
	return NewBoundedLogCollector(DefaultMaxEntries)
}

// NewBoundedLogCollector creates a collector keeping at most max records
// per task. A max of zero or less keeps everything.
func NewBoundedLogCollector(max int) *LogCollector {
	return &LogCollector{
		max:  max,
		logs: make(map[string][]LogEntry),
	}
}

// Add appends entry to the records of taskName.
func (c *LogCollector) Add(taskName string, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	logs, seen := c.logs[taskName]
	if !seen {
		c.order = append(c.order, taskName)
	}
	logs = append(logs, entry)
	if c.max > 0 && len(logs) > c.max {
		logs = slices.Clone(logs[len(logs)-c.max:])
	}
	c.logs[taskName] = logs
}

// Logs returns a copy of the records of taskName, oldest first.
func (c *LogCollector) Logs(taskName string) []LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.logs[taskName])
}

// Tasks returns the task names with records, in the order they first logged.
func (c *LogCollector) Tasks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// All returns a copy of every task's records.
func (c *LogCollector) All() map[string][]LogEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]LogEntry, len(c.logs))
	for name, logs := range c.logs {
		out[name] = slices.Clone(logs)
	}
	return out
}

// Clear drops every record.
func (c *LogCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = make(map[string][]LogEntry)
	c.order = nil
}
