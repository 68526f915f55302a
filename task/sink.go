package task

import (
	"log/slog"
	"sync/atomic"
)

// Result is the outcome of one Task.Run. It is either Success or Failure.
type Result interface {
	result()
}

// Success reports that the task completed.
type Success struct {
	Task Task
}

// Failure reports that the task failed with Code.
type Failure struct {
	Task Task
	Code Code
}

func (Success) result() {}
func (Failure) result() {}

// Sink is a Callback that delivers the first outcome it receives as a
// Result on a channel. Later callbacks are dropped.
type Sink struct {
	logger    *slog.Logger
	results   chan Result
	delivered atomic.Bool
}

// NewSink creates a Sink for a single task run.
func NewSink(logger *slog.Logger) *Sink {
	return &Sink{
		logger:  logger,
		results: make(chan Result, 1),
	}
}

// OnSuccess implements Callback.
func (s *Sink) OnSuccess(t Task) {
	s.deliver(Success{Task: t})
}

// OnError implements Callback.
func (s *Sink) OnError(t Task, code Code) {
	s.deliver(Failure{Task: t, Code: code})
}

// Results returns the channel the outcome is delivered on.
func (s *Sink) Results() <-chan Result {
	return s.results
}

func (s *Sink) deliver(r Result) {
	if !s.delivered.CompareAndSwap(false, true) {
		s.logger.Warn("dropping duplicate task callback", "result", describe(r))
		return
	}
	s.results <- r
}

func describe(r Result) string {
	switch r := r.(type) {
	case Success:
		return r.Task.Name() + ": success"
	case Failure:
		return r.Task.Name() + ": " + r.Code.Error()
	default:
		return "unknown"
	}
}
