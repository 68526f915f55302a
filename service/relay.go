package service

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nomis52/provisiond/controller"
	"github.com/nomis52/provisiond/task"
)

// relay is the controller.Host of one attempt. It records the signals it
// receives and forwards them to the host configured on the service.
type relay struct {
	logger *slog.Logger
	next   controller.Host
	now    func() time.Time

	mu      sync.Mutex
	state   controller.State
	step    task.Step
	err     *controller.Error
	endedAt *time.Time
}

func newRelay(logger *slog.Logger, next controller.Host, now func() time.Time) *relay {
	return &relay{
		logger: logger,
		next:   next,
		now:    now,
		state:  controller.StateNotStarted,
	}
}

// started marks the attempt running unless it already reported an outcome.
func (r *relay) started() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == controller.StateNotStarted {
		r.state = controller.StateRunning
	}
}

func (r *relay) OnProgress(step task.Step) {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return
	}
	r.state = controller.StateRunning
	r.step = step
	r.mu.Unlock()

	r.logger.Debug("progress", "step", step)
	if r.next != nil {
		r.next.OnProgress(step)
	}
}

func (r *relay) OnSuccess() {
	r.end(controller.StateSucceeded, nil)
	if r.next != nil {
		r.next.OnSuccess()
	}
}

func (r *relay) OnError(err *controller.Error) {
	r.end(controller.StateFailed, err)
	if r.next != nil {
		r.next.OnError(err)
	}
}

func (r *relay) OnCancelled() {
	r.end(controller.StateCancelled, nil)
	if r.next != nil {
		r.next.OnCancelled()
	}
}

// end records the first outcome. Re-reported outcomes change nothing.
func (r *relay) end(state controller.State, err *controller.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	now := r.now()
	r.state, r.err, r.endedAt = state, err, &now
	r.logger.Info("attempt ended", "state", state)
}

func (r *relay) snapshot() (controller.State, task.Step, *controller.Error, *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.step, r.err, r.endedAt
}

func (r *relay) terminal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Terminal()
}
