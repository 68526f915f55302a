package controller

import "github.com/nomis52/provisiond/task"

// Host receives the progress of an attempt. Calls come from the
// controller's worker goroutine, or from the caller of Cancel and
// UpdateStatus, and must not block.
type Host interface {
	OnProgress(step task.Step)
	OnSuccess()
	OnError(err *Error)
	OnCancelled()
}

type nopHost struct{}

func (nopHost) OnProgress(task.Step) {}
func (nopHost) OnSuccess()           {}
func (nopHost) OnError(*Error)       {}
func (nopHost) OnCancelled()         {}
