// Package task defines the contract every provisioning step implements.
//
// # Contract
//
// Run performs the step against one user and reports its outcome by calling
// exactly one of Callback.OnSuccess or Callback.OnError, exactly once. The
// call may happen before Run returns or later from another goroutine.
// Failures from OS services are classified inside the task into a Code from
// the task's own closed set; raw errors never cross the callback.
//
// Tasks hold no state between runs and must be safe to run again after a
// previous success: the second run reaches the same end state and reports
// success without repeating side effects.
//
// # Continuation
//
// The controller does not chain callbacks. It hands each task a fresh Sink,
// which turns the callback into a single Result on a channel, and reads one
// Result before starting the next task.
package task

import (
	"context"
)

// Step is a coarse progress identifier shown to the user.
type Step string

const (
	StepPrepare      Step = "preparing"
	StepSettings     Step = "applying_settings"
	StepNetwork      Step = "connecting_network"
	StepDownload     Step = "downloading"
	StepInstall      Step = "installing"
	StepPolicy       Step = "activating_admin"
	StepDeleteApps   Step = "removing_apps"
	StepProfileSetup Step = "configuring_profile"
	StepFinalize     Step = "finalizing"
)

// Task is one step of a provisioning pipeline.
type Task interface {
	// Name identifies the task in logs, metrics and status.
	Name() string
	// Step is the progress identifier reported while the task runs.
	Step() Step
	// Run applies the task to userID and reports through cb.
	Run(ctx context.Context, userID int, cb Callback)
}

// Callback receives the outcome of Task.Run.
type Callback interface {
	OnSuccess(t Task)
	OnError(t Task, code Code)
}

// Code classifies a task failure. Each task declares its own closed set of
// codes as a named integer type.
type Code interface {
	error
	Category() Category
}

// Cleaner is implemented by tasks holding transient resources, such as a
// downloaded file, that must be released once the attempt ends.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}
