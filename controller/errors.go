package controller

import (
	"errors"
	"fmt"

	"github.com/nomis52/provisiond/task"
)

var (
	// ErrNotInitialized is returned by Start before a successful Initialize.
	ErrNotInitialized = errors.New("controller not initialized")
	// ErrAlreadyStarted is returned by Initialize once the attempt has left
	// the not_started state.
	ErrAlreadyStarted = errors.New("provisioning already started")

	ErrDeviceOwnerExists  = errors.New("device already has a device owner")
	ErrAlreadyProvisioned = errors.New("user already provisioned")
	ErrProfileUnsupported = errors.New("os version does not support this flow")
	ErrAdminUnresolvable  = errors.New("installed admin package declares no admin receiver")
)

// Names used in Error.Task for failures outside the pipeline.
const (
	StagePreconditions = "preconditions"
	StageCreateProfile = "create_profile"
	StageFinalize      = "finalize"
)

// Error is the terminal error of a provisioning attempt.
type Error struct {
	Category task.Category
	// Task is the failed task name, or one of the Stage names.
	Task string
	// Code is set when a task reported the failure.
	Code task.Code
	// FactoryResetRequired is set once a device owner flow has passed its
	// point of no return. The device cannot be used unmanaged any more.
	FactoryResetRequired bool
	// Err is the underlying error for failures outside a task.
	Err error
}

func (e *Error) Error() string {
	cause := e.Category.String()
	switch {
	case e.Code != nil:
		cause = e.Code.Error()
	case e.Err != nil:
		cause = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Task, cause)
}

func (e *Error) Unwrap() error {
	if e.Code != nil {
		return e.Code
	}
	return e.Err
}

// Message is the sentence shown to the user.
func (e *Error) Message() string {
	if e.FactoryResetRequired {
		return e.Category.Message() + " The device must be factory reset."
	}
	return e.Category.Message()
}

func taskError(name string, code task.Code, committed bool) *Error {
	return &Error{
		Category:             code.Category(),
		Task:                 name,
		Code:                 code,
		FactoryResetRequired: committed,
	}
}

func stageError(stage string, category task.Category, err error, committed bool) *Error {
	return &Error{
		Category:             category,
		Task:                 stage,
		FactoryResetRequired: committed,
		Err:                  err,
	}
}
