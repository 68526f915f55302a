package tasks

import (
	"context"
	"log/slog"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/task"
)

// RestrictionError is the closed set of DisallowAddUser failures.
type RestrictionError int

const (
	ErrRestrictionFailed RestrictionError = iota + 1
)

func (e RestrictionError) Error() string {
	if e == ErrRestrictionFailed {
		return "failed to set user restriction"
	}
	return "unknown restriction error"
}

// Category implements task.Code.
func (e RestrictionError) Category() task.Category {
	return task.CategoryPolicy
}

// DisallowAddUser stops further users being added to a device owner device.
type DisallowAddUser struct {
	policy device.PolicyManager
	logger *slog.Logger
}

func NewDisallowAddUser(policy device.PolicyManager, logger *slog.Logger) *DisallowAddUser {
	return &DisallowAddUser{policy: policy, logger: logger}
}

func (t *DisallowAddUser) Name() string    { return NameDisallowAddUser }
func (t *DisallowAddUser) Step() task.Step { return task.StepPolicy }

// Run implements task.Task.
func (t *DisallowAddUser) Run(ctx context.Context, userID int, cb task.Callback) {
	if err := t.policy.SetUserRestriction(ctx, device.RestrictionNoAddUser, true, userID); err != nil {
		t.logger.Error("failed to disallow adding users", "user", userID, "error", err)
		cb.OnError(t, ErrRestrictionFailed)
		return
	}
	cb.OnSuccess(t)
}
