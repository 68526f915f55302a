package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/task"
)

// ErrNoAdminReceiverDeclared is returned by ResolveAdmin when the installed
// package has no matching device admin receiver.
var ErrNoAdminReceiverDeclared = errors.New("no device admin receiver declared")

// PolicyError is the closed set of SetDevicePolicy failures.
type PolicyError int

const (
	ErrPackageNotInstalled PolicyError = iota + 1
	ErrNoAdminReceiver
	ErrPolicyFailed
	// ErrOwnerAssignFailed leaves the admin active without ownership.
	ErrOwnerAssignFailed
)

func (e PolicyError) Error() string {
	switch e {
	case ErrPackageNotInstalled:
		return "admin package is not installed"
	case ErrNoAdminReceiver:
		return "admin package declares no device admin receiver"
	case ErrPolicyFailed:
		return "failed to activate admin"
	case ErrOwnerAssignFailed:
		return "admin activated but owner assignment failed"
	default:
		return "unknown policy error"
	}
}

// Category implements task.Code.
func (e PolicyError) Category() task.Category {
	switch e {
	case ErrPackageNotInstalled:
		return task.CategoryPackageNotInstalled
	case ErrNoAdminReceiver:
		return task.CategoryPackageInvalid
	default:
		return task.CategoryPolicy
	}
}

// SetDevicePolicy activates the admin and makes it device or profile owner.
// For device owner variants this is the point of no return.
type SetDevicePolicy struct {
	params   *params.Params
	packages device.PackageManager
	policy   device.PolicyManager
	logger   *slog.Logger
}

// NewSetDevicePolicy creates the policy activation task.
func NewSetDevicePolicy(p *params.Params, packages device.PackageManager, policy device.PolicyManager, logger *slog.Logger) *SetDevicePolicy {
	return &SetDevicePolicy{
		params:   p,
		packages: packages,
		policy:   policy,
		logger:   logger,
	}
}

func (t *SetDevicePolicy) Name() string    { return NameSetDevicePolicy }
func (t *SetDevicePolicy) Step() task.Step { return task.StepPolicy }

// Run implements task.Task.
func (t *SetDevicePolicy) Run(ctx context.Context, userID int, cb task.Callback) {
	pkg := t.params.AdminPackage()
	if _, err := t.packages.PackageInfo(ctx, pkg, userID); err != nil {
		t.logger.Error("admin package not installed", "package", pkg, "user", userID, "error", err)
		cb.OnError(t, ErrPackageNotInstalled)
		return
	}

	admin, err := ResolveAdmin(ctx, t.packages, t.params, userID)
	if err != nil {
		t.logger.Error("failed to resolve admin component", "package", pkg, "error", err)
		cb.OnError(t, ErrNoAdminReceiver)
		return
	}

	if err := t.policy.SetActiveAdmin(ctx, admin, userID); err != nil {
		t.logger.Error("failed to set active admin", "admin", admin.String(), "error", err)
		cb.OnError(t, ErrPolicyFailed)
		return
	}

	if t.params.Variant().IsDeviceOwner() {
		err = t.policy.SetDeviceOwner(ctx, admin, userID)
	} else {
		err = t.policy.SetProfileOwner(ctx, admin, userID)
	}
	if err != nil {
		t.logger.Error("failed to assign owner", "admin", admin.String(), "variant", t.params.Variant().String(), "error", err)
		cb.OnError(t, ErrOwnerAssignFailed)
		return
	}

	t.logger.Info("admin activated", "admin", admin.String(), "user", userID, "variant", t.params.Variant().String())
	cb.OnSuccess(t)
}

// ResolveAdmin finds the device admin receiver of the admin package
// installed for userID. An explicit admin component must be declared with
// the bind permission; otherwise the first receiver holding it is used.
func ResolveAdmin(ctx context.Context, packages device.PackageManager, p *params.Params, userID int) (params.ComponentName, error) {
	pkg := p.AdminPackage()
	receivers, err := packages.Receivers(ctx, pkg, userID)
	if err != nil {
		return params.ComponentName{}, fmt.Errorf("listing receivers of %s: %w", pkg, err)
	}

	want := p.AdminComponent()
	for _, r := range receivers {
		if r.Permission != device.PermissionBindDeviceAdmin {
			continue
		}
		class := params.QualifyClass(pkg, r.Class)
		if want.IsZero() || want.Class == class {
			return params.ComponentName{Package: pkg, Class: class}, nil
		}
	}
	return params.ComponentName{}, fmt.Errorf("%w in %s", ErrNoAdminReceiverDeclared, pkg)
}
