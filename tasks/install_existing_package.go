package tasks

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/task"
)

// InstallExistingError is the closed set of InstallExistingPackage failures.
type InstallExistingError int

const (
	ErrInstallExistingFailed InstallExistingError = iota + 1
)

func (e InstallExistingError) Error() string {
	if e == ErrInstallExistingFailed {
		return "failed to install admin package for user"
	}
	return "unknown install existing error"
}

// Category implements task.Code.
func (e InstallExistingError) Category() task.Category {
	return task.CategoryInstallFailed
}

// InstallExistingPackage makes the admin package, already present on the
// device, available to a new profile or user.
type InstallExistingPackage struct {
	params   *params.Params
	packages device.PackageManager
	logger   *slog.Logger
}

func NewInstallExistingPackage(p *params.Params, packages device.PackageManager, logger *slog.Logger) *InstallExistingPackage {
	return &InstallExistingPackage{
		params:   p,
		packages: packages,
		logger:   logger,
	}
}

func (t *InstallExistingPackage) Name() string    { return NameInstallExistingPackage }
func (t *InstallExistingPackage) Step() task.Step { return task.StepInstall }

// Run implements task.Task.
func (t *InstallExistingPackage) Run(ctx context.Context, userID int, cb task.Callback) {
	pkg := t.params.AdminPackage()

	_, err := t.packages.PackageInfo(ctx, pkg, userID)
	if err == nil {
		t.logger.Info("admin package already installed for user", "package", pkg, "user", userID)
		cb.OnSuccess(t)
		return
	}
	if !errors.Is(err, device.ErrNotFound) {
		t.logger.Warn("failed to query package", "package", pkg, "user", userID, "error", err)
	}

	if err := t.packages.InstallExisting(ctx, pkg, userID); err != nil {
		t.logger.Error("failed to install existing package", "package", pkg, "user", userID, "error", err)
		cb.OnError(t, ErrInstallExistingFailed)
		return
	}
	t.logger.Info("installed existing package", "package", pkg, "user", userID)
	cb.OnSuccess(t)
}
