package tasks

import (
	"context"
	"log/slog"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/task"
)

// DisableInstallShortcutListeners disables every receiver of the install
// shortcut broadcast in a managed profile except the admin's own, so apps
// in the profile cannot pin shortcuts onto the personal launcher.
//
// It never fails: components that cannot be disabled are logged.
type DisableInstallShortcutListeners struct {
	params   *params.Params
	packages device.PackageManager
	logger   *slog.Logger
}

func NewDisableInstallShortcutListeners(p *params.Params, packages device.PackageManager, logger *slog.Logger) *DisableInstallShortcutListeners {
	return &DisableInstallShortcutListeners{
		params:   p,
		packages: packages,
		logger:   logger,
	}
}

func (t *DisableInstallShortcutListeners) Name() string    { return NameDisableInstallShortcutListeners }
func (t *DisableInstallShortcutListeners) Step() task.Step { return task.StepProfileSetup }

// Run implements task.Task.
func (t *DisableInstallShortcutListeners) Run(ctx context.Context, userID int, cb task.Callback) {
	receivers, err := t.packages.ReceiversForAction(ctx, device.ActionInstallShortcut, userID)
	if err != nil {
		t.logger.Warn("failed to list shortcut listeners", "user", userID, "error", err)
		cb.OnSuccess(t)
		return
	}

	admin := t.params.AdminPackage()
	disabled := 0
	for _, c := range receivers {
		if c.Package == admin {
			continue
		}
		if err := t.packages.SetComponentEnabled(ctx, c, userID, false); err != nil {
			t.logger.Warn("failed to disable shortcut listener", "component", c.String(), "error", err)
			continue
		}
		disabled++
	}
	t.logger.Info("shortcut listeners disabled", "user", userID, "disabled", disabled)
	cb.OnSuccess(t)
}
