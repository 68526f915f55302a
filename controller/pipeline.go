package controller

import (
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/task"
	"github.com/nomis52/provisiond/tasks"
)

// step is one pipeline entry.
type step struct {
	task task.Task
	// onProfile runs the task against the profile created by the attempt
	// instead of the calling user.
	onProfile bool
	// commit marks the point of no return of device owner flows.
	commit bool
}

// buildPipeline returns the fixed task order for the variant of p.
func (c *Controller) buildPipeline(p *params.Params) []step {
	svc := c.deps.Device

	settings := tasks.NewApplySettings(p, svc.Settings, c.taskLogger(tasks.NameApplySettings))
	wifi := tasks.NewAddWifiNetwork(p, svc.Network, c.timeouts.WifiConnect, c.taskLogger(tasks.NameAddWifiNetwork))
	download := tasks.NewDownloadPackage(p, svc.Network, svc.Downloader, svc.Packages, c.timeouts.Download, c.taskLogger(tasks.NameDownloadPackage)).
		WithStatusLine(c.statusLine(tasks.NameDownloadPackage))
	install := tasks.NewInstallPackage(p, download, svc.Packages, c.timeouts.Install, c.taskLogger(tasks.NameInstallPackage))
	policy := tasks.NewSetDevicePolicy(p, svc.Packages, svc.Policy, c.taskLogger(tasks.NameSetDevicePolicy))
	deleteApps := tasks.NewDeleteNonRequiredApps(tasks.DeleteAppsConfigFor(p, c.deps.Apps), svc.Packages, c.deps.Snapshots, c.taskLogger(tasks.NameDeleteNonRequiredApps)).
		WithStatusLine(c.statusLine(tasks.NameDeleteNonRequiredApps))
	installExisting := func() task.Task {
		return tasks.NewInstallExistingPackage(p, svc.Packages, c.taskLogger(tasks.NameInstallExistingPackage))
	}

	switch p.Variant() {
	case params.DeviceOwner:
		return []step{
			{task: settings},
			{task: wifi},
			{task: download},
			{task: install},
			{task: policy, commit: true},
			{task: deleteApps},
			{task: tasks.NewDisallowAddUser(svc.Policy, c.taskLogger(tasks.NameDisallowAddUser))},
		}
	case params.ManagedShareableDevice:
		return []step{
			{task: settings},
			{task: wifi},
			{task: download},
			{task: install},
			{task: policy, commit: true},
			{task: deleteApps},
		}
	case params.ProfileOwner:
		return []step{
			{task: wifi},
			{task: download},
			{task: install},
			{task: installExisting(), onProfile: true},
			{task: policy, onProfile: true},
			{task: deleteApps, onProfile: true},
			{task: tasks.NewDisableInstallShortcutListeners(p, svc.Packages, c.taskLogger(tasks.NameDisableInstallShortcutListeners)), onProfile: true},
			{task: tasks.NewCrossProfileIntentFiltersSetter(svc.Policy, c.callingUser, c.taskLogger(tasks.NameCrossProfileIntentFilters)), onProfile: true},
			{task: tasks.NewMigrateAccount(p, svc.Accounts, c.callingUser, c.taskLogger(tasks.NameMigrateAccount)), onProfile: true},
		}
	case params.ManagedUser:
		return []step{
			{task: download},
			{task: install},
			{task: installExisting()},
			{task: policy},
			{task: deleteApps},
		}
	default:
		return nil
	}
}
