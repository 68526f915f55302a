// Package tasks implements the concrete provisioning steps.
//
// Each task wraps one externally effected operation, classifies its outcome
// into its own closed set of error codes and reports through task.Callback
// exactly once per Run. Tasks that wait on OS broadcasts (wifi, download,
// install) subscribe before triggering the operation, stop listening after
// the first relevant event and bound the wait with a timeout, so duplicate
// or missing broadcasts never produce a second callback or a hang.
//
// Every task is safe to run again after a success:
//
//	AddWifiNetwork          no-op when already connected
//	DownloadPackage         skipped when the minimum version is installed
//	InstallPackage          skipped when the same version is installed
//	SetDevicePolicy         re-activating the same admin is accepted by the OS
//	DeleteNonRequiredApps   recomputes the set from the current app lists
//	CrossProfileIntentFiltersSetter  clears before re-adding
package tasks

import "time"

// Default waits for asynchronous OS operations.
const (
	DefaultWifiConnectTimeout = 60 * time.Second
	DefaultDownloadTimeout    = 10 * time.Minute
	DefaultInstallTimeout     = 5 * time.Minute
)

// Timeouts bounds the asynchronous waits of the tasks.
type Timeouts struct {
	WifiConnect time.Duration
	Download    time.Duration
	Install     time.Duration
}

// WithDefaults returns t with unset fields replaced by the defaults.
func (t Timeouts) WithDefaults() Timeouts {
	if t.WifiConnect <= 0 {
		t.WifiConnect = DefaultWifiConnectTimeout
	}
	if t.Download <= 0 {
		t.Download = DefaultDownloadTimeout
	}
	if t.Install <= 0 {
		t.Install = DefaultInstallTimeout
	}
	return t
}

// Task names, as returned by Name.
const (
	NameApplySettings                   = "apply_settings"
	NameAddWifiNetwork                  = "add_wifi_network"
	NameDownloadPackage                 = "download_package"
	NameInstallPackage                  = "install_package"
	NameInstallExistingPackage          = "install_existing_package"
	NameSetDevicePolicy                 = "set_device_policy"
	NameDeleteNonRequiredApps           = "delete_non_required_apps"
	NameDisallowAddUser                 = "disallow_add_user"
	NameDisableInstallShortcutListeners = "disable_install_shortcut_listeners"
	NameCrossProfileIntentFilters       = "cross_profile_intent_filters"
	NameMigrateAccount                  = "migrate_account"
)
