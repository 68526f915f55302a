package sim

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
)

// PackageInfo implements device.PackageManager.
func (d *Device) PackageInfo(_ context.Context, pkg string, userID int) (device.PackageInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	version, ok := d.installed[userID][pkg]
	if !ok {
		return device.PackageInfo{}, fmt.Errorf("package %s for user %d: %w", pkg, userID, device.ErrNotFound)
	}
	info := device.PackageInfo{Name: pkg, VersionCode: version}
	if p, ok := d.packages[pkg]; ok {
		info.System = p.system
	}
	return info, nil
}

// SystemPackages implements device.PackageManager.
func (d *Device) SystemPackages(_ context.Context, userID int) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpSystemPackages); err != nil {
		return nil, err
	}
	if _, ok := d.users[userID]; !ok {
		return nil, fmt.Errorf("user %d: %w", userID, device.ErrNotFound)
	}
	return d.matching(func(p *simPackage) bool { return p.system }), nil
}

// LauncherPackages implements device.PackageManager.
func (d *Device) LauncherPackages(_ context.Context, userID int) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpLauncherPackages); err != nil {
		return nil, err
	}
	return d.installedMatching(userID, func(p *simPackage) bool { return p.launcher }), nil
}

// InputMethodPackages implements device.PackageManager.
func (d *Device) InputMethodPackages(_ context.Context, userID int) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.installedMatching(userID, func(p *simPackage) bool { return p.inputMethod }), nil
}

// AccessibilityPackages implements device.PackageManager.
func (d *Device) AccessibilityPackages(_ context.Context, userID int) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.installedMatching(userID, func(p *simPackage) bool { return p.accessibility }), nil
}

func (d *Device) matching(keep func(*simPackage) bool) []string {
	var out []string
	for name, p := range d.packages {
		if keep(p) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

func (d *Device) installedMatching(userID int, keep func(*simPackage) bool) []string {
	var out []string
	for name := range d.installed[userID] {
		if p, ok := d.packages[name]; ok && keep(p) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Receivers implements device.PackageManager.
func (d *Device) Receivers(_ context.Context, pkg string, userID int) ([]device.Receiver, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.installed[userID][pkg]; !ok {
		return nil, fmt.Errorf("package %s for user %d: %w", pkg, userID, device.ErrNotFound)
	}
	return slices.Clone(d.packages[pkg].manifest.Receivers), nil
}

// ArchiveInfo implements device.PackageManager.
func (d *Device) ArchiveInfo(_ context.Context, path string) (device.ArchiveInfo, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return device.ArchiveInfo{}, err
	}
	m, err := ParseManifest(b)
	if err != nil {
		return device.ArchiveInfo{}, err
	}
	return m.ArchiveInfo()
}

// ForceInstallStatus makes every later install report status without
// changing any state. Pass nil to restore normal installs.
func (d *Device) ForceInstallStatus(status *device.InstallStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.installForce = status
}

// Install implements device.PackageManager. The observer is called before
// Install returns, twice with WithDuplicateEvents.
func (d *Device) Install(_ context.Context, path string, userID int, observer device.InstallObserver) error {
	status, message, err := d.install(path, userID)
	if err != nil {
		return err
	}
	observer(status, message)
	if d.duplicate {
		observer(status, message)
	}
	return nil
}

func (d *Device) install(path string, userID int) (device.InstallStatus, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpInstall); err != nil {
		return 0, "", err
	}
	if d.installForce != nil {
		return *d.installForce, "forced", nil
	}
	if _, ok := d.users[userID]; !ok {
		return 0, "", fmt.Errorf("user %d: %w", userID, device.ErrNotFound)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return device.InstallFailedInvalidArchive, err.Error(), nil
	}
	m, err := ParseManifest(b)
	if err != nil {
		return device.InstallFailedInvalidArchive, err.Error(), nil
	}

	if current, ok := d.installed[userID][m.Package]; ok && current > m.VersionCode {
		return device.InstallFailedVersionDowngrade, fmt.Sprintf("installed %d, package %d", current, m.VersionCode), nil
	}

	p, ok := d.packages[m.Package]
	if !ok {
		p = &simPackage{}
		d.packages[m.Package] = p
	}
	p.manifest = m
	d.installed[userID][m.Package] = m.VersionCode
	d.installCount++
	return device.InstallSucceeded, "", nil
}

// InstallExisting implements device.PackageManager.
func (d *Device) InstallExisting(_ context.Context, pkg string, userID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpInstallExisting); err != nil {
		return err
	}
	p, ok := d.packages[pkg]
	if !ok {
		return fmt.Errorf("package %s: %w", pkg, device.ErrNotFound)
	}
	if _, ok := d.users[userID]; !ok {
		return fmt.Errorf("user %d: %w", userID, device.ErrNotFound)
	}
	d.installed[userID][pkg] = p.manifest.VersionCode
	return nil
}

// Uninstall implements device.PackageManager.
func (d *Device) Uninstall(_ context.Context, pkg string, userID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpUninstall); err != nil {
		return err
	}
	if _, ok := d.installed[userID][pkg]; !ok {
		return fmt.Errorf("package %s for user %d: %w", pkg, userID, device.ErrNotFound)
	}
	delete(d.installed[userID], pkg)
	d.uninstalled[userID] = append(d.uninstalled[userID], pkg)
	return nil
}

// ReceiversForAction implements device.PackageManager.
func (d *Device) ReceiversForAction(_ context.Context, action string, userID int) ([]params.ComponentName, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []params.ComponentName
	for name := range d.installed[userID] {
		p, ok := d.packages[name]
		if !ok {
			continue
		}
		for _, r := range p.manifest.Receivers {
			if slices.Contains(r.Actions, action) {
				out = append(out, params.ComponentName{Package: name, Class: params.QualifyClass(name, r.Class)})
			}
		}
	}
	slices.SortFunc(out, func(a, b params.ComponentName) int {
		return strings.Compare(a.String(), b.String())
	})
	return out, nil
}

// SetComponentEnabled implements device.PackageManager. Only disabling is
// recorded.
func (d *Device) SetComponentEnabled(_ context.Context, component params.ComponentName, userID int, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if enabled {
		d.disabled[userID] = slices.DeleteFunc(d.disabled[userID], func(c params.ComponentName) bool { return c == component })
		return nil
	}
	if !slices.Contains(d.disabled[userID], component) {
		d.disabled[userID] = append(d.disabled[userID], component)
	}
	return nil
}

// InstallCount counts the installs that changed state.
func (d *Device) InstallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.installCount
}

// IsInstalled reports whether pkg is installed for userID.
func (d *Device) IsInstalled(pkg string, userID int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.installed[userID][pkg]
	return ok
}

// Uninstalled returns the packages removed from userID, in order.
func (d *Device) Uninstalled(userID int) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.uninstalled[userID])
}

// DisabledComponents returns the components disabled for userID.
func (d *Device) DisabledComponents(userID int) []params.ComponentName {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.disabled[userID])
}

// SetTime implements device.Settings.
func (d *Device) SetTime(_ context.Context, t time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock = t.Format(time.RFC3339)
	return nil
}

// OSVersion implements device.Settings.
func (d *Device) OSVersion(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.osVersion, nil
}

// CopyAccount implements device.AccountManager.
func (d *Device) CopyAccount(_ context.Context, account params.Account, fromUserID, toUserID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpCopyAccount); err != nil {
		return err
	}
	if _, ok := d.users[toUserID]; !ok {
		return fmt.Errorf("user %d: %w", toUserID, device.ErrNotFound)
	}
	d.accounts[toUserID] = append(d.accounts[toUserID], account)
	return nil
}

// SendProvisioningComplete implements device.Broadcaster.
func (d *Device) SendProvisioningComplete(_ context.Context, admin params.ComponentName, userID int, extras map[string]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpBroadcast); err != nil {
		return err
	}
	d.broadcasts = append(d.broadcasts, Broadcast{Admin: admin, UserID: userID, Extras: extras})
	return nil
}
