package sim

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
)

// CreateProfile implements device.UserManager. The new profile gets every
// system package; anything else has to be installed into it.
func (d *Device) CreateProfile(_ context.Context, name string, parentUserID int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpCreateProfile); err != nil {
		return 0, err
	}
	if _, ok := d.users[parentUserID]; !ok {
		return 0, fmt.Errorf("parent user %d: %w", parentUserID, device.ErrNotFound)
	}

	profiles := 0
	for _, u := range d.users {
		if u.profile {
			profiles++
		}
	}
	if profiles >= d.maxProfiles {
		return 0, fmt.Errorf("creating profile %q: %w", name, device.ErrUserLimitReached)
	}

	id := d.nextUser
	d.nextUser++
	d.users[id] = &user{id: id, parent: parentUserID, profile: true}
	d.installed[id] = make(map[string]int64)
	for pkg, p := range d.packages {
		if p.system {
			d.installed[id][pkg] = p.manifest.VersionCode
		}
	}
	d.created++
	return id, nil
}

// RemoveUser implements device.UserManager.
func (d *Device) RemoveUser(_ context.Context, userID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpRemoveUser); err != nil {
		return err
	}
	if userID == device.SystemUser {
		return fmt.Errorf("cannot remove the system user")
	}
	if _, ok := d.users[userID]; !ok {
		return fmt.Errorf("user %d: %w", userID, device.ErrNotFound)
	}
	delete(d.users, userID)
	delete(d.installed, userID)
	delete(d.activeAdmins, userID)
	delete(d.profileOwners, userID)
	delete(d.provState, userID)
	delete(d.restrictions, userID)
	d.filters = slices.DeleteFunc(d.filters, func(f FilterRecord) bool {
		return f.Source == userID || f.Target == userID
	})
	return nil
}

// SetActiveAdmin implements device.PolicyManager.
func (d *Device) SetActiveAdmin(_ context.Context, admin params.ComponentName, userID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpSetActiveAdmin); err != nil {
		return err
	}
	if _, ok := d.installed[userID][admin.Package]; !ok {
		return fmt.Errorf("admin package %s for user %d: %w", admin.Package, userID, device.ErrNotFound)
	}
	if !slices.Contains(d.activeAdmins[userID], admin) {
		d.activeAdmins[userID] = append(d.activeAdmins[userID], admin)
	}
	return nil
}

// SetDeviceOwner implements device.PolicyManager. Setting the same owner
// again succeeds.
func (d *Device) SetDeviceOwner(_ context.Context, admin params.ComponentName, userID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpSetDeviceOwner); err != nil {
		return err
	}
	if d.deviceOwner != nil && *d.deviceOwner != admin {
		return fmt.Errorf("device owner %s: %w", d.deviceOwner, ErrOwnerExists)
	}
	if !slices.Contains(d.activeAdmins[userID], admin) {
		return fmt.Errorf("admin %s is not active for user %d", admin, userID)
	}
	d.deviceOwner = &admin
	return nil
}

// SetProfileOwner implements device.PolicyManager.
func (d *Device) SetProfileOwner(_ context.Context, admin params.ComponentName, userID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpSetProfileOwner); err != nil {
		return err
	}
	if owner, ok := d.profileOwners[userID]; ok && owner != admin {
		return fmt.Errorf("profile owner %s: %w", owner, ErrOwnerExists)
	}
	if !slices.Contains(d.activeAdmins[userID], admin) {
		return fmt.Errorf("admin %s is not active for user %d", admin, userID)
	}
	d.profileOwners[userID] = admin
	return nil
}

// HasDeviceOwner implements device.PolicyManager.
func (d *Device) HasDeviceOwner(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceOwner != nil, nil
}

// ProvisioningState implements device.PolicyManager.
func (d *Device) ProvisioningState(_ context.Context, userID int) (device.ProvisioningState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.provState[userID], nil
}

// SetProvisioningState implements device.PolicyManager.
func (d *Device) SetProvisioningState(_ context.Context, state device.ProvisioningState, userID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpSetProvisioningState); err != nil {
		return err
	}
	d.provState[userID] = state
	return nil
}

// SetUserRestriction implements device.PolicyManager.
func (d *Device) SetUserRestriction(_ context.Context, restriction string, enabled bool, userID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpSetRestriction); err != nil {
		return err
	}
	if d.restrictions[userID] == nil {
		d.restrictions[userID] = make(map[string]bool)
	}
	d.restrictions[userID][restriction] = enabled
	return nil
}

// ClearCrossProfileIntentFilters implements device.PolicyManager.
func (d *Device) ClearCrossProfileIntentFilters(_ context.Context, userID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filters = slices.DeleteFunc(d.filters, func(f FilterRecord) bool {
		return f.Source == userID || f.Target == userID
	})
	return nil
}

// AddCrossProfileIntentFilter implements device.PolicyManager.
func (d *Device) AddCrossProfileIntentFilter(_ context.Context, filter device.IntentFilter, sourceUserID, targetUserID int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail(OpAddFilter); err != nil {
		return err
	}
	d.filters = append(d.filters, FilterRecord{Filter: filter, Source: sourceUserID, Target: targetUserID})
	return nil
}

// DeviceOwner returns the current device owner.
func (d *Device) DeviceOwner() (params.ComponentName, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deviceOwner == nil {
		return params.ComponentName{}, false
	}
	return *d.deviceOwner, true
}

// ProfileOwner returns the profile owner of userID.
func (d *Device) ProfileOwner(userID int) (params.ComponentName, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	owner, ok := d.profileOwners[userID]
	return owner, ok
}

// Restrictions returns the restrictions set for userID.
func (d *Device) Restrictions(userID int) map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.restrictions[userID])
}

// Filters returns every filter touching userID.
func (d *Device) Filters(userID int) []FilterRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []FilterRecord
	for _, f := range d.filters {
		if f.Source == userID || f.Target == userID {
			out = append(out, f)
		}
	}
	return out
}
