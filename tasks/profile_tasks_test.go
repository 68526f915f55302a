package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/device/sim"
	"github.com/nomis52/provisiond/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProfile(t *testing.T, d *sim.Device) int {
	t.Helper()
	id, err := d.CreateProfile(context.Background(), "Work", device.SystemUser)
	require.NoError(t, err)
	return id
}

func TestCrossProfileIntentFiltersSetter(t *testing.T) {
	d := newDevice(t, sim.Fixture{})
	profile := newProfile(t, d)
	tk := NewCrossProfileIntentFiltersSetter(d, device.SystemUser, discardLogger())

	requireSuccess(t, run(t, tk, profile))
	filters := d.Filters(profile)
	require.Len(t, filters, len(DefaultForwardingRules))

	var toParent, toProfile int
	for _, f := range filters {
		switch {
		case f.Source == profile && f.Target == device.SystemUser:
			toParent++
		case f.Source == device.SystemUser && f.Target == profile:
			toProfile++
		}
		assert.NotContains(t, f.Filter.Categories, "android.intent.category.HOME")
	}
	assert.Equal(t, 4, toParent)
	assert.Equal(t, 3, toProfile)

	requireSuccess(t, run(t, tk, profile))
	assert.Len(t, d.Filters(profile), len(DefaultForwardingRules), "re-run clears before adding")
}

func TestCrossProfileIntentFiltersSetter_Fails(t *testing.T) {
	d := newDevice(t, sim.Fixture{})
	profile := newProfile(t, d)
	d.SetError(sim.OpAddFilter, errors.New("denied"))

	requireError(t, run(t, NewCrossProfileIntentFiltersSetter(d, device.SystemUser, discardLogger()), profile), ErrFilterFailed)
}

func TestDisallowAddUser(t *testing.T) {
	d := newDevice(t, sim.Fixture{})
	requireSuccess(t, run(t, NewDisallowAddUser(d, discardLogger()), device.SystemUser))
	assert.True(t, d.Restrictions(device.SystemUser)[device.RestrictionNoAddUser])

	d.SetError(sim.OpSetRestriction, errors.New("denied"))
	requireError(t, run(t, NewDisallowAddUser(d, discardLogger()), device.SystemUser), ErrRestrictionFailed)
}

func TestInstallExistingPackage(t *testing.T) {
	d := newDevice(t, installedAdminFixture(4))
	profile := newProfile(t, d)
	tk := NewInstallExistingPackage(buildParams(t, params.Request{Variant: params.ProfileOwner}), d, discardLogger())

	require.False(t, d.IsInstalled(testAdminPackage, profile))
	requireSuccess(t, run(t, tk, profile))
	assert.True(t, d.IsInstalled(testAdminPackage, profile))
	requireSuccess(t, run(t, tk, profile))
}

func TestInstallExistingPackage_Fails(t *testing.T) {
	d := newDevice(t, sim.Fixture{})
	profile := newProfile(t, d)
	tk := NewInstallExistingPackage(buildParams(t, params.Request{Variant: params.ProfileOwner}), d, discardLogger())

	requireError(t, run(t, tk, profile), ErrInstallExistingFailed)
}

func TestDisableInstallShortcutListeners(t *testing.T) {
	launcher := sim.PackageFixture{
		Manifest: sim.Manifest{
			Package:   "com.android.launcher",
			Receivers: []device.Receiver{{Class: ".InstallShortcutReceiver", Actions: []string{device.ActionInstallShortcut}}},
		},
		System: true,
	}
	f := installedAdminFixture(4)
	f.Packages = append(f.Packages, launcher)
	d := newDevice(t, f)
	profile := newProfile(t, d)
	require.NoError(t, d.InstallExisting(context.Background(), testAdminPackage, profile))

	tk := NewDisableInstallShortcutListeners(buildParams(t, params.Request{Variant: params.ProfileOwner}), d, discardLogger())
	requireSuccess(t, run(t, tk, profile))

	assert.Equal(t, []params.ComponentName{
		{Package: "com.android.launcher", Class: "com.android.launcher.InstallShortcutReceiver"},
	}, d.DisabledComponents(profile), "the admin's own listener stays enabled")
}

func TestApplySettings(t *testing.T) {
	d := newDevice(t, sim.Fixture{})
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := buildParams(t, params.Request{TimeZone: "Europe/Berlin", Locale: "de_DE", LocalTime: &at})

	requireSuccess(t, run(t, NewApplySettings(p, d, discardLogger()), device.SystemUser))
	tz, locale, clock := d.CurrentSettings()
	assert.Equal(t, "Europe/Berlin", tz)
	assert.Equal(t, "de_DE", locale)
	assert.Equal(t, "2024-03-01T12:00:00Z", clock)
}

func TestApplySettings_NothingToApply(t *testing.T) {
	d := newDevice(t, sim.Fixture{})
	requireSuccess(t, run(t, NewApplySettings(buildParams(t, params.Request{}), d, discardLogger()), device.SystemUser))
	tz, locale, clock := d.CurrentSettings()
	assert.Empty(t, tz+locale+clock)
}

func TestMigrateAccount(t *testing.T) {
	account := params.Account{Name: "user@example.com", Type: "com.example"}

	t.Run("copies into profile", func(t *testing.T) {
		d := newDevice(t, sim.Fixture{})
		profile := newProfile(t, d)
		p := buildParams(t, params.Request{Variant: params.ProfileOwner, AccountToMigrate: &account})

		requireSuccess(t, run(t, NewMigrateAccount(p, d, device.SystemUser, discardLogger()), profile))
		assert.Equal(t, []params.Account{account}, d.Accounts(profile))
	})

	t.Run("failure is tolerated", func(t *testing.T) {
		d := newDevice(t, sim.Fixture{})
		profile := newProfile(t, d)
		d.SetError(sim.OpCopyAccount, errors.New("auth"))
		p := buildParams(t, params.Request{Variant: params.ProfileOwner, AccountToMigrate: &account})

		requireSuccess(t, run(t, NewMigrateAccount(p, d, device.SystemUser, discardLogger()), profile))
		assert.Empty(t, d.Accounts(profile))
	})
}
