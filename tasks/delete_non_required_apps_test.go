package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/device/sim"
	"github.com/nomis52/provisiond/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func systemApp(name string, launcher bool) sim.PackageFixture {
	return sim.PackageFixture{
		Manifest: sim.Manifest{Package: name, VersionCode: 1},
		System:   true,
		Launcher: launcher,
	}
}

func appsFixture() sim.Fixture {
	keyboard := systemApp("keyboard", true)
	keyboard.InputMethod = true
	return sim.Fixture{
		Packages: []sim.PackageFixture{
			systemApp("camera", true),
			systemApp("gallery", true),
			systemApp("settings", true),
			systemApp("telemetry", false),
			systemApp("framework", false),
			keyboard,
		},
	}
}

var testAppPolicy = AppPolicy{
	params.DeviceOwner: {
		Required:   []string{"settings"},
		Disallowed: []string{"telemetry"},
	},
}

func TestDeleteNonRequiredApps_Fresh(t *testing.T) {
	d := newDevice(t, appsFixture())
	store := NewSnapshotStore(t.TempDir())
	p := buildParams(t, params.Request{})
	tk := NewDeleteNonRequiredApps(DeleteAppsConfigFor(p, testAppPolicy), d, store, discardLogger())

	requireSuccess(t, run(t, tk, device.SystemUser))
	assert.ElementsMatch(t, []string{"camera", "gallery", "telemetry"}, d.Uninstalled(device.SystemUser))
	assert.True(t, d.IsInstalled("keyboard", device.SystemUser), "input methods are kept for a fresh device owner")
	assert.True(t, d.IsInstalled("settings", device.SystemUser))

	snap, err := store.Load(device.SystemUser)
	require.NoError(t, err)
	assert.Equal(t, []string{"camera", "framework", "gallery", "keyboard", "settings", "telemetry"}, snap.Packages)
	assert.Equal(t, params.DeviceOwner, snap.Variant)
	assert.Equal(t, testAdminPackage, snap.Admin)

	requireSuccess(t, run(t, tk, device.SystemUser))
	assert.Len(t, d.Uninstalled(device.SystemUser), 3, "re-run does not remove anything else")
}

func TestDeleteNonRequiredApps_UpdateOnlyRemovesNewApps(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t, appsFixture())
	store := NewSnapshotStore(t.TempDir())
	require.NoError(t, store.Save(device.SystemUser, Snapshot{
		Variant:  params.DeviceOwner,
		Admin:    testAdminPackage,
		Packages: []string{"camera", "framework", "keyboard", "settings", "telemetry"},
	}))

	snap, err := store.Load(device.SystemUser)
	require.NoError(t, err)
	tk := NewDeleteNonRequiredApps(SystemUpdateConfig(snap, testAppPolicy), d, store, discardLogger())
	tk.Run(ctx, device.SystemUser, newRecorder())

	assert.Equal(t, []string{"gallery"}, tk.Deleted())
	assert.True(t, d.IsInstalled("camera", device.SystemUser), "apps present before the update are left alone")
}

func TestDeleteNonRequiredApps_UpdateWithoutSnapshotTreatsAllAsNew(t *testing.T) {
	d := newDevice(t, appsFixture())
	store := NewSnapshotStore(t.TempDir())
	cfg := DeleteAppsConfig{Variant: params.DeviceOwner, Admin: testAdminPackage, Lists: testAppPolicy.For(params.DeviceOwner)}
	tk := NewDeleteNonRequiredApps(cfg, d, store, discardLogger())

	requireSuccess(t, run(t, tk, device.SystemUser))
	assert.Equal(t, []string{"camera", "gallery", "keyboard", "telemetry"}, tk.Deleted())

	_, err := store.Load(device.SystemUser)
	assert.NoError(t, err, "snapshot is recorded")
}

func TestDeleteNonRequiredApps_DeletedWhileRunning(t *testing.T) {
	d := newDevice(t, appsFixture())
	store := NewSnapshotStore(t.TempDir())
	cfg := DeleteAppsConfig{Variant: params.DeviceOwner, Admin: testAdminPackage, Lists: testAppPolicy.For(params.DeviceOwner)}
	tk := NewDeleteNonRequiredApps(cfg, d, store, discardLogger())

	stop := make(chan struct{})
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			select {
			case <-stop:
				return
			default:
				_ = tk.Deleted()
			}
		}
	}()
	requireSuccess(t, run(t, tk, device.SystemUser))
	close(stop)
	<-polled

	got := tk.Deleted()
	require.NotEmpty(t, got)
	got[0] = "changed"
	assert.NotEqual(t, "changed", tk.Deleted()[0], "callers get a copy")
}

func TestDeleteNonRequiredApps_LeaveAllRecordsOnly(t *testing.T) {
	d := newDevice(t, appsFixture())
	store := NewSnapshotStore(t.TempDir())
	p := buildParams(t, params.Request{LeaveAllSystemAppsEnabled: true})

	requireSuccess(t, run(t, NewDeleteNonRequiredApps(DeleteAppsConfigFor(p, testAppPolicy), d, store, discardLogger()), device.SystemUser))
	assert.Empty(t, d.Uninstalled(device.SystemUser))

	snap, err := store.Load(device.SystemUser)
	require.NoError(t, err)
	assert.True(t, snap.LeaveAll)
}

func TestDeleteNonRequiredApps_UninstallFailuresIgnored(t *testing.T) {
	d := newDevice(t, appsFixture())
	d.SetError(sim.OpUninstall, errors.New("busy"))
	p := buildParams(t, params.Request{})

	requireSuccess(t, run(t, NewDeleteNonRequiredApps(DeleteAppsConfigFor(p, testAppPolicy), d, NewSnapshotStore(t.TempDir()), discardLogger()), device.SystemUser))
	assert.Empty(t, d.Uninstalled(device.SystemUser))
}

func TestDeleteNonRequiredApps_AppListUnavailable(t *testing.T) {
	for _, op := range []sim.Op{sim.OpSystemPackages, sim.OpLauncherPackages} {
		t.Run(string(op), func(t *testing.T) {
			d := newDevice(t, appsFixture())
			d.SetError(op, errors.New("package service down"))
			p := buildParams(t, params.Request{})

			r := run(t, NewDeleteNonRequiredApps(DeleteAppsConfigFor(p, testAppPolicy), d, NewSnapshotStore(t.TempDir()), discardLogger()), device.SystemUser)
			requireError(t, r, ErrAppListUnavailable)
		})
	}
}
