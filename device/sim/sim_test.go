package sim

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureYAML = `
os_version: "13.1.0"
max_profiles: 1
connected: true
packages:
  - package: com.android.launcher
    version_code: 1
    system: true
    launcher: true
  - package: com.android.keyboard
    version_code: 2
    system: true
    input_method: true
remote:
  https://example.com/dpc.pkg:
    package: com.example.dpc
    version_code: 7
    receivers:
      - class: .Admin
        permission: android.permission.BIND_DEVICE_ADMIN
`

func loadTestFixture(t *testing.T) Fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureYAML), 0o644))
	f, err := LoadFixture(path)
	require.NoError(t, err)
	return f
}

func TestLoadFixture(t *testing.T) {
	f := loadTestFixture(t)
	assert.Equal(t, "13.1.0", f.OSVersion)
	require.Len(t, f.Packages, 2)
	assert.Equal(t, "com.android.launcher", f.Packages[0].Package)
	assert.True(t, f.Packages[0].Launcher)
	assert.Equal(t, int64(7), f.Remote["https://example.com/dpc.pkg"].VersionCode)

	_, err := LoadFixture(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDevice_DownloadAndInstall(t *testing.T) {
	ctx := context.Background()
	d, err := New(loadTestFixture(t), WithDownloadDir(t.TempDir()))
	require.NoError(t, err)

	dl := d.Downloader()
	events, unsubscribe := dl.Subscribe()
	defer unsubscribe()

	id, err := dl.Enqueue(ctx, device.DownloadRequest{URL: "https://example.com/dpc.pkg"})
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, id, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("no download event")
	}

	status, err := dl.Status(ctx, id)
	require.NoError(t, err)
	require.True(t, status.Successful)

	info, err := d.ArchiveInfo(ctx, status.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "com.example.dpc", info.PackageName)

	var got []device.InstallStatus
	require.NoError(t, d.Install(ctx, status.LocalPath, device.SystemUser, func(s device.InstallStatus, _ string) {
		got = append(got, s)
	}))
	assert.Equal(t, []device.InstallStatus{device.InstallSucceeded}, got)
	assert.True(t, d.IsInstalled("com.example.dpc", device.SystemUser))
	assert.Equal(t, 1, d.InstallCount())

	require.NoError(t, dl.Remove(ctx, id))
	_, err = os.Stat(status.LocalPath)
	assert.True(t, os.IsNotExist(err))
}

func TestDevice_UnknownURLFails(t *testing.T) {
	ctx := context.Background()
	d, err := New(loadTestFixture(t), WithDownloadDir(t.TempDir()))
	require.NoError(t, err)

	id, err := d.Downloader().Enqueue(ctx, device.DownloadRequest{URL: "https://example.com/other"})
	require.NoError(t, err)
	status, err := d.Downloader().Status(ctx, id)
	require.NoError(t, err)
	assert.False(t, status.Successful)
}

func TestDevice_DowngradeReported(t *testing.T) {
	ctx := context.Background()
	d, err := New(Fixture{
		Packages: []PackageFixture{{
			Manifest:  Manifest{Package: "com.example.dpc", VersionCode: 9},
			Installed: true,
		}},
	})
	require.NoError(t, err)

	b, err := Manifest{Package: "com.example.dpc", VersionCode: 3}.Encode()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "old.pkg")
	require.NoError(t, os.WriteFile(path, b, 0o644))

	var got device.InstallStatus
	require.NoError(t, d.Install(ctx, path, device.SystemUser, func(s device.InstallStatus, _ string) { got = s }))
	assert.Equal(t, device.InstallFailedVersionDowngrade, got)
	assert.Equal(t, 0, d.InstallCount())
}

func TestDevice_ProfileLimit(t *testing.T) {
	ctx := context.Background()
	d, err := New(loadTestFixture(t))
	require.NoError(t, err)

	id, err := d.CreateProfile(ctx, "Work", device.SystemUser)
	require.NoError(t, err)
	assert.True(t, d.IsInstalled("com.android.launcher", id), "system packages are installed in new profiles")

	_, err = d.CreateProfile(ctx, "Work", device.SystemUser)
	assert.ErrorIs(t, err, device.ErrUserLimitReached)

	require.NoError(t, d.RemoveUser(ctx, id))
	assert.Equal(t, []int{device.SystemUser}, d.Users())
	assert.Equal(t, 1, d.ProfilesCreated())
}

func TestDevice_DuplicateConnectivity(t *testing.T) {
	ctx := context.Background()
	d, err := New(Fixture{}, WithAutoConnect(), WithDuplicateEvents())
	require.NoError(t, err)

	n := d.Network()
	events, unsubscribe := n.Subscribe()
	defer unsubscribe()

	id, err := n.AddNetwork(ctx, params.WifiInfo{SSID: "office"})
	require.NoError(t, err)
	require.NoError(t, n.Connect(ctx, id))

	assert.Len(t, events, 2)
	connected, err := n.IsConnected(ctx)
	require.NoError(t, err)
	assert.True(t, connected)
}

func TestDevice_DeviceOwner(t *testing.T) {
	ctx := context.Background()
	d, err := New(Fixture{DeviceOwner: "com.other.dpc/.Admin"})
	require.NoError(t, err)

	has, err := d.HasDeviceOwner(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	owner, ok := d.DeviceOwner()
	require.True(t, ok)
	assert.Equal(t, "com.other.dpc", owner.Package)
}

func TestDevice_Encryption(t *testing.T) {
	tests := []struct {
		name          string
		fixture       Fixture
		startErr      error
		wantEncrypted bool
		wantStarts    int
	}{
		{name: "encrypted by default", wantEncrypted: true},
		{name: "unencrypted", fixture: Fixture{Unencrypted: true}, wantStarts: 1},
		{name: "start fails", fixture: Fixture{Unencrypted: true}, startErr: errors.New("no battery")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			d, err := New(tt.fixture)
			require.NoError(t, err)

			var enc device.Encryption = d.Services().Encryption
			encrypted, err := enc.IsEncrypted(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.wantEncrypted, encrypted)
			if encrypted {
				return
			}

			d.SetError(OpStartEncryption, tt.startErr)
			err = enc.StartEncryption(ctx)
			if tt.startErr != nil {
				assert.ErrorIs(t, err, tt.startErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStarts, d.EncryptionStarts())

			encrypted, err = enc.IsEncrypted(ctx)
			require.NoError(t, err)
			assert.False(t, encrypted, "storage is encrypted only after the reboot")

			d.CompleteEncryption()
			encrypted, err = enc.IsEncrypted(ctx)
			require.NoError(t, err)
			assert.True(t, encrypted)
		})
	}
}
