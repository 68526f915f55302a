package tasks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/device/sim"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/task"
	"github.com/stretchr/testify/require"
)

const (
	testAdminPackage = "com.example.dpc"
	testDownloadURL  = "https://example.com/dpc.pkg"
)

var testCertHash = sha256.Sum256([]byte("test signing certificate"))

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func adminManifest(version int64) sim.Manifest {
	return sim.Manifest{
		Package:     testAdminPackage,
		VersionCode: version,
		Receivers: []device.Receiver{
			{Class: ".Admin", Permission: device.PermissionBindDeviceAdmin},
			{Class: ".ShortcutReceiver", Actions: []string{device.ActionInstallShortcut}},
		},
		SignatureHashes: []string{hex.EncodeToString(testCertHash[:])},
	}
}

func packageChecksum(t *testing.T, m sim.Manifest) []byte {
	t.Helper()
	b, err := m.Encode()
	require.NoError(t, err)
	sum := sha256.Sum256(b)
	return sum[:]
}

func newDevice(t *testing.T, f sim.Fixture, opts ...sim.Option) *sim.Device {
	t.Helper()
	opts = append(opts, sim.WithDownloadDir(t.TempDir()))
	d, err := sim.New(f, opts...)
	require.NoError(t, err)
	return d
}

// installedAdminFixture is a connected device with the admin package
// already installed for the primary user.
func installedAdminFixture(version int64) sim.Fixture {
	return sim.Fixture{
		Connected: true,
		Packages: []sim.PackageFixture{
			{Manifest: adminManifest(version), Installed: true},
		},
	}
}

func buildParams(t *testing.T, r params.Request) *params.Params {
	t.Helper()
	if r.AdminPackage == "" && r.AdminComponent.IsZero() {
		r.AdminPackage = testAdminPackage
	}
	if r.Variant == 0 {
		r.Variant = params.DeviceOwner
	}
	p, err := r.Build()
	require.NoError(t, err)
	return p
}

// recorder is a task.Callback counting every call, including duplicates.
type recorder struct {
	mu        sync.Mutex
	successes int
	codes     []task.Code
	first     chan struct{}
	once      sync.Once
}

func newRecorder() *recorder {
	return &recorder{first: make(chan struct{})}
}

func (r *recorder) OnSuccess(task.Task) {
	r.mu.Lock()
	r.successes++
	r.mu.Unlock()
	r.once.Do(func() { close(r.first) })
}

func (r *recorder) OnError(_ task.Task, code task.Code) {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	r.mu.Unlock()
	r.once.Do(func() { close(r.first) })
}

// wait blocks for the first callback and then allows time for any
// duplicate to arrive.
func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.first:
	case <-time.After(2 * time.Second):
		t.Fatal("task never called back")
	}
	time.Sleep(20 * time.Millisecond)
}

func (r *recorder) result() (int, []task.Code) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successes, append([]task.Code(nil), r.codes...)
}

func requireSuccess(t *testing.T, r *recorder) {
	t.Helper()
	r.wait(t)
	successes, codes := r.result()
	require.Empty(t, codes, "unexpected error callback")
	require.Equal(t, 1, successes, "expected exactly one success callback")
}

func requireError(t *testing.T, r *recorder, want task.Code) {
	t.Helper()
	r.wait(t)
	successes, codes := r.result()
	require.Zero(t, successes, "unexpected success callback")
	require.Equal(t, []task.Code{want}, codes)
}

// run starts tk for userID and returns the recorder of its outcome.
func run(t *testing.T, tk task.Task, userID int) *recorder {
	t.Helper()
	r := newRecorder()
	tk.Run(context.Background(), userID, r)
	return r
}
