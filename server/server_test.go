package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nomis52/provisiond/controller"
	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/device/sim"
	"github.com/nomis52/provisiond/metrics"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/resume"
	"github.com/nomis52/provisiond/server/handlers"
	"github.com/nomis52/provisiond/service"
	"github.com/nomis52/provisiond/sysupdate"
	"github.com/nomis52/provisiond/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminPackage = "com.example.dpc"
	downloadURL  = "https://example.com/dpc.pkg"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func adminManifest() sim.Manifest {
	return sim.Manifest{
		Package:     adminPackage,
		VersionCode: 1,
		Receivers:   []device.Receiver{{Class: ".Admin", Permission: device.PermissionBindDeviceAdmin}},
	}
}

type testEnv struct {
	device    *sim.Device
	svc       *service.Service
	snapshots *tasks.SnapshotStore
	server    *httptest.Server
}

func newEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	d, err := sim.New(sim.Fixture{
		Connected: true,
		Packages: []sim.PackageFixture{
			{Manifest: sim.Manifest{Package: "com.vendor.browser", VersionCode: 1}, System: true, Launcher: true},
		},
		Remote: map[string]sim.Manifest{downloadURL: adminManifest()},
	}, sim.WithDownloadDir(t.TempDir()))
	require.NoError(t, err)

	snapshots := tasks.NewSnapshotStore(t.TempDir())
	svc := service.New(controller.Deps{
		Device:    d.Services(),
		Snapshots: snapshots,
		Resume:    resume.NewMemoryStore(),
	}, service.WithLogger(discardLogger()))

	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	srv, err := New(svc, opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, svc.Close(ctx))
	})
	return &testEnv{device: d, svc: svc, snapshots: snapshots, server: ts}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// status polls a target without failing the test, for use in Eventually.
func (e *testEnv) status(target string) (service.AttemptStatus, bool) {
	resp, err := e.server.Client().Get(e.server.URL + "/api/v1/status/" + target)
	if err != nil {
		return service.AttemptStatus{}, false
	}
	defer resp.Body.Close()
	var status service.AttemptStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return service.AttemptStatus{}, false
	}
	return status, resp.StatusCode == http.StatusOK
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func deviceOwnerRequest(t *testing.T) []byte {
	t.Helper()
	pkg, err := adminManifest().Encode()
	require.NoError(t, err)
	sum := sha256.Sum256(pkg)
	body, err := json.Marshal(params.Request{
		AdminPackage: adminPackage,
		Variant:      params.DeviceOwner,
		Download:     &params.DownloadInfo{Location: downloadURL, PackageChecksum: sum[:]},
	})
	require.NoError(t, err)
	return body
}

func TestServer_ProvisionLifecycle(t *testing.T) {
	env := newEnv(t)

	resp := env.do(t, http.MethodPost, "/api/v1/provision", deviceOwnerRequest(t))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	started := decode[handlers.ProvisionResponse](t, resp)
	assert.Equal(t, resume.TargetDeviceOwner, started.Status.Target)
	require.NotEmpty(t, started.Status.ID)

	require.Eventually(t, func() bool {
		status, ok := env.status("device_owner")
		return ok && status.State == controller.StateSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	owner, ok := env.device.DeviceOwner()
	require.True(t, ok)
	assert.Equal(t, adminPackage, owner.Package)

	resp = env.do(t, http.MethodGet, "/api/v1/logs/device_owner", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decode[map[string]any](t, resp), tasks.NameDownloadPackage)

	require.Eventually(t, func() bool { return len(env.svc.History()) == 1 }, time.Second, 10*time.Millisecond)
	resp = env.do(t, http.MethodGet, "/api/v1/history", nil)
	history := decode[[]service.AttemptStatus](t, resp)
	require.Len(t, history, 1)
	assert.Equal(t, started.Status.ID, history[0].ID)

	resp = env.do(t, http.MethodGet, "/api/v1/history/"+started.Status.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, decode[service.AttemptStatus](t, resp).Tasks)

	resp = env.do(t, http.MethodPost, "/api/v1/cancel/device_owner", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode, "cancel after success is a no-op")

	resp = env.do(t, http.MethodPost, "/api/v1/provision", deviceOwnerRequest(t))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	rejected := decode[handlers.ProvisionResponse](t, resp)
	require.NotNil(t, rejected.Status.Error)
	assert.Equal(t, controller.StagePreconditions, rejected.Status.Error.Task)
}

func TestServer_Routes(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
	}{
		{name: "health", method: http.MethodGet, path: "/health", wantCode: http.StatusOK},
		{name: "overview", method: http.MethodGet, path: "/api/v1/overview", wantCode: http.StatusOK},
		{name: "statuses", method: http.MethodGet, path: "/api/v1/status", wantCode: http.StatusOK},
		{name: "status without attempt", method: http.MethodGet, path: "/api/v1/status/profile_owner", wantCode: http.StatusNotFound},
		{name: "unknown target", method: http.MethodGet, path: "/api/v1/status/kiosk", wantCode: http.StatusBadRequest},
		{name: "remind without attempt", method: http.MethodPost, path: "/api/v1/remind/device_owner", wantCode: http.StatusNotFound},
		{name: "wrong method", method: http.MethodGet, path: "/api/v1/provision", wantCode: http.StatusMethodNotAllowed},
		{name: "config not configured", method: http.MethodGet, path: "/config", wantCode: http.StatusNotFound},
		{name: "metrics not configured", method: http.MethodGet, path: "/metrics", wantCode: http.StatusNotFound},
		{name: "sysupdate not configured", method: http.MethodPost, path: "/api/v1/sysupdate", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, tt.method, tt.path, nil)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
		})
	}
}

func TestServer_APIKey(t *testing.T) {
	env := newEnv(t, WithAPIKey("s3cret"))

	resp := env.do(t, http.MethodGet, "/api/v1/status", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/status", nil)
	require.NoError(t, err)
	req.SetBasicAuth("provisiond", "wrong")
	resp, err = env.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.SetBasicAuth("provisiond", "s3cret")
	resp, err = env.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health stays open")
}

func TestServer_MetricsAndSystemUpdate(t *testing.T) {
	reg, err := metrics.NewScrapeRegistry("provisiond")
	require.NoError(t, err)

	var checker *sysupdate.Checker
	env := newEnv(t, WithMetricsHandler(reg.Handler()), WithSystemUpdate(lazyChecker{&checker}, nil))
	checker, err = sysupdate.NewChecker(env.device, env.snapshots, tasks.AppPolicy{}, discardLogger(),
		sysupdate.WithBusy(env.svc.Busy), sysupdate.WithMetrics(reg))
	require.NoError(t, err)

	resp := env.do(t, http.MethodPost, "/api/v1/sysupdate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := decode[handlers.SystemUpdateResponse](t, resp)
	assert.Empty(t, report.Report.Users, "nothing provisioned yet")

	resp = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `provisiond_sysupdate_checks_total{outcome="success"} 1`)
}

// lazyChecker defers to a checker built after the environment.
type lazyChecker struct {
	checker **sysupdate.Checker
}

func (l lazyChecker) Check(ctx context.Context) (sysupdate.Report, error) {
	return (*l.checker).Check(ctx)
}

func TestNew_Options(t *testing.T) {
	_, err := New(nil, WithAPIKey(""))
	assert.Error(t, err)

	_, err = New(nil, WithSystemUpdate(nil, nil))
	assert.Error(t, err)

	trigger, err := sysupdate.NewTrigger("@daily", sysupdate.JobFunc(func(context.Context) error { return nil }), discardLogger())
	require.NoError(t, err)
	srv, err := New(nil, WithSystemUpdate(lazyChecker{}, trigger), WithListenAddr("127.0.0.1:0"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", srv.addr)
	assert.True(t, srv.NextRun().After(time.Now()))
}

func TestServer_RunShutsDown(t *testing.T) {
	env := newEnv(t)
	srv, err := New(env.svc, WithListenAddr("127.0.0.1:0"), WithLogger(discardLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
