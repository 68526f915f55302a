package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/task"
)

// InstallError is the closed set of InstallPackage failures.
type InstallError int

const (
	ErrPackageInvalid InstallError = iota + 1
	ErrInstallationFailed
)

func (e InstallError) Error() string {
	switch e {
	case ErrPackageInvalid:
		return "package is not a valid device admin"
	case ErrInstallationFailed:
		return "package installation failed"
	default:
		return "unknown install error"
	}
}

// Category implements task.Code.
func (e InstallError) Category() task.Category {
	if e == ErrPackageInvalid {
		return task.CategoryPackageInvalid
	}
	return task.CategoryInstallFailed
}

type installOutcome struct {
	status  device.InstallStatus
	message string
}

// InstallPackage installs the package fetched by DownloadPackage.
type InstallPackage struct {
	params   *params.Params
	source   LocationProvider
	packages device.PackageManager
	timeout  time.Duration
	logger   *slog.Logger
}

// NewInstallPackage creates the install task reading its file from source.
func NewInstallPackage(p *params.Params, source LocationProvider, packages device.PackageManager, timeout time.Duration, logger *slog.Logger) *InstallPackage {
	if timeout <= 0 {
		timeout = DefaultInstallTimeout
	}
	return &InstallPackage{
		params:   p,
		source:   source,
		packages: packages,
		timeout:  timeout,
		logger:   logger,
	}
}

func (t *InstallPackage) Name() string    { return NameInstallPackage }
func (t *InstallPackage) Step() task.Step { return task.StepInstall }

// Run implements task.Task.
func (t *InstallPackage) Run(ctx context.Context, userID int, cb task.Callback) {
	path := t.source.Location()
	if path == "" {
		t.logger.Info("nothing downloaded, skipping install")
		cb.OnSuccess(t)
		return
	}

	pkg := t.params.AdminPackage()
	archive, err := t.packages.ArchiveInfo(ctx, path)
	if err != nil {
		t.logger.Error("failed to parse package", "path", path, "error", err)
		cb.OnError(t, ErrPackageInvalid)
		return
	}
	if archive.PackageName != pkg {
		t.logger.Error("package name mismatch", "expected", pkg, "actual", archive.PackageName)
		cb.OnError(t, ErrPackageInvalid)
		return
	}
	if !declaresAdminReceiver(archive.Receivers) {
		t.logger.Error("package declares no device admin receiver", "package", pkg)
		cb.OnError(t, ErrPackageInvalid)
		return
	}

	if installed, err := t.packages.PackageInfo(ctx, pkg, userID); err == nil && installed.VersionCode == archive.VersionCode {
		t.logger.Info("same version already installed, skipping install",
			"package", pkg,
			"version", installed.VersionCode,
		)
		cb.OnSuccess(t)
		return
	}

	outcomes := make(chan installOutcome, 1)
	observer := func(status device.InstallStatus, message string) {
		select {
		case outcomes <- installOutcome{status: status, message: message}:
		default:
			t.logger.Warn("ignoring repeated install result", "status", status.String())
		}
	}

	if err := t.packages.Install(ctx, path, userID, observer); err != nil {
		t.logger.Error("failed to start install", "package", pkg, "error", err)
		cb.OnError(t, ErrInstallationFailed)
		return
	}

	go t.await(pkg, outcomes, cb)
}

func (t *InstallPackage) await(pkg string, outcomes <-chan installOutcome, cb task.Callback) {
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case out := <-outcomes:
		switch out.status {
		case device.InstallSucceeded:
			t.logger.Info("package installed", "package", pkg)
			cb.OnSuccess(t)
		case device.InstallFailedVersionDowngrade:
			// A newer version is already present and acceptable.
			t.logger.Info("install rejected as downgrade, keeping installed version", "package", pkg)
			cb.OnSuccess(t)
		default:
			t.logger.Error("install failed", "package", pkg, "status", out.status.String(), "message", out.message)
			cb.OnError(t, ErrInstallationFailed)
		}
	case <-timer.C:
		t.logger.Error("timed out waiting for installer", "package", pkg, "timeout", t.timeout)
		cb.OnError(t, ErrInstallationFailed)
	}
}

func declaresAdminReceiver(receivers []device.Receiver) bool {
	for _, r := range receivers {
		if r.Permission == device.PermissionBindDeviceAdmin {
			return true
		}
	}
	return false
}
