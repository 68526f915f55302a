// Package app wires the provisioning collaborators from a Config. Both the
// daemon and the one-shot CLI build their device, stores and controller
// options here.
package app

import (
	"fmt"
	"log/slog"

	"github.com/nomis52/provisiond/config"
	"github.com/nomis52/provisiond/controller"
	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/device/httpdl"
	"github.com/nomis52/provisiond/device/sim"
	"github.com/nomis52/provisiond/metrics"
	"github.com/nomis52/provisiond/resume"
	"github.com/nomis52/provisiond/tasks"
)

// App holds what a provisioning run needs.
type App struct {
	// Device is the simulated device behind Deps.Device.
	Device    *sim.Device
	Deps      controller.Deps
	Snapshots *tasks.SnapshotStore
	Apps      tasks.AppPolicy
	// ControllerOptions carry the configured timeouts, OS constraints,
	// calling user and metrics.
	ControllerOptions []controller.Option
}

// Build loads the device fixture and creates the stores named in cfg.
// Metrics are recorded in reg.
func Build(cfg *config.Config, logger *slog.Logger, reg metrics.Registry) (*App, error) {
	fixture, err := sim.LoadFixture(cfg.Device.Fixture)
	if err != nil {
		return nil, err
	}
	dev, err := sim.New(fixture, sim.WithDownloadDir(cfg.Device.DownloadDir), sim.WithAutoConnect())
	if err != nil {
		return nil, fmt.Errorf("creating device: %w", err)
	}
	services := dev.Services()
	if cfg.Device.HTTPDownloads {
		services.Downloader = httpdl.New(cfg.Device.DownloadDir, logger)
	}

	apps, err := cfg.AppPolicy()
	if err != nil {
		return nil, err
	}
	constraints, err := cfg.OSConstraints()
	if err != nil {
		return nil, err
	}

	store, err := resumeStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	m, err := controller.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	snapshots := tasks.NewSnapshotStore(cfg.SystemUpdate.SnapshotDir)
	return &App{
		Device: dev,
		Deps: controller.Deps{
			Device:    services,
			Snapshots: snapshots,
			Apps:      apps,
			Resume:    store,
		},
		Snapshots: snapshots,
		Apps:      apps,
		ControllerOptions: []controller.Option{
			controller.WithTimeouts(cfg.TaskTimeouts()),
			controller.WithOSConstraints(constraints),
			controller.WithCallingUser(cfg.Device.CallingUser),
			controller.WithMetrics(m),
		},
	}, nil
}

// Services returns the device collaborators in use.
func (a *App) Services() device.Services {
	return a.Deps.Device
}

// resumeStore returns nil when resume is disabled.
func resumeStore(cfg *config.Config, logger *slog.Logger) (resume.Store, error) {
	if !cfg.Resume.Enabled {
		return nil, nil
	}
	key, err := resume.LoadOrCreateKey(cfg.Resume.KeyFile)
	if err != nil {
		return nil, err
	}
	sealer, err := resume.NewSealer(key)
	if err != nil {
		return nil, fmt.Errorf("creating sealer: %w", err)
	}
	return resume.NewDiskvStore(cfg.Resume.Dir, resume.WithSealer(sealer), resume.WithLogger(logger)), nil
}
