package tasks

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/task"
)

// AppListError is the closed set of DeleteNonRequiredApps failures.
type AppListError int

const (
	ErrAppListUnavailable AppListError = iota + 1
)

func (e AppListError) Error() string {
	if e == ErrAppListUnavailable {
		return "app list unavailable"
	}
	return "unknown app list error"
}

// Category implements task.Code.
func (e AppListError) Category() task.Category {
	return task.CategoryOther
}

// DeleteAppsConfig parameterises one deletion run.
type DeleteAppsConfig struct {
	Variant  params.FlowVariant
	Admin    string
	LeaveAll bool
	// Fresh marks a newly provisioned user. Update runs only consider apps
	// that appeared since the last recorded snapshot.
	Fresh bool
	Lists AppLists
}

// DeleteAppsConfigFor returns the config of a fresh run for p.
func DeleteAppsConfigFor(p *params.Params, policy AppPolicy) DeleteAppsConfig {
	return DeleteAppsConfig{
		Variant:  p.Variant(),
		Admin:    p.AdminPackage(),
		LeaveAll: p.LeaveAllSystemAppsEnabled(),
		Fresh:    true,
		Lists:    policy.For(p.Variant()),
	}
}

// SystemUpdateConfig returns the config of an update re-run for a user
// last provisioned as recorded in snap.
func SystemUpdateConfig(snap Snapshot, policy AppPolicy) DeleteAppsConfig {
	return DeleteAppsConfig{
		Variant:  snap.Variant,
		Admin:    snap.Admin,
		LeaveAll: snap.LeaveAll,
		Lists:    policy.For(snap.Variant),
	}
}

// DeleteNonRequiredApps uninstalls the system apps the flow variant does
// not require.
type DeleteNonRequiredApps struct {
	cfg      DeleteAppsConfig
	packages device.PackageManager
	store    *SnapshotStore
	logger   *slog.Logger
	status   *task.StatusLine

	mu      sync.Mutex
	deleted []string
}

// NewDeleteNonRequiredApps creates the deletion task.
func NewDeleteNonRequiredApps(cfg DeleteAppsConfig, packages device.PackageManager, store *SnapshotStore, logger *slog.Logger) *DeleteNonRequiredApps {
	return &DeleteNonRequiredApps{
		cfg:      cfg,
		packages: packages,
		store:    store,
		logger:   logger,
	}
}

// WithStatusLine attaches a status line reporting deletion progress.
func (t *DeleteNonRequiredApps) WithStatusLine(sl *task.StatusLine) *DeleteNonRequiredApps {
	t.status = sl
	return t
}

func (t *DeleteNonRequiredApps) Name() string    { return NameDeleteNonRequiredApps }
func (t *DeleteNonRequiredApps) Step() task.Step { return task.StepDeleteApps }

// Deleted returns the packages uninstalled by the last Run.
func (t *DeleteNonRequiredApps) Deleted() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.deleted)
}

func (t *DeleteNonRequiredApps) setDeleted(pkgs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deleted = pkgs
}

// Run implements task.Task.
func (t *DeleteNonRequiredApps) Run(ctx context.Context, userID int, cb task.Callback) {
	t.setDeleted(nil)

	system, err := t.packages.SystemPackages(ctx, userID)
	if err != nil {
		t.logger.Error("failed to list system packages", "user", userID, "error", err)
		cb.OnError(t, ErrAppListUnavailable)
		return
	}

	candidates, err := t.candidates(userID, system)
	if err != nil {
		t.logger.Error("failed to load app snapshot", "user", userID, "error", err)
		cb.OnError(t, ErrAppListUnavailable)
		return
	}

	if err := t.store.Save(userID, Snapshot{
		Variant:    t.cfg.Variant,
		Admin:      t.cfg.Admin,
		LeaveAll:   t.cfg.LeaveAll,
		Packages:   system,
		RecordedAt: time.Now(),
	}); err != nil {
		t.logger.Error("failed to record app snapshot", "user", userID, "error", err)
		cb.OnError(t, ErrAppListUnavailable)
		return
	}

	if t.cfg.LeaveAll {
		t.logger.Info("leaving all system apps enabled", "user", userID)
		cb.OnSuccess(t)
		return
	}
	if len(candidates) == 0 {
		t.logger.Info("no new system apps", "user", userID)
		cb.OnSuccess(t)
		return
	}

	in, err := t.inputs(ctx, userID)
	if err != nil {
		t.logger.Error("failed to query app lists", "user", userID, "error", err)
		cb.OnError(t, ErrAppListUnavailable)
		return
	}

	isCandidate := make(map[string]bool, len(candidates))
	for _, pkg := range candidates {
		isCandidate[pkg] = true
	}

	var deleted []string
	for _, pkg := range NonRequiredApps(in) {
		if !isCandidate[pkg] {
			continue
		}
		t.status.Set("removing " + pkg)
		if err := t.packages.Uninstall(ctx, pkg, userID); err != nil {
			if !errors.Is(err, device.ErrNotFound) {
				t.logger.Warn("failed to uninstall app", "package", pkg, "user", userID, "error", err)
			}
			continue
		}
		deleted = append(deleted, pkg)
	}
	t.setDeleted(deleted)

	t.logger.Info("non-required apps removed",
		"user", userID,
		"fresh", t.cfg.Fresh,
		"candidates", len(candidates),
		"deleted", len(deleted),
	)
	cb.OnSuccess(t)
}

func (t *DeleteNonRequiredApps) candidates(userID int, system []string) ([]string, error) {
	if t.cfg.Fresh {
		return system, nil
	}
	snap, err := t.store.Load(userID)
	if errors.Is(err, ErrNoSnapshot) {
		t.logger.Warn("no app snapshot, treating all system apps as new", "user", userID)
		return system, nil
	}
	if err != nil {
		return nil, err
	}
	return newApps(system, snap.Packages), nil
}

func (t *DeleteNonRequiredApps) inputs(ctx context.Context, userID int) (AppInputs, error) {
	launcher, err := t.packages.LauncherPackages(ctx, userID)
	if err != nil {
		return AppInputs{}, err
	}
	imes, err := t.packages.InputMethodPackages(ctx, userID)
	if err != nil {
		return AppInputs{}, err
	}
	a11y, err := t.packages.AccessibilityPackages(ctx, userID)
	if err != nil {
		return AppInputs{}, err
	}
	return AppInputs{
		Variant:       t.cfg.Variant,
		Fresh:         t.cfg.Fresh,
		Admin:         t.cfg.Admin,
		Launcher:      launcher,
		Disallowed:    t.cfg.Lists.AllDisallowed(),
		Required:      t.cfg.Lists.AllRequired(),
		InputMethods:  imes,
		Accessibility: a11y,
	}, nil
}
