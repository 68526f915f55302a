// Package sysupdate re-runs non-required app deletion after system updates.
//
// An OS update can bring new system apps onto users that were provisioned
// earlier. The Checker walks every user with a recorded app snapshot and
// removes the apps that appeared since, using the flow variant and admin
// recorded for that user. A Trigger runs the Checker on a cron schedule.
//
//	checker := sysupdate.NewChecker(packages, snapshots, apps, logger)
//	trigger, err := sysupdate.NewTrigger("0 3 * * *", checker, logger)
//	if err != nil {
//	    return err
//	}
//	trigger.Start(ctx)
package sysupdate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/metrics"
	"github.com/nomis52/provisiond/task"
	"github.com/nomis52/provisiond/tasks"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrBusy is returned while a provisioning attempt is running.
	ErrBusy = errors.New("provisioning in progress")
	// ErrAlreadyRunning is returned while another check runs.
	ErrAlreadyRunning = errors.New("system update check already running")
)

// Report is the outcome of one check.
type Report struct {
	// Users are the users that were checked.
	Users []int `json:"users"`
	// Deleted lists the apps removed per user.
	Deleted map[int][]string `json:"deleted,omitempty"`
	// Failed maps users whose check failed to the reason.
	Failed map[int]string `json:"failed,omitempty"`
}

// Checker runs the update pass of DeleteNonRequiredApps for every user with
// a snapshot.
type Checker struct {
	packages  device.PackageManager
	snapshots *tasks.SnapshotStore
	apps      tasks.AppPolicy
	logger    *slog.Logger
	busy      func() bool

	runs    metrics.CounterVec
	deleted metrics.Counter

	mu      sync.Mutex
	running bool
}

// Option configures a Checker.
type Option func(*Checker) error

// WithBusy skips checks while busy reports true.
func WithBusy(busy func() bool) Option {
	return func(c *Checker) error {
		c.busy = busy
		return nil
	}
}

// WithMetrics records check outcomes in reg.
func WithMetrics(reg metrics.Registry) Option {
	return func(c *Checker) error {
		runs, err := reg.NewCounterVec(prometheus.CounterOpts{
			Name: "sysupdate_checks_total",
			Help: "System update checks by outcome.",
		}, []string{"outcome"})
		if err != nil {
			return fmt.Errorf("checks counter: %w", err)
		}
		deleted, err := reg.NewCounter(prometheus.CounterOpts{
			Name: "sysupdate_apps_deleted_total",
			Help: "Apps removed by system update checks.",
		})
		if err != nil {
			return fmt.Errorf("deleted apps counter: %w", err)
		}
		c.runs, c.deleted = runs, deleted
		return nil
	}
}

// NewChecker creates a Checker.
func NewChecker(packages device.PackageManager, snapshots *tasks.SnapshotStore, apps tasks.AppPolicy, logger *slog.Logger, opts ...Option) (*Checker, error) {
	c := &Checker{
		packages:  packages,
		snapshots: snapshots,
		apps:      apps,
		logger:    logger.With("component", "sysupdate"),
		busy:      func() bool { return false },
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Run implements Job.
func (c *Checker) Run(ctx context.Context) error {
	_, err := c.Check(ctx)
	return err
}

// Check removes the apps that appeared on each user since its snapshot.
// Users are checked independently. Their failures are joined.
func (c *Checker) Check(ctx context.Context) (Report, error) {
	if c.busy() {
		c.logger.Info("skipping check while provisioning runs")
		c.record("skipped", 0)
		return Report{}, ErrBusy
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return Report{}, ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	report := Report{
		Users:   c.snapshots.Users(),
		Deleted: make(map[int][]string),
		Failed:  make(map[int]string),
	}
	var errs []error
	total := 0
	for _, userID := range report.Users {
		deleted, err := c.checkUser(ctx, userID)
		if err != nil {
			report.Failed[userID] = err.Error()
			errs = append(errs, fmt.Errorf("user %d: %w", userID, err))
			continue
		}
		if len(deleted) > 0 {
			report.Deleted[userID] = deleted
			total += len(deleted)
		}
	}

	err := errors.Join(errs...)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.record(outcome, total)
	c.logger.Info("system update check finished", "users", len(report.Users), "deleted", total, "failed", len(report.Failed))
	return report, err
}

func (c *Checker) checkUser(ctx context.Context, userID int) ([]string, error) {
	snap, err := c.snapshots.Load(userID)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With("user", userID, "variant", snap.Variant)
	t := tasks.NewDeleteNonRequiredApps(tasks.SystemUpdateConfig(snap, c.apps), c.packages, c.snapshots, logger)
	sink := task.NewSink(logger)
	t.Run(ctx, userID, sink)

	select {
	case res := <-sink.Results():
		if f, ok := res.(task.Failure); ok {
			return nil, f.Code
		}
		return t.Deleted(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Checker) record(outcome string, deleted int) {
	if c.runs == nil {
		return
	}
	c.runs.With(prometheus.Labels{"outcome": outcome}).Inc()
	c.deleted.Add(float64(deleted))
}
