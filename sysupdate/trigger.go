package sysupdate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when the cron schedule cannot be parsed.
var ErrInvalidSchedule = errors.New("invalid cron schedule")

// Job is run by a Trigger.
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context) error

// Run implements Job.
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// Trigger runs a Job on a cron schedule.
type Trigger struct {
	spec     string
	schedule cron.Schedule
	job      Job
	logger   *slog.Logger
}

// NewTrigger parses spec, in standard five field cron format or as a
// descriptor such as "@daily" or "@every 6h".
func NewTrigger(spec string, job Job, logger *slog.Logger) (*Trigger, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}

	return &Trigger{
		spec:     spec,
		schedule: schedule,
		job:      job,
		logger:   logger.With("component", "sysupdate_trigger", "schedule", spec),
	}, nil
}

// Start runs the job on schedule in a new goroutine until ctx is done.
func (t *Trigger) Start(ctx context.Context) {
	go t.loop(ctx)
}

// NextRun returns the next scheduled run after now.
func (t *Trigger) NextRun() time.Time {
	return t.schedule.Next(time.Now())
}

func (t *Trigger) loop(ctx context.Context) {
	for {
		next := t.schedule.Next(time.Now())
		wait := time.Until(next)
		t.logger.Debug("waiting for next scheduled run", "next_run", next, "wait_duration", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			t.logger.Info("trigger shutting down")
			return
		case <-timer.C:
			t.execute(ctx)
		}
	}
}

func (t *Trigger) execute(ctx context.Context) {
	t.logger.Info("starting scheduled run")
	if err := t.job.Run(ctx); err != nil {
		t.logger.Warn("scheduled run completed with error", "error", err)
		return
	}
	t.logger.Info("scheduled run completed successfully")
}
