package tasks

import (
	"context"
	"log/slog"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/task"
)

// ApplySettings sets the time zone, locale and clock supplied in the
// params. Each setting is optional and failures are only logged.
type ApplySettings struct {
	params   *params.Params
	settings device.Settings
	logger   *slog.Logger
}

func NewApplySettings(p *params.Params, settings device.Settings, logger *slog.Logger) *ApplySettings {
	return &ApplySettings{
		params:   p,
		settings: settings,
		logger:   logger,
	}
}

func (t *ApplySettings) Name() string    { return NameApplySettings }
func (t *ApplySettings) Step() task.Step { return task.StepSettings }

// Run implements task.Task.
func (t *ApplySettings) Run(ctx context.Context, userID int, cb task.Callback) {
	if tz := t.params.TimeZone(); tz != "" {
		if err := t.settings.SetTimeZone(ctx, tz); err != nil {
			t.logger.Warn("failed to set time zone", "time_zone", tz, "error", err)
		}
	}
	if locale := t.params.Locale(); locale != "" {
		if err := t.settings.SetLocale(ctx, locale); err != nil {
			t.logger.Warn("failed to set locale", "locale", locale, "error", err)
		}
	}
	if lt := t.params.LocalTime(); !lt.IsZero() {
		if err := t.settings.SetTime(ctx, lt); err != nil {
			t.logger.Warn("failed to set time", "time", lt, "error", err)
		}
	}
	cb.OnSuccess(t)
}
