// Package controller drives one provisioning attempt through the fixed
// task pipeline of its flow variant.
//
// A Controller is a small state machine:
//
//	not_started --start--> running --succeed--> succeeded
//	                          |------fail-----> failed
//	not_started, running --cancel--> cancelled
//
// Start fires the start event; when the event is not valid from the current
// state the attempt is already running or over and Start only re-reports its
// status. A single worker goroutine runs the tasks one at a time: each task
// gets a fresh task.Sink and the worker blocks on its one Result before
// moving on. Cancellation is checked between tasks.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/logging"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/resume"
	"github.com/nomis52/provisiond/task"
	"github.com/nomis52/provisiond/tasks"
)

// State of an attempt.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

const (
	eventStart   = "start"
	eventSucceed = "succeed"
	eventFail    = "fail"
	eventCancel  = "cancel"
)

// DefaultProfileName names the managed profile created by profile owner
// attempts.
const DefaultProfileName = "Work profile"

// cleanupTimeout bounds compensation after the attempt's context is gone.
const cleanupTimeout = 30 * time.Second

// Deps are the collaborators of an attempt.
type Deps struct {
	Device    device.Services
	Snapshots *tasks.SnapshotStore
	Apps      tasks.AppPolicy
	// Resume is optional. When set, finalization clears the entry of the
	// attempt's target.
	Resume resume.Store
}

// Controller runs one provisioning attempt.
type Controller struct {
	deps        Deps
	host        Host
	logger      *slog.Logger
	hook        logging.LoggerHook
	statuses    *task.StatusHandler
	metrics     *Metrics
	timeouts    tasks.Timeouts
	constraints OSConstraints
	callingUser int
	profileName string
	attemptID   string

	fsm       *fsm.FSM
	done      chan struct{}
	closeOnce sync.Once

	mu              sync.Mutex
	params          *params.Params
	steps           []step
	current         int
	step            task.Step
	lastErr         *Error
	cancelRequested bool
	finalizing      bool
	committed       bool
	profileID       int
	profileCreated  bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. Task loggers derive from it.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithLoggerHook derives the logger of each task, e.g. to capture it.
func WithLoggerHook(hook logging.LoggerHook) Option {
	return func(c *Controller) {
		c.hook = hook
	}
}

// WithStatusHandler records a status line per task.
func WithStatusHandler(h *task.StatusHandler) Option {
	return func(c *Controller) {
		c.statuses = h
	}
}

// WithMetrics records attempt and task outcomes.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithCallingUser sets the user the attempt runs for. The default is the
// system user.
func WithCallingUser(userID int) Option {
	return func(c *Controller) {
		c.callingUser = userID
	}
}

// WithTimeouts bounds the asynchronous waits of the tasks.
func WithTimeouts(t tasks.Timeouts) Option {
	return func(c *Controller) {
		c.timeouts = t
	}
}

// WithOSConstraints restricts variants to OS versions.
func WithOSConstraints(oc OSConstraints) Option {
	return func(c *Controller) {
		c.constraints = oc
	}
}

// WithAttemptID sets the id reported in logs.
func WithAttemptID(id string) Option {
	return func(c *Controller) {
		c.attemptID = id
	}
}

// WithProfileName names the managed profile of profile owner attempts.
func WithProfileName(name string) Option {
	return func(c *Controller) {
		c.profileName = name
	}
}

// New creates a Controller in the not_started state. A nil host discards
// every signal.
func New(deps Deps, host Host, opts ...Option) *Controller {
	if host == nil {
		host = nopHost{}
	}
	c := &Controller{
		deps:        deps,
		host:        host,
		logger:      slog.Default(),
		hook:        logging.PlainLoggerHook{},
		profileName: DefaultProfileName,
		done:        make(chan struct{}),
		step:        task.StepPrepare,
		profileID:   -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.timeouts = c.timeouts.WithDefaults()
	c.logger = c.logger.With("component", "controller")
	if c.attemptID != "" {
		c.logger = c.logger.With("attempt", c.attemptID)
	}

	c.fsm = fsm.NewFSM(
		string(StateNotStarted),
		fsm.Events{
			{Name: eventStart, Src: []string{string(StateNotStarted)}, Dst: string(StateRunning)},
			{Name: eventSucceed, Src: []string{string(StateRunning)}, Dst: string(StateSucceeded)},
			{Name: eventFail, Src: []string{string(StateRunning)}, Dst: string(StateFailed)},
			{Name: eventCancel, Src: []string{string(StateNotStarted), string(StateRunning)}, Dst: string(StateCancelled)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Info("attempt state changed", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return c
}

// Initialize checks the environment preconditions for p and prepares the
// pipeline. It returns an *Error when a precondition fails.
func (c *Controller) Initialize(ctx context.Context, p *params.Params) error {
	if c.State() != StateNotStarted {
		return ErrAlreadyStarted
	}
	if err := c.checkPreconditions(ctx, p); err != nil {
		return err
	}
	steps := c.buildPipeline(p)
	if len(steps) == 0 {
		return stageError(StagePreconditions, task.CategoryValidation, fmt.Errorf("%w: %v", params.ErrUnknownVariant, p.Variant()), false)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = p
	c.steps = steps
	c.logger.Info("attempt initialized", "variant", p.Variant(), "admin", p.AdminPackage(), "tasks", len(steps))
	return nil
}

// Start runs the attempt in a new goroutine. ctx bounds the whole attempt,
// not just the call. Starting an attempt that is already running or over
// re-reports its status instead.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.params == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	err := c.fsm.Event(context.Background(), eventStart)
	c.mu.Unlock()

	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		c.logger.Debug("attempt already started", "state", invalid.State)
		c.UpdateStatus()
		return nil
	}
	if err != nil {
		return fmt.Errorf("starting attempt: %w", err)
	}

	go c.run(ctx)
	return nil
}

// Cancel stops the attempt. A running attempt stops once its current task
// has reported, then compensates and ends cancelled. Cancelling an attempt
// that is over does nothing.
func (c *Controller) Cancel() {
	c.mu.Lock()
	switch c.State() {
	case StateNotStarted:
		err := c.fsm.Event(context.Background(), eventCancel)
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn("cancel failed", "error", err)
			return
		}
		c.closeDone()
		c.host.OnCancelled()
	case StateRunning:
		if c.finalizing {
			c.mu.Unlock()
			c.logger.Info("cancel ignored, attempt is finalizing")
			return
		}
		if !c.cancelRequested {
			c.logger.Info("cancel requested", "step", c.step)
		}
		c.cancelRequested = true
		c.mu.Unlock()
	default:
		c.mu.Unlock()
	}
}

// UpdateStatus re-reports the current status to the host.
func (c *Controller) UpdateStatus() {
	c.mu.Lock()
	state, step, lastErr := c.State(), c.step, c.lastErr
	c.mu.Unlock()

	switch state {
	case StateRunning:
		c.host.OnProgress(step)
	case StateSucceeded:
		c.host.OnSuccess()
	case StateFailed:
		c.host.OnError(lastErr)
	case StateCancelled:
		c.host.OnCancelled()
	}
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.fsm.Current())
}

// Done is closed once the attempt reaches a terminal state.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error of a failed attempt.
func (c *Controller) Err() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// AttemptID returns the id set with WithAttemptID.
func (c *Controller) AttemptID() string {
	return c.attemptID
}

// Params returns the params given to Initialize, or nil.
func (c *Controller) Params() *params.Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Step returns the progress step last reported.
func (c *Controller) Step() task.Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// Tasks returns the task names of the pipeline in order.
func (c *Controller) Tasks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.steps))
	for i, s := range c.steps {
		names[i] = s.task.Name()
	}
	return names
}

// ProfileID returns the managed profile created by the attempt.
func (c *Controller) ProfileID() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profileID, c.profileCreated
}

func (c *Controller) taskLogger(name string) *slog.Logger {
	return c.hook.LoggerForTask(c.logger, name)
}

func (c *Controller) statusLine(name string) *task.StatusLine {
	return task.NewStatusLine(name, c.taskLogger(name), c.statuses)
}

func (c *Controller) closeDone() {
	c.closeOnce.Do(func() { close(c.done) })
}

// run is the worker loop.
func (c *Controller) run(ctx context.Context) {
	defer c.closeDone()
	p := c.Params()

	if p.Variant() == params.ProfileOwner {
		c.progress(task.StepPrepare)
		if err := c.createProfile(ctx); err != nil {
			c.fail(ctx, err)
			return
		}
	}

	for i := range c.steps {
		if c.cancelled() {
			c.cancel(ctx)
			return
		}
		s := c.steps[i]
		c.mu.Lock()
		c.current = i
		c.mu.Unlock()
		c.progress(s.task.Step())

		res := c.runStep(ctx, s)
		failure, failed := res.(task.Failure)
		switch {
		case res == nil || c.cancelled():
			c.cancel(ctx)
			return
		case failed:
			if s.commit && errors.Is(failure.Code, tasks.ErrOwnerAssignFailed) {
				c.commit(s.task.Name())
			}
			c.fail(ctx, taskError(s.task.Name(), failure.Code, c.isCommitted()))
			return
		case s.commit:
			c.commit(s.task.Name())
		}
	}

	c.mu.Lock()
	if c.cancelRequested {
		c.mu.Unlock()
		c.cancel(ctx)
		return
	}
	c.finalizing = true
	c.mu.Unlock()

	c.progress(task.StepFinalize)
	if err := c.finalize(ctx); err != nil {
		c.fail(ctx, err)
		return
	}
	c.cleanup(ctx, false)
	c.finish(StateSucceeded, eventSucceed)
	c.host.OnSuccess()
}

// runStep runs one task and waits for its result. It returns nil when ctx
// ends first.
func (c *Controller) runStep(ctx context.Context, s step) task.Result {
	userID := c.callingUser
	if s.onProfile {
		userID = c.profileID
	}
	name := s.task.Name()
	sl := c.statusLine(name)
	sl.Set("running")

	sink := task.NewSink(c.taskLogger(name))
	started := time.Now()
	s.task.Run(ctx, userID, sink)

	select {
	case res := <-sink.Results():
		elapsed := time.Since(started)
		switch r := res.(type) {
		case task.Success:
			sl.Set("✅ done")
			c.metrics.taskDone(name, "success", "", elapsed)
		case task.Failure:
			sl.Fail(r.Code)
			c.metrics.taskDone(name, "failure", r.Code.Category().String(), elapsed)
		}
		return res
	case <-ctx.Done():
		sl.Set("interrupted")
		c.logger.Warn("attempt context ended during task", "task", name, "error", ctx.Err())
		return nil
	}
}

func (c *Controller) createProfile(ctx context.Context) *Error {
	id, err := c.deps.Device.Users.CreateProfile(ctx, c.profileName, c.callingUser)
	if err != nil {
		category := task.CategoryOther
		if errors.Is(err, device.ErrUserLimitReached) {
			category = task.CategoryUserLimitReached
		}
		c.logger.Error("creating managed profile failed", "error", err)
		return stageError(StageCreateProfile, category, err, false)
	}
	c.mu.Lock()
	c.profileID = id
	c.profileCreated = true
	c.mu.Unlock()
	c.logger.Info("created managed profile", "user", id)
	return nil
}

// finalize marks the target user provisioned and hands over to the admin.
// Only the marker is fatal.
func (c *Controller) finalize(ctx context.Context) *Error {
	p := c.Params()
	svc := c.deps.Device

	userID, state := c.callingUser, device.StateSetupFinalized
	if p.Variant() == params.ProfileOwner {
		userID, state = c.profileID, device.StateProfileComplete
	}
	if err := svc.Policy.SetProvisioningState(ctx, state, userID); err != nil {
		c.logger.Error("setting provisioning state failed", "user", userID, "state", state, "error", err)
		return stageError(StageFinalize, task.CategoryOther, err, c.isCommitted())
	}

	if c.deps.Resume != nil {
		target := resume.TargetFor(p.Variant())
		if err := c.deps.Resume.Clear(ctx, target); err != nil {
			c.logger.Warn("clearing resume entry failed", "target", target, "error", err)
		}
	}

	admin, err := tasks.ResolveAdmin(ctx, svc.Packages, p, userID)
	if err != nil {
		c.logger.Warn("cannot resolve admin for completion broadcast", "error", err)
		return nil
	}
	if err := svc.Broadcaster.SendProvisioningComplete(ctx, admin, userID, p.AdminExtras()); err != nil {
		c.logger.Warn("sending provisioning complete failed", "admin", admin, "error", err)
	}
	return nil
}

func (c *Controller) fail(ctx context.Context, err *Error) {
	if c.cancelled() {
		c.logger.Info("task failed after cancel request", "error", err)
		c.cancel(ctx)
		return
	}
	c.cleanup(ctx, true)
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.logger.Error("attempt failed", "task", err.Task, "category", err.Category, "factory_reset_required", err.FactoryResetRequired, "error", err)
	c.finish(StateFailed, eventFail)
	c.host.OnError(err)
}

func (c *Controller) cancel(ctx context.Context) {
	c.cleanup(ctx, true)
	c.finish(StateCancelled, eventCancel)
	c.host.OnCancelled()
}

// cleanup releases task resources in reverse order. With compensate set it
// also removes a profile created by the attempt. Errors are logged only.
func (c *Controller) cleanup(ctx context.Context, compensate bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	c.mu.Lock()
	ran := c.steps[:min(c.current+1, len(c.steps))]
	profileID, created := c.profileID, c.profileCreated
	c.mu.Unlock()

	for _, s := range slices.Backward(ran) {
		cleaner, ok := s.task.(task.Cleaner)
		if !ok {
			continue
		}
		if err := cleaner.Cleanup(ctx); err != nil {
			c.logger.Warn("task cleanup failed", "task", s.task.Name(), "error", err)
		}
	}

	if compensate && created {
		if err := c.deps.Device.Users.RemoveUser(ctx, profileID); err != nil {
			c.logger.Warn("removing managed profile failed", "user", profileID, "error", err)
			return
		}
		c.logger.Info("removed managed profile", "user", profileID)
		c.mu.Lock()
		c.profileCreated = false
		c.mu.Unlock()
	}
}

func (c *Controller) finish(state State, event string) {
	if err := c.fsm.Event(context.Background(), event); err != nil {
		c.logger.Error("state transition failed", "event", event, "error", err)
	}
	variant := ""
	if p := c.Params(); p != nil {
		variant = p.Variant().String()
	}
	c.metrics.attemptDone(variant, state, time.Now())
}

func (c *Controller) progress(s task.Step) {
	c.mu.Lock()
	c.step = s
	c.mu.Unlock()
	c.host.OnProgress(s)
}

func (c *Controller) cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelRequested
}

// commit records that the device can no longer be used unmanaged. An admin
// left active by a partial policy step counts.
func (c *Controller) commit(name string) {
	c.mu.Lock()
	c.committed = true
	c.mu.Unlock()
	c.logger.Info("passed point of no return", "task", name)
}

func (c *Controller) isCommitted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed
}
