// Package service is the host shell around provisioning controllers.
//
// The service owns at most one live attempt per flow target. It handles:
//   - Starting attempts and coalescing duplicate starts for a target
//   - Relaying controller signals and recording them per attempt
//   - Capturing the status line and logs of every task
//   - Keeping a history of attempts that ended
//   - Persisting requests across reboots and replaying them at boot
//
// # Example
//
//	svc := service.New(deps, service.WithHistory(store))
//
//	status, err := svc.Provision(ctx, p)
//	if errors.Is(err, service.ErrProvisioningInProgress) {
//	    // status describes the attempt that is already running
//	}
//
//	for _, t := range svc.Statuses() {
//	    fmt.Printf("%s %s: %s\n", t.Target, t.State, t.Step)
//	}
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nomis52/provisiond/controller"
	"github.com/nomis52/provisiond/logging"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/resume"
	"github.com/nomis52/provisiond/task"
)

const defaultMaxHistorySize = 100

var (
	// ErrProvisioningInProgress is returned by Provision while an attempt
	// for the same target has not ended.
	ErrProvisioningInProgress = errors.New("provisioning already in progress")
	// ErrNoAttempt is returned when a target has no attempt.
	ErrNoAttempt = errors.New("no provisioning attempt")
	// ErrResumeDisabled is returned by Remind without a resume store.
	ErrResumeDisabled = errors.New("resume store not configured")
	// ErrClosed is returned once Close was called.
	ErrClosed = errors.New("service closed")
	// ErrEncryptionPending is returned by Provision when it saved the
	// request and started storage encryption instead of an attempt. The
	// request is replayed by Resume after the reboot.
	ErrEncryptionPending = errors.New("encryption started, provisioning resumes after reboot")
)

// attempt is one controller together with what it reports.
type attempt struct {
	id        string
	target    resume.Target
	params    *params.Params
	ctrl      *controller.Controller
	relay     *relay
	statuses  *task.StatusHandler
	collector *logging.LogCollector
	startedAt time.Time
}

func (a *attempt) status() AttemptStatus {
	state, step, err, endedAt := a.relay.snapshot()
	s := AttemptStatus{
		ID:        a.id,
		Target:    a.target,
		Variant:   a.params.Variant().String(),
		Admin:     a.params.AdminPackage(),
		State:     state,
		Step:      step,
		StartedAt: a.startedAt,
		EndedAt:   endedAt,
		Error:     errorInfo(err),
	}
	if s.Admin == "" {
		s.Admin = a.params.AdminComponent().Package
	}

	lines := a.statuses.All()
	for _, name := range a.ctrl.Tasks() {
		s.Tasks = append(s.Tasks, TaskExecution{
			Name:   name,
			Status: lines[name],
			Logs:   a.collector.Logs(name),
		})
	}
	return s
}

// Service runs provisioning attempts.
type Service struct {
	deps     controller.Deps
	logger   *slog.Logger
	host     controller.Host
	history  HistoryStore
	ctrlOpts []controller.Option
	maxLogs  int
	newID    func() string
	now      func() time.Time
	ctx      context.Context
	stop     context.CancelFunc
	running  sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	attempts map[resume.Target]*attempt
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithHost forwards the signals of every attempt to h.
func WithHost(h controller.Host) Option {
	return func(s *Service) {
		s.host = h
	}
}

// WithHistory sets the store of attempts that ended. The default keeps
// the last 100 in memory.
func WithHistory(h HistoryStore) Option {
	return func(s *Service) {
		s.history = h
	}
}

// WithControllerOptions applies opts to every controller, after the
// options the service sets itself.
func WithControllerOptions(opts ...controller.Option) Option {
	return func(s *Service) {
		s.ctrlOpts = append(s.ctrlOpts, opts...)
	}
}

// WithMaxTaskLogs bounds the log records kept per task.
func WithMaxTaskLogs(n int) Option {
	return func(s *Service) {
		s.maxLogs = n
	}
}

// New creates a Service. Attempts run until they end or Close is called.
func New(deps controller.Deps, opts ...Option) *Service {
	s := &Service{
		deps:     deps,
		logger:   slog.Default(),
		maxLogs:  logging.DefaultMaxEntries,
		newID:    uuid.NewString,
		now:      time.Now,
		attempts: make(map[resume.Target]*attempt),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.history == nil {
		s.history = NewMemoryStore(defaultMaxHistorySize)
	}
	s.logger = s.logger.With("component", "service")
	s.ctx, s.stop = context.WithCancel(context.Background())
	return s
}

// Provision starts an attempt for p. While an attempt for the same target
// is live it re-reports that attempt's status and returns it together with
// ErrProvisioningInProgress. A failed precondition ends the new attempt
// at once: its status is returned with the *controller.Error.
//
// On an unencrypted device, unless p skips encryption, no attempt starts:
// p is saved to the resume store, encryption is started and
// ErrEncryptionPending is returned.
func (s *Service) Provision(ctx context.Context, p *params.Params) (AttemptStatus, error) {
	target := resume.TargetFor(p.Variant())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return AttemptStatus{}, ErrClosed
	}

	if a, ok := s.attempts[target]; ok && !a.relay.terminal() {
		s.logger.Info("provisioning already in progress", "target", target, "attempt", a.id)
		a.ctrl.UpdateStatus()
		return a.status(), ErrProvisioningInProgress
	}

	started, err := s.startEncryption(ctx, target, p)
	if err != nil {
		return AttemptStatus{}, err
	}
	if started {
		s.logger.Info("encryption started, provisioning deferred", "target", target, "variant", p.Variant())
		return s.pendingStatus(target, p), ErrEncryptionPending
	}

	a := s.newAttempt(target, p)
	s.attempts[target] = a

	if err := a.ctrl.Initialize(ctx, p); err != nil {
		a.relay.OnError(asControllerError(err))
		s.record(a)
		return a.status(), err
	}
	if err := a.ctrl.Start(s.ctx); err != nil {
		a.relay.OnError(asControllerError(err))
		s.record(a)
		return a.status(), fmt.Errorf("starting attempt: %w", err)
	}
	a.relay.started()

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		<-a.ctrl.Done()
		s.record(a)
	}()

	s.logger.Info("provisioning started", "target", target, "attempt", a.id, "variant", p.Variant())
	return a.status(), nil
}

// startEncryption saves p and starts storage encryption when p requires an
// encrypted device and the device is not. It reports whether it did.
func (s *Service) startEncryption(ctx context.Context, target resume.Target, p *params.Params) (bool, error) {
	enc := s.deps.Device.Encryption
	if p.SkipEncryption() || enc == nil {
		return false, nil
	}
	encrypted, err := enc.IsEncrypted(ctx)
	if err != nil {
		return false, fmt.Errorf("checking encryption: %w", err)
	}
	if encrypted {
		return false, nil
	}
	// Without a saved request the reboot would lose the attempt.
	if s.deps.Resume == nil {
		return false, fmt.Errorf("device requires encryption: %w", ErrResumeDisabled)
	}

	if err := s.deps.Resume.Save(ctx, target, p); err != nil {
		return false, fmt.Errorf("saving resume entry for %s: %w", target, err)
	}
	if err := enc.StartEncryption(ctx); err != nil {
		if cerr := s.deps.Resume.Clear(ctx, target); cerr != nil {
			s.logger.Warn("failed to clear resume entry", "target", target, "error", cerr)
		}
		return false, fmt.Errorf("starting encryption: %w", err)
	}
	return true, nil
}

// pendingStatus describes a request deferred until after encryption.
func (s *Service) pendingStatus(target resume.Target, p *params.Params) AttemptStatus {
	status := AttemptStatus{
		ID:        s.newID(),
		Target:    target,
		Variant:   p.Variant().String(),
		Admin:     p.AdminPackage(),
		State:     controller.StateNotStarted,
		StartedAt: s.now(),
	}
	if status.Admin == "" {
		status.Admin = p.AdminComponent().Package
	}
	return status
}

func (s *Service) newAttempt(target resume.Target, p *params.Params) *attempt {
	id := s.newID()
	logger := s.logger.With("attempt", id, "target", target)
	a := &attempt{
		id:        id,
		target:    target,
		params:    p,
		statuses:  task.NewStatusHandler(),
		collector: logging.NewBoundedLogCollector(s.maxLogs),
		startedAt: s.now(),
	}
	a.relay = newRelay(logger, s.host, s.now)

	opts := append([]controller.Option{
		controller.WithLogger(s.logger),
		controller.WithAttemptID(id),
		controller.WithStatusHandler(a.statuses),
		controller.WithLoggerHook(logging.NewCapturingLoggerHook(a.collector)),
	}, s.ctrlOpts...)
	a.ctrl = controller.New(s.deps, a.relay, opts...)
	return a
}

func asControllerError(err error) *controller.Error {
	var cerr *controller.Error
	if errors.As(err, &cerr) {
		return cerr
	}
	return &controller.Error{Category: task.CategoryOther, Task: controller.StagePreconditions, Err: err}
}

// record saves an attempt that ended.
func (s *Service) record(a *attempt) {
	status := a.status()
	if err := s.history.Save(status); err != nil {
		s.logger.Error("failed to save attempt", "attempt", a.id, "error", err)
	}
}

// Cancel cancels the attempt of target. Cancelling an attempt that ended
// does nothing.
func (s *Service) Cancel(target resume.Target) error {
	s.mu.Lock()
	a, ok := s.attempts[target]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w for %s", ErrNoAttempt, target)
	}
	if a.relay.terminal() {
		return nil
	}
	a.ctrl.Cancel()
	return nil
}

// Status returns the latest attempt of target.
func (s *Service) Status(target resume.Target) (AttemptStatus, error) {
	s.mu.Lock()
	a, ok := s.attempts[target]
	s.mu.Unlock()
	if !ok {
		return AttemptStatus{}, fmt.Errorf("%w for %s", ErrNoAttempt, target)
	}
	return a.status(), nil
}

// Statuses returns the latest attempt of every target that has one.
func (s *Service) Statuses() []AttemptStatus {
	s.mu.Lock()
	attempts := make([]*attempt, 0, len(s.attempts))
	for _, target := range resume.Targets {
		if a, ok := s.attempts[target]; ok {
			attempts = append(attempts, a)
		}
	}
	s.mu.Unlock()

	out := make([]AttemptStatus, len(attempts))
	for i, a := range attempts {
		out[i] = a.status()
	}
	return out
}

// Logs returns the captured logs of the latest attempt of target, keyed by
// task name.
func (s *Service) Logs(target resume.Target) (map[string][]logging.LogEntry, error) {
	s.mu.Lock()
	a, ok := s.attempts[target]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoAttempt, target)
	}
	return a.collector.All(), nil
}

// Busy reports whether any attempt has not ended.
func (s *Service) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if !a.relay.terminal() {
			return true
		}
	}
	return false
}

// Ready returns ErrClosed once Close was called.
func (s *Service) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// History returns the attempts that ended, most recent first.
func (s *Service) History() []AttemptStatus {
	return s.history.History()
}

// Attempt returns a past attempt including its task logs.
func (s *Service) Attempt(id string) (AttemptStatus, error) {
	a, ok := s.history.Attempt(id)
	if !ok {
		return AttemptStatus{}, fmt.Errorf("%w with id %s", ErrNoAttempt, id)
	}
	return a, nil
}

// Remind persists the request of the live attempt of target so Resume can
// replay it after a reboot.
func (s *Service) Remind(ctx context.Context, target resume.Target) error {
	if s.deps.Resume == nil {
		return ErrResumeDisabled
	}
	s.mu.Lock()
	a, ok := s.attempts[target]
	s.mu.Unlock()
	if !ok || a.relay.terminal() {
		return fmt.Errorf("%w in progress for %s", ErrNoAttempt, target)
	}
	if err := s.deps.Resume.Save(ctx, target, a.params); err != nil {
		return fmt.Errorf("saving resume entry for %s: %w", target, err)
	}
	s.logger.Info("saved resume entry", "target", target, "attempt", a.id)
	return nil
}

// Resume replays the stored request of every target. Entries whose
// preconditions no longer hold are cleared, since replaying them cannot
// succeed. Targets that already run an attempt are skipped.
func (s *Service) Resume(ctx context.Context) error {
	if s.deps.Resume == nil {
		return nil
	}

	var errs []error
	for _, target := range resume.Targets {
		p, err := s.deps.Resume.Load(ctx, target)
		if errors.Is(err, resume.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("loading resume entry for %s: %w", target, err))
			continue
		}
		if resume.TargetFor(p.Variant()) != target {
			errs = append(errs, fmt.Errorf("resume entry for %s holds a %s request", target, p.Variant()))
			continue
		}

		s.logger.Info("resuming provisioning", "target", target, "variant", p.Variant())
		_, err = s.Provision(ctx, p)
		var cerr *controller.Error
		switch {
		case err == nil, errors.Is(err, ErrProvisioningInProgress), errors.Is(err, ErrEncryptionPending):
		case errors.As(err, &cerr):
			s.logger.Warn("dropping resume entry", "target", target, "category", cerr.Category, "error", err)
			if err := s.deps.Resume.Clear(ctx, target); err != nil {
				errs = append(errs, fmt.Errorf("clearing resume entry for %s: %w", target, err))
			}
		default:
			errs = append(errs, fmt.Errorf("resuming %s: %w", target, err))
		}
	}
	return errors.Join(errs...)
}

// Close cancels every live attempt and waits for them to end or for ctx.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	live := slices.Collect(maps.Values(s.attempts))
	s.mu.Unlock()

	for _, a := range live {
		if !a.relay.terminal() {
			a.ctrl.Cancel()
		}
	}
	s.stop()

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for attempts: %w", ctx.Err())
	}
}
