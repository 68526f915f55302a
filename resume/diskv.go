package resume

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nomis52/provisiond/params"
	"github.com/peterbourgon/diskv/v3"
)

// DiskvStore keeps one file per target under a directory. Writes go through
// a temporary file and a rename, so a crash never leaves a partial entry.
type DiskvStore struct {
	dv     *diskv.Diskv
	sealer *Sealer
	logger *slog.Logger
	now    func() time.Time
}

// DiskvOption configures a DiskvStore.
type DiskvOption func(*DiskvStore)

// WithSealer encrypts entries at rest.
func WithSealer(s *Sealer) DiskvOption {
	return func(ds *DiskvStore) {
		ds.sealer = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) DiskvOption {
	return func(ds *DiskvStore) {
		ds.logger = logger
	}
}

// NewDiskvStore creates a store under dir/resume.
func NewDiskvStore(dir string, opts ...DiskvOption) *DiskvStore {
	s := &DiskvStore{
		dv: diskv.New(diskv.Options{
			BasePath:  filepath.Join(dir, "resume"),
			TempDir:   filepath.Join(dir, "resume.tmp"),
			Transform: func(string) []string { return []string{} },
			PathPerm:  0o700,
			FilePerm:  0o600,
		}),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "resume")
	return s
}

// Save implements Store.
func (s *DiskvStore) Save(_ context.Context, target Target, p *params.Params) error {
	b, err := encode(p, s.now())
	if err != nil {
		return err
	}
	if s.sealer != nil {
		if b, err = s.sealer.Seal(target, b); err != nil {
			return err
		}
	}
	if err := s.dv.Write(string(target), b); err != nil {
		return fmt.Errorf("writing resume entry %s: %w", target, err)
	}
	s.logger.Debug("saved resume entry", "target", target)
	return nil
}

// Load implements Store.
func (s *DiskvStore) Load(_ context.Context, target Target) (*params.Params, error) {
	b, err := s.dv.Read(string(target))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", target, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading resume entry %s: %w", target, err)
	}
	if s.sealer != nil {
		if b, err = s.sealer.Open(target, b); err != nil {
			return nil, err
		}
	}
	return decode(b)
}

// Clear implements Store.
func (s *DiskvStore) Clear(_ context.Context, target Target) error {
	if !s.dv.Has(string(target)) {
		return nil
	}
	if err := s.dv.Erase(string(target)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clearing resume entry %s: %w", target, err)
	}
	s.logger.Debug("cleared resume entry", "target", target)
	return nil
}
