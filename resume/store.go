// Package resume persists the provisioning request of a running attempt so
// it can be replayed after a reboot. There is at most one entry per flow
// target. Progress is never stored: a resumed attempt starts from the
// first task and relies on every task being safe to run again.
package resume

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nomis52/provisiond/params"
)

// ErrNotFound is returned by Load when no entry exists for the target.
var ErrNotFound = errors.New("no resume entry")

// Target identifies what an attempt provisions.
type Target string

const (
	TargetDeviceOwner  Target = "device_owner"
	TargetProfileOwner Target = "profile_owner"
)

// Targets lists every target in resume order.
var Targets = []Target{TargetDeviceOwner, TargetProfileOwner}

// TargetFor maps a flow variant to the target it provisions.
func TargetFor(v params.FlowVariant) Target {
	if v.IsDeviceOwner() {
		return TargetDeviceOwner
	}
	return TargetProfileOwner
}

// ParseTarget parses a target name.
func ParseTarget(s string) (Target, error) {
	switch t := Target(s); t {
	case TargetDeviceOwner, TargetProfileOwner:
		return t, nil
	default:
		return "", fmt.Errorf("unknown target %q", s)
	}
}

// Store keeps one set of params per target.
type Store interface {
	Save(ctx context.Context, target Target, p *params.Params) error
	// Load returns ErrNotFound when nothing is stored for target.
	Load(ctx context.Context, target Target) (*params.Params, error)
	// Clear removes the entry. Clearing a missing entry is not an error.
	Clear(ctx context.Context, target Target) error
}

const recordVersion = 1

type record struct {
	Version int            `json:"version"`
	SavedAt time.Time      `json:"saved_at"`
	Request params.Request `json:"request"`
}

func encode(p *params.Params, now time.Time) ([]byte, error) {
	b, err := json.Marshal(record{Version: recordVersion, SavedAt: now.UTC(), Request: p.Request()})
	if err != nil {
		return nil, fmt.Errorf("encoding resume entry: %w", err)
	}
	return b, nil
}

// decode rebuilds the params, validating them again.
func decode(b []byte) (*params.Params, error) {
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decoding resume entry: %w", err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("unsupported resume entry version %d", rec.Version)
	}
	p, err := rec.Request.Build()
	if err != nil {
		return nil, fmt.Errorf("stored request no longer valid: %w", err)
	}
	return p, nil
}
