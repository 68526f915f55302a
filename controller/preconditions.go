package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/task"
	"github.com/nomis52/provisiond/tasks"
)

// OSConstraints restricts each flow variant to OS versions matching a
// semver constraint. Variants without an entry run on any version.
type OSConstraints map[params.FlowVariant]*semver.Constraints

// ParseOSConstraints parses constraints keyed by variant name, e.g.
// {"profile_owner": ">= 5.0"}.
func ParseOSConstraints(raw map[string]string) (OSConstraints, error) {
	out := make(OSConstraints, len(raw))
	for name, expr := range raw {
		v, err := params.ParseFlowVariant(name)
		if err != nil {
			return nil, err
		}
		c, err := semver.NewConstraint(expr)
		if err != nil {
			return nil, fmt.Errorf("os constraint for %s: %w", name, err)
		}
		out[v] = c
	}
	return out, nil
}

// Allows reports whether the variant may run on the given OS version.
func (oc OSConstraints) Allows(variant params.FlowVariant, osVersion string) (bool, error) {
	c, ok := oc[variant]
	if !ok {
		return true, nil
	}
	v, err := semver.NewVersion(osVersion)
	if err != nil {
		return false, fmt.Errorf("parsing os version %q: %w", osVersion, err)
	}
	return c.Check(v), nil
}

// checkPreconditions verifies the environment without side effects. It
// returns nil or an *Error.
func (c *Controller) checkPreconditions(ctx context.Context, p *params.Params) error {
	svc := c.deps.Device
	variant := p.Variant()
	fail := func(category task.Category, err error) error {
		c.logger.Warn("precondition failed", "category", category, "error", err)
		return stageError(StagePreconditions, category, err, false)
	}

	if variant.IsDeviceOwner() {
		has, err := svc.Policy.HasDeviceOwner(ctx)
		if err != nil {
			return fail(task.CategoryOther, fmt.Errorf("checking device owner: %w", err))
		}
		if has {
			return fail(task.CategoryDeviceOwnerExists, ErrDeviceOwnerExists)
		}
	}

	if variant != params.ProfileOwner {
		state, err := svc.Policy.ProvisioningState(ctx, c.callingUser)
		if err != nil {
			return fail(task.CategoryOther, fmt.Errorf("reading provisioning state: %w", err))
		}
		if state >= device.StateSetupComplete {
			return fail(task.CategoryAlreadyProvisioned, fmt.Errorf("%w: state %s", ErrAlreadyProvisioned, state))
		}
	}

	osVersion, err := svc.Settings.OSVersion(ctx)
	if err != nil {
		return fail(task.CategoryOther, fmt.Errorf("reading os version: %w", err))
	}
	ok, err := c.constraints.Allows(variant, osVersion)
	if err != nil {
		return fail(task.CategoryProfileUnsupported, err)
	}
	if !ok {
		return fail(task.CategoryProfileUnsupported, fmt.Errorf("%w: %s on %s", ErrProfileUnsupported, variant, osVersion))
	}

	if _, hasDownload := p.Download(); !hasDownload {
		_, err := svc.Packages.PackageInfo(ctx, p.AdminPackage(), c.callingUser)
		switch {
		case errors.Is(err, device.ErrNotFound):
			// Left to SetDevicePolicy, which reports the missing package.
		case err != nil:
			return fail(task.CategoryOther, fmt.Errorf("querying admin package: %w", err))
		default:
			if _, err := tasks.ResolveAdmin(ctx, svc.Packages, p, c.callingUser); err != nil {
				return fail(task.CategoryValidation, fmt.Errorf("%w: %v", ErrAdminUnresolvable, err))
			}
		}
	}
	return nil
}
