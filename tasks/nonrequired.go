package tasks

import (
	"slices"

	"github.com/nomis52/provisiond/params"
)

// AppLists are the configured app lists for one flow variant. Vendor lists
// come from the device image and are merged with the platform lists.
type AppLists struct {
	Required         []string `yaml:"required"`
	Disallowed       []string `yaml:"disallowed"`
	VendorRequired   []string `yaml:"vendor_required"`
	VendorDisallowed []string `yaml:"vendor_disallowed"`
}

// AllRequired returns the platform and vendor required apps.
func (l AppLists) AllRequired() []string {
	return slices.Concat(l.Required, l.VendorRequired)
}

// AllDisallowed returns the platform and vendor disallowed apps.
func (l AppLists) AllDisallowed() []string {
	return slices.Concat(l.Disallowed, l.VendorDisallowed)
}

// AppPolicy holds the app lists of every flow variant.
type AppPolicy map[params.FlowVariant]AppLists

// For returns the lists of variant, or empty lists when none are set.
func (p AppPolicy) For(variant params.FlowVariant) AppLists {
	return p[variant]
}

// AppInputs is everything the non-required computation depends on.
type AppInputs struct {
	Variant params.FlowVariant
	// Fresh is true when a new device owner, profile or user is being set
	// up, false for re-runs after a system update.
	Fresh         bool
	Admin         string
	Launcher      []string
	Disallowed    []string
	Required      []string
	InputMethods  []string
	Accessibility []string
}

// ExemptsInputServices reports whether input method and accessibility
// apps are kept.
func (in AppInputs) ExemptsInputServices() bool {
	if !in.Fresh {
		return false
	}
	return in.Variant.IsDeviceOwner() || in.Variant == params.ManagedUser
}

// NonRequiredApps returns the sorted set
//
//	(launcher ∪ disallowed) − required − {admin} − exemptions
//
// where exemptions are the input method and accessibility apps when
// ExemptsInputServices holds.
func NonRequiredApps(in AppInputs) []string {
	set := make(map[string]struct{}, len(in.Launcher)+len(in.Disallowed))
	for _, pkg := range in.Launcher {
		set[pkg] = struct{}{}
	}
	for _, pkg := range in.Disallowed {
		set[pkg] = struct{}{}
	}

	for _, pkg := range in.Required {
		delete(set, pkg)
	}
	delete(set, in.Admin)

	if in.ExemptsInputServices() {
		for _, pkg := range in.InputMethods {
			delete(set, pkg)
		}
		for _, pkg := range in.Accessibility {
			delete(set, pkg)
		}
	}

	out := make([]string, 0, len(set))
	for pkg := range set {
		out = append(out, pkg)
	}
	slices.Sort(out)
	return out
}

// newApps returns the entries of current missing from previous.
func newApps(current, previous []string) []string {
	seen := make(map[string]struct{}, len(previous))
	for _, pkg := range previous {
		seen[pkg] = struct{}{}
	}
	var out []string
	for _, pkg := range current {
		if _, ok := seen[pkg]; !ok {
			out = append(out, pkg)
		}
	}
	return out
}
