package task

import "fmt"

// Category is the user-facing classification of a terminal error.
type Category int

const (
	CategoryOther Category = iota
	CategoryValidation
	CategoryAlreadyProvisioned
	CategoryDeviceOwnerExists
	CategoryUserLimitReached
	CategoryProfileUnsupported
	CategoryNetwork
	CategoryDownload
	CategoryHashMismatch
	CategoryPackageInvalid
	CategoryInstallFailed
	CategoryPackageNotInstalled
	CategoryPolicy
)

var categoryNames = map[Category]string{
	CategoryOther:               "other",
	CategoryValidation:          "validation",
	CategoryAlreadyProvisioned:  "already_provisioned",
	CategoryDeviceOwnerExists:   "device_owner_exists",
	CategoryUserLimitReached:    "user_limit_reached",
	CategoryProfileUnsupported:  "profile_unsupported",
	CategoryNetwork:             "network",
	CategoryDownload:            "download",
	CategoryHashMismatch:        "hash_mismatch",
	CategoryPackageInvalid:      "package_invalid",
	CategoryInstallFailed:       "install_failed",
	CategoryPackageNotInstalled: "package_not_installed",
	CategoryPolicy:              "policy",
}

// String returns the snake case name of the category.
func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	if _, ok := categoryNames[c]; !ok {
		return nil, fmt.Errorf("unknown category %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Category) UnmarshalText(b []byte) error {
	for category, name := range categoryNames {
		if name == string(b) {
			*c = category
			return nil
		}
	}
	return fmt.Errorf("unknown category %q", b)
}

// Message returns the sentence shown to the user for the category.
func (c Category) Message() string {
	switch c {
	case CategoryValidation:
		return "The provisioning request is incomplete or malformed."
	case CategoryAlreadyProvisioned:
		return "This device or user has already been set up."
	case CategoryDeviceOwnerExists:
		return "This device already has a device owner."
	case CategoryUserLimitReached:
		return "No more users or profiles can be added to this device."
	case CategoryProfileUnsupported:
		return "This device does not support work profiles."
	case CategoryNetwork:
		return "Could not connect to the network."
	case CategoryDownload:
		return "Could not download the management app."
	case CategoryHashMismatch:
		return "The downloaded management app failed verification."
	case CategoryPackageInvalid:
		return "The management app is not a valid device admin."
	case CategoryInstallFailed:
		return "Could not install the management app."
	case CategoryPackageNotInstalled:
		return "The management app is not installed."
	case CategoryPolicy:
		return "Could not activate the management app."
	default:
		return "Something went wrong during setup."
	}
}
