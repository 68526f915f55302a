package params

import (
	"fmt"
	"strings"
)

// FlowVariant selects the task pipeline and the app lists that apply.
type FlowVariant int

const (
	// DeviceOwner provisions the whole device under a device owner.
	DeviceOwner FlowVariant = iota + 1
	// ProfileOwner creates a managed profile next to the personal one.
	ProfileOwner
	// ManagedUser provisions a secondary user under a profile owner.
	ManagedUser
	// ManagedShareableDevice provisions a device owner on a device shared
	// between several users.
	ManagedShareableDevice
)

var variantNames = map[FlowVariant]string{
	DeviceOwner:            "device_owner",
	ProfileOwner:           "profile_owner",
	ManagedUser:            "managed_user",
	ManagedShareableDevice: "managed_shareable_device",
}

// String returns the snake case name of the variant.
func (v FlowVariant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return "unknown"
}

// IsDeviceOwner reports whether the variant ends with a device owner.
func (v FlowVariant) IsDeviceOwner() bool {
	return v == DeviceOwner || v == ManagedShareableDevice
}

// Valid reports whether v is one of the declared variants.
func (v FlowVariant) Valid() bool {
	_, ok := variantNames[v]
	return ok
}

// ParseFlowVariant parses the snake case name of a variant.
func ParseFlowVariant(s string) (FlowVariant, error) {
	for v, name := range variantNames {
		if strings.EqualFold(name, s) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

// MarshalText implements encoding.TextMarshaler.
func (v FlowVariant) MarshalText() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVariant, int(v))
	}
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *FlowVariant) UnmarshalText(b []byte) error {
	parsed, err := ParseFlowVariant(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ComponentName identifies a component within a package.
type ComponentName struct {
	Package string `json:"package"`
	Class   string `json:"class"`
}

// IsZero reports whether c is unset.
func (c ComponentName) IsZero() bool {
	return c.Package == "" && c.Class == ""
}

// String returns the flattened "package/class" form.
func (c ComponentName) String() string {
	if c.IsZero() {
		return ""
	}
	return c.Package + "/" + c.Class
}

// ParseComponentName parses the flattened "package/class" form. A class
// starting with "." is relative to the package.
func ParseComponentName(s string) (ComponentName, error) {
	pkg, class, ok := strings.Cut(s, "/")
	if !ok || pkg == "" || class == "" {
		return ComponentName{}, fmt.Errorf("malformed component name %q", s)
	}
	return ComponentName{Package: pkg, Class: QualifyClass(pkg, class)}, nil
}

// QualifyClass expands a class name relative to pkg.
func QualifyClass(pkg, class string) string {
	if strings.HasPrefix(class, ".") {
		return pkg + class
	}
	return class
}

// Wifi security types.
const (
	SecurityNone = "NONE"
	SecurityWPA  = "WPA"
	SecurityWEP  = "WEP"
	SecurityEAP  = "EAP"
)

// WifiInfo describes the network to join before downloading anything.
type WifiInfo struct {
	SSID             string `json:"ssid"`
	Hidden           bool   `json:"hidden,omitempty"`
	SecurityType     string `json:"security_type,omitempty"`
	Password         string `json:"password,omitempty"`
	ProxyHost        string `json:"proxy_host,omitempty"`
	ProxyPort        int    `json:"proxy_port,omitempty"`
	ProxyBypassHosts string `json:"proxy_bypass_hosts,omitempty"`
	PacURL           string `json:"pac_url,omitempty"`
}

// DownloadInfo describes where to fetch the admin package and how to
// verify it.
type DownloadInfo struct {
	Location     string `json:"location"`
	CookieHeader string `json:"cookie_header,omitempty"`
	// MinVersion is the lowest installed version code that makes the
	// download unnecessary. Zero means no minimum: the package is always
	// downloaded.
	MinVersion int64 `json:"min_version,omitempty"`
	// PackageChecksum is the SHA-256 digest of the whole package file, or
	// SHA-1 when PackageChecksumSupportsSHA1 is set.
	PackageChecksum []byte `json:"package_checksum,omitempty"`
	// PackageChecksumSupportsSHA1 allows a 20 byte PackageChecksum.
	PackageChecksumSupportsSHA1 bool `json:"package_checksum_supports_sha1,omitempty"`
	// SignatureChecksum is the SHA-256 digest of a signing certificate.
	SignatureChecksum []byte `json:"signature_checksum,omitempty"`
}

// Account names an account to copy into the new profile.
type Account struct {
	Name string `json:"name"`
	Type string `json:"type"`
}
