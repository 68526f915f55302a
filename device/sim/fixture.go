package sim

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/nomis52/provisiond/device"
	"gopkg.in/yaml.v3"
)

// Fixture describes the initial state of a simulated device.
type Fixture struct {
	OSVersion string `yaml:"os_version"`
	// MaxProfiles bounds the managed profiles that can exist at once.
	MaxProfiles int    `yaml:"max_profiles"`
	Connected   bool   `yaml:"connected"`
	SSID        string `yaml:"ssid"`
	// DeviceOwner is a "package/class" component already holding device
	// owner.
	DeviceOwner string `yaml:"device_owner"`
	// Provisioned marks the primary user as already set up.
	Provisioned bool `yaml:"provisioned"`
	// Unencrypted starts the device without storage encryption.
	Unencrypted bool             `yaml:"unencrypted"`
	Packages    []PackageFixture `yaml:"packages"`
	// Remote maps download URLs to the package served there.
	Remote map[string]Manifest `yaml:"remote"`
}

// PackageFixture is a package present on the device image.
type PackageFixture struct {
	Manifest `yaml:",inline"`

	System        bool `yaml:"system"`
	Launcher      bool `yaml:"launcher"`
	InputMethod   bool `yaml:"input_method"`
	Accessibility bool `yaml:"accessibility"`
	// Installed installs a non-system package for the primary user. System
	// packages are always installed.
	Installed bool `yaml:"installed"`
}

// Manifest is the content of a simulated package file.
type Manifest struct {
	Package     string            `yaml:"package"`
	VersionCode int64             `yaml:"version_code"`
	Receivers   []device.Receiver `yaml:"receivers,omitempty"`
	// SignatureHashes are hex encoded SHA-256 certificate digests.
	SignatureHashes []string `yaml:"signature_hashes,omitempty"`
}

// Encode returns the package file bytes for m.
func (m Manifest) Encode() ([]byte, error) {
	return yaml.Marshal(m)
}

// ArchiveInfo converts m into what a package parser reports.
func (m Manifest) ArchiveInfo() (device.ArchiveInfo, error) {
	info := device.ArchiveInfo{
		PackageName: m.Package,
		VersionCode: m.VersionCode,
		Receivers:   m.Receivers,
	}
	for _, h := range m.SignatureHashes {
		b, err := hex.DecodeString(h)
		if err != nil {
			return device.ArchiveInfo{}, fmt.Errorf("signature hash %q: %w", h, err)
		}
		info.SignatureHashes = append(info.SignatureHashes, b)
	}
	return info, nil
}

// ParseManifest decodes a package file.
func ParseManifest(b []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("parsing package: %w", err)
	}
	if m.Package == "" {
		return Manifest{}, fmt.Errorf("parsing package: no package name")
	}
	return m, nil
}

// LoadFixture reads a fixture from a YAML file.
func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("failed to read fixture %s: %w", path, err)
	}

	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixture{}, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return f, nil
}
