// Package sim is an in-process simulated device implementing every
// interface of package device.
//
// The daemon uses it for dry runs and the tests use it as a deterministic
// OS. Package files are YAML manifests, so downloads have real bytes to
// checksum and installs have a real package to parse. Broadcast style
// notifications can be delivered twice with WithDuplicateEvents, and any
// operation can be made to fail with SetError.
package sim

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
)

// Op names an operation that SetError can make fail.
type Op string

const (
	OpSystemPackages       Op = "system_packages"
	OpLauncherPackages     Op = "launcher_packages"
	OpInstall              Op = "install"
	OpInstallExisting      Op = "install_existing"
	OpUninstall            Op = "uninstall"
	OpCreateProfile        Op = "create_profile"
	OpRemoveUser           Op = "remove_user"
	OpSetActiveAdmin       Op = "set_active_admin"
	OpSetDeviceOwner       Op = "set_device_owner"
	OpSetProfileOwner      Op = "set_profile_owner"
	OpSetProvisioningState Op = "set_provisioning_state"
	OpSetRestriction       Op = "set_restriction"
	OpAddFilter            Op = "add_filter"
	OpAddNetwork           Op = "add_network"
	OpConnect              Op = "connect"
	OpEnqueue              Op = "enqueue"
	OpCopyAccount          Op = "copy_account"
	OpBroadcast            Op = "broadcast"
	OpStartEncryption      Op = "start_encryption"
)

const (
	defaultOSVersion   = "14.0.0"
	firstProfileUserID = 10
)

// ErrOwnerExists is returned when a different owner is already set.
var ErrOwnerExists = errors.New("owner already set")

// Option configures a Device.
type Option func(*Device)

// WithDuplicateEvents delivers every connectivity, download and install
// notification twice.
func WithDuplicateEvents() Option {
	return func(d *Device) {
		d.duplicate = true
	}
}

// WithAutoConnect makes Connect succeed and broadcast connectivity at once.
func WithAutoConnect() Option {
	return func(d *Device) {
		d.autoConnect = true
	}
}

// WithDownloadDir sets where downloaded files are written.
func WithDownloadDir(dir string) Option {
	return func(d *Device) {
		d.downloadDir = dir
	}
}

type simPackage struct {
	manifest      Manifest
	system        bool
	launcher      bool
	inputMethod   bool
	accessibility bool
}

type user struct {
	id      int
	parent  int
	profile bool
}

// Broadcast records a provisioning complete signal.
type Broadcast struct {
	Admin  params.ComponentName
	UserID int
	Extras map[string]string
}

// FilterRecord records a cross profile intent filter.
type FilterRecord struct {
	Filter device.IntentFilter
	Source int
	Target int
}

// Device is a simulated device. All methods are safe for concurrent use.
type Device struct {
	mu sync.Mutex

	duplicate   bool
	autoConnect bool
	downloadDir string
	maxProfiles int
	osVersion   string

	packages  map[string]*simPackage
	installed map[int]map[string]int64
	users     map[int]*user
	nextUser  int
	created   int

	installCount int
	installForce *device.InstallStatus
	uninstalled  map[int][]string
	disabled     map[int][]params.ComponentName

	activeAdmins  map[int][]params.ComponentName
	deviceOwner   *params.ComponentName
	profileOwners map[int]params.ComponentName
	provState     map[int]device.ProvisioningState
	restrictions  map[int]map[string]bool
	filters       []FilterRecord

	connected   bool
	ssid        string
	networks    map[int]params.WifiInfo
	nextNetwork int
	netSubs     map[int]chan device.ConnectivityEvent
	nextSub     int

	remote       map[string][]byte
	downloads    map[int64]*download
	nextDownload int64
	dlSubs       map[int]chan device.DownloadEvent

	timeZone string
	locale   string
	clock    string
	accounts map[int][]params.Account

	encrypted        bool
	encryptionStarts int

	broadcasts []Broadcast
	errs       map[Op]error
}

// New creates a device in the state described by f.
func New(f Fixture, opts ...Option) (*Device, error) {
	d := &Device{
		maxProfiles:   f.MaxProfiles,
		osVersion:     f.OSVersion,
		packages:      make(map[string]*simPackage),
		installed:     map[int]map[string]int64{device.SystemUser: {}},
		users:         map[int]*user{device.SystemUser: {id: device.SystemUser}},
		nextUser:      firstProfileUserID,
		uninstalled:   make(map[int][]string),
		disabled:      make(map[int][]params.ComponentName),
		activeAdmins:  make(map[int][]params.ComponentName),
		profileOwners: make(map[int]params.ComponentName),
		provState:     make(map[int]device.ProvisioningState),
		restrictions:  make(map[int]map[string]bool),
		connected:     f.Connected,
		encrypted:     !f.Unencrypted,
		ssid:          f.SSID,
		networks:      make(map[int]params.WifiInfo),
		netSubs:       make(map[int]chan device.ConnectivityEvent),
		remote:        make(map[string][]byte),
		downloads:     make(map[int64]*download),
		nextDownload:  1,
		dlSubs:        make(map[int]chan device.DownloadEvent),
		accounts:      make(map[int][]params.Account),
		errs:          make(map[Op]error),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxProfiles <= 0 {
		d.maxProfiles = 1
	}
	if d.osVersion == "" {
		d.osVersion = defaultOSVersion
	}

	for _, pf := range f.Packages {
		if pf.Package == "" {
			return nil, fmt.Errorf("fixture package without a name")
		}
		d.packages[pf.Package] = &simPackage{
			manifest:      pf.Manifest,
			system:        pf.System,
			launcher:      pf.Launcher,
			inputMethod:   pf.InputMethod,
			accessibility: pf.Accessibility,
		}
		if pf.System || pf.Installed {
			d.installed[device.SystemUser][pf.Package] = pf.VersionCode
		}
	}

	for url, m := range f.Remote {
		b, err := m.Encode()
		if err != nil {
			return nil, fmt.Errorf("encoding remote package %s: %w", url, err)
		}
		d.remote[url] = b
	}

	if f.DeviceOwner != "" {
		owner, err := params.ParseComponentName(f.DeviceOwner)
		if err != nil {
			return nil, fmt.Errorf("fixture device owner: %w", err)
		}
		d.deviceOwner = &owner
	}
	if f.Provisioned {
		d.provState[device.SystemUser] = device.StateSetupFinalized
	}
	return d, nil
}

// Services returns d as the full set of device collaborators.
func (d *Device) Services() device.Services {
	return device.Services{
		Packages:    d,
		Users:       d,
		Policy:      d,
		Network:     d.Network(),
		Downloader:  d.Downloader(),
		Settings:    d,
		Accounts:    d,
		Broadcaster: d,
		Encryption:  d,
	}
}

// SetError makes op fail with err until cleared with a nil err.
func (d *Device) SetError(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.errs, op)
		return
	}
	d.errs[op] = err
}

// fail returns the injected error for op. Callers hold d.mu.
func (d *Device) fail(op Op) error {
	return d.errs[op]
}

func (d *Device) ensureDownloadDir() (string, error) {
	if d.downloadDir != "" {
		return d.downloadDir, os.MkdirAll(d.downloadDir, 0o755)
	}
	dir, err := os.MkdirTemp("", "provisiond-sim-")
	if err != nil {
		return "", err
	}
	d.downloadDir = dir
	return dir, nil
}

// Users returns the ids of every user and profile.
func (d *Device) Users() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := slices.Collect(maps.Keys(d.users))
	slices.Sort(ids)
	return ids
}

// ProfilesCreated counts every CreateProfile call that succeeded.
func (d *Device) ProfilesCreated() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created
}

// Broadcasts returns every provisioning complete signal sent.
func (d *Device) Broadcasts() []Broadcast {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.broadcasts)
}

// Accounts returns the accounts copied into userID.
func (d *Device) Accounts(userID int) []params.Account {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.accounts[userID])
}

// CurrentSettings returns the applied time zone, locale and clock.
func (d *Device) CurrentSettings() (timeZone, locale, clock string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timeZone, d.locale, d.clock
}

// SetTimeZone implements device.Settings.
func (d *Device) SetTimeZone(_ context.Context, tz string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeZone = tz
	return nil
}

// SetLocale implements device.Settings.
func (d *Device) SetLocale(_ context.Context, locale string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locale = locale
	return nil
}
