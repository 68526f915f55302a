// Package device declares the OS services the provisioning core calls.
//
// Every method that reaches the OS takes a context and a user id where the
// effect is per user. Implementations live in sub-packages: sim is an
// in-process simulated device and httpdl is an HTTP Downloader.
package device

import (
	"context"
	"errors"
	"time"

	"github.com/nomis52/provisiond/params"
)

// SystemUser is the id of the primary user.
const SystemUser = 0

// PermissionBindDeviceAdmin guards the receiver of a device admin.
const PermissionBindDeviceAdmin = "android.permission.BIND_DEVICE_ADMIN"

// ActionInstallShortcut is the broadcast launchers listen to for pinning
// shortcuts.
const ActionInstallShortcut = "com.android.launcher.action.INSTALL_SHORTCUT"

// RestrictionNoAddUser forbids creating further users.
const RestrictionNoAddUser = "no_add_user"

var (
	// ErrNotFound is returned when a package, user or download is unknown.
	ErrNotFound = errors.New("not found")
	// ErrUserLimitReached is returned when no further user or profile fits.
	ErrUserLimitReached = errors.New("user limit reached")
)

// Services groups the collaborators a provisioning attempt needs.
type Services struct {
	Packages    PackageManager
	Users       UserManager
	Policy      PolicyManager
	Network     Network
	Downloader  Downloader
	Settings    Settings
	Accounts    AccountManager
	Broadcaster Broadcaster
	Encryption  Encryption
}

// PackageInfo describes an installed package.
type PackageInfo struct {
	Name        string
	VersionCode int64
	System      bool
}

// Receiver is a broadcast receiver declared in a package manifest.
type Receiver struct {
	Class      string   `yaml:"class"`
	Permission string   `yaml:"permission,omitempty"`
	Actions    []string `yaml:"actions,omitempty"`
}

// ArchiveInfo is what the package parser reports about a package file.
type ArchiveInfo struct {
	PackageName string
	VersionCode int64
	Receivers   []Receiver
	// SignatureHashes holds the SHA-256 digest of each signing certificate.
	SignatureHashes [][]byte
}

// InstallStatus is the outcome reported to an InstallObserver.
type InstallStatus int

const (
	InstallSucceeded InstallStatus = iota
	InstallFailedVersionDowngrade
	InstallFailedInvalidArchive
	InstallFailedOther
)

func (s InstallStatus) String() string {
	switch s {
	case InstallSucceeded:
		return "succeeded"
	case InstallFailedVersionDowngrade:
		return "version_downgrade"
	case InstallFailedInvalidArchive:
		return "invalid_archive"
	case InstallFailedOther:
		return "failed"
	default:
		return "unknown"
	}
}

// InstallObserver receives the asynchronous result of an install. Some
// installers report more than once.
type InstallObserver func(status InstallStatus, message string)

// PackageManager installs, removes and queries packages per user.
type PackageManager interface {
	// PackageInfo returns ErrNotFound when pkg is not installed for userID.
	PackageInfo(ctx context.Context, pkg string, userID int) (PackageInfo, error)
	// SystemPackages lists every package on the system image, including
	// ones uninstalled for userID.
	SystemPackages(ctx context.Context, userID int) ([]string, error)
	// LauncherPackages lists installed packages exposing a launcher entry.
	LauncherPackages(ctx context.Context, userID int) ([]string, error)
	InputMethodPackages(ctx context.Context, userID int) ([]string, error)
	AccessibilityPackages(ctx context.Context, userID int) ([]string, error)
	Receivers(ctx context.Context, pkg string, userID int) ([]Receiver, error)
	ArchiveInfo(ctx context.Context, path string) (ArchiveInfo, error)
	// Install starts installing the package file at path. The observer is
	// called once the installer finishes.
	Install(ctx context.Context, path string, userID int, observer InstallObserver) error
	InstallExisting(ctx context.Context, pkg string, userID int) error
	Uninstall(ctx context.Context, pkg string, userID int) error
	ReceiversForAction(ctx context.Context, action string, userID int) ([]params.ComponentName, error)
	SetComponentEnabled(ctx context.Context, component params.ComponentName, userID int, enabled bool) error
}

// UserManager creates and removes users and profiles.
type UserManager interface {
	// CreateProfile returns the id of the new managed profile, or
	// ErrUserLimitReached.
	CreateProfile(ctx context.Context, name string, parentUserID int) (int, error)
	RemoveUser(ctx context.Context, userID int) error
}

// ProvisioningState is the per-user marker the OS keeps across reboots.
type ProvisioningState int

const (
	StateUnmanaged ProvisioningState = iota
	StateSetupIncomplete
	StateSetupComplete
	StateSetupFinalized
	StateProfileComplete
)

func (s ProvisioningState) String() string {
	switch s {
	case StateUnmanaged:
		return "unmanaged"
	case StateSetupIncomplete:
		return "setup_incomplete"
	case StateSetupComplete:
		return "setup_complete"
	case StateSetupFinalized:
		return "setup_finalized"
	case StateProfileComplete:
		return "profile_complete"
	default:
		return "unknown"
	}
}

// IntentFilter matches intents forwarded between profiles.
type IntentFilter struct {
	Actions     []string
	Categories  []string
	DataSchemes []string
	DataTypes   []string
}

// PolicyManager activates admins and manages per-user policy state.
type PolicyManager interface {
	SetActiveAdmin(ctx context.Context, admin params.ComponentName, userID int) error
	SetDeviceOwner(ctx context.Context, admin params.ComponentName, userID int) error
	SetProfileOwner(ctx context.Context, admin params.ComponentName, userID int) error
	HasDeviceOwner(ctx context.Context) (bool, error)
	ProvisioningState(ctx context.Context, userID int) (ProvisioningState, error)
	SetProvisioningState(ctx context.Context, state ProvisioningState, userID int) error
	SetUserRestriction(ctx context.Context, restriction string, enabled bool, userID int) error
	ClearCrossProfileIntentFilters(ctx context.Context, userID int) error
	AddCrossProfileIntentFilter(ctx context.Context, filter IntentFilter, sourceUserID, targetUserID int) error
}

// ConnectivityEvent is broadcast whenever connectivity changes. The same
// event may be delivered more than once.
type ConnectivityEvent struct {
	Connected bool
	SSID      string
}

// Network configures wifi and reports connectivity.
type Network interface {
	IsConnected(ctx context.Context) (bool, error)
	AddNetwork(ctx context.Context, wifi params.WifiInfo) (int, error)
	Connect(ctx context.Context, networkID int) error
	// Subscribe returns a channel of connectivity events and a function
	// that ends the subscription.
	Subscribe() (<-chan ConnectivityEvent, func())
}

// DownloadRequest asks the Downloader to fetch a URL.
type DownloadRequest struct {
	URL          string
	CookieHeader string
}

// DownloadEvent announces that download ID finished, successfully or not.
// The same event may be delivered more than once.
type DownloadEvent struct {
	ID int64
}

// DownloadStatus describes a finished download.
type DownloadStatus struct {
	Successful bool
	LocalPath  string
	Reason     string
}

// Downloader fetches files in the background.
type Downloader interface {
	Enqueue(ctx context.Context, req DownloadRequest) (int64, error)
	Subscribe() (<-chan DownloadEvent, func())
	Status(ctx context.Context, id int64) (DownloadStatus, error)
	// Remove deletes the download and its local file.
	Remove(ctx context.Context, id int64) error
}

// Settings applies device-wide settings.
type Settings interface {
	SetTimeZone(ctx context.Context, tz string) error
	SetLocale(ctx context.Context, locale string) error
	SetTime(ctx context.Context, t time.Time) error
	OSVersion(ctx context.Context) (string, error)
}

// AccountManager moves accounts between users.
type AccountManager interface {
	CopyAccount(ctx context.Context, account params.Account, fromUserID, toUserID int) error
}

// Broadcaster delivers the completion signal to the activated admin.
type Broadcaster interface {
	SendProvisioningComplete(ctx context.Context, admin params.ComponentName, userID int, extras map[string]string) error
}

// Encryption reports and starts storage encryption. Encrypting reboots the
// device, so StartEncryption may end the process before it returns.
type Encryption interface {
	IsEncrypted(ctx context.Context) (bool, error)
	StartEncryption(ctx context.Context) error
}
