package params

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Validation errors returned by Request.Build.
var (
	ErrNoAdmin         = errors.New("admin package or component name required")
	ErrAdminMismatch   = errors.New("admin component does not belong to admin package")
	ErrMissingChecksum = errors.New("download location given without a checksum")
	ErrUnknownVariant  = errors.New("unknown flow variant")
	ErrInvalidWifi     = errors.New("invalid wifi configuration")
)

var securityTypes = []string{"", SecurityNone, SecurityWPA, SecurityWEP, SecurityEAP}

// Request is the decoded shape of an inbound provisioning request and the
// form in which Params are persisted.
type Request struct {
	AdminComponent ComponentName `json:"admin_component,omitempty"`
	AdminPackage   string        `json:"admin_package,omitempty"`
	Variant        FlowVariant   `json:"variant"`

	TimeZone  string     `json:"time_zone,omitempty"`
	Locale    string     `json:"locale,omitempty"`
	LocalTime *time.Time `json:"local_time,omitempty"`

	Wifi     *WifiInfo     `json:"wifi,omitempty"`
	Download *DownloadInfo `json:"download,omitempty"`

	SkipEncryption            bool `json:"skip_encryption,omitempty"`
	LeaveAllSystemAppsEnabled bool `json:"leave_all_system_apps_enabled,omitempty"`
	StartedByNFC              bool `json:"started_by_nfc,omitempty"`

	AccountToMigrate *Account          `json:"account_to_migrate,omitempty"`
	AdminExtras      map[string]string `json:"admin_extras,omitempty"`
}

// Build validates r and returns the immutable Params it describes.
func (r Request) Build() (*Params, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}

	admin := r.AdminComponent
	if !admin.IsZero() {
		admin.Class = QualifyClass(admin.Package, admin.Class)
	}

	p := &Params{
		adminComponent:            admin,
		adminPackage:              r.AdminPackage,
		variant:                   r.Variant,
		timeZone:                  r.TimeZone,
		locale:                    r.Locale,
		skipEncryption:            r.SkipEncryption,
		leaveAllSystemAppsEnabled: r.LeaveAllSystemAppsEnabled,
		startedByNFC:              r.StartedByNFC,
	}
	if r.LocalTime != nil {
		p.localTime = *r.LocalTime
	}
	if r.Wifi != nil {
		w := *r.Wifi
		p.wifi = &w
	}
	if r.Download != nil && r.Download.Location != "" {
		d := r.Download.clone()
		p.download = &d
	}
	if r.AccountToMigrate != nil {
		a := *r.AccountToMigrate
		p.accountToMigrate = &a
	}
	if len(r.AdminExtras) > 0 {
		p.adminExtras = maps.Clone(r.AdminExtras)
	}
	return p, nil
}

func (r Request) validate() error {
	if !r.Variant.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownVariant, int(r.Variant))
	}

	if r.AdminPackage == "" && r.AdminComponent.Package == "" {
		return ErrNoAdmin
	}
	if !r.AdminComponent.IsZero() {
		if r.AdminComponent.Package == "" || r.AdminComponent.Class == "" {
			return fmt.Errorf("%w: incomplete component %q", ErrNoAdmin, r.AdminComponent.String())
		}
		if r.AdminPackage != "" && r.AdminPackage != r.AdminComponent.Package {
			return fmt.Errorf("%w: %s vs %s", ErrAdminMismatch, r.AdminComponent, r.AdminPackage)
		}
	}

	if d := r.Download; d != nil && d.Location != "" {
		if len(d.PackageChecksum) == 0 && len(d.SignatureChecksum) == 0 {
			return ErrMissingChecksum
		}
	}

	if w := r.Wifi; w != nil {
		if !slices.Contains(securityTypes, w.SecurityType) {
			return fmt.Errorf("%w: security type %q", ErrInvalidWifi, w.SecurityType)
		}
		if w.ProxyPort < 0 || w.ProxyPort > 65535 {
			return fmt.Errorf("%w: proxy port %d", ErrInvalidWifi, w.ProxyPort)
		}
		if w.SSID == "" && (w.Password != "" || w.Hidden) {
			return fmt.Errorf("%w: credentials without ssid", ErrInvalidWifi)
		}
	}

	return nil
}
