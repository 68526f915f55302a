// Package params defines the immutable parameter value describing one
// provisioning attempt.
//
// A Params is only ever produced by Request.Build, which validates the
// request. Once built it is never modified: getters hand out copies, and a
// resumed attempt rebuilds a fresh Params from the persisted Request.
//
//	p, err := params.Request{
//		AdminPackage: "com.example.dpc",
//		Variant:      params.DeviceOwner,
//		Download: &params.DownloadInfo{
//			Location:        "https://example.com/dpc.apk",
//			PackageChecksum: sum,
//		},
//	}.Build()
package params

import (
	"maps"
	"slices"
	"time"
)

// Params describes one provisioning attempt.
type Params struct {
	adminComponent ComponentName
	adminPackage   string
	variant        FlowVariant

	timeZone  string
	locale    string
	localTime time.Time

	wifi     *WifiInfo
	download *DownloadInfo

	skipEncryption            bool
	leaveAllSystemAppsEnabled bool
	startedByNFC              bool

	accountToMigrate *Account
	adminExtras      map[string]string
}

// AdminComponent returns the admin receiver component, which may be zero
// when only a package name was supplied.
func (p *Params) AdminComponent() ComponentName {
	return p.adminComponent
}

// AdminPackage returns the admin package name, falling back to the package
// of the admin component.
func (p *Params) AdminPackage() string {
	if p.adminPackage != "" {
		return p.adminPackage
	}
	return p.adminComponent.Package
}

// Variant returns the flow variant.
func (p *Params) Variant() FlowVariant {
	return p.variant
}

// TimeZone returns the time zone to set, or "".
func (p *Params) TimeZone() string {
	return p.timeZone
}

// Locale returns the locale to set, or "".
func (p *Params) Locale() string {
	return p.locale
}

// LocalTime returns the wall clock time to set. The zero time means unset.
func (p *Params) LocalTime() time.Time {
	return p.localTime
}

// Wifi returns a copy of the wifi configuration.
func (p *Params) Wifi() (WifiInfo, bool) {
	if p.wifi == nil {
		return WifiInfo{}, false
	}
	return *p.wifi, true
}

// Download returns a copy of the package download information.
func (p *Params) Download() (DownloadInfo, bool) {
	if p.download == nil {
		return DownloadInfo{}, false
	}
	return p.download.clone(), true
}

// SkipEncryption reports whether the encryption step was waived.
func (p *Params) SkipEncryption() bool {
	return p.skipEncryption
}

// LeaveAllSystemAppsEnabled reports whether non-required app removal is
// suppressed.
func (p *Params) LeaveAllSystemAppsEnabled() bool {
	return p.leaveAllSystemAppsEnabled
}

// StartedByNFC reports whether the attempt was initiated by an NFC bump.
func (p *Params) StartedByNFC() bool {
	return p.startedByNFC
}

// AccountToMigrate returns the account to copy into a new profile.
func (p *Params) AccountToMigrate() (Account, bool) {
	if p.accountToMigrate == nil {
		return Account{}, false
	}
	return *p.accountToMigrate, true
}

// AdminExtras returns a copy of the opaque extras handed to the admin on
// completion.
func (p *Params) AdminExtras() map[string]string {
	return maps.Clone(p.adminExtras)
}

// Request returns the wire form of p. Building the returned request again
// yields a Params equal to p.
func (p *Params) Request() Request {
	r := Request{
		AdminComponent:            p.adminComponent,
		AdminPackage:              p.adminPackage,
		Variant:                   p.variant,
		TimeZone:                  p.timeZone,
		Locale:                    p.locale,
		SkipEncryption:            p.skipEncryption,
		LeaveAllSystemAppsEnabled: p.leaveAllSystemAppsEnabled,
		StartedByNFC:              p.startedByNFC,
		AdminExtras:               maps.Clone(p.adminExtras),
	}
	if !p.localTime.IsZero() {
		t := p.localTime
		r.LocalTime = &t
	}
	if p.wifi != nil {
		w := *p.wifi
		r.Wifi = &w
	}
	if p.download != nil {
		d := p.download.clone()
		r.Download = &d
	}
	if p.accountToMigrate != nil {
		a := *p.accountToMigrate
		r.AccountToMigrate = &a
	}
	return r
}

func (d DownloadInfo) clone() DownloadInfo {
	d.PackageChecksum = slices.Clone(d.PackageChecksum)
	d.SignatureChecksum = slices.Clone(d.SignatureChecksum)
	return d
}
