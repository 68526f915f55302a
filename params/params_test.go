package params

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() Request {
	return Request{
		AdminComponent: ComponentName{Package: "com.example.dpc", Class: "com.example.dpc.AdminReceiver"},
		Variant:        DeviceOwner,
		Download: &DownloadInfo{
			Location:        "https://example.com/dpc.apk",
			MinVersion:      7,
			PackageChecksum: []byte{0x01, 0x02, 0x03},
		},
		Wifi:        &WifiInfo{SSID: "corp", SecurityType: SecurityWPA, Password: "secret"},
		AdminExtras: map[string]string{"enrollment": "abc"},
	}
}

func TestRequest_Build(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(r *Request)
		wantErr error
	}{
		{
			name:   "valid request",
			modify: func(r *Request) {},
		},
		{
			name: "package only",
			modify: func(r *Request) {
				r.AdminComponent = ComponentName{}
				r.AdminPackage = "com.example.dpc"
			},
		},
		{
			name: "no admin",
			modify: func(r *Request) {
				r.AdminComponent = ComponentName{}
			},
			wantErr: ErrNoAdmin,
		},
		{
			name: "component without class",
			modify: func(r *Request) {
				r.AdminComponent.Class = ""
			},
			wantErr: ErrNoAdmin,
		},
		{
			name: "component and package disagree",
			modify: func(r *Request) {
				r.AdminPackage = "com.other"
			},
			wantErr: ErrAdminMismatch,
		},
		{
			name: "download without checksum",
			modify: func(r *Request) {
				r.Download.PackageChecksum = nil
			},
			wantErr: ErrMissingChecksum,
		},
		{
			name: "download with signature checksum only",
			modify: func(r *Request) {
				r.Download.PackageChecksum = nil
				r.Download.SignatureChecksum = []byte{0xaa}
			},
		},
		{
			name: "unknown variant",
			modify: func(r *Request) {
				r.Variant = 0
			},
			wantErr: ErrUnknownVariant,
		},
		{
			name: "bad security type",
			modify: func(r *Request) {
				r.Wifi.SecurityType = "WPA3-ENTERPRISE-ISH"
			},
			wantErr: ErrInvalidWifi,
		},
		{
			name: "password without ssid",
			modify: func(r *Request) {
				r.Wifi.SSID = ""
			},
			wantErr: ErrInvalidWifi,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRequest()
			tt.modify(&r)

			p, err := r.Build()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "com.example.dpc", p.AdminPackage())
		})
	}
}

func TestParams_Immutable(t *testing.T) {
	r := validRequest()
	p, err := r.Build()
	require.NoError(t, err)

	// Mutating the request after Build must not leak into p.
	r.Download.PackageChecksum[0] = 0xff
	r.Wifi.SSID = "other"
	r.AdminExtras["enrollment"] = "changed"

	d, ok := p.Download()
	require.True(t, ok)
	assert.Equal(t, byte(0x01), d.PackageChecksum[0])

	w, ok := p.Wifi()
	require.True(t, ok)
	assert.Equal(t, "corp", w.SSID)
	assert.Equal(t, "abc", p.AdminExtras()["enrollment"])

	// Mutating returned copies must not leak into p either.
	d.PackageChecksum[0] = 0xee
	p.AdminExtras()["enrollment"] = "again"

	d2, _ := p.Download()
	assert.Equal(t, byte(0x01), d2.PackageChecksum[0])
	assert.Equal(t, "abc", p.AdminExtras()["enrollment"])
}

func TestParams_RequestRoundTrip(t *testing.T) {
	local := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := validRequest()
	r.TimeZone = "Europe/Berlin"
	r.Locale = "de_DE"
	r.LocalTime = &local
	r.AccountToMigrate = &Account{Name: "user@example.com", Type: "com.google"}
	r.LeaveAllSystemAppsEnabled = true

	p, err := r.Build()
	require.NoError(t, err)

	data, err := json.Marshal(p.Request())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"variant":"device_owner"`)

	var decoded Request
	require.NoError(t, json.Unmarshal(data, &decoded))
	p2, err := decoded.Build()
	require.NoError(t, err)

	assert.Equal(t, p, p2)
}

func TestParams_DownloadWithoutLocationIsDropped(t *testing.T) {
	r := validRequest()
	r.Download = &DownloadInfo{MinVersion: 3}

	p, err := r.Build()
	require.NoError(t, err)
	_, ok := p.Download()
	assert.False(t, ok)
}

func TestParseComponentName(t *testing.T) {
	c, err := ParseComponentName("com.example.dpc/.AdminReceiver")
	require.NoError(t, err)
	assert.Equal(t, ComponentName{Package: "com.example.dpc", Class: "com.example.dpc.AdminReceiver"}, c)
	assert.Equal(t, "com.example.dpc/com.example.dpc.AdminReceiver", c.String())

	_, err = ParseComponentName("no-slash")
	assert.Error(t, err)
}

func TestFlowVariant_Text(t *testing.T) {
	for _, v := range []FlowVariant{DeviceOwner, ProfileOwner, ManagedUser, ManagedShareableDevice} {
		t.Run(v.String(), func(t *testing.T) {
			b, err := v.MarshalText()
			require.NoError(t, err)

			var got FlowVariant
			require.NoError(t, got.UnmarshalText(b))
			assert.Equal(t, v, got)
		})
	}

	var v FlowVariant
	assert.ErrorIs(t, v.UnmarshalText([]byte("kiosk")), ErrUnknownVariant)
	assert.True(t, ManagedShareableDevice.IsDeviceOwner())
	assert.False(t, ManagedUser.IsDeviceOwner())
}
