package tasks

import (
	"errors"
	"testing"
	"time"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/device/sim"
	"github.com/nomis52/provisiond/params"
	"github.com/stretchr/testify/assert"
)

func TestAddWifiNetwork_Skips(t *testing.T) {
	tests := []struct {
		name    string
		fixture sim.Fixture
		wifi    *params.WifiInfo
	}{
		{
			name: "no wifi",
		},
		{
			name:    "already connected",
			fixture: sim.Fixture{Connected: true, SSID: "home"},
			wifi:    &params.WifiInfo{SSID: "office"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDevice(t, tt.fixture)
			p := buildParams(t, params.Request{Wifi: tt.wifi})

			r := run(t, NewAddWifiNetwork(p, d.Network(), time.Second, discardLogger()), device.SystemUser)

			requireSuccess(t, r)
			assert.Empty(t, d.Networks(), "no network should be added")
		})
	}
}

func TestAddWifiNetwork_ConnectsOnceWithDuplicateBroadcasts(t *testing.T) {
	d := newDevice(t, sim.Fixture{}, sim.WithAutoConnect(), sim.WithDuplicateEvents())
	p := buildParams(t, params.Request{Wifi: &params.WifiInfo{SSID: "office", SecurityType: params.SecurityWPA, Password: "secret"}})

	r := run(t, NewAddWifiNetwork(p, d.Network(), time.Second, discardLogger()), device.SystemUser)

	requireSuccess(t, r)
	assert.Equal(t, []params.WifiInfo{{SSID: "office", SecurityType: params.SecurityWPA, Password: "secret"}}, d.Networks())
}

func TestAddWifiNetwork_IgnoresOtherNetworks(t *testing.T) {
	d := newDevice(t, sim.Fixture{})
	p := buildParams(t, params.Request{Wifi: &params.WifiInfo{SSID: "office"}})

	r := run(t, NewAddWifiNetwork(p, d.Network(), time.Second, discardLogger()), device.SystemUser)

	d.SetConnected(true, "cafe")
	d.SetConnected(true, "office")
	d.SetConnected(true, "office")

	requireSuccess(t, r)
}

func TestAddWifiNetwork_Failures(t *testing.T) {
	t.Run("add fails", func(t *testing.T) {
		d := newDevice(t, sim.Fixture{})
		d.SetError(sim.OpAddNetwork, errors.New("wifi off"))
		p := buildParams(t, params.Request{Wifi: &params.WifiInfo{SSID: "office"}})

		r := run(t, NewAddWifiNetwork(p, d.Network(), time.Second, discardLogger()), device.SystemUser)
		requireError(t, r, ErrWifiAddFailed)
	})

	t.Run("connect fails", func(t *testing.T) {
		d := newDevice(t, sim.Fixture{})
		d.SetError(sim.OpConnect, errors.New("auth rejected"))
		p := buildParams(t, params.Request{Wifi: &params.WifiInfo{SSID: "office"}})

		r := run(t, NewAddWifiNetwork(p, d.Network(), time.Second, discardLogger()), device.SystemUser)
		requireError(t, r, ErrWifiConnectFailed)
	})

	t.Run("times out", func(t *testing.T) {
		d := newDevice(t, sim.Fixture{})
		p := buildParams(t, params.Request{Wifi: &params.WifiInfo{SSID: "office"}})

		r := run(t, NewAddWifiNetwork(p, d.Network(), 10*time.Millisecond, discardLogger()), device.SystemUser)
		requireError(t, r, ErrWifiConnectFailed)
	})
}
