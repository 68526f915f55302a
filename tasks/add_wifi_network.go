package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/task"
)

// WifiError is the closed set of AddWifiNetwork failures.
type WifiError int

const (
	ErrWifiAddFailed WifiError = iota + 1
	ErrWifiConnectFailed
)

func (e WifiError) Error() string {
	switch e {
	case ErrWifiAddFailed:
		return "failed to add wifi network"
	case ErrWifiConnectFailed:
		return "failed to connect to wifi network"
	default:
		return "unknown wifi error"
	}
}

// Category implements task.Code.
func (e WifiError) Category() task.Category {
	return task.CategoryNetwork
}

// AddWifiNetwork joins the wifi network named in the params.
type AddWifiNetwork struct {
	params  *params.Params
	network device.Network
	timeout time.Duration
	logger  *slog.Logger
}

// NewAddWifiNetwork creates the wifi task.
func NewAddWifiNetwork(p *params.Params, network device.Network, timeout time.Duration, logger *slog.Logger) *AddWifiNetwork {
	if timeout <= 0 {
		timeout = DefaultWifiConnectTimeout
	}
	return &AddWifiNetwork{
		params:  p,
		network: network,
		timeout: timeout,
		logger:  logger,
	}
}

func (t *AddWifiNetwork) Name() string    { return NameAddWifiNetwork }
func (t *AddWifiNetwork) Step() task.Step { return task.StepNetwork }

// Run implements task.Task.
func (t *AddWifiNetwork) Run(ctx context.Context, userID int, cb task.Callback) {
	wifi, ok := t.params.Wifi()
	if !ok || wifi.SSID == "" {
		t.logger.Info("no wifi network supplied, skipping")
		cb.OnSuccess(t)
		return
	}

	connected, err := t.network.IsConnected(ctx)
	if err != nil {
		t.logger.Warn("failed to query connectivity", "error", err)
	}
	if connected {
		t.logger.Info("already connected, skipping wifi setup")
		cb.OnSuccess(t)
		return
	}

	events, unsubscribe := t.network.Subscribe()

	id, err := t.network.AddNetwork(ctx, wifi)
	if err != nil {
		unsubscribe()
		t.logger.Error("failed to add network", "ssid", wifi.SSID, "error", err)
		cb.OnError(t, ErrWifiAddFailed)
		return
	}
	if err := t.network.Connect(ctx, id); err != nil {
		unsubscribe()
		t.logger.Error("failed to connect", "ssid", wifi.SSID, "error", err)
		cb.OnError(t, ErrWifiConnectFailed)
		return
	}

	t.logger.Info("waiting for wifi connection", "ssid", wifi.SSID, "timeout", t.timeout)
	go t.await(wifi.SSID, events, unsubscribe, cb)
}

func (t *AddWifiNetwork) await(ssid string, events <-chan device.ConnectivityEvent, unsubscribe func(), cb task.Callback) {
	defer unsubscribe()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.logger.Error("connectivity subscription closed")
				cb.OnError(t, ErrWifiConnectFailed)
				return
			}
			if !ev.Connected || (ev.SSID != "" && ev.SSID != ssid) {
				continue
			}
			t.logger.Info("connected to wifi", "ssid", ssid)
			cb.OnSuccess(t)
			return
		case <-timer.C:
			t.logger.Error("timed out waiting for wifi", "ssid", ssid)
			cb.OnError(t, ErrWifiConnectFailed)
			return
		}
	}
}
