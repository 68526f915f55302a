package sim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
)

const subscriptionBuffer = 16

// network is the device.Network view of a Device.
type network Device

// Network returns the wifi and connectivity service of d.
func (d *Device) Network() device.Network {
	return (*network)(d)
}

func (n *network) IsConnected(context.Context) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected, nil
}

func (n *network) AddNetwork(_ context.Context, wifi params.WifiInfo) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := (*Device)(n).fail(OpAddNetwork); err != nil {
		return 0, err
	}
	n.nextNetwork++
	n.networks[n.nextNetwork] = wifi
	return n.nextNetwork, nil
}

func (n *network) Connect(_ context.Context, networkID int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := (*Device)(n).fail(OpConnect); err != nil {
		return err
	}
	wifi, ok := n.networks[networkID]
	if !ok {
		return fmt.Errorf("network %d: %w", networkID, device.ErrNotFound)
	}
	if n.autoConnect {
		n.connected = true
		n.ssid = wifi.SSID
		n.publishConnectivity(device.ConnectivityEvent{Connected: true, SSID: wifi.SSID})
	}
	return nil
}

func (n *network) Subscribe() (<-chan device.ConnectivityEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextSub
	n.nextSub++
	ch := make(chan device.ConnectivityEvent, subscriptionBuffer)
	n.netSubs[id] = ch
	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.netSubs, id)
	}
}

// publishConnectivity delivers ev to every subscriber. Callers hold mu.
func (n *network) publishConnectivity(ev device.ConnectivityEvent) {
	times := 1
	if n.duplicate {
		times = 2
	}
	for _, ch := range n.netSubs {
		for range times {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// SetConnected changes connectivity and broadcasts the change.
func (d *Device) SetConnected(connected bool, ssid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = connected
	d.ssid = ssid
	(*network)(d).publishConnectivity(device.ConnectivityEvent{Connected: connected, SSID: ssid})
}

// Networks returns the wifi networks added so far.
func (d *Device) Networks() []params.WifiInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]params.WifiInfo, 0, len(d.networks))
	for id := 1; id <= d.nextNetwork; id++ {
		if w, ok := d.networks[id]; ok {
			out = append(out, w)
		}
	}
	return out
}

type download struct {
	status device.DownloadStatus
}

// downloader is the device.Downloader view of a Device. Downloads complete
// inside Enqueue from the bodies registered with SetRemote or the fixture.
type downloader Device

// Downloader returns the download service of d.
func (d *Device) Downloader() device.Downloader {
	return (*downloader)(d)
}

// SetRemote serves body at url. A nil body removes it.
func (d *Device) SetRemote(url string, body []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if body == nil {
		delete(d.remote, url)
		return
	}
	d.remote[url] = body
}

// Downloads counts the downloads that are still present.
func (d *Device) Downloads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.downloads)
}

func (dl *downloader) Enqueue(_ context.Context, req device.DownloadRequest) (int64, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	d := (*Device)(dl)
	if err := d.fail(OpEnqueue); err != nil {
		return 0, err
	}

	id := dl.nextDownload
	dl.nextDownload++
	rec := &download{}
	dl.downloads[id] = rec

	body, ok := dl.remote[req.URL]
	switch {
	case !dl.connected:
		rec.status = device.DownloadStatus{Reason: "no connectivity"}
	case !ok:
		rec.status = device.DownloadStatus{Reason: "404 not found"}
	default:
		path, err := d.writeDownload(id, body)
		if err != nil {
			rec.status = device.DownloadStatus{Reason: err.Error()}
		} else {
			rec.status = device.DownloadStatus{Successful: true, LocalPath: path}
		}
	}

	dl.publishDownload(device.DownloadEvent{ID: id})
	return id, nil
}

func (d *Device) writeDownload(id int64, body []byte) (string, error) {
	dir, err := d.ensureDownloadDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("download-%d.pkg", id))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (dl *downloader) Subscribe() (<-chan device.DownloadEvent, func()) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	id := dl.nextSub
	dl.nextSub++
	ch := make(chan device.DownloadEvent, subscriptionBuffer)
	dl.dlSubs[id] = ch
	return ch, func() {
		dl.mu.Lock()
		defer dl.mu.Unlock()
		delete(dl.dlSubs, id)
	}
}

// publishDownload delivers ev to every subscriber. Callers hold mu.
func (dl *downloader) publishDownload(ev device.DownloadEvent) {
	times := 1
	if dl.duplicate {
		times = 2
	}
	for _, ch := range dl.dlSubs {
		for range times {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (dl *downloader) Status(_ context.Context, id int64) (device.DownloadStatus, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	rec, ok := dl.downloads[id]
	if !ok {
		return device.DownloadStatus{}, fmt.Errorf("download %d: %w", id, device.ErrNotFound)
	}
	return rec.status, nil
}

func (dl *downloader) Remove(_ context.Context, id int64) error {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	rec, ok := dl.downloads[id]
	if !ok {
		return fmt.Errorf("download %d: %w", id, device.ErrNotFound)
	}
	delete(dl.downloads, id)
	if rec.status.LocalPath != "" {
		if err := os.Remove(rec.status.LocalPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
