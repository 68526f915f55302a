// Package httpdl implements device.Downloader over HTTP.
//
// Each Enqueue starts a background GET that writes the response body to a
// file in the download directory and then announces the download ID to
// every subscriber.
//
//	dl := httpdl.New("/var/lib/provisiond/downloads", logger)
//	events, stop := dl.Subscribe()
//	defer stop()
//	id, err := dl.Enqueue(ctx, device.DownloadRequest{URL: url})
package httpdl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/nomis52/provisiond/device"
)

const subscriptionBuffer = 16

// Downloader fetches files with an http.Client.
type Downloader struct {
	dir    string
	client *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	nextID    int64
	nextSub   int
	downloads map[int64]*download
	subs      map[int]chan device.DownloadEvent
}

type download struct {
	cancel context.CancelFunc
	done   bool
	status device.DownloadStatus
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithClient sets the HTTP client. The default is http.DefaultClient.
func WithClient(c *http.Client) Option {
	return func(d *Downloader) {
		d.client = c
	}
}

// New creates a Downloader writing into dir.
func New(dir string, logger *slog.Logger, opts ...Option) *Downloader {
	d := &Downloader{
		dir:       dir,
		client:    http.DefaultClient,
		logger:    logger.With("component", "httpdl"),
		nextID:    1,
		downloads: make(map[int64]*download),
		subs:      make(map[int]chan device.DownloadEvent),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue starts fetching req.URL. The download runs until it finishes or
// is removed. ctx only bounds the enqueue itself.
func (d *Downloader) Enqueue(_ context.Context, req device.DownloadRequest) (int64, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating download dir: %w", err)
	}

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	d.downloads[id] = &download{cancel: cancel}
	d.mu.Unlock()

	d.logger.Info("download enqueued", "id", id, "url", req.URL)
	go d.fetch(ctx, id, req)
	return id, nil
}

func (d *Downloader) fetch(ctx context.Context, id int64, req device.DownloadRequest) {
	status := d.get(ctx, id, req)

	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.downloads[id]
	if !ok {
		// Removed while running.
		if status.LocalPath != "" {
			os.Remove(status.LocalPath)
		}
		return
	}
	rec.done = true
	rec.status = status
	if status.Successful {
		d.logger.Info("download finished", "id", id, "path", status.LocalPath)
	} else {
		d.logger.Warn("download failed", "id", id, "reason", status.Reason)
	}
	d.publish(device.DownloadEvent{ID: id})
}

func (d *Downloader) get(ctx context.Context, id int64, req device.DownloadRequest) device.DownloadStatus {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return device.DownloadStatus{Reason: err.Error()}
	}
	if req.CookieHeader != "" {
		httpReq.Header.Set("Cookie", req.CookieHeader)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return device.DownloadStatus{Reason: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return device.DownloadStatus{Reason: resp.Status}
	}

	path := filepath.Join(d.dir, fmt.Sprintf("download-%d.pkg", id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return device.DownloadStatus{Reason: err.Error()}
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return device.DownloadStatus{Reason: fmt.Sprintf("reading body: %v", err)}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return device.DownloadStatus{Reason: err.Error()}
	}
	return device.DownloadStatus{Successful: true, LocalPath: path}
}

// Subscribe returns a channel of finished downloads. Slow subscribers miss
// events rather than block downloads.
func (d *Downloader) Subscribe() (<-chan device.DownloadEvent, func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	ch := make(chan device.DownloadEvent, subscriptionBuffer)
	d.subs[id] = ch
	return ch, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

// publish is called with mu held.
func (d *Downloader) publish(ev device.DownloadEvent) {
	for _, ch := range d.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Status reports a download. A download still running is unsuccessful
// with the reason "running".
func (d *Downloader) Status(_ context.Context, id int64) (device.DownloadStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.downloads[id]
	if !ok {
		return device.DownloadStatus{}, fmt.Errorf("download %d: %w", id, device.ErrNotFound)
	}
	if !rec.done {
		return device.DownloadStatus{Reason: "running"}, nil
	}
	return rec.status, nil
}

// Remove aborts or forgets the download and deletes its file.
func (d *Downloader) Remove(_ context.Context, id int64) error {
	d.mu.Lock()
	rec, ok := d.downloads[id]
	delete(d.downloads, id)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("download %d: %w", id, device.ErrNotFound)
	}

	rec.cancel()
	if rec.status.LocalPath != "" {
		if err := os.Remove(rec.status.LocalPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

var _ device.Downloader = (*Downloader)(nil)
