package tasks

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/nomis52/provisiond/device"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/task"
)

// DownloadError is the closed set of DownloadPackage failures.
type DownloadError int

const (
	ErrHashMismatch DownloadError = iota + 1
	ErrDownloadFailed
	ErrDownloadOther
)

func (e DownloadError) Error() string {
	switch e {
	case ErrHashMismatch:
		return "downloaded package does not match checksum"
	case ErrDownloadFailed:
		return "package download failed"
	case ErrDownloadOther:
		return "package download not possible"
	default:
		return "unknown download error"
	}
}

// Category implements task.Code.
func (e DownloadError) Category() task.Category {
	switch e {
	case ErrHashMismatch:
		return task.CategoryHashMismatch
	case ErrDownloadFailed:
		return task.CategoryDownload
	default:
		return task.CategoryOther
	}
}

// LocationProvider exposes the local path of a downloaded package.
type LocationProvider interface {
	Location() string
}

// DownloadPackage fetches and verifies the admin package.
type DownloadPackage struct {
	params     *params.Params
	network    device.Network
	downloader device.Downloader
	packages   device.PackageManager
	timeout    time.Duration
	logger     *slog.Logger
	status     *task.StatusLine

	mu         sync.Mutex
	location   string
	downloadID int64
	enqueued   bool
}

// NewDownloadPackage creates the download task.
func NewDownloadPackage(p *params.Params, network device.Network, downloader device.Downloader, packages device.PackageManager, timeout time.Duration, logger *slog.Logger) *DownloadPackage {
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	return &DownloadPackage{
		params:     p,
		network:    network,
		downloader: downloader,
		packages:   packages,
		timeout:    timeout,
		logger:     logger,
	}
}

// WithStatusLine attaches a status line reporting download progress.
func (t *DownloadPackage) WithStatusLine(sl *task.StatusLine) *DownloadPackage {
	t.status = sl
	return t
}

func (t *DownloadPackage) Name() string    { return NameDownloadPackage }
func (t *DownloadPackage) Step() task.Step { return task.StepDownload }

// Location returns the path of the verified package, or "" when nothing
// was downloaded.
func (t *DownloadPackage) Location() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.location
}

// Run implements task.Task.
func (t *DownloadPackage) Run(ctx context.Context, userID int, cb task.Callback) {
	info, ok := t.params.Download()
	if !ok || info.Location == "" {
		t.logger.Info("no download location, skipping")
		cb.OnSuccess(t)
		return
	}

	connected, err := t.network.IsConnected(ctx)
	if err != nil || !connected {
		t.logger.Error("not connected, cannot download", "error", err)
		cb.OnError(t, ErrDownloadOther)
		return
	}

	pkg := t.params.AdminPackage()
	installed, err := t.packages.PackageInfo(ctx, pkg, userID)
	switch {
	case err == nil && info.MinVersion > 0 && installed.VersionCode >= info.MinVersion:
		t.logger.Info("package already installed, skipping download",
			"package", pkg,
			"version", installed.VersionCode,
			"min_version", info.MinVersion,
		)
		cb.OnSuccess(t)
		return
	case err != nil && !errors.Is(err, device.ErrNotFound):
		t.logger.Warn("failed to query installed package", "package", pkg, "error", err)
	}

	events, unsubscribe := t.downloader.Subscribe()

	id, err := t.downloader.Enqueue(ctx, device.DownloadRequest{
		URL:          info.Location,
		CookieHeader: info.CookieHeader,
	})
	if err != nil {
		unsubscribe()
		t.logger.Error("failed to enqueue download", "location", info.Location, "error", err)
		cb.OnError(t, ErrDownloadFailed)
		return
	}

	t.mu.Lock()
	t.downloadID = id
	t.enqueued = true
	t.mu.Unlock()

	t.status.Set(fmt.Sprintf("downloading %s", info.Location))
	go t.await(ctx, id, info, events, unsubscribe, cb)
}

func (t *DownloadPackage) await(ctx context.Context, id int64, info params.DownloadInfo, events <-chan device.DownloadEvent, unsubscribe func(), cb task.Callback) {
	defer unsubscribe()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.logger.Error("download subscription closed", "id", id)
				cb.OnError(t, ErrDownloadFailed)
				return
			}
			if ev.ID != id {
				continue
			}
			t.complete(ctx, id, info, cb)
			return
		case <-timer.C:
			t.logger.Error("timed out waiting for download", "id", id, "timeout", t.timeout)
			cb.OnError(t, ErrDownloadFailed)
			return
		}
	}
}

func (t *DownloadPackage) complete(ctx context.Context, id int64, info params.DownloadInfo, cb task.Callback) {
	status, err := t.downloader.Status(ctx, id)
	if err != nil {
		t.logger.Error("failed to query download", "id", id, "error", err)
		cb.OnError(t, ErrDownloadFailed)
		return
	}
	if !status.Successful {
		t.logger.Error("download unsuccessful", "id", id, "reason", status.Reason)
		cb.OnError(t, ErrDownloadFailed)
		return
	}

	t.status.Set("verifying checksum")
	matched, err := t.verify(ctx, status.LocalPath, info)
	if err != nil {
		t.logger.Error("failed to verify download", "path", status.LocalPath, "error", err)
		cb.OnError(t, ErrDownloadFailed)
		return
	}
	if !matched {
		t.logger.Error("checksum mismatch", "path", status.LocalPath)
		cb.OnError(t, ErrHashMismatch)
		return
	}

	t.mu.Lock()
	t.location = status.LocalPath
	t.mu.Unlock()

	t.logger.Info("package downloaded and verified", "path", status.LocalPath)
	cb.OnSuccess(t)
}

// verify reports whether either supplied checksum matches the file.
func (t *DownloadPackage) verify(ctx context.Context, path string, info params.DownloadInfo) (bool, error) {
	if len(info.PackageChecksum) > 0 {
		h := sha256.New()
		if info.PackageChecksumSupportsSHA1 && len(info.PackageChecksum) == sha1.Size {
			h = sha1.New()
		}
		sum, err := fileDigest(path, h)
		if err != nil {
			return false, err
		}
		if bytes.Equal(sum, info.PackageChecksum) {
			return true, nil
		}
		t.logger.Warn("package checksum does not match")
	}

	if len(info.SignatureChecksum) > 0 {
		archive, err := t.packages.ArchiveInfo(ctx, path)
		if err != nil {
			return false, fmt.Errorf("reading archive signatures: %w", err)
		}
		for _, sig := range archive.SignatureHashes {
			if bytes.Equal(sig, info.SignatureChecksum) {
				return true, nil
			}
		}
		t.logger.Warn("no signature matches the signature checksum", "signatures", len(archive.SignatureHashes))
	}

	return false, nil
}

// Cleanup implements task.Cleaner by removing the download.
func (t *DownloadPackage) Cleanup(ctx context.Context) error {
	t.mu.Lock()
	id, enqueued := t.downloadID, t.enqueued
	t.enqueued = false
	t.location = ""
	t.mu.Unlock()

	if !enqueued {
		return nil
	}
	if err := t.downloader.Remove(ctx, id); err != nil && !errors.Is(err, device.ErrNotFound) {
		return fmt.Errorf("removing download %d: %w", id, err)
	}
	return nil
}

func fileDigest(path string, h hash.Hash) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
