package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nomis52/provisiond/controller"
	"github.com/nomis52/provisiond/device/sim"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequest(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantVariant params.FlowVariant
		wantErr     string
	}{
		{
			name:        "profile owner",
			body:        `{"admin_package": "com.example.dpc", "variant": "profile_owner"}`,
			wantVariant: params.ProfileOwner,
		},
		{
			name:    "unknown field",
			body:    `{"admin_package": "com.example.dpc", "variant": "profile_owner", "kiosk": true}`,
			wantErr: "failed to parse request",
		},
		{
			name:    "no admin",
			body:    `{"variant": "device_owner"}`,
			wantErr: "invalid request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "request.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))

			p, err := readRequest(path, nil)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVariant, p.Variant())
		})
	}
}

func TestReadRequest_Stdin(t *testing.T) {
	p, err := readRequest("-", strings.NewReader(`{"admin_package": "com.example.dpc", "variant": "device_owner"}`))
	require.NoError(t, err)
	assert.Equal(t, "com.example.dpc", p.AdminPackage())
}

func TestReadRequest_MissingFile(t *testing.T) {
	_, err := readRequest(filepath.Join(t.TempDir(), "none.json"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPrintHost(t *testing.T) {
	var buf bytes.Buffer
	h := newPrintHost(&buf)

	h.OnProgress(task.StepDownload)
	h.OnProgress(task.StepDownload)
	h.OnProgress(task.StepInstall)
	h.OnError(&controller.Error{Category: task.CategoryDownload, Task: "download_package", Err: errors.New("404")})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "... downloading", lines[0])
	assert.Equal(t, "... installing", lines[1])
	assert.Equal(t, "provisioning failed: download_package: 404", lines[2])
	assert.Equal(t, task.CategoryDownload.Message(), lines[3])
}

func TestCheckEncryption(t *testing.T) {
	tests := []struct {
		name        string
		unencrypted bool
		body        string
		wantErr     error
	}{
		{name: "encrypted", body: `{"admin_package": "com.example.dpc", "variant": "device_owner"}`},
		{
			name:        "unencrypted",
			unencrypted: true,
			body:        `{"admin_package": "com.example.dpc", "variant": "device_owner"}`,
			wantErr:     errUnencrypted,
		},
		{
			name:        "unencrypted but skipped",
			unencrypted: true,
			body:        `{"admin_package": "com.example.dpc", "variant": "device_owner", "skip_encryption": true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := sim.New(sim.Fixture{Unencrypted: tt.unencrypted})
			require.NoError(t, err)
			p, err := readRequest("-", strings.NewReader(tt.body))
			require.NoError(t, err)

			err = checkEncryption(context.Background(), d.Services().Encryption, p)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}
