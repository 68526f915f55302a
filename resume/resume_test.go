package resume

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nomis52/provisiond/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(t *testing.T, variant params.FlowVariant) *params.Params {
	t.Helper()
	p, err := params.Request{
		AdminPackage: "com.example.dpc",
		Variant:      variant,
		Wifi:         &params.WifiInfo{SSID: "office", SecurityType: params.SecurityWPA, Password: "hunter22"},
		AdminExtras:  map[string]string{"enrollment": "abc"},
	}.Build()
	require.NoError(t, err)
	return p
}

func TestTargetFor(t *testing.T) {
	tests := []struct {
		variant params.FlowVariant
		want    Target
	}{
		{params.DeviceOwner, TargetDeviceOwner},
		{params.ManagedShareableDevice, TargetDeviceOwner},
		{params.ProfileOwner, TargetProfileOwner},
		{params.ManagedUser, TargetProfileOwner},
	}
	for _, tt := range tests {
		t.Run(tt.variant.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, TargetFor(tt.variant))
		})
	}

	_, err := ParseTarget("kiosk")
	assert.Error(t, err)
	got, err := ParseTarget("profile_owner")
	require.NoError(t, err)
	assert.Equal(t, TargetProfileOwner, got)
}

func newSealer(t *testing.T) *Sealer {
	t.Helper()
	key, err := LoadOrCreateKey(filepath.Join(t.TempDir(), "keys", "resume.key"))
	require.NoError(t, err)
	s, err := NewSealer(key)
	require.NoError(t, err)
	return s
}

// TestStores runs the Store contract against every backend.
func TestStores(t *testing.T) {
	backends := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"diskv":  func(t *testing.T) Store { return NewDiskvStore(t.TempDir()) },
		"diskv_sealed": func(t *testing.T) Store {
			return NewDiskvStore(t.TempDir(), WithSealer(newSealer(t)))
		},
	}

	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			_, err := s.Load(ctx, TargetDeviceOwner)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.NoError(t, s.Clear(ctx, TargetDeviceOwner), "clearing a missing entry")

			do := testParams(t, params.DeviceOwner)
			po := testParams(t, params.ProfileOwner)
			require.NoError(t, s.Save(ctx, TargetDeviceOwner, do))
			require.NoError(t, s.Save(ctx, TargetProfileOwner, po))

			got, err := s.Load(ctx, TargetDeviceOwner)
			require.NoError(t, err)
			assert.Equal(t, do.Request(), got.Request())

			require.NoError(t, s.Clear(ctx, TargetDeviceOwner))
			_, err = s.Load(ctx, TargetDeviceOwner)
			assert.ErrorIs(t, err, ErrNotFound)

			got, err = s.Load(ctx, TargetProfileOwner)
			require.NoError(t, err)
			assert.Equal(t, params.ProfileOwner, got.Variant())
		})
	}
}

func TestDiskvStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, NewDiskvStore(dir).Save(ctx, TargetDeviceOwner, testParams(t, params.DeviceOwner)))

	got, err := NewDiskvStore(dir).Load(ctx, TargetDeviceOwner)
	require.NoError(t, err)
	assert.Equal(t, "com.example.dpc", got.AdminPackage())

	info, err := os.Stat(filepath.Join(dir, "resume", string(TargetDeviceOwner)))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestDiskvStore_SealedAtRest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sealer := newSealer(t)
	require.NoError(t, NewDiskvStore(dir, WithSealer(sealer)).Save(ctx, TargetDeviceOwner, testParams(t, params.DeviceOwner)))

	raw, err := os.ReadFile(filepath.Join(dir, "resume", string(TargetDeviceOwner)))
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("hunter22")), "wifi password stored in clear")

	_, err = NewDiskvStore(dir, WithSealer(newSealer(t))).Load(ctx, TargetDeviceOwner)
	assert.ErrorIs(t, err, ErrUnsealable, "a different key cannot open the entry")

	_, err = NewDiskvStore(dir).Load(ctx, TargetDeviceOwner)
	assert.Error(t, err, "a sealed entry is not plain JSON")
}

func TestSealer_BindsTarget(t *testing.T) {
	s := newSealer(t)
	sealed, err := s.Seal(TargetDeviceOwner, []byte("payload"))
	require.NoError(t, err)

	_, err = s.Open(TargetProfileOwner, sealed)
	assert.ErrorIs(t, err, ErrUnsealable)

	plain, err := s.Open(TargetDeviceOwner, sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), plain)

	_, err = s.Open(TargetDeviceOwner, sealed[:4])
	assert.ErrorIs(t, err, ErrUnsealable)
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.key")
	first, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	again, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	require.NoError(t, os.WriteFile(path, []byte("abcd\n"), 0o600))
	_, err = LoadOrCreateKey(path)
	assert.Error(t, err)
}

func TestDecode_RejectsInvalidRequest(t *testing.T) {
	_, err := decode([]byte(`{"version":1,"request":{"variant":"device_owner"}}`))
	assert.ErrorIs(t, err, params.ErrNoAdmin)

	_, err = decode([]byte(`{"version":9,"request":{}}`))
	assert.Error(t, err)
}
