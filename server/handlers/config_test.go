package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nomis52/provisiond/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type mockConfigProvider struct {
	config *config.Config
}

func (m *mockConfigProvider) Config() *config.Config {
	return m.config
}

func testConfig() *config.Config {
	cfg := &config.Config{
		StateDir: "/data/provisiond",
		Device:   config.DeviceConfig{Fixture: "/etc/provisiond/device.yaml"},
		Timeouts: config.TimeoutsConfig{Download: 20 * time.Minute},
		Monitoring: config.MonitoringConfig{
			VictoriaMetricsURL: "http://writer:secret@vm:8428",
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestConfigHandler(t *testing.T) {
	handler := NewConfigHandler(discardLogger(), &mockConfigProvider{config: testConfig()})

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/yaml", w.Header().Get("Content-Type"))
	assert.NotContains(t, w.Body.String(), "secret")

	var resp config.Config
	require.NoError(t, yaml.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "/etc/provisiond/device.yaml", resp.Device.Fixture)
	assert.Equal(t, 20*time.Minute, resp.Timeouts.Download)
	assert.Equal(t, "/data/provisiond/history", resp.History.Dir)
	assert.Equal(t, "http://writer:xxxxx@vm:8428", resp.Monitoring.VictoriaMetricsURL)
}

func TestConfigHandler_JSON(t *testing.T) {
	handler := NewConfigHandler(discardLogger(), &mockConfigProvider{config: testConfig()})

	req := httptest.NewRequest(http.MethodGet, "/config?format=json", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "/data/provisiond", resp["StateDir"])
}

func TestConfigHandler_NoConfig(t *testing.T) {
	handler := NewConfigHandler(discardLogger(), &mockConfigProvider{})

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/config", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
