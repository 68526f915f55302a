package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapturingLoggerHook_SeparatesTasks(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil)).With("component", "controller")
	hook := NewCapturingLoggerHook(NewLogCollector())

	hook.LoggerForTask(base, "add_wifi_network").Info("connected", "ssid", "office")
	hook.LoggerForTask(base, "install_package").Info("installed")
	hook.LoggerForTask(base, "install_package").Info("done")

	c := hook.Collector()
	wifi := c.Logs("add_wifi_network")
	require.Len(t, wifi, 1)
	assert.Equal(t, "add_wifi_network", wifi[0].Attributes["task"])
	assert.Equal(t, "office", wifi[0].Attributes["ssid"])
	assert.Len(t, c.Logs("install_package"), 2)

	assert.Contains(t, buf.String(), `"component":"controller"`)
	assert.Contains(t, buf.String(), `"task":"install_package"`)
}

func TestPlainLoggerHook(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	var hook LoggerHook = PlainLoggerHook{}
	hook.LoggerForTask(base, "migrate_account").Info("copied")

	assert.Contains(t, buf.String(), "task=migrate_account")
}
