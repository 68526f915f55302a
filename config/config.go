// Package config loads the provisiond YAML configuration.
//
//	cfg, err := config.LoadConfig("/etc/provisiond/config.yaml")
//	if err != nil {
//	    return err
//	}
//	apps, err := cfg.AppPolicy()
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/nomis52/provisiond/controller"
	"github.com/nomis52/provisiond/logging"
	"github.com/nomis52/provisiond/params"
	"github.com/nomis52/provisiond/tasks"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr = ":8080"
	defaultStateDir   = "/var/lib/provisiond"

	defaultHistoryMaxCount = 100
	defaultMaxTaskLogs     = 200

	defaultSystemUpdateSchedule = "0 3 * * *"

	defaultMetricsPrefix = "provisiond"
	defaultJobName       = "provisiond"

	redactedPlaceholder = "xxxxx"
)

// Config represents the complete application configuration
type Config struct {
	Listener      ListenerConfig            `yaml:"listener"`
	// StateDir holds the resume store, app snapshots, history and
	// downloads unless their paths are set explicitly.
	StateDir      string                    `yaml:"state_dir"`
	Device        DeviceConfig              `yaml:"device"`
	Apps          map[string]tasks.AppLists `yaml:"apps"`
	Preconditions PreconditionsConfig       `yaml:"preconditions"`
	Timeouts      TimeoutsConfig            `yaml:"timeouts"`
	Resume        ResumeConfig              `yaml:"resume"`
	History       HistoryConfig             `yaml:"history"`
	SystemUpdate  SystemUpdateConfig        `yaml:"system_update"`
	Monitoring    MonitoringConfig          `yaml:"monitoring"`
	Logging       logging.Config            `yaml:"logging"`
}

// ListenerConfig holds the HTTP API settings
type ListenerConfig struct {
	Addr string `yaml:"addr"`
	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// DeviceConfig selects the device collaborators.
type DeviceConfig struct {
	// Fixture is the YAML description of the simulated device.
	Fixture       string `yaml:"fixture"`
	// DownloadDir receives downloaded admin packages.
	DownloadDir   string `yaml:"download_dir"`
	// HTTPDownloads fetches packages over HTTP instead of from the
	// fixture's remote packages.
	HTTPDownloads bool   `yaml:"http_downloads"`
	// CallingUser is the user attempts run for.
	CallingUser   int    `yaml:"calling_user"`
}

// PreconditionsConfig gates flow variants on the OS version.
type PreconditionsConfig struct {
	// OSConstraints maps variant names to semver constraints, e.g.
	// profile_owner: ">= 5.0".
	OSConstraints map[string]string `yaml:"os_constraints"`
}

// TimeoutsConfig bounds the asynchronous waits of the tasks
type TimeoutsConfig struct {
	WifiConnect time.Duration `yaml:"wifi_connect"`
	Download    time.Duration `yaml:"download"`
	Install     time.Duration `yaml:"install"`
}

// ResumeConfig configures the resume store.
type ResumeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	// KeyFile holds the key sealing stored requests. It is created on
	// first use.
	KeyFile string `yaml:"key_file"`
}

// HistoryConfig configures attempt history.
type HistoryConfig struct {
	Dir         string `yaml:"dir"`
	MaxCount    int    `yaml:"max_count"`
	MaxTaskLogs int    `yaml:"max_task_logs"`
}

// SystemUpdateConfig schedules the re-run of app deletion after OS
// updates.
type SystemUpdateConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Schedule    string `yaml:"schedule"`
	// SnapshotDir holds the per-user app snapshots.
	SnapshotDir string `yaml:"snapshot_dir"`
}

// MonitoringConfig holds metrics and monitoring settings
type MonitoringConfig struct {
	// VictoriaMetricsURL is the remote write target of the CLI. The
	// daemon serves /metrics instead.
	VictoriaMetricsURL string `yaml:"victoriametrics_url"`
	MetricsPrefix      string `yaml:"metrics_prefix"`
	JobName            string `yaml:"jobname"`
}

// Validate performs basic validation on the configuration
func (c *Config) Validate() error {
	if c.Device.Fixture == "" {
		return errors.New("device fixture is required")
	}
	if (c.Listener.TLSCert == "") != (c.Listener.TLSKey == "") {
		return errors.New("listener: tls_cert and tls_key must be set together")
	}
	if c.Device.CallingUser < 0 {
		return errors.New("calling user must not be negative")
	}
	if _, err := c.AppPolicy(); err != nil {
		return err
	}
	if _, err := c.OSConstraints(); err != nil {
		return err
	}
	if c.Timeouts.WifiConnect < 0 || c.Timeouts.Download < 0 || c.Timeouts.Install < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.History.MaxCount < 1 {
		return errors.New("history max_count must be positive")
	}
	if c.SystemUpdate.Enabled {
		if _, err := cron.ParseStandard(c.SystemUpdate.Schedule); err != nil {
			return fmt.Errorf("system update schedule %q: %w", c.SystemUpdate.Schedule, err)
		}
	}
	if c.Monitoring.VictoriaMetricsURL != "" {
		if _, err := url.Parse(c.Monitoring.VictoriaMetricsURL); err != nil {
			return fmt.Errorf("VictoriaMetrics URL: %w", err)
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// SetDefaults sets reasonable default values for optional fields
func (c *Config) SetDefaults() {
	if c.Listener.Addr == "" {
		c.Listener.Addr = defaultListenAddr
	}
	if c.StateDir == "" {
		c.StateDir = defaultStateDir
	}
	if c.Device.DownloadDir == "" {
		c.Device.DownloadDir = filepath.Join(c.StateDir, "downloads")
	}
	if c.Timeouts.WifiConnect == 0 {
		c.Timeouts.WifiConnect = tasks.DefaultWifiConnectTimeout
	}
	if c.Timeouts.Download == 0 {
		c.Timeouts.Download = tasks.DefaultDownloadTimeout
	}
	if c.Timeouts.Install == 0 {
		c.Timeouts.Install = tasks.DefaultInstallTimeout
	}
	if c.Resume.Dir == "" {
		c.Resume.Dir = filepath.Join(c.StateDir, "resume")
	}
	if c.Resume.KeyFile == "" {
		c.Resume.KeyFile = filepath.Join(c.StateDir, "resume.key")
	}
	if c.History.Dir == "" {
		c.History.Dir = filepath.Join(c.StateDir, "history")
	}
	if c.History.MaxCount == 0 {
		c.History.MaxCount = defaultHistoryMaxCount
	}
	if c.History.MaxTaskLogs == 0 {
		c.History.MaxTaskLogs = defaultMaxTaskLogs
	}
	if c.SystemUpdate.Schedule == "" {
		c.SystemUpdate.Schedule = defaultSystemUpdateSchedule
	}
	if c.SystemUpdate.SnapshotDir == "" {
		c.SystemUpdate.SnapshotDir = filepath.Join(c.StateDir, "snapshots")
	}
	if c.Monitoring.MetricsPrefix == "" {
		c.Monitoring.MetricsPrefix = defaultMetricsPrefix
	}
	if c.Monitoring.JobName == "" {
		c.Monitoring.JobName = defaultJobName
	}
	c.Logging.SetDefaults()
}

// AppPolicy converts the apps section, keyed by variant name.
func (c *Config) AppPolicy() (tasks.AppPolicy, error) {
	policy := make(tasks.AppPolicy, len(c.Apps))
	for name, lists := range c.Apps {
		v, err := params.ParseFlowVariant(name)
		if err != nil {
			return nil, fmt.Errorf("apps: %w", err)
		}
		policy[v] = lists
	}
	return policy, nil
}

// OSConstraints parses the per-variant OS version constraints.
func (c *Config) OSConstraints() (controller.OSConstraints, error) {
	oc, err := controller.ParseOSConstraints(c.Preconditions.OSConstraints)
	if err != nil {
		return nil, fmt.Errorf("preconditions: %w", err)
	}
	return oc, nil
}

// TaskTimeouts returns the timeouts section in the form the tasks take.
func (c *Config) TaskTimeouts() tasks.Timeouts {
	return tasks.Timeouts{
		WifiConnect: c.Timeouts.WifiConnect,
		Download:    c.Timeouts.Download,
		Install:     c.Timeouts.Install,
	}
}

// Redacted returns a copy of the config with credentials masked. The
// original config is not modified.
func (c *Config) Redacted() Config {
	redacted := *c
	redacted.Monitoring.VictoriaMetricsURL = redactURL(c.Monitoring.VictoriaMetricsURL)
	return redacted
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redactedPlaceholder)
	}
	return u.String()
}

// LoadConfig reads the YAML config file at the given path and returns a Config struct
func LoadConfig(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
