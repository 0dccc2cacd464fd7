// Package config holds the daemon-wide settings loaded via viper/cobra
// (logging, audit, IPC socket, timeouts) — distinct from the per-printer
// AppConfig JSON document managed by the Store (store.go), which stays
// plain JSON regardless of how the daemon's own settings are loaded.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/acproxycam/acproxycam/internal/logging"
)

var log = logging.L("config")

// DaemonConfig holds settings that govern the daemon process itself.
type DaemonConfig struct {
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	AuditEnabled    bool `mapstructure:"audit_enabled"`
	AuditMaxSizeMB  int  `mapstructure:"audit_max_size_mb"`
	AuditMaxBackups int  `mapstructure:"audit_max_backups"`

	IPCSocketPath     string `mapstructure:"ipc_socket_path"`
	PrinterConfigPath string `mapstructure:"printer_config_path"`
	DataDir           string `mapstructure:"data_dir"`

	MaxConcurrentTranscodes int `mapstructure:"max_concurrent_transcodes"`
	TranscodeQueueSize      int `mapstructure:"transcode_queue_size"`

	SSHDialTimeoutSeconds         int `mapstructure:"ssh_dial_timeout_seconds"`
	MQTTConnectTimeoutSeconds     int `mapstructure:"mqtt_connect_timeout_seconds"`
	MQTTCommandTimeoutSeconds     int `mapstructure:"mqtt_command_timeout_seconds"`
	IngestFirstByteTimeoutSeconds int `mapstructure:"ingest_first_byte_timeout_seconds"`
	CameraStartTimeoutSeconds    int `mapstructure:"camera_start_timeout_seconds"`
}

// Default returns the daemon's built-in defaults.
func Default() *DaemonConfig {
	return &DaemonConfig{
		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,

		AuditEnabled:    true,
		AuditMaxSizeMB:  50,
		AuditMaxBackups: 3,

		IPCSocketPath:     "/run/acproxycam/acproxycamd.sock",
		PrinterConfigPath: "/etc/acproxycam/printers.json",
		DataDir:           "/var/lib/acproxycam",

		MaxConcurrentTranscodes: 8,
		TranscodeQueueSize:      32,

		SSHDialTimeoutSeconds:         10,
		MQTTConnectTimeoutSeconds:     10,
		MQTTCommandTimeoutSeconds:     5,
		IngestFirstByteTimeoutSeconds: 15,
		CameraStartTimeoutSeconds:     30,
	}
}

// Load reads daemon settings from cfgFile (or the default search path) via
// viper, falling back to Default() values for anything unset, then runs
// tiered validation: fatals abort startup, warnings are logged and the
// corrected value is kept.
func Load(cfgFile string) (*DaemonConfig, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("acproxycamd")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("ACPROXYCAM")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("daemon config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("daemon config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("daemon config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

// configDir is the default search path for acproxycamd.yaml.
func configDir() string {
	return "/etc/acproxycam"
}

// ensureDataDir creates the daemon's data directory with owner-only access.
func ensureDataDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}

// EnsureDirs creates the daemon's data and runtime directories.
func (c *DaemonConfig) EnsureDirs() error {
	if err := ensureDataDir(c.DataDir); err != nil {
		return fmt.Errorf("config: create data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.IPCSocketPath), 0755); err != nil {
		return fmt.Errorf("config: create ipc socket dir: %w", err)
	}
	return nil
}
