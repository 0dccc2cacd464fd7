package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates startup-blocking errors from auto-corrected
// warnings, so a single malformed field doesn't prevent the daemon from
// starting when a safe default exists.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal validation errors were found.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings, for display to an operator.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the daemon config for invalid values. Values with
// no safe default (an empty socket or config path) are fatal. Values with
// a safe default (an out-of-range timeout, an unrecognized log level) are
// clamped or defaulted and reported as warnings.
func (c *DaemonConfig) ValidateTiered() ValidationResult {
	var result ValidationResult

	if strings.TrimSpace(c.IPCSocketPath) == "" {
		result.Fatals = append(result.Fatals, fmt.Errorf("ipc_socket_path must not be empty"))
	}
	if strings.TrimSpace(c.PrinterConfigPath) == "" {
		result.Fatals = append(result.Fatals, fmt.Errorf("printer_config_path must not be empty"))
	}
	if strings.TrimSpace(c.DataDir) == "" {
		result.Fatals = append(result.Fatals, fmt.Errorf("data_dir must not be empty"))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), defaulting to info", c.LogLevel))
		c.LogLevel = "info"
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Warnings = append(result.Warnings, fmt.Errorf("log_format %q is not valid (use text or json), defaulting to text", c.LogFormat))
		c.LogFormat = "text"
	}

	clampInt(&c.LogMaxSizeMB, 1, 1000, "log_max_size_mb", &result)
	clampInt(&c.LogMaxBackups, 0, 100, "log_max_backups", &result)
	clampInt(&c.AuditMaxSizeMB, 1, 1000, "audit_max_size_mb", &result)
	clampInt(&c.AuditMaxBackups, 0, 100, "audit_max_backups", &result)

	clampInt(&c.MaxConcurrentTranscodes, 1, 256, "max_concurrent_transcodes", &result)
	clampInt(&c.TranscodeQueueSize, 1, 10000, "transcode_queue_size", &result)

	clampInt(&c.SSHDialTimeoutSeconds, 1, 120, "ssh_dial_timeout_seconds", &result)
	clampInt(&c.MQTTConnectTimeoutSeconds, 1, 120, "mqtt_connect_timeout_seconds", &result)
	clampInt(&c.MQTTCommandTimeoutSeconds, 1, 120, "mqtt_command_timeout_seconds", &result)
	clampInt(&c.IngestFirstByteTimeoutSeconds, 1, 300, "ingest_first_byte_timeout_seconds", &result)
	clampInt(&c.CameraStartTimeoutSeconds, 1, 300, "camera_start_timeout_seconds", &result)

	return result
}

// clampInt clamps *v into [min, max], recording a warning if it had to.
func clampInt(v *int, min, max int, field string, result *ValidationResult) {
	if *v < min {
		result.Warnings = append(result.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", field, *v, min))
		*v = min
	} else if *v > max {
		result.Warnings = append(result.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", field, *v, max))
		*v = max
	}
}
