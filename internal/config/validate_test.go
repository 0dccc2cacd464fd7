package config

import (
	"fmt"
	"testing"
)

func TestValidateTieredEmptySocketPathIsFatal(t *testing.T) {
	cfg := Default()
	cfg.IPCSocketPath = ""
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("empty ipc_socket_path should be fatal")
	}
}

func TestValidateTieredEmptyPrinterConfigPathIsFatal(t *testing.T) {
	cfg := Default()
	cfg.PrinterConfigPath = ""
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("empty printer_config_path should be fatal")
	}
}

func TestValidateTieredEmptyDataDirIsFatal(t *testing.T) {
	cfg := Default()
	cfg.DataDir = ""
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("empty data_dir should be fatal")
	}
}

func TestValidateTieredUnknownLogLevelIsWarningAndDefaults(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want info (defaulted)", cfg.LogLevel)
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if cfg.LogFormat != "text" {
		t.Fatalf("LogFormat = %q, want text (defaulted)", cfg.LogFormat)
	}
}

func TestValidateTieredTranscodeConcurrencyClamping(t *testing.T) {
	cfg := Default()
	cfg.MaxConcurrentTranscodes = 0
	cfg.TranscodeQueueSize = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped concurrency should be warning: %v", result.Fatals)
	}
	if cfg.MaxConcurrentTranscodes != 1 {
		t.Fatalf("MaxConcurrentTranscodes = %d, want 1", cfg.MaxConcurrentTranscodes)
	}
	if cfg.TranscodeQueueSize != 1 {
		t.Fatalf("TranscodeQueueSize = %d, want 1", cfg.TranscodeQueueSize)
	}
}

func TestValidateTieredTimeoutClampingHighEnd(t *testing.T) {
	cfg := Default()
	cfg.SSHDialTimeoutSeconds = 9999
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped timeout should be warning: %v", result.Fatals)
	}
	if cfg.SSHDialTimeoutSeconds != 120 {
		t.Fatalf("SSHDialTimeoutSeconds = %d, want 120 (clamped)", cfg.SSHDialTimeoutSeconds)
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.IPCSocketPath = ""       // fatal
	cfg.LogLevel = "bogus-level" // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("default config has warnings: %v", result.Warnings)
	}
}
