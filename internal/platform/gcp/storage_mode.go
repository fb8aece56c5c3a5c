package gcp

import (
	"fmt"
	"net/url"
	"strings"
)

// Mode selects between real GCS and a local fake-gcs-server.
type Mode string

const (
	ModeGCS      Mode = "gcs"
	ModeEmulator Mode = "gcs_emulator"
)

type StorageConfig struct {
	Mode         Mode
	EmulatorHost string
	// ImpliedEmulator is set when no mode was given and the emulator host
	// alone selected emulator mode.
	ImpliedEmulator bool
}

func (c StorageConfig) Emulated() bool { return c.Mode == ModeEmulator }

type ConfigErrorCode string

const (
	ConfigErrorInvalidMode         ConfigErrorCode = "invalid_mode"
	ConfigErrorMissingEmulatorHost ConfigErrorCode = "missing_emulator_host"
	ConfigErrorInvalidEmulatorHost ConfigErrorCode = "invalid_emulator_host"
)

type ConfigError struct {
	Code         ConfigErrorCode
	Mode         string
	EmulatorHost string
	Cause        error
}

func (e *ConfigError) Error() string {
	switch e.Code {
	case ConfigErrorInvalidMode:
		return fmt.Sprintf("unsupported GCS mode %q (want %q or %q)", e.Mode, ModeGCS, ModeEmulator)
	case ConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("GCS mode %q needs STORAGE_EMULATOR_HOST", ModeEmulator)
	case ConfigErrorInvalidEmulatorHost:
		return fmt.Sprintf("STORAGE_EMULATOR_HOST=%q is not an absolute URL", e.EmulatorHost)
	}
	return "invalid GCS config"
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// ResolveStorageConfig parses a mode string. An empty mode means GCS unless
// an emulator host is set.
func ResolveStorageConfig(rawMode, emulatorHost string) (StorageConfig, error) {
	cfg := StorageConfig{EmulatorHost: strings.TrimSpace(emulatorHost)}
	switch m := Mode(strings.ToLower(strings.TrimSpace(rawMode))); m {
	case "":
		cfg.Mode = ModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode = ModeEmulator
			cfg.ImpliedEmulator = true
		}
	case ModeGCS, ModeEmulator:
		cfg.Mode = m
	default:
		return cfg, &ConfigError{Code: ConfigErrorInvalidMode, Mode: rawMode}
	}
	return cfg, cfg.Validate()
}

func (c StorageConfig) Validate() error {
	switch c.Mode {
	case ModeGCS:
		return nil
	case ModeEmulator:
	default:
		return &ConfigError{Code: ConfigErrorInvalidMode, Mode: string(c.Mode)}
	}
	if c.EmulatorHost == "" {
		return &ConfigError{Code: ConfigErrorMissingEmulatorHost, Mode: string(c.Mode)}
	}
	u, err := url.Parse(c.EmulatorHost)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{
			Code:         ConfigErrorInvalidEmulatorHost,
			Mode:         string(c.Mode),
			EmulatorHost: c.EmulatorHost,
			Cause:        err,
		}
	}
	return nil
}
