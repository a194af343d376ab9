package gcp

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/convolab/lessonaudio/internal/platform/envutil"
)

type StorageMode string

const (
	StorageModeGCS         StorageMode = "gcs"
	StorageModeGCSEmulator StorageMode = "gcs_emulator"
)

// StorageConfig describes the bucket lesson audio is published to.
type StorageConfig struct {
	Mode          StorageMode
	EmulatorHost  string
	Bucket        string
	CDNDomain     string
	PublicBaseURL string
	// ModeFromEmulatorHost is set when no mode was given and the emulator host
	// alone selected emulator mode.
	ModeFromEmulatorHost bool
}

func (c StorageConfig) IsEmulator() bool { return c.Mode == StorageModeGCSEmulator }

type ConfigErrorCode string

const (
	ConfigErrorInvalidMode         ConfigErrorCode = "invalid_mode"
	ConfigErrorMissingBucket       ConfigErrorCode = "missing_bucket"
	ConfigErrorMissingEmulatorHost ConfigErrorCode = "missing_emulator_host"
	ConfigErrorInvalidURL          ConfigErrorCode = "invalid_url"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Key   string
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	switch e.Code {
	case ConfigErrorInvalidMode:
		return fmt.Sprintf("invalid %s=%q (allowed: %q, %q)", e.Key, e.Value, StorageModeGCS, StorageModeGCSEmulator)
	case ConfigErrorMissingBucket:
		return fmt.Sprintf("missing env var %s", e.Key)
	case ConfigErrorMissingEmulatorHost:
		return fmt.Sprintf("mode %q requires %s", StorageModeGCSEmulator, e.Key)
	case ConfigErrorInvalidURL:
		return fmt.Sprintf("invalid %s=%q; expected absolute URL like http://fake-gcs:4443", e.Key, e.Value)
	default:
		return "invalid storage config"
	}
}

func (e *ConfigError) Unwrap() error { return e.Cause }

// LoadStorageConfig reads OBJECT_STORAGE_MODE, STORAGE_EMULATOR_HOST,
// LESSON_AUDIO_GCS_BUCKET_NAME, LESSON_AUDIO_CDN_DOMAIN and
// OBJECT_STORAGE_PUBLIC_BASE_URL.
func LoadStorageConfig() (StorageConfig, error) {
	cfg := StorageConfig{
		EmulatorHost:  strings.TrimRight(envutil.String("STORAGE_EMULATOR_HOST", ""), "/"),
		Bucket:        envutil.String("LESSON_AUDIO_GCS_BUCKET_NAME", ""),
		CDNDomain:     envutil.String("LESSON_AUDIO_CDN_DOMAIN", ""),
		PublicBaseURL: strings.TrimRight(envutil.String("OBJECT_STORAGE_PUBLIC_BASE_URL", ""), "/"),
	}
	raw := envutil.String("OBJECT_STORAGE_MODE", "")
	switch mode := StorageMode(strings.ToLower(raw)); mode {
	case "":
		cfg.Mode = StorageModeGCS
		if cfg.EmulatorHost != "" {
			cfg.Mode = StorageModeGCSEmulator
			cfg.ModeFromEmulatorHost = true
		}
	case StorageModeGCS, StorageModeGCSEmulator:
		cfg.Mode = mode
	default:
		return cfg, &ConfigError{Code: ConfigErrorInvalidMode, Key: "OBJECT_STORAGE_MODE", Value: raw}
	}
	return cfg, cfg.Validate()
}

func (c StorageConfig) Validate() error {
	switch c.Mode {
	case StorageModeGCS, StorageModeGCSEmulator:
	default:
		return &ConfigError{Code: ConfigErrorInvalidMode, Key: "OBJECT_STORAGE_MODE", Value: string(c.Mode)}
	}
	if c.Bucket == "" {
		return &ConfigError{Code: ConfigErrorMissingBucket, Key: "LESSON_AUDIO_GCS_BUCKET_NAME"}
	}
	if c.IsEmulator() {
		if c.EmulatorHost == "" {
			return &ConfigError{Code: ConfigErrorMissingEmulatorHost, Key: "STORAGE_EMULATOR_HOST"}
		}
		if err := checkAbsoluteURL(c.EmulatorHost); err != nil {
			return &ConfigError{Code: ConfigErrorInvalidURL, Key: "STORAGE_EMULATOR_HOST", Value: c.EmulatorHost, Cause: err}
		}
	}
	if c.PublicBaseURL != "" {
		if err := checkAbsoluteURL(c.PublicBaseURL); err != nil {
			return &ConfigError{Code: ConfigErrorInvalidURL, Key: "OBJECT_STORAGE_PUBLIC_BASE_URL", Value: c.PublicBaseURL, Cause: err}
		}
	}
	return nil
}

func checkAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("not an absolute url")
	}
	return nil
}
