package app

import (
	"errors"
	"fmt"

	"github.com/convolab/lessonaudio/internal/platform/gcp"
	"github.com/convolab/lessonaudio/internal/platform/localstore"
	"github.com/convolab/lessonaudio/internal/platform/logger"
	"github.com/convolab/lessonaudio/internal/services"
)

var (
	loadStorageConfig          = gcp.LoadStorageConfig
	newBucketServiceWithConfig = gcp.NewBucketServiceWithConfig
)

type StorageBootstrapErrorCode string

const (
	StorageBootstrapErrorInvalidConfig StorageBootstrapErrorCode = "invalid_config"
	StorageBootstrapErrorMissingBucket StorageBootstrapErrorCode = "missing_bucket"
	StorageBootstrapErrorEmulator      StorageBootstrapErrorCode = "emulator_misconfigured"
	StorageBootstrapErrorConnectFailed StorageBootstrapErrorCode = "connect_failed"
)

type StorageBootstrapError struct {
	Code    StorageBootstrapErrorCode
	Backend string
	Cause   error
}

func (e *StorageBootstrapError) Error() string {
	if e == nil {
		return "audio storage bootstrap failed"
	}
	return fmt.Sprintf("audio storage bootstrap failed (code=%s backend=%q): %v", e.Code, e.Backend, e.Cause)
}

func (e *StorageBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// resolveAudioStorage picks the artifact store from AUDIO_STORAGE.
func resolveAudioStorage(log *logger.Logger, cfg Config) (services.AudioStorage, error) {
	if cfg.AudioStorage == StorageLocal {
		log.Info("Selecting audio storage", "backend", StorageLocal, "dir", cfg.LocalOutputDir)
		store, err := localstore.New(cfg.LocalOutputDir, cfg.LocalBaseURL, log)
		if err != nil {
			return nil, &StorageBootstrapError{Code: StorageBootstrapErrorConnectFailed, Backend: StorageLocal, Cause: err}
		}
		return store, nil
	}

	storageCfg, err := loadStorageConfig()
	if err != nil {
		classified := classifyStorageBootstrapError(err)
		log.Error("Audio storage selection failed", "backend", StorageGCS, "error", classified)
		return nil, classified
	}
	log.Info("Selecting audio storage",
		"backend", StorageGCS,
		"mode", storageCfg.Mode,
		"mode_from_emulator_host", storageCfg.ModeFromEmulatorHost,
		"bucket", storageCfg.Bucket,
	)
	bucket, err := newBucketServiceWithConfig(log, storageCfg)
	if err != nil {
		classified := classifyStorageBootstrapError(err)
		log.Error("Audio storage bootstrap failed", "backend", StorageGCS, "error", classified)
		return nil, classified
	}
	return bucket, nil
}

func classifyStorageBootstrapError(err error) error {
	code := StorageBootstrapErrorConnectFailed
	var cfgErr *gcp.ConfigError
	if errors.As(err, &cfgErr) {
		switch cfgErr.Code {
		case gcp.ConfigErrorMissingBucket:
			code = StorageBootstrapErrorMissingBucket
		case gcp.ConfigErrorMissingEmulatorHost:
			code = StorageBootstrapErrorEmulator
		case gcp.ConfigErrorInvalidURL:
			if cfgErr.Key == "STORAGE_EMULATOR_HOST" {
				code = StorageBootstrapErrorEmulator
			} else {
				code = StorageBootstrapErrorInvalidConfig
			}
		default:
			code = StorageBootstrapErrorInvalidConfig
		}
	}
	return &StorageBootstrapError{Code: code, Backend: StorageGCS, Cause: err}
}
