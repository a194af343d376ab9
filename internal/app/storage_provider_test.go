package app

import (
	"errors"
	"testing"

	"github.com/convolab/lessonaudio/internal/platform/gcp"
	"github.com/convolab/lessonaudio/internal/platform/localstore"
	"github.com/convolab/lessonaudio/internal/platform/logger"
)

func TestClassifyStorageBootstrapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want StorageBootstrapErrorCode
	}{
		{"invalid mode", &gcp.ConfigError{Code: gcp.ConfigErrorInvalidMode, Key: "OBJECT_STORAGE_MODE"}, StorageBootstrapErrorInvalidConfig},
		{"missing bucket", &gcp.ConfigError{Code: gcp.ConfigErrorMissingBucket}, StorageBootstrapErrorMissingBucket},
		{"missing emulator", &gcp.ConfigError{Code: gcp.ConfigErrorMissingEmulatorHost}, StorageBootstrapErrorEmulator},
		{"bad emulator url", &gcp.ConfigError{Code: gcp.ConfigErrorInvalidURL, Key: "STORAGE_EMULATOR_HOST"}, StorageBootstrapErrorEmulator},
		{"bad public url", &gcp.ConfigError{Code: gcp.ConfigErrorInvalidURL, Key: "OBJECT_STORAGE_PUBLIC_BASE_URL"}, StorageBootstrapErrorInvalidConfig},
		{"dial failure", errors.New("dial tcp: refused"), StorageBootstrapErrorConnectFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyStorageBootstrapError(tc.err)
			var got *StorageBootstrapError
			if !errors.As(err, &got) {
				t.Fatalf("expected StorageBootstrapError, got=%T", err)
			}
			if got.Code != tc.want {
				t.Fatalf("code: want=%q got=%q", tc.want, got.Code)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("cause not wrapped")
			}
		})
	}
}

func TestResolveAudioStorageLocal(t *testing.T) {
	cfg := Config{AudioStorage: StorageLocal, LocalOutputDir: t.TempDir()}
	store, err := resolveAudioStorage(logger.NewNop(), cfg)
	if err != nil {
		t.Fatalf("resolveAudioStorage: %v", err)
	}
	if _, ok := store.(*localstore.Store); !ok {
		t.Fatalf("expected local store, got %T", store)
	}
}

func TestResolveAudioStorageGCSConfigError(t *testing.T) {
	prevLoad, prevNew := loadStorageConfig, newBucketServiceWithConfig
	t.Cleanup(func() { loadStorageConfig, newBucketServiceWithConfig = prevLoad, prevNew })

	loadStorageConfig = func() (gcp.StorageConfig, error) {
		return gcp.StorageConfig{}, &gcp.ConfigError{Code: gcp.ConfigErrorMissingBucket}
	}
	called := false
	newBucketServiceWithConfig = func(*logger.Logger, gcp.StorageConfig) (gcp.BucketService, error) {
		called = true
		return nil, nil
	}

	_, err := resolveAudioStorage(logger.NewNop(), Config{AudioStorage: StorageGCS})
	var got *StorageBootstrapError
	if !errors.As(err, &got) || got.Code != StorageBootstrapErrorMissingBucket {
		t.Fatalf("err=%v", err)
	}
	if called {
		t.Fatalf("bucket service built despite config error")
	}
}

func TestConfigValidate(t *testing.T) {
	good := Config{TTSProvider: ProviderGCP, AudioStorage: StorageLocal, LessonMaxMinutes: 30, WorkRoot: "/tmp"}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	bad := []Config{
		{TTSProvider: "polly", AudioStorage: StorageLocal, LessonMaxMinutes: 30, WorkRoot: "/tmp"},
		{TTSProvider: ProviderGCP, AudioStorage: "s3", LessonMaxMinutes: 30, WorkRoot: "/tmp"},
		{TTSProvider: ProviderGCP, AudioStorage: StorageGCS, LessonMaxMinutes: 0, WorkRoot: "/tmp"},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("TTS_PROVIDER", "OpenAI")
	t.Setenv("AUDIO_STORAGE", "local")
	t.Setenv("LESSON_MAX_MINUTES", "20")
	t.Setenv("REDIS_ADDR", "")
	cfg := LoadConfig()
	if cfg.TTSProvider != ProviderOpenAI || cfg.AudioStorage != StorageLocal || cfg.LessonMaxMinutes != 20 || cfg.RedisEnabled {
		t.Fatalf("cfg=%+v", cfg)
	}
}
