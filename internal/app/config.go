package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/convolab/lessonaudio/internal/platform/envutil"
)

const (
	ProviderGCP    = "gcp"
	ProviderOpenAI = "openai"

	StorageGCS   = "gcs"
	StorageLocal = "local"
)

type Config struct {
	LogMode     string
	Environment string
	Version     string

	TTSProvider    string
	AudioStorage   string
	LocalOutputDir string
	LocalBaseURL   string
	WorkRoot       string

	LessonMaxMinutes    int
	SynthMaxConcurrency int
	VoiceCatalogPath    string

	MetricsAddr  string
	RedisEnabled bool
}

func LoadConfig() Config {
	return Config{
		LogMode:     envutil.String("LOG_MODE", "development"),
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),

		TTSProvider:    strings.ToLower(envutil.String("TTS_PROVIDER", ProviderGCP)),
		AudioStorage:   strings.ToLower(envutil.String("AUDIO_STORAGE", StorageGCS)),
		LocalOutputDir: envutil.String("AUDIO_LOCAL_DIR", "out"),
		LocalBaseURL:   envutil.String("AUDIO_LOCAL_BASE_URL", ""),
		WorkRoot:       envutil.String("AUDIO_WORK_ROOT", os.TempDir()),

		LessonMaxMinutes:    envutil.Int("LESSON_MAX_MINUTES", 30),
		SynthMaxConcurrency: envutil.Int("SYNTH_MAX_CONCURRENCY", 2),
		VoiceCatalogPath:    envutil.String("VOICE_CATALOG_PATH", ""),

		MetricsAddr:  envutil.String("METRICS_ADDR", ":9090"),
		RedisEnabled: envutil.String("REDIS_ADDR", "") != "",
	}
}

func (c Config) Validate() error {
	switch c.TTSProvider {
	case ProviderGCP, ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported TTS_PROVIDER %q", c.TTSProvider)
	}
	switch c.AudioStorage {
	case StorageGCS, StorageLocal:
	default:
		return fmt.Errorf("unsupported AUDIO_STORAGE %q", c.AudioStorage)
	}
	if c.LessonMaxMinutes <= 0 {
		return fmt.Errorf("LESSON_MAX_MINUTES must be positive")
	}
	if strings.TrimSpace(c.WorkRoot) == "" {
		return fmt.Errorf("AUDIO_WORK_ROOT is empty")
	}
	return nil
}
