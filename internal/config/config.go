package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Pipeline PipelineConfig
	Storage  StorageConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port      int
	AuthToken string
	MaxConns  int
}

type ProviderConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

type PipelineConfig struct {
	SampleStride    int
	MaxFrames       int
	AnalysisTimeout time.Duration
}

type StorageConfig struct {
	DataDir     string
	MaxUploadMB int
}

type LogConfig struct {
	Level string
}

// UploadDir is where uploaded videos are kept, under the data directory.
func (s StorageConfig) UploadDir() string {
	return filepath.Join(s.DataDir, "uploads")
}

// MaxUploadBytes returns the upload size ceiling in bytes.
func (s StorageConfig) MaxUploadBytes() int64 {
	return int64(s.MaxUploadMB) << 20
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     8000,
			MaxConns: 64,
		},
		Provider: ProviderConfig{
			BaseURL:     "https://api.together.xyz/v1",
			Model:       "Qwen/Qwen2.5-VL-72B-Instruct",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Pipeline: PipelineConfig{
			SampleStride:    5,
			MaxFrames:       10,
			AnalysisTimeout: 5 * time.Minute,
		},
		Storage: StorageConfig{
			DataDir:     defaultDataDir(),
			MaxUploadMB: 500,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wildscope"
	}
	return filepath.Join(home, ".wildscope")
}

// Load reads configuration from defaults, an optional .env file in the
// working directory, and environment variables (WILDSCOPE_* plus
// TOGETHER_API_KEY). Environment variables win over .env values because
// godotenv never overrides variables that are already set.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadWith(os.LookupEnv)
}

func loadWith(lookup func(string) (string, bool)) (Config, error) {
	cfg := defaults()

	for _, spec := range specs {
		raw, ok := lookup(spec.env)
		if !ok || raw == "" {
			continue
		}
		if err := spec.apply(&cfg, raw); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", spec.env, err)
		}
	}

	if cfg.Provider.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Together API key. " +
			"Set it via the TOGETHER_API_KEY environment variable or a .env file")
	}
	if cfg.Pipeline.SampleStride < 1 {
		return Config{}, fmt.Errorf("invalid WILDSCOPE_SAMPLE_STRIDE: must be at least 1")
	}
	if cfg.Pipeline.MaxFrames < 1 {
		return Config{}, fmt.Errorf("invalid WILDSCOPE_MAX_FRAMES: must be at least 1")
	}

	return cfg, nil
}
