package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type keySpec struct {
	key    string
	env    string
	secret bool
	apply  func(cfg *Config, raw string) error
	show   func(cfg Config) string
}

var specs = []keySpec{
	{
		key: "server.port", env: "WILDSCOPE_SERVER_PORT",
		apply: applyInt(func(cfg *Config, v int) { cfg.Server.Port = v }),
		show:  func(cfg Config) string { return strconv.Itoa(cfg.Server.Port) },
	},
	{
		key: "server.auth_token", env: "WILDSCOPE_AUTH_TOKEN", secret: true,
		apply: applyString(func(cfg *Config, v string) { cfg.Server.AuthToken = v }),
		show:  func(cfg Config) string { return cfg.Server.AuthToken },
	},
	{
		key: "server.max_conns", env: "WILDSCOPE_MAX_CONNS",
		apply: applyInt(func(cfg *Config, v int) { cfg.Server.MaxConns = v }),
		show:  func(cfg Config) string { return strconv.Itoa(cfg.Server.MaxConns) },
	},
	{
		key: "provider.api_key", env: "TOGETHER_API_KEY", secret: true,
		apply: applyString(func(cfg *Config, v string) { cfg.Provider.APIKey = v }),
		show:  func(cfg Config) string { return cfg.Provider.APIKey },
	},
	{
		key: "provider.base_url", env: "WILDSCOPE_PROVIDER_BASE_URL",
		apply: applyString(func(cfg *Config, v string) { cfg.Provider.BaseURL = strings.TrimSuffix(v, "/") }),
		show:  func(cfg Config) string { return cfg.Provider.BaseURL },
	},
	{
		key: "provider.model", env: "WILDSCOPE_MODEL",
		apply: applyString(func(cfg *Config, v string) { cfg.Provider.Model = v }),
		show:  func(cfg Config) string { return cfg.Provider.Model },
	},
	{
		key: "provider.max_tokens", env: "WILDSCOPE_MAX_TOKENS",
		apply: applyInt(func(cfg *Config, v int) { cfg.Provider.MaxTokens = v }),
		show:  func(cfg Config) string { return strconv.Itoa(cfg.Provider.MaxTokens) },
	},
	{
		key: "provider.temperature", env: "WILDSCOPE_TEMPERATURE",
		apply: func(cfg *Config, raw string) error {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("parsing float: %w", err)
			}
			cfg.Provider.Temperature = v
			return nil
		},
		show: func(cfg Config) string { return strconv.FormatFloat(cfg.Provider.Temperature, 'g', -1, 64) },
	},
	{
		key: "pipeline.sample_stride", env: "WILDSCOPE_SAMPLE_STRIDE",
		apply: applyInt(func(cfg *Config, v int) { cfg.Pipeline.SampleStride = v }),
		show:  func(cfg Config) string { return strconv.Itoa(cfg.Pipeline.SampleStride) },
	},
	{
		key: "pipeline.max_frames", env: "WILDSCOPE_MAX_FRAMES",
		apply: applyInt(func(cfg *Config, v int) { cfg.Pipeline.MaxFrames = v }),
		show:  func(cfg Config) string { return strconv.Itoa(cfg.Pipeline.MaxFrames) },
	},
	{
		key: "pipeline.analysis_timeout", env: "WILDSCOPE_ANALYSIS_TIMEOUT",
		apply: func(cfg *Config, raw string) error {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("parsing duration: %w", err)
			}
			cfg.Pipeline.AnalysisTimeout = d
			return nil
		},
		show: func(cfg Config) string { return cfg.Pipeline.AnalysisTimeout.String() },
	},
	{
		key: "storage.data_dir", env: "WILDSCOPE_DATA_DIR",
		apply: applyString(func(cfg *Config, v string) { cfg.Storage.DataDir = v }),
		show:  func(cfg Config) string { return cfg.Storage.DataDir },
	},
	{
		key: "storage.max_upload_mb", env: "WILDSCOPE_MAX_UPLOAD_MB",
		apply: applyInt(func(cfg *Config, v int) { cfg.Storage.MaxUploadMB = v }),
		show:  func(cfg Config) string { return strconv.Itoa(cfg.Storage.MaxUploadMB) },
	},
	{
		key: "log.level", env: "WILDSCOPE_LOG_LEVEL",
		apply: applyString(func(cfg *Config, v string) { cfg.Log.Level = strings.ToLower(v) }),
		show:  func(cfg Config) string { return cfg.Log.Level },
	},
}

func applyString(set func(cfg *Config, v string)) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		set(cfg, raw)
		return nil
	}
}

func applyInt(set func(cfg *Config, v int)) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parsing integer: %w", err)
		}
		set(cfg, v)
		return nil
	}
}

// KV is one effective configuration entry for display.
type KV struct {
	Key   string
	Value string
}

// ShowAll returns the effective configuration as key/value pairs in
// declaration order, masking secrets.
func ShowAll(cfg Config) []KV {
	out := make([]KV, 0, len(specs))
	for _, spec := range specs {
		v := spec.show(cfg)
		if spec.secret && v != "" {
			v = "********"
		}
		out = append(out, KV{Key: spec.key, Value: v})
	}
	return out
}
