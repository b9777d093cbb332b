package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultConfig(t *testing.T) *Config {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)

	setDefaults()
	var cfg Config
	require.NoError(t, viper.Unmarshal(&cfg))
	cfg.ResolveDataPaths()
	return &cfg
}

func TestConfig_Defaults(t *testing.T) {
	cfg := newDefaultConfig(t)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 3, cfg.Analysis.MaxConcurrent)
	assert.Equal(t, int64(50*1024*1024), cfg.Upload.MaxFileSize)
	assert.Equal(t, "gpt-4o-mini", cfg.Providers.OpenAI.StandardModel)
	assert.Equal(t, "gemini-1.5-pro", cfg.Providers.Gemini.PremiumModel)
	assert.Equal(t, "env", cfg.Secrets.Provider)
	assert.False(t, cfg.ClickHouse.Enabled)
	assert.False(t, cfg.Redis.Enabled)
}

func TestConfig_ResolveDataPaths(t *testing.T) {
	cfg := newDefaultConfig(t)

	assert.Equal(t, "./data", cfg.DataPaths.DataDir)
	assert.Equal(t, "data/logguard.db", cfg.DataPaths.SQLitePath)
	assert.Equal(t, "data/uploads", cfg.DataPaths.UploadsDir)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.API.Port = 0 }, "invalid API port"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "cassandra" }, "unsupported storage backend"},
		{"bad concurrency", func(c *Config) { c.Analysis.MaxConcurrent = 0 }, "max_concurrent"},
		{"bad upload cap", func(c *Config) { c.Upload.MaxFileSize = -1 }, "max_file_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newDefaultConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_EnvOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("LOGGUARD_API_PORT", "9090")
	t.Setenv("LOGGUARD_STORAGE_BACKEND", "mongodb")

	setDefaults()
	loadFromEnv()

	assert.Equal(t, 9090, viper.GetInt("api.port"))
	assert.Equal(t, "mongodb", viper.GetString("storage.backend"))
}

func TestConfig_Durations(t *testing.T) {
	cfg := newDefaultConfig(t)

	assert.Equal(t, time.Second, cfg.GetRegexTimeout())
	assert.Equal(t, 30*time.Second, cfg.GetCacheTTL())
	assert.Equal(t, 2*time.Minute, cfg.GetProviderTimeout())

	cfg.Analysis.RegexTimeout = 250
	cfg.Cache.TTL = 5
	cfg.Providers.RequestTimeout = 30
	assert.Equal(t, 250*time.Millisecond, cfg.GetRegexTimeout())
	assert.Equal(t, 5*time.Second, cfg.GetCacheTTL())
	assert.Equal(t, 30*time.Second, cfg.GetProviderTimeout())
}

func TestConfig_AllowedExtension(t *testing.T) {
	cfg := newDefaultConfig(t)

	assert.True(t, cfg.AllowedExtension(".log"))
	assert.True(t, cfg.AllowedExtension(".LOG"))
	assert.True(t, cfg.AllowedExtension(".json"))
	assert.False(t, cfg.AllowedExtension(".exe"))
	assert.False(t, cfg.AllowedExtension(""))
}

func TestProviderConfig_ModelForTier(t *testing.T) {
	p := ProviderConfig{StandardModel: "gpt-4o-mini", PremiumModel: "gpt-4o"}

	assert.Equal(t, "gpt-4o-mini", p.ModelForTier("standard"))
	assert.Equal(t, "gpt-4o", p.ModelForTier("premium"))
	assert.Equal(t, "gpt-4o-mini", p.ModelForTier("unknown"))

	p.PremiumModel = ""
	assert.Equal(t, "gpt-4o-mini", p.ModelForTier("premium"))
}
