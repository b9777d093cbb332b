// Package config loads and validates the LogGuard service configuration.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the LogGuard service.
type Config struct {
	DataPaths struct {
		// DataDir is the base data directory (LOGGUARD_DATA_DIR, default: ./data)
		DataDir string `mapstructure:"data_dir"`
		// SQLitePath is the SQLite database file path (default: ${DataDir}/logguard.db)
		SQLitePath string `mapstructure:"sqlite_path"`
		// UploadsDir is where uploaded log files land (default: ${DataDir}/uploads)
		UploadsDir string `mapstructure:"uploads_dir"`
	} `mapstructure:"data_paths"`

	API struct {
		Port           int      `mapstructure:"port"`
		TLS            bool     `mapstructure:"tls"`
		CertFile       string   `mapstructure:"cert_file"`
		KeyFile        string   `mapstructure:"key_file"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		RateLimit      struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			Burst             int `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Storage struct {
		// Backend selects the metadata store: "sqlite" (default) or "mongodb"
		Backend string `mapstructure:"backend"`
	} `mapstructure:"storage"`

	MongoDB struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongodb"`

	ClickHouse struct {
		Enabled       bool   `mapstructure:"enabled"`
		Addr          string `mapstructure:"addr"`
		Database      string `mapstructure:"database"`
		Username      string `mapstructure:"username"`
		Password      string `mapstructure:"password"`
		TLS           bool   `mapstructure:"tls"`
		MaxPoolSize   int    `mapstructure:"max_pool_size"`
		BatchSize     int    `mapstructure:"batch_size"`
		FlushInterval int    `mapstructure:"flush_interval"` // seconds
		DedupCacheSize int   `mapstructure:"dedup_cache_size"`
	} `mapstructure:"clickhouse"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	Cache struct {
		// TTL for cached list responses, seconds
		TTL int `mapstructure:"ttl"`
		// MemorySize is the entry cap for the in-process cache tier
		MemorySize int `mapstructure:"memory_size"`
	} `mapstructure:"cache"`

	Upload struct {
		// MaxFileSize caps uploads, bytes (default 50MB)
		MaxFileSize int64 `mapstructure:"max_file_size"`
		// AllowedExtensions is the upload allow-list
		AllowedExtensions []string `mapstructure:"allowed_extensions"`
	} `mapstructure:"upload"`

	Analysis struct {
		// MaxConcurrent caps analysis runs in flight across all strategies
		MaxConcurrent int `mapstructure:"max_concurrent"`
		// RulesFile optionally overrides the embedded traditional rule set
		RulesFile string `mapstructure:"rules_file"`
		// RegexTimeout bounds a single rule regex evaluation, milliseconds
		RegexTimeout int `mapstructure:"regex_timeout"`
		// MaxLineLength truncates oversized log lines, bytes
		MaxLineLength int `mapstructure:"max_line_length"`
	} `mapstructure:"analysis"`

	Providers struct {
		OpenAI ProviderConfig `mapstructure:"openai"`
		Gemini ProviderConfig `mapstructure:"gemini"`
		// RequestTimeout bounds one provider call, seconds
		RequestTimeout int `mapstructure:"request_timeout"`
	} `mapstructure:"providers"`

	Notifications struct {
		Enabled bool `mapstructure:"enabled"`
		// Timeout bounds one webhook delivery, seconds
		Timeout int `mapstructure:"timeout"`
	} `mapstructure:"notifications"`

	Secrets struct {
		// Provider selects where provider API keys come from: env, vault, aws
		Provider string `mapstructure:"provider"`
		Vault    struct {
			Address string `mapstructure:"address"`
			Token   string `mapstructure:"token"`
			Path    string `mapstructure:"path"`
		} `mapstructure:"vault"`
		AWS struct {
			Region    string `mapstructure:"region"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
			SecretID  string `mapstructure:"secret_id"`
		} `mapstructure:"aws"`
	} `mapstructure:"secrets"`
}

// ProviderConfig holds per-provider settings for the AI strategy.
type ProviderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	// Models maps the request tier to a concrete model name
	StandardModel string `mapstructure:"standard_model"`
	PremiumModel  string `mapstructure:"premium_model"`
}

// ModelForTier resolves the model name for a request tier, defaulting to the
// standard model for unknown tiers.
func (p *ProviderConfig) ModelForTier(tier string) string {
	if tier == "premium" && p.PremiumModel != "" {
		return p.PremiumModel
	}
	return p.StandardModel
}

func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")

	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.allowed_origins", []string{"http://localhost:5173"})
	viper.SetDefault("api.rate_limit.requests_per_second", 50)
	viper.SetDefault("api.rate_limit.burst", 100)

	viper.SetDefault("storage.backend", "sqlite")
	viper.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	viper.SetDefault("mongodb.database", "logguard")

	viper.SetDefault("clickhouse.enabled", false)
	viper.SetDefault("clickhouse.addr", "localhost:9000")
	viper.SetDefault("clickhouse.database", "logguard")
	viper.SetDefault("clickhouse.username", "default")
	viper.SetDefault("clickhouse.max_pool_size", 10)
	viper.SetDefault("clickhouse.batch_size", 5000)
	viper.SetDefault("clickhouse.flush_interval", 5)
	viper.SetDefault("clickhouse.dedup_cache_size", 10000)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("cache.ttl", 30)
	viper.SetDefault("cache.memory_size", 1024)

	viper.SetDefault("upload.max_file_size", int64(50*1024*1024))
	viper.SetDefault("upload.allowed_extensions", []string{".log", ".txt", ".json", ".csv"})

	viper.SetDefault("analysis.max_concurrent", 3)
	viper.SetDefault("analysis.regex_timeout", 1000)
	viper.SetDefault("analysis.max_line_length", 64*1024)

	viper.SetDefault("providers.request_timeout", 120)
	viper.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("providers.openai.standard_model", "gpt-4o-mini")
	viper.SetDefault("providers.openai.premium_model", "gpt-4o")
	viper.SetDefault("providers.gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	viper.SetDefault("providers.gemini.standard_model", "gemini-1.5-flash")
	viper.SetDefault("providers.gemini.premium_model", "gemini-1.5-pro")

	viper.SetDefault("notifications.enabled", true)
	viper.SetDefault("notifications.timeout", 10)

	viper.SetDefault("secrets.provider", "env")
}

func loadFromEnv() {
	viper.SetEnvPrefix("LOGGUARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// LoadConfig reads configuration from config.yaml (if present), environment
// variables, and defaults, in that order of precedence.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	config.ResolveDataPaths()

	return &config, nil
}

// Validate rejects configurations that cannot possibly run.
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d", c.API.Port)
	}
	switch c.Storage.Backend {
	case "", "sqlite", "mongodb":
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
	if c.Analysis.MaxConcurrent <= 0 {
		return fmt.Errorf("analysis.max_concurrent must be positive, got %d", c.Analysis.MaxConcurrent)
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be positive, got %d", c.Upload.MaxFileSize)
	}
	return nil
}

// ResolveDataPaths resolves all data paths, deriving from DataDir if not
// explicitly set.
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "logguard.db")
	} else if !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}

	if c.DataPaths.UploadsDir == "" {
		c.DataPaths.UploadsDir = filepath.Join(dataDir, "uploads")
	} else if !filepath.IsAbs(c.DataPaths.UploadsDir) {
		c.DataPaths.UploadsDir = filepath.Clean(c.DataPaths.UploadsDir)
	}

	c.DataPaths.DataDir = dataDir
}

// GetRegexTimeout returns the traditional rule regex timeout as a duration.
func (c *Config) GetRegexTimeout() time.Duration {
	if c.Analysis.RegexTimeout <= 0 {
		return time.Second
	}
	return time.Duration(c.Analysis.RegexTimeout) * time.Millisecond
}

// GetCacheTTL returns the list-response cache TTL as a duration.
func (c *Config) GetCacheTTL() time.Duration {
	if c.Cache.TTL <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Cache.TTL) * time.Second
}

// GetProviderTimeout returns the AI provider request timeout as a duration.
func (c *Config) GetProviderTimeout() time.Duration {
	if c.Providers.RequestTimeout <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.Providers.RequestTimeout) * time.Second
}

// AllowedExtension reports whether an upload filename extension is permitted.
func (c *Config) AllowedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, allowed := range c.Upload.AllowedExtensions {
		if strings.ToLower(allowed) == ext {
			return true
		}
	}
	return false
}
