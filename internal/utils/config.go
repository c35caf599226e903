package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PostgresConfig describes the connection to the API key store.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Config is the full server configuration as read from YAML.
type Config struct {
	Server struct {
		Host         string   `yaml:"host"`
		Port         string   `yaml:"port"`
		Prefork      bool     `yaml:"prefork"`
		AllowOrigins []string `yaml:"allow_origins"`
	} `yaml:"server"`

	Limits struct {
		MaxUploadBytes int `yaml:"max_upload_bytes"`
		MaxPDFBytes    int `yaml:"max_pdf_bytes"`
	} `yaml:"limits"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Cache struct {
		PDFCacheEnabled bool          `yaml:"pdf_cache_enabled"`
		PDFCacheTTL     time.Duration `yaml:"pdf_cache_ttl"`
		RedisHost       string        `yaml:"redis_host"`
		RateLimitDB     int           `yaml:"redis_rate_db"`
		PDFCacheDB      int           `yaml:"redis_pdf_db"`
	} `yaml:"cache"`

	Auth struct {
		Postgres       PostgresConfig `yaml:"postgres"`
		ReloadInterval time.Duration  `yaml:"reload_interval"`
	} `yaml:"auth"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval"`
		UserLimit         int           `yaml:"user_limit"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
	} `yaml:"rate_limiter"`

	Shift struct {
		MaxMarginMM   float64 `yaml:"max_margin_mm"`
		DefaultMode   string  `yaml:"default_mode"`
		LabelWidthIn  float64 `yaml:"label_width_in"`
		LabelHeightIn float64 `yaml:"label_height_in"`
	} `yaml:"shift"`

	Scratch struct {
		BaseDir       string        `yaml:"base_dir"`
		MaxAge        time.Duration `yaml:"max_age"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"scratch"`
}

// AppConfig holds the most recently loaded configuration.
var AppConfig Config

// GetConfig returns the active configuration.
func GetConfig() Config {
	return AppConfig
}

// LoadConfig reads the file named by CONFIG_PATH (default config.yaml),
// applies environment overrides and defaults, and stores the result in
// AppConfig. It panics when the configuration cannot be used.
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadConfigFrom(path)
}

// LoadConfigFrom behaves like LoadConfig for an explicit path.
func LoadConfigFrom(path string) Config {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		panic(fmt.Sprintf("read config %s: %v", path, err))
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("parse config %s: %v", path, err))
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		panic(fmt.Sprintf("invalid config %s: %v", path, err))
	}

	AppConfig = cfg
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if !strings.HasPrefix(v, ":") {
			v = ":" + v
		}
		cfg.Server.Port = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Cache.RedisHost = v
	}
	if v := os.Getenv("SCRATCH_DIR"); v != "" {
		cfg.Scratch.BaseDir = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8000"
	}
	if cfg.Limits.MaxUploadBytes == 0 {
		cfg.Limits.MaxUploadBytes = 10 * 1024 * 1024
	}
	if cfg.Limits.MaxPDFBytes == 0 {
		cfg.Limits.MaxPDFBytes = 50 * 1024 * 1024
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Cache.PDFCacheTTL == 0 {
		cfg.Cache.PDFCacheTTL = 10 * time.Minute
	}
	if cfg.Auth.ReloadInterval == 0 {
		cfg.Auth.ReloadInterval = time.Minute
	}
	if cfg.RateLimiter.Interval == 0 {
		cfg.RateLimiter.Interval = time.Minute
	}
	if cfg.Shift.MaxMarginMM == 0 {
		cfg.Shift.MaxMarginMM = 100
	}
	if cfg.Shift.DefaultMode == "" {
		cfg.Shift.DefaultMode = "shift"
	}
	if cfg.Shift.LabelWidthIn == 0 {
		cfg.Shift.LabelWidthIn = 4
	}
	if cfg.Shift.LabelHeightIn == 0 {
		cfg.Shift.LabelHeightIn = 6
	}
	if cfg.Scratch.BaseDir == "" {
		cfg.Scratch.BaseDir = "scratch"
	}
	if cfg.Scratch.MaxAge == 0 {
		cfg.Scratch.MaxAge = time.Hour
	}
	if cfg.Scratch.SweepInterval == 0 {
		cfg.Scratch.SweepInterval = 10 * time.Minute
	}
}

func validateConfig(cfg Config) error {
	if cfg.Limits.MaxUploadBytes < 0 {
		return fmt.Errorf("limits.max_upload_bytes must be positive")
	}
	if cfg.Shift.MaxMarginMM < 0 {
		return fmt.Errorf("shift.max_margin_mm must not be negative")
	}
	if cfg.Shift.DefaultMode != "shift" && cfg.Shift.DefaultMode != "label" {
		return fmt.Errorf("shift.default_mode must be 'shift' or 'label'")
	}
	if cfg.Shift.LabelWidthIn < 0 || cfg.Shift.LabelHeightIn < 0 {
		return fmt.Errorf("shift label size must be positive")
	}
	if cfg.RateLimiter.UserLimit < 0 {
		return fmt.Errorf("rate_limiter.user_limit must not be negative")
	}
	if cfg.RateLimiter.Interval < 0 {
		return fmt.Errorf("rate_limiter.interval must be positive")
	}
	return nil
}
