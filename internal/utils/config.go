package utils

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "config/config.yaml"

// Config is the full application configuration loaded from YAML.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logger      LoggerConfig      `yaml:"logger"`
	Auth        AuthConfig        `yaml:"auth"`
	Cache       CacheConfig       `yaml:"cache"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	Validation  ValidationConfig  `yaml:"validation"`
	Storage     StorageConfig     `yaml:"storage"`
	Browser     BrowserConfig     `yaml:"browser"`
}

type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    string `yaml:"port"`
	Prefork bool   `yaml:"prefork"`
	// PublicBaseURL replaces the request scheme+host in download links when set.
	PublicBaseURL string `yaml:"public_base_url"`
}

type LoggerConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type AuthConfig struct {
	APIKey          string         `yaml:"api_key"`
	ProtectDownload bool           `yaml:"protect_download"`
	Postgres        PostgresConfig `yaml:"postgres"`
}

// PostgresConfig describes the optional token database. An empty Host disables it.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type CacheConfig struct {
	RedisHost          string        `yaml:"redis_host"`
	RateLimitDB        int           `yaml:"rate_limit_db"`
	ResultCacheDB      int           `yaml:"result_cache_db"`
	ResultCacheEnabled bool          `yaml:"result_cache_enabled"`
	ResultCacheTTL     time.Duration `yaml:"result_cache_ttl"`
}

type RateLimiterConfig struct {
	Interval time.Duration `yaml:"interval"`
	// TokenLimit applies to the static API key; database tokens carry their own.
	TokenLimit        int  `yaml:"token_limit"`
	UserLimit         int  `yaml:"user_limit"`
	EnableUserLimiter bool `yaml:"enable_user_limiter"`
}

type ValidationConfig struct {
	// BaseURL must appear somewhere in every submitted document URL.
	BaseURL string `yaml:"base_url"`
}

type StorageConfig struct {
	DownloadDir string `yaml:"download_dir"`
}

// Step is one UI click of the export sequence.
type Step struct {
	Kind  string `yaml:"kind"`
	Value string `yaml:"value"`
}

type BrowserConfig struct {
	Engine            string        `yaml:"engine"`
	ChromePath        string        `yaml:"chrome_path"`
	NoSandbox         bool          `yaml:"no_sandbox"`
	UserDataDir       string        `yaml:"user_data_dir"`
	ReadySelector     string        `yaml:"ready_selector"`
	ReadyTimeout      time.Duration `yaml:"ready_timeout"`
	ActionTimeout     time.Duration `yaml:"action_timeout"`
	DownloadTimeout   time.Duration `yaml:"download_timeout"`
	ConversionTimeout time.Duration `yaml:"conversion_timeout"`
	Steps             []Step        `yaml:"steps"`
}

const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"

	// StepButton and StepText match the first element whose text contains the
	// value, ignoring ASCII case.
	StepButton = "button"
	StepText   = "text"
	StepCSS    = "css"
)

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = ":5000"
	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 50
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 14
	cfg.Auth.APIKey = "YOUR_SECRET_KEY"
	cfg.Cache.ResultCacheTTL = time.Hour
	cfg.RateLimiter.Interval = time.Minute
	cfg.Validation.BaseURL = "https://www.kdocs.cn"
	cfg.Storage.DownloadDir = "/app/downloads"
	cfg.Browser.Engine = EngineChromedp
	cfg.Browser.ReadySelector = ".kdocs-header"
	cfg.Browser.ReadyTimeout = 30 * time.Second
	cfg.Browser.ActionTimeout = 30 * time.Second
	cfg.Browser.DownloadTimeout = 30 * time.Second
	cfg.Browser.Steps = []Step{
		{Kind: StepButton, Value: "文件"},
		{Kind: StepText, Value: "导出为"},
		{Kind: StepText, Value: "PDF"},
		{Kind: StepButton, Value: "导出"},
	}
	return cfg
}

// LoadConfig reads the file named by CONFIG_PATH (or the default path).
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}
	return LoadFrom(path)
}

// LoadFrom reads config from path on top of DefaultConfig. A missing file
// yields the defaults. Invalid values panic, as startup cannot continue.
func LoadFrom(path string) Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		panic(fmt.Sprintf("read config %s: %v", path, err))
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("parse config %s: %v", path, err))
		}
	}

	if v := os.Getenv("KDOCS2PDF_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if cfg.Browser.ChromePath == "" {
		cfg.Browser.ChromePath = os.Getenv("CHROME_BIN")
	}

	if err := cfg.Validate(); err != nil {
		panic(err.Error())
	}
	return cfg
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Auth.APIKey == "":
		return errors.New("auth.api_key must not be empty")
	case c.Validation.BaseURL == "":
		return errors.New("validation.base_url must not be empty")
	case c.Storage.DownloadDir == "":
		return errors.New("storage.download_dir must not be empty")
	case c.RateLimiter.Interval <= 0:
		return errors.New("rate_limiter.interval must be positive")
	case c.RateLimiter.UserLimit < 0, c.RateLimiter.TokenLimit < 0:
		return errors.New("rate_limiter limits must not be negative")
	case c.Browser.Engine != EngineChromedp && c.Browser.Engine != EngineRod:
		return fmt.Errorf("browser.engine %q is not supported", c.Browser.Engine)
	case c.Browser.ReadySelector == "":
		return errors.New("browser.ready_selector must not be empty")
	case c.Browser.ReadyTimeout <= 0, c.Browser.ActionTimeout <= 0, c.Browser.DownloadTimeout <= 0:
		return errors.New("browser timeouts must be positive")
	case c.Browser.ConversionTimeout < 0:
		return errors.New("browser.conversion_timeout must not be negative")
	case len(c.Browser.Steps) == 0:
		return errors.New("browser.steps must not be empty")
	}
	for i, s := range c.Browser.Steps {
		if s.Value == "" {
			return fmt.Errorf("browser.steps[%d].value must not be empty", i)
		}
		switch s.Kind {
		case StepButton, StepText, StepCSS:
		default:
			return fmt.Errorf("browser.steps[%d].kind %q is not supported", i, s.Kind)
		}
	}
	return nil
}
