// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

// APIConfig points at the remote purchase API.
type APIConfig struct {
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// SessionConfig seeds the cookie jar. The session itself is issued by the
// identity provider; we only carry and refresh it.
type SessionConfig struct {
	CookieName   string `yaml:"cookie_name"`
	CookieValue  string `yaml:"cookie_value"`
	RefreshName  string `yaml:"refresh_cookie_name"`
	RefreshValue string `yaml:"refresh_cookie_value"`
	LoginURL     string `yaml:"login_url"` // where a UI sends the user once refresh fails
}

type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type WebConfig struct {
	Port       int           `yaml:"port"`
	ReturnPath string        `yaml:"return_path"`
	Workers    int           `yaml:"workers"`
	WatchTTL   time.Duration `yaml:"watch_ttl"` // how long watches settled on a terminal status stay queryable

	// Confirm attempts allowed per purchase within ConfirmWindow; needs redis.
	ConfirmLimit  int           `yaml:"confirm_limit"`
	ConfirmWindow time.Duration `yaml:"confirm_window"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type ReconcilerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	BatchSize  int           `yaml:"batch_size"`
}

type Config struct {
	API        APIConfig        `yaml:"api"`
	Session    SessionConfig    `yaml:"session"`
	Poll       PollConfig       `yaml:"poll"`
	Log        LogConfig        `yaml:"log"`
	Web        WebConfig        `yaml:"web"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Locale     string           `yaml:"locale"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path and applies defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes raw YAML, fills defaults and runs minimal validation.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if cfg.API.BaseURL == "" {
		return nil, errors.New("api.base_url is required")
	}
	if _, err := url.ParseRequestURI(cfg.API.BaseURL); err != nil {
		return nil, fmt.Errorf("api.base_url: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.Timeout <= 0 {
		c.API.Timeout = 15 * time.Second
	}
	if c.API.UserAgent == "" {
		c.API.UserAgent = "course-checkout/1"
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "access_token"
	}
	if c.Session.RefreshName == "" {
		c.Session.RefreshName = "refresh_token"
	}
	if c.Session.LoginURL == "" {
		c.Session.LoginURL = "/login"
	}
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = 2 * time.Second
	}
	if c.Poll.MaxAttempts <= 0 {
		c.Poll.MaxAttempts = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8085
	}
	if c.Web.ReturnPath == "" {
		c.Web.ReturnPath = "/purchase/return"
	}
	if c.Web.Workers <= 0 {
		c.Web.Workers = 4
	}
	if c.Web.WatchTTL <= 0 {
		c.Web.WatchTTL = 15 * time.Minute
	}
	if c.Web.ConfirmLimit <= 0 {
		c.Web.ConfirmLimit = 5
	}
	if c.Web.ConfirmWindow <= 0 {
		c.Web.ConfirmWindow = 10 * time.Minute
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 4
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)
	if c.Reconciler.Interval <= 0 {
		c.Reconciler.Interval = time.Minute
	}
	if c.Reconciler.StaleAfter <= 0 {
		c.Reconciler.StaleAfter = 5 * time.Minute
	}
	if c.Reconciler.BatchSize <= 0 {
		c.Reconciler.BatchSize = 100
	}
	if c.Locale == "" {
		c.Locale = "en"
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Minute
	}
	return d
}
