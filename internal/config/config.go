package config

import (
	"bytes"
	"fmt"
	"net"
	neturl "net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultPort      = 2333
	defaultEnv       = "development"
	defaultRedisHost = "localhost"
	defaultRedisPort = 6379
	defaultRedisDB   = 0

	defaultSessionTTLSeconds       = 1800
	defaultSessionMaxLifetimeHours = 4
	defaultRestorationWindowHours  = 24

	defaultRateLimitMax      = 60
	defaultRateLimitWindowMs = 60_000

	defaultBlobTTLSeconds   = 3600
	defaultBlobMaxSizeMB    = 10
	defaultAllowedFormats   = "jpg,jpeg,png,webp"
	defaultSecureURLWindow  = 15 * time.Minute
	defaultGenTimeoutMs     = 30_000
	defaultGenMaxRetries    = 2
	defaultGenerationModel  = "image-edit-preview"
	defaultActivityDebounce = 5 * time.Second
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int
	Env            string
	AllowedOrigins []string
	Timezone       string
	AdminSecret    string

	Redis      RedisConfig
	S3         S3Config
	Session    SessionConfig
	RateLimit  RateLimitConfig
	Blob       BlobConfig
	Generation GenerationConfig
}

type RedisConfig struct {
	URL      string
	Host     string
	Port     int
	Username string
	Password string
	DB       int
	TLS      bool
}

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	CustomDomain    string
	PathStyleAccess bool
}

type SessionConfig struct {
	TTL                time.Duration
	MaxLifetime        time.Duration
	RestorationWindow  time.Duration
	ActivityDebounce   time.Duration
	AutoExtendMinLeft  time.Duration
	AutoExtendActivity time.Duration
}

type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	Strategy    string // "kv" | "memory"
	FailClosed  bool
}

type BlobConfig struct {
	DefaultTTL      time.Duration
	AllowedFormats  string
	MaxSizeMB       int
	SecureURLSecret string
	SecureURLWindow time.Duration
}

type GenerationConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

type rawAppConfig struct {
	Port           int      `yaml:"port"`
	Env            string   `yaml:"env"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Timezone       string   `yaml:"timezone"`
	AdminSecret    string   `yaml:"admin_secret"`

	Redis struct {
		URL      string `yaml:"url"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		DB       *int   `yaml:"db"`
		TLS      *bool  `yaml:"tls"`
	} `yaml:"redis"`

	S3 struct {
		Endpoint        string `yaml:"endpoint"`
		AccessKeyID     string `yaml:"access_key_id"`
		SecretAccessKey string `yaml:"secret_access_key"`
		Bucket          string `yaml:"bucket"`
		Region          string `yaml:"region"`
		CustomDomain    string `yaml:"custom_domain"`
		PathStyleAccess *bool  `yaml:"path_style_access"`
	} `yaml:"s3"`

	Session struct {
		TTLSeconds             int `yaml:"ttl_seconds"`
		MaxLifetimeSeconds     int `yaml:"max_lifetime_seconds"`
		RestorationWindowHours int `yaml:"restoration_window_hours"`
		ActivityDebounceMs     int `yaml:"activity_debounce_ms"`
		AutoExtendMinLeftSec   int `yaml:"auto_extend_min_left_seconds"`
		AutoExtendActivitySec  int `yaml:"auto_extend_activity_seconds"`
	} `yaml:"session"`

	RateLimit struct {
		MaxRequests int    `yaml:"max_requests"`
		WindowMs    int    `yaml:"window_ms"`
		Strategy    string `yaml:"strategy"`
		FailClosed  *bool  `yaml:"fail_closed"`
	} `yaml:"rate_limit"`

	Blob struct {
		DefaultTTLSeconds  int    `yaml:"default_ttl_seconds"`
		AllowedFormats     string `yaml:"allowed_formats"`
		MaxSizeMB          int    `yaml:"max_size_mb"`
		SecureURLSecret    string `yaml:"secure_url_secret"`
		SecureURLWindowSec int    `yaml:"secure_url_window_seconds"`
	} `yaml:"blob"`

	Generation struct {
		Endpoint   string `yaml:"endpoint"`
		APIKey     string `yaml:"api_key"`
		Model      string `yaml:"model"`
		TimeoutMs  int    `yaml:"timeout_ms"`
		MaxRetries *int   `yaml:"max_retries"`
	} `yaml:"generation"`
}

// Load reads and validates the YAML config file.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	raw := rawAppConfig{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}

	applyRaw(&cfg, raw)
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d in %q, expected 1-65535", cfg.Port, path)
	}
	if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
		return nil, fmt.Errorf("invalid redis.port %d in %q, expected 1-65535", cfg.Redis.Port, path)
	}
	if cfg.Session.TTL <= 0 {
		return nil, fmt.Errorf("invalid session.ttl_seconds in %q, expected > 0", path)
	}
	if cfg.Session.MaxLifetime < cfg.Session.TTL {
		return nil, fmt.Errorf("session.max_lifetime_seconds must be >= session.ttl_seconds in %q", path)
	}
	switch cfg.RateLimit.Strategy {
	case "kv", "memory":
	default:
		return nil, fmt.Errorf("invalid rate_limit.strategy %q in %q, expected kv or memory", cfg.RateLimit.Strategy, path)
	}

	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Redis: RedisConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
			DB:   defaultRedisDB,
		},
		Session: SessionConfig{
			TTL:                defaultSessionTTLSeconds * time.Second,
			MaxLifetime:        defaultSessionMaxLifetimeHours * time.Hour,
			RestorationWindow:  defaultRestorationWindowHours * time.Hour,
			ActivityDebounce:   defaultActivityDebounce,
			AutoExtendMinLeft:  10 * time.Minute,
			AutoExtendActivity: 2 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			MaxRequests: defaultRateLimitMax,
			Window:      defaultRateLimitWindowMs * time.Millisecond,
			Strategy:    "kv",
			FailClosed:  false,
		},
		Blob: BlobConfig{
			DefaultTTL:      defaultBlobTTLSeconds * time.Second,
			AllowedFormats:  defaultAllowedFormats,
			MaxSizeMB:       defaultBlobMaxSizeMB,
			SecureURLWindow: defaultSecureURLWindow,
		},
		Generation: GenerationConfig{
			Model:      defaultGenerationModel,
			Timeout:    defaultGenTimeoutMs * time.Millisecond,
			MaxRetries: defaultGenMaxRetries,
		},
	}
}

func applyRaw(cfg *AppConfig, raw rawAppConfig) {
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if v := strings.ToLower(strings.TrimSpace(raw.Env)); v != "" {
		cfg.Env = v
	}
	if raw.AllowedOrigins != nil {
		cfg.AllowedOrigins = normalizeOrigins(raw.AllowedOrigins)
	}
	if v := strings.TrimSpace(raw.Timezone); v != "" {
		cfg.Timezone = v
	}
	if v := strings.TrimSpace(raw.AdminSecret); v != "" {
		cfg.AdminSecret = v
	}

	if v := strings.TrimSpace(raw.Redis.URL); v != "" {
		cfg.Redis.URL = v
	}
	if v := strings.TrimSpace(raw.Redis.Host); v != "" {
		cfg.Redis.Host = v
	}
	if raw.Redis.Port != 0 {
		cfg.Redis.Port = raw.Redis.Port
	}
	if v := strings.TrimSpace(raw.Redis.Username); v != "" {
		cfg.Redis.Username = v
	}
	if v := strings.TrimSpace(raw.Redis.Password); v != "" {
		cfg.Redis.Password = v
	}
	if raw.Redis.DB != nil {
		cfg.Redis.DB = *raw.Redis.DB
	}
	if raw.Redis.TLS != nil {
		cfg.Redis.TLS = *raw.Redis.TLS
	}

	cfg.S3.Endpoint = strings.TrimSpace(raw.S3.Endpoint)
	cfg.S3.AccessKeyID = strings.TrimSpace(raw.S3.AccessKeyID)
	cfg.S3.SecretAccessKey = strings.TrimSpace(raw.S3.SecretAccessKey)
	cfg.S3.Bucket = strings.TrimSpace(raw.S3.Bucket)
	cfg.S3.Region = strings.TrimSpace(raw.S3.Region)
	cfg.S3.CustomDomain = strings.TrimSpace(raw.S3.CustomDomain)
	if raw.S3.PathStyleAccess != nil {
		cfg.S3.PathStyleAccess = *raw.S3.PathStyleAccess
	}

	if raw.Session.TTLSeconds > 0 {
		cfg.Session.TTL = time.Duration(raw.Session.TTLSeconds) * time.Second
	}
	if raw.Session.MaxLifetimeSeconds > 0 {
		cfg.Session.MaxLifetime = time.Duration(raw.Session.MaxLifetimeSeconds) * time.Second
	}
	if raw.Session.RestorationWindowHours > 0 {
		cfg.Session.RestorationWindow = time.Duration(raw.Session.RestorationWindowHours) * time.Hour
	}
	if raw.Session.ActivityDebounceMs > 0 {
		cfg.Session.ActivityDebounce = time.Duration(raw.Session.ActivityDebounceMs) * time.Millisecond
	}
	if raw.Session.AutoExtendMinLeftSec > 0 {
		cfg.Session.AutoExtendMinLeft = time.Duration(raw.Session.AutoExtendMinLeftSec) * time.Second
	}
	if raw.Session.AutoExtendActivitySec > 0 {
		cfg.Session.AutoExtendActivity = time.Duration(raw.Session.AutoExtendActivitySec) * time.Second
	}

	if raw.RateLimit.MaxRequests > 0 {
		cfg.RateLimit.MaxRequests = raw.RateLimit.MaxRequests
	}
	if raw.RateLimit.WindowMs > 0 {
		cfg.RateLimit.Window = time.Duration(raw.RateLimit.WindowMs) * time.Millisecond
	}
	if v := strings.ToLower(strings.TrimSpace(raw.RateLimit.Strategy)); v != "" {
		cfg.RateLimit.Strategy = v
	}
	if raw.RateLimit.FailClosed != nil {
		cfg.RateLimit.FailClosed = *raw.RateLimit.FailClosed
	}

	if raw.Blob.DefaultTTLSeconds > 0 {
		cfg.Blob.DefaultTTL = time.Duration(raw.Blob.DefaultTTLSeconds) * time.Second
	}
	if v := strings.TrimSpace(raw.Blob.AllowedFormats); v != "" {
		cfg.Blob.AllowedFormats = v
	}
	if raw.Blob.MaxSizeMB > 0 {
		cfg.Blob.MaxSizeMB = raw.Blob.MaxSizeMB
	}
	if v := strings.TrimSpace(raw.Blob.SecureURLSecret); v != "" {
		cfg.Blob.SecureURLSecret = v
	}
	if raw.Blob.SecureURLWindowSec > 0 {
		cfg.Blob.SecureURLWindow = time.Duration(raw.Blob.SecureURLWindowSec) * time.Second
	}

	cfg.Generation.Endpoint = strings.TrimSpace(raw.Generation.Endpoint)
	cfg.Generation.APIKey = strings.TrimSpace(raw.Generation.APIKey)
	if v := strings.TrimSpace(raw.Generation.Model); v != "" {
		cfg.Generation.Model = v
	}
	if raw.Generation.TimeoutMs > 0 {
		cfg.Generation.Timeout = time.Duration(raw.Generation.TimeoutMs) * time.Millisecond
	}
	if raw.Generation.MaxRetries != nil && *raw.Generation.MaxRetries >= 0 {
		cfg.Generation.MaxRetries = *raw.Generation.MaxRetries
	}
}

// URLValue assembles the redis connection URL from the structured fields
// unless an explicit url was given.
func (c RedisConfig) URLValue() string {
	if u := normalizeRedisRawURL(c.URL); u != "" {
		return u
	}

	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = defaultRedisHost
	}
	port := c.Port
	if port == 0 {
		port = defaultRedisPort
	}
	db := c.DB
	if db < 0 {
		db = defaultRedisDB
	}

	scheme := "redis"
	if c.TLS {
		scheme = "rediss"
	}

	u := &neturl.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + strconv.Itoa(db),
	}
	username := strings.TrimSpace(c.Username)
	password := strings.TrimSpace(c.Password)
	if username != "" {
		if password != "" {
			u.User = neturl.UserPassword(username, password)
		} else {
			u.User = neturl.User(username)
		}
	} else if password != "" {
		u.User = neturl.UserPassword("", password)
	}
	return u.String()
}

func normalizeRedisRawURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "redis://") || strings.HasPrefix(trimmed, "rediss://") {
		return trimmed
	}
	return "redis://" + trimmed
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// HasS3 reports whether the object store is configured; otherwise the
// in-memory store backs local development.
func (c *AppConfig) HasS3() bool {
	return c.S3.Bucket != "" && c.S3.AccessKeyID != "" && c.S3.SecretAccessKey != "" && c.S3.Region != ""
}

func (c *AppConfig) IsDev() bool {
	return strings.EqualFold(c.Env, defaultEnv)
}
