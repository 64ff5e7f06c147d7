package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/danhigham/tgpulse/internal/apperr"
)

type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Redis     RedisConfig     `yaml:"redis"`
	Activity  ActivityConfig  `yaml:"activity"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Client    ClientConfig    `yaml:"client"`
	LogLevel  string          `yaml:"log_level"`
	LogFile   string          `yaml:"log_file"`
}

type TelegramConfig struct {
	APIID         int           `yaml:"api_id"`
	APIHash       string        `yaml:"api_hash"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	Env          string        `yaml:"env"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins"`
	// TrustProxy reads client IPs from X-Forwarded-For / X-Real-IP.
	TrustProxy bool `yaml:"trust_proxy"`
}

type SessionConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	PendingTTL   time.Duration `yaml:"pending_ttl"`
	CookieName   string        `yaml:"cookie_name"`
	TokenSecret  string        `yaml:"token_secret"`
	Store        string        `yaml:"store"` // memory or redis
	RemoteLogout bool          `yaml:"remote_logout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ActivityConfig struct {
	Conversations int  `yaml:"conversations"`
	Detailed      int  `yaml:"detailed"`
	Messages      int  `yaml:"messages"`
	Markdown      bool `yaml:"markdown"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// ClientConfig is used by the CLI commands that talk to a running gateway.
type ClientConfig struct {
	GatewayURL  string `yaml:"gateway_url"`
	SessionFile string `yaml:"session_file"`
}

// RequestTimeout bounds handler work so a response can still be written
// before WriteTimeout: 5s of headroom, or a quarter of a short WriteTimeout.
func (c ServerConfig) RequestTimeout() time.Duration {
	headroom := 5 * time.Second
	if q := c.WriteTimeout / 4; q < headroom {
		headroom = q
	}
	return c.WriteTimeout - headroom
}

func (c ServerConfig) Production() bool {
	return c.Env == "production"
}

func Dir() string {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		cfgDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(cfgDir, "tgpulse")
}

// Load reads the YAML file at path, applies environment overrides and fills
// defaults. A missing file is not an error: the service can be configured
// from the environment alone.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TELEGRAM_API_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse TELEGRAM_API_ID: %w", err)
		}
		c.Telegram.APIID = id
	}
	setString(&c.Telegram.APIHash, "TELEGRAM_API_HASH")
	setString(&c.Server.Addr, "TGPULSE_ADDR")
	setString(&c.Server.Env, "TGPULSE_ENV")
	setString(&c.Session.TokenSecret, "TGPULSE_TOKEN_SECRET")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.LogLevel, "TGPULSE_LOG_LEVEL")
	setString(&c.Client.GatewayURL, "TGPULSE_GATEWAY_URL")
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Telegram.MaxRetries == 0 {
		c.Telegram.MaxRetries = 5
	}
	if c.Telegram.RetryInterval == 0 {
		c.Telegram.RetryInterval = time.Second
	}
	if c.Telegram.DialTimeout == 0 {
		c.Telegram.DialTimeout = 30 * time.Second
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 90 * time.Second
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 30 * 24 * time.Hour
	}
	if c.Session.PendingTTL == 0 {
		c.Session.PendingTTL = 10 * time.Minute
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "tg_session"
	}
	if c.Session.Store == "" {
		c.Session.Store = "memory"
	}
	if c.Activity.Conversations == 0 {
		c.Activity.Conversations = 10
	}
	if c.Activity.Detailed == 0 {
		c.Activity.Detailed = 5
	}
	if c.Activity.Messages == 0 {
		c.Activity.Messages = 5
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 1
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 5
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "tgpulse"
	}
	if c.Client.GatewayURL == "" {
		c.Client.GatewayURL = "http://localhost:8080"
	}
	if c.Client.SessionFile == "" {
		c.Client.SessionFile = filepath.Join(Dir(), "session.json")
	}
}

// APIConfigured reports whether Telegram credentials are present.
func (c *Config) APIConfigured() bool {
	return c.Telegram.APIID != 0 && c.Telegram.APIHash != ""
}

// Validate checks settings the server cannot start without. Missing Telegram
// credentials are not among them: auth endpoints report that per request.
func (c *Config) Validate() error {
	if c.Session.TokenSecret == "" {
		return apperr.Configuration("session token secret is not set")
	}
	if len(c.Session.TokenSecret) < 32 {
		return apperr.Configuration("session token secret must be at least 32 bytes")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return apperr.Configuration("server timeouts must not be negative")
	}
	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return apperr.Configuration("redis store selected but redis.addr is empty")
		}
	default:
		return apperr.Configuration(fmt.Sprintf("unknown session store %q", c.Session.Store))
	}
	if c.Activity.Detailed > c.Activity.Conversations {
		return apperr.Configuration("activity.detailed must not exceed activity.conversations")
	}
	if c.Activity.Conversations < 0 || c.Activity.Detailed < 0 || c.Activity.Messages < 0 {
		return apperr.Configuration("activity bounds must be positive")
	}
	return nil
}
