// Package config loads the portal configuration: defaults, then an optional
// YAML file, then PORTAL_* environment variables (a .env file in the
// working directory is loaded first).
package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full portal configuration.
type Config struct {
	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		CORSOrigin      string        `yaml:"cors_origin"`
	} `yaml:"server"`

	DB struct {
		Path          string `yaml:"path"`
		BusyTimeoutMs int    `yaml:"busy_timeout_ms"`
	} `yaml:"db"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Auth struct {
		Secret        string        `yaml:"secret"`
		SessionTTL    time.Duration `yaml:"session_ttl"`
		AdminEmail    string        `yaml:"admin_email"`
		AdminPassword string        `yaml:"admin_password"`
	} `yaml:"auth"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`

	LLM struct {
		Provider    string        `yaml:"provider"` // "gemini" or "static"
		APIKey      string        `yaml:"api_key"`
		Model       string        `yaml:"model"`
		Timeout     time.Duration `yaml:"timeout"`
		StaticReply string        `yaml:"static_reply"`
	} `yaml:"llm"`

	Demo struct {
		RateLimit   int           `yaml:"rate_limit"`
		RateWindow  time.Duration `yaml:"rate_window"`
		MaxMessages int           `yaml:"max_messages"`
	} `yaml:"demo"`

	Notify struct {
		TelegramToken  string `yaml:"telegram_token"`
		TelegramChatID string `yaml:"telegram_chat_id"`
		WebhookURL     string `yaml:"webhook_url"`
		WebhookSecret  string `yaml:"webhook_secret"`
	} `yaml:"notify"`

	Blog struct {
		Feeds          []string      `yaml:"feeds"`
		ImportInterval time.Duration `yaml:"import_interval"`
	} `yaml:"blog"`

	Retention struct {
		EventDays   int `yaml:"event_days"`
		MetricsDays int `yaml:"metrics_days"`
	} `yaml:"retention"`
}

func (c *Config) defaults() {
	c.Server.Addr = ":8080"
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 90 * time.Second
	c.Server.ShutdownTimeout = 10 * time.Second
	c.DB.Path = "data/portal.db"
	c.DB.BusyTimeoutMs = 10000
	c.Log.Level = "info"
	c.Auth.SessionTTL = 7 * 24 * time.Hour
	c.Redis.Prefix = "portal:rl:"
	c.LLM.Provider = "gemini"
	c.LLM.Timeout = 60 * time.Second
	c.Demo.RateLimit = 10
	c.Demo.RateWindow = time.Hour
	c.Demo.MaxMessages = 10
	c.Blog.ImportInterval = 6 * time.Hour
	c.Retention.EventDays = 90
	c.Retention.MetricsDays = 30
}

// Load builds the configuration. A missing file at path is not an error;
// an empty path skips the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config: .env not loaded", "error", err)
	}

	var cfg Config
	cfg.defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Info("config: file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv("PORTAL_" + key); v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v := getenv("PORTAL_" + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: PORTAL_%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := getenv("PORTAL_" + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: PORTAL_%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("ADDR", &c.Server.Addr)
	str("CORS_ORIGIN", &c.Server.CORSOrigin)
	str("DB_PATH", &c.DB.Path)
	str("LOG_LEVEL", &c.Log.Level)
	str("SECRET", &c.Auth.Secret)
	duration("SESSION_TTL", &c.Auth.SessionTTL)
	str("ADMIN_EMAIL", &c.Auth.AdminEmail)
	str("ADMIN_PASSWORD", &c.Auth.AdminPassword)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	integer("REDIS_DB", &c.Redis.DB)
	str("LLM_PROVIDER", &c.LLM.Provider)
	str("LLM_API_KEY", &c.LLM.APIKey)
	str("LLM_MODEL", &c.LLM.Model)
	duration("LLM_TIMEOUT", &c.LLM.Timeout)
	integer("DEMO_RATE_LIMIT", &c.Demo.RateLimit)
	duration("DEMO_RATE_WINDOW", &c.Demo.RateWindow)
	integer("DEMO_MAX_MESSAGES", &c.Demo.MaxMessages)
	str("TELEGRAM_TOKEN", &c.Notify.TelegramToken)
	str("TELEGRAM_CHAT_ID", &c.Notify.TelegramChatID)
	str("WEBHOOK_URL", &c.Notify.WebhookURL)
	str("WEBHOOK_SECRET", &c.Notify.WebhookSecret)
	if v := getenv("PORTAL_BLOG_FEEDS"); v != "" {
		c.Blog.Feeds = splitList(v)
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = getenv("GEMINI_API_KEY")
	}
	return errors.Join(errs...)
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("config: auth.secret (PORTAL_SECRET) is required"))
	}
	switch c.LLM.Provider {
	case "gemini":
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("config: llm.api_key is required for the gemini provider"))
		}
	case "static":
	default:
		errs = append(errs, fmt.Errorf("config: unknown llm.provider %q", c.LLM.Provider))
	}
	if c.Demo.RateLimit <= 0 || c.Demo.RateWindow <= 0 {
		errs = append(errs, errors.New("config: demo.rate_limit and demo.rate_window must be positive"))
	}
	if c.Demo.MaxMessages <= 0 {
		errs = append(errs, errors.New("config: demo.max_messages must be positive"))
	}
	return errors.Join(errs...)
}

// JWTSecret derives the 32-byte signing key from Auth.Secret.
func (c *Config) JWTSecret() []byte {
	sum := sha256.Sum256([]byte(c.Auth.Secret))
	return sum[:]
}

// LogLevel maps Log.Level to a slog level; unknown values mean info.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
