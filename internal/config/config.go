package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const defaultConfigFile = "config.yaml"

type Config struct {
	DatabaseURL     string        `koanf:"database_url"`
	RedisURL        string        `koanf:"redis_url"`
	JWTSecret       string        `koanf:"jwt_secret"`
	AdminAPIKey     string        `koanf:"admin_api_key"`
	ServerPort      string        `koanf:"server_port"`
	StoreDriver     string        `koanf:"store_driver"` // postgres, sqlite, memory
	SQLitePath      string        `koanf:"sqlite_path"`
	UsageBackend    string        `koanf:"usage_backend"` // redis, store
	StoreTimeout    time.Duration `koanf:"store_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	PolicyCacheTTL  time.Duration `koanf:"policy_cache_ttl"`
	DefaultDailyCap int           `koanf:"default_daily_cap"`
	OTelEnabled     bool          `koanf:"otel_enabled"`
}

var defaults = map[string]interface{}{
	"redis_url":         "redis://localhost:6379",
	"jwt_secret":        "secret",
	"server_port":       "8080",
	"store_driver":      "postgres",
	"sqlite_path":       "evals.db",
	"usage_backend":     "redis",
	"store_timeout":     "2s",
	"request_timeout":   "10s",
	"policy_cache_ttl":  "30s",
	"default_daily_cap": 10000,
	"otel_enabled":      false,
}

// Load reads .env, then config.yaml (or CONFIG_FILE), then the environment.
// Later sources override earlier ones.
func Load() (*Config, error) {
	godotenv.Load()

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = defaultConfigFile
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults {
		k.Set(key, val)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// No file is fine, environment variables are enough.
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps DATABASE_URL to database_url and drops unrelated variables.
func envKey(s string) string {
	key := strings.ToLower(s)
	if _, ok := defaults[key]; ok || key == "database_url" || key == "admin_api_key" {
		return key
	}
	return ""
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.UsageBackend {
	case "redis", "store":
	default:
		return fmt.Errorf("unknown USAGE_BACKEND %q", c.UsageBackend)
	}
	return nil
}
