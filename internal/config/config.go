// Package config loads the server settings from an optional .env file, an
// optional roulette.yaml, and ROULETTE_* environment variables, in increasing
// priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type Config struct {
	Port           string        `mapstructure:"port"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	Store          StoreConfig   `mapstructure:"store"`
	Offline        OfflineConfig `mapstructure:"offline"`
	Wish           WishConfig    `mapstructure:"wish"`
	Auth           AuthConfig    `mapstructure:"auth"`
}

// StoreConfig selects the shared gift state backend.
type StoreConfig struct {
	Driver        string        `mapstructure:"driver"`
	SQLitePath    string        `mapstructure:"sqlite_path"`
	PostgresURL   string        `mapstructure:"postgres_url"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

type OfflineConfig struct {
	MarkerPath string `mapstructure:"marker_path"`
}

type WishConfig struct {
	Phone string `mapstructure:"phone"`
}

type AuthConfig struct {
	// PassphraseHash is a bcrypt hash. Empty disables the check.
	PassphraseHash string `mapstructure:"passphrase_hash"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("startup_timeout", 10*time.Second)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "roulette.db")
	v.SetDefault("store.postgres_url", "")
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.poll_interval", time.Second)
	v.SetDefault("offline.marker_path", "data/last_spin")
	v.SetDefault("wish.phone", "")
	v.SetDefault("auth.passphrase_hash", "")
}

// Load reads the configuration. A missing .env or roulette.yaml is not an
// error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("roulette")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("ROULETTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.PostgresURL == "" {
			return errors.New("store.postgres_url is required for the postgres driver")
		}
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("store.redis_addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.StartupTimeout <= 0 {
		return fmt.Errorf("startup_timeout must be positive, got %s", c.StartupTimeout)
	}
	if c.Store.PollInterval <= 0 {
		return fmt.Errorf("store.poll_interval must be positive, got %s", c.Store.PollInterval)
	}
	return nil
}
