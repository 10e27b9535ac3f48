// Package config loads the YAML profile named by APP_ENV and applies
// environment overrides on top of it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StorageMemory   = "memory"
	StorageDynamoDB = "dynamodb"
	SessionsMemory  = "memory"
	SessionsRedis   = "redis"

	minProductionSecret = 32
)

type Config struct {
	Env           string              `yaml:"-"`
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Storage       StorageConfig       `yaml:"storage"`
	Sessions      SessionConfig       `yaml:"sessions"`
	Auth          AuthConfig          `yaml:"auth"`
	Codes         CodesConfig         `yaml:"codes"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Tracing       TracingConfig       `yaml:"tracing"`
	Bootstrap     BootstrapConfig     `yaml:"bootstrap"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SecureCookies   bool          `yaml:"secure_cookies"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type StorageConfig struct {
	Driver    string `yaml:"driver"`
	TableName string `yaml:"table_name"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
}

type SessionConfig struct {
	Driver   string        `yaml:"driver"`
	RedisURL string        `yaml:"redis_url"`
	PoolSize int           `yaml:"pool_size"`
	TTL      time.Duration `yaml:"ttl"`
	Secret   string        `yaml:"secret"`
}

type AuthConfig struct {
	BcryptCost        int           `yaml:"bcrypt_cost"`
	RoleCacheSize     int           `yaml:"role_cache_size"`
	RoleCacheTTL      time.Duration `yaml:"role_cache_ttl"`
	CognitoUserPoolID string        `yaml:"cognito_user_pool_id"`
	CognitoClientID   string        `yaml:"cognito_client_id"`
}

type CodesConfig struct {
	Prefix string `yaml:"prefix"`
	Width  int    `yaml:"width"`
}

type NotificationsConfig struct {
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	TaskTimeout     time.Duration `yaml:"task_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseBackoff     time.Duration `yaml:"base_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	RedriveSchedule string        `yaml:"redrive_schedule"`
	WebhookURL      string        `yaml:"webhook_url"`
	RatePerSecond   float64       `yaml:"rate_per_second"`
	Burst           int           `yaml:"burst"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

type BootstrapConfig struct {
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
	AdminName     string `yaml:"admin_name"`
}

// Load reads configs/<APP_ENV>.yaml (or CONFIG_DIR/<APP_ENV>.yaml).
func Load() (*Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = EnvDevelopment
	}
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "configs"
	}
	return LoadFile(filepath.Join(dir, env+".yaml"), env)
}

func LoadFile(path, env string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Env = env
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			RequestTimeout:  15 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		Log:      LogConfig{Level: "info"},
		Storage:  StorageConfig{Driver: StorageMemory, Region: "us-east-1"},
		Sessions: SessionConfig{Driver: SessionsMemory, TTL: 12 * time.Hour},
		Auth: AuthConfig{
			BcryptCost:    12,
			RoleCacheSize: 256,
			RoleCacheTTL:  30 * time.Second,
		},
		Codes: CodesConfig{Prefix: "SUB-", Width: 4},
		Notifications: NotificationsConfig{
			Workers:         4,
			QueueSize:       256,
			TaskTimeout:     10 * time.Second,
			MaxAttempts:     5,
			BaseBackoff:     time.Second,
			MaxBackoff:      time.Minute,
			RedriveSchedule: "@every 5m",
			RatePerSecond:   10,
			Burst:           5,
		},
		Bootstrap: BootstrapConfig{AdminName: "Platform Admin"},
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	setString(&c.Storage.TableName, "TABLE_NAME")
	setString(&c.Storage.Region, "AWS_REGION")
	setString(&c.Sessions.RedisURL, "REDIS_URL")
	setString(&c.Sessions.Secret, "SESSION_SECRET")
	setString(&c.Auth.CognitoUserPoolID, "COGNITO_USER_POOL_ID")
	setString(&c.Auth.CognitoClientID, "COGNITO_CLIENT_ID")
	setString(&c.Notifications.WebhookURL, "NOTIFY_WEBHOOK_URL")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Bootstrap.AdminEmail, "BOOTSTRAP_ADMIN_EMAIL")
	setString(&c.Bootstrap.AdminPassword, "BOOTSTRAP_ADMIN_PASSWORD")
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageDynamoDB:
		if c.Storage.TableName == "" {
			errs = append(errs, errors.New("storage.table_name is required for dynamodb"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	switch c.Sessions.Driver {
	case SessionsMemory:
	case SessionsRedis:
		if c.Sessions.RedisURL == "" {
			errs = append(errs, errors.New("sessions.redis_url is required for redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sessions.driver %q", c.Sessions.Driver))
	}
	if c.Sessions.TTL <= 0 {
		errs = append(errs, errors.New("sessions.ttl must be positive"))
	}
	if c.Sessions.Secret == "" {
		errs = append(errs, errors.New("sessions.secret is required"))
	}
	if c.Codes.Prefix == "" || c.Codes.Width <= 0 {
		errs = append(errs, errors.New("codes.prefix and codes.width are required"))
	}
	if c.Notifications.Workers <= 0 || c.Notifications.QueueSize <= 0 || c.Notifications.MaxAttempts <= 0 {
		errs = append(errs, errors.New("notifications.workers, queue_size and max_attempts must be positive"))
	}
	if c.Env == EnvProduction {
		if c.Storage.Driver != StorageDynamoDB {
			errs = append(errs, errors.New("production requires storage.driver dynamodb"))
		}
		if c.Sessions.Driver != SessionsRedis {
			errs = append(errs, errors.New("production requires sessions.driver redis"))
		}
		if len(c.Sessions.Secret) < minProductionSecret {
			errs = append(errs, fmt.Errorf("production requires a session secret of at least %d bytes", minProductionSecret))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

func (c *Config) CognitoEnabled() bool {
	return c.Auth.CognitoUserPoolID != ""
}
