// Package config loads service settings. Precedence is file > environment >
// defaults; a .env file in the working directory feeds the environment.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "SESSIONCHAT_"

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

type Config struct {
	HTTP      HTTPConfig      `json:"http" envPrefix:"HTTP_"`
	WebSocket WebSocketConfig `json:"websocket" envPrefix:"WEBSOCKET_"`
	Access    AccessConfig    `json:"access" envPrefix:"ACCESS_"`
	Store     StoreConfig     `json:"store" envPrefix:"STORE_"`
	Database  DatabaseConfig  `json:"database" envPrefix:"DATABASE_"`
	Badger    BadgerConfig    `json:"badger" envPrefix:"BADGER_"`
	Auth      AuthConfig      `json:"auth" envPrefix:"AUTH_"`
	Redis     RedisConfig     `json:"redis" envPrefix:"REDIS_"`
	NATS      NATSConfig      `json:"nats" envPrefix:"NATS_"`
	Log       LogConfig       `json:"log" envPrefix:"LOG_"`
}

type HTTPConfig struct {
	Host            string        `json:"host" env:"HOST" validate:"required"`
	Port            int           `json:"port" env:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// Addr returns host:port for the listener.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type WebSocketConfig struct {
	PingInterval    time.Duration `json:"ping_interval" env:"PING_INTERVAL" validate:"gt=0"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"READ_TIMEOUT" validate:"gt=0,gtfield=PingInterval"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"WRITE_TIMEOUT" validate:"gt=0"`
	BufferSize      int           `json:"buffer_size" env:"BUFFER_SIZE" validate:"min=1"`
	RateLimit       int           `json:"rate_limit" env:"RATE_LIMIT" validate:"min=1"`
	RateWindow      time.Duration `json:"rate_window" env:"RATE_WINDOW" validate:"gt=0"`
	MaxDecodeErrors int           `json:"max_decode_errors" env:"MAX_DECODE_ERRORS" validate:"min=1"`
	AllowedOrigins  []string      `json:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

// AccessConfig holds the grace margins around a session's scheduled window.
type AccessConfig struct {
	GraceBefore time.Duration `json:"grace_before" env:"GRACE_BEFORE" validate:"gte=0"`
	GraceAfter  time.Duration `json:"grace_after" env:"GRACE_AFTER" validate:"gte=0"`
}

type StoreConfig struct {
	Backend      string `json:"backend" env:"BACKEND" validate:"oneof=sqlite badger memory"`
	MaxBodyRunes int    `json:"max_body_runes" env:"MAX_BODY_RUNES" validate:"min=1"`
}

type DatabaseConfig struct {
	Path           string        `json:"path" env:"PATH" validate:"required"`
	Timeout        time.Duration `json:"timeout" env:"TIMEOUT" validate:"gt=0"`
	MaxConnections int           `json:"max_connections" env:"MAX_CONNECTIONS" validate:"min=1"`
}

// BadgerConfig locates the badger directory. An empty path runs in memory.
type BadgerConfig struct {
	Path string `json:"path" env:"PATH"`
}

type AuthConfig struct {
	Secret   string        `json:"secret" env:"SECRET" validate:"required,min=16"`
	Issuer   string        `json:"issuer" env:"ISSUER"`
	TokenTTL time.Duration `json:"token_ttl" env:"TOKEN_TTL" validate:"gt=0"`
}

// RedisConfig enables the presence mirror when URL is set.
type RedisConfig struct {
	URL    string `json:"url" env:"URL"`
	Prefix string `json:"prefix" env:"PREFIX" validate:"required"`
}

// NATSConfig enables committed-event publishing when URL is set.
type NATSConfig struct {
	URL           string `json:"url" env:"URL"`
	SubjectPrefix string `json:"subject_prefix" env:"SUBJECT_PREFIX" validate:"required"`
}

type LogConfig struct {
	Level      string `json:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	Format     string `json:"format" env:"FORMAT" validate:"oneof=json console"`
	File       string `json:"file" env:"FILE"`
	MaxSizeMB  int    `json:"max_size_mb" env:"MAX_SIZE_MB" validate:"min=1"`
	MaxBackups int    `json:"max_backups" env:"MAX_BACKUPS" validate:"min=0"`
	MaxAgeDays int    `json:"max_age_days" env:"MAX_AGE_DAYS" validate:"min=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			BufferSize:      100,
			RateLimit:       100,
			RateWindow:      time.Minute,
			MaxDecodeErrors: 3,
		},
		Access: AccessConfig{
			GraceBefore: 10 * time.Minute,
			GraceAfter:  10 * time.Minute,
		},
		Store: StoreConfig{
			Backend:      BackendSQLite,
			MaxBodyRunes: 2000,
		},
		Database: DatabaseConfig{
			Path:           "./data/sessionchat.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		Badger: BadgerConfig{
			Path: "./data/badger",
		},
		Auth: AuthConfig{
			Issuer:   "sessionchat",
			TokenTTL: 12 * time.Hour,
		},
		Redis: RedisConfig{
			Prefix: "sessionchat",
		},
		NATS: NATSConfig{
			SubjectPrefix: "sessionchat",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// Validate reports every failing field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, describe(verrs))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	msg := ""
	for i, fe := range verrs {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
	}
	return msg
}

// LoadFromEnv applies SESSIONCHAT_* variables on top of the defaults.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg, nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, environment map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadFromFile overlays a JSON file on cfg. The file mirrors the json tags
// of Config, one object per section; durations are strings such as "30s".
func LoadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	environment, err := fileEnvironment(data)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := applyEnv(cfg, environment); err != nil {
		return fmt.Errorf("invalid value in config file %s: %w", path, err)
	}
	return nil
}

// fileEnvironment flattens {"http": {"read_timeout": "5s"}} into
// SESSIONCHAT_HTTP_READ_TIMEOUT=5s so file values go through the same parser
// as environment variables.
func fileEnvironment(data []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var sections map[string]map[string]any
	if err := dec.Decode(&sections); err != nil {
		return nil, err
	}

	environment := make(map[string]string)
	for section, values := range sections {
		for key, value := range values {
			name := EnvPrefix + strings.ToUpper(section+"_"+key)
			switch v := value.(type) {
			case nil:
				continue
			case []any:
				parts := make([]string, 0, len(v))
				for _, item := range v {
					parts = append(parts, fmt.Sprint(item))
				}
				environment[name] = strings.Join(parts, ",")
			case map[string]any:
				return nil, fmt.Errorf("%s.%s: nested objects are not supported", section, key)
			default:
				environment[name] = fmt.Sprint(v)
			}
		}
	}
	return environment, nil
}

// Load resolves the configuration: defaults, then .env and the process
// environment, then the optional JSON file. The result is validated.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}

	if path != "" {
		if err := LoadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
