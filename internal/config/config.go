// Package config resolves vinq settings from defaults, a YAML config file and
// VINQ_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultJWTSecret is used when no secret is configured. The server warns
// loudly when it is in effect.
const DefaultJWTSecret = "change_this_in_production"

type Config struct {
	Server  ServerConfig
	Model   ModelConfig
	Predict PredictConfig
	Predlog PredlogConfig
	Storage StorageConfig
	Auth    AuthConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type ModelConfig struct {
	Path          string
	Watch         bool
	WatchDebounce time.Duration
}

type PredictConfig struct {
	BatchWorkers int
	CacheSize    int
}

type PredlogConfig struct {
	Capacity int
}

type StorageConfig struct {
	DataDir            string
	PersistPredictions bool
}

type AuthConfig struct {
	JWTSecret     string
	TokenTTL      time.Duration
	SeedDemoUsers bool
}

type LogConfig struct {
	Level string
	// File, when set, receives a rotated copy of the log output.
	File string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 5000,
		},
		Model: ModelConfig{
			Path:          "wine_rf_pipeline.json",
			WatchDebounce: 500 * time.Millisecond,
		},
		Predict: PredictConfig{
			BatchWorkers: 4,
			CacheSize:    512,
		},
		Predlog: PredlogConfig{
			Capacity: 200,
		},
		Storage: StorageConfig{
			DataDir:            defaultDataDir(),
			PersistPredictions: true,
		},
		Auth: AuthConfig{
			JWTSecret:     DefaultJWTSecret,
			TokenTTL:      time.Hour,
			SeedDemoUsers: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the config file and environment.
//
// The file is YAML holding a flat map of dotted keys, located at
// $XDG_CONFIG_HOME/vinq/config.yaml unless VINQ_CONFIG names another path.
// Environment variables (VINQ_*) override file values. Secrets are read from
// the environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := Default()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that is out of range.
func (c Config) Validate() error {
	switch {
	case c.Server.Port < 1 || c.Server.Port > 65535:
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	case c.Model.Path == "":
		return fmt.Errorf("model.path must not be empty")
	case c.Model.WatchDebounce < 0:
		return fmt.Errorf("model.watch_debounce must not be negative")
	case c.Predict.BatchWorkers < 1:
		return fmt.Errorf("predict.batch_workers must be at least 1")
	case c.Predict.CacheSize < 0:
		return fmt.Errorf("predict.cache_size must not be negative")
	case c.Predlog.Capacity < 1:
		return fmt.Errorf("predlog.capacity must be at least 1")
	case c.Auth.TokenTTL <= 0:
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// InsecureSecret reports whether the built-in JWT secret is in use.
func (c Config) InsecureSecret() bool {
	return c.Auth.JWTSecret == DefaultJWTSecret
}

// SlogLevel returns the configured log level.
func (c Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.Log.Level)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s)
}
