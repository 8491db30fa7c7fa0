package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	}
	return "string"
}

type keySpec struct {
	key       string
	typ       keyType
	env       string
	legacyEnv string // read when env is unset
	secret    bool
	apply     func(cfg *Config, v any)
	extract   func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "VINQ_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "VINQ_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "model.path", typ: kString, env: "VINQ_MODEL_PATH", legacyEnv: "MODEL_PATH",
		apply:   func(cfg *Config, v any) { cfg.Model.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Path },
	},
	{
		key: "model.watch", typ: kBool, env: "VINQ_MODEL_WATCH",
		apply:   func(cfg *Config, v any) { cfg.Model.Watch = v.(bool) },
		extract: func(cfg Config) any { return cfg.Model.Watch },
	},
	{
		key: "model.watch_debounce", typ: kDuration, env: "VINQ_MODEL_WATCH_DEBOUNCE",
		apply:   func(cfg *Config, v any) { cfg.Model.WatchDebounce = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Model.WatchDebounce },
	},
	{
		key: "predict.batch_workers", typ: kInt, env: "VINQ_PREDICT_BATCH_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Predict.BatchWorkers = v.(int) },
		extract: func(cfg Config) any { return cfg.Predict.BatchWorkers },
	},
	{
		key: "predict.cache_size", typ: kInt, env: "VINQ_PREDICT_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Predict.CacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Predict.CacheSize },
	},
	{
		key: "predlog.capacity", typ: kInt, env: "VINQ_PREDLOG_CAPACITY",
		apply:   func(cfg *Config, v any) { cfg.Predlog.Capacity = v.(int) },
		extract: func(cfg Config) any { return cfg.Predlog.Capacity },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VINQ_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.persist_predictions", typ: kBool, env: "VINQ_STORAGE_PERSIST_PREDICTIONS",
		apply:   func(cfg *Config, v any) { cfg.Storage.PersistPredictions = v.(bool) },
		extract: func(cfg Config) any { return cfg.Storage.PersistPredictions },
	},
	{
		key: "auth.jwt_secret", typ: kString, env: "VINQ_JWT_SECRET", legacyEnv: "JWT_SECRET_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.JWTSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.JWTSecret },
	},
	{
		key: "auth.token_ttl", typ: kDuration, env: "VINQ_AUTH_TOKEN_TTL",
		apply:   func(cfg *Config, v any) { cfg.Auth.TokenTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Auth.TokenTTL },
	},
	{
		key: "auth.seed_demo_users", typ: kBool, env: "VINQ_AUTH_SEED_DEMO_USERS",
		apply:   func(cfg *Config, v any) { cfg.Auth.SeedDemoUsers = v.(bool) },
		extract: func(cfg Config) any { return cfg.Auth.SeedDemoUsers },
	},
	{
		key: "log.level", typ: kString, env: "VINQ_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "VINQ_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw into the Go type apply expects for t.
func parseValue(t keyType, raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return raw, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			raw, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || raw == "" {
				continue
			}
			v, err := parseValue(s.typ, raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
				continue
			}
			s.apply(cfg, v)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		name, raw := s.env, os.Getenv(s.env)
		if raw == "" && s.legacyEnv != "" {
			name, raw = s.legacyEnv, os.Getenv(s.legacyEnv)
		}
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
