package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "BAKEBAKE_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "BAKEBAKE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "BAKEBAKE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "BAKEBAKE_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "gemini.base_url", typ: kString, env: "BAKEBAKE_GEMINI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.BaseURL },
	},
	{
		key: "gemini.model", typ: kString, env: "BAKEBAKE_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gemini.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.Model },
	},
	{
		key: "gemini.api_keys", typ: kString, env: "BAKEBAKE_GEMINI_API_KEYS",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gemini.APIKeys = v.(string) },
		extract: func(cfg Config) any { return cfg.Gemini.APIKeys },
	},
	{
		key: "openrouter.base_url", typ: kString, env: "BAKEBAKE_OPENROUTER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.BaseURL },
	},
	{
		key: "openrouter.model", typ: kString, env: "BAKEBAKE_OPENROUTER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.Model },
	},
	{
		key: "openrouter.api_key", typ: kString, env: "BAKEBAKE_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenRouter.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenRouter.APIKey },
	},
	{
		key: "generation.max_attempts", typ: kInt, env: "BAKEBAKE_GENERATION_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxAttempts },
	},
	{
		key: "generation.initial_delay", typ: kDuration, env: "BAKEBAKE_GENERATION_INITIAL_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Generation.InitialDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.InitialDelay },
	},
	{
		key: "generation.retry_transient", typ: kBool, env: "BAKEBAKE_GENERATION_RETRY_TRANSIENT",
		apply:   func(cfg *Config, v any) { cfg.Generation.RetryTransient = v.(bool) },
		extract: func(cfg Config) any { return cfg.Generation.RetryTransient },
	},
	{
		key: "generation.cooldown", typ: kDuration, env: "BAKEBAKE_GENERATION_COOLDOWN",
		apply:   func(cfg *Config, v any) { cfg.Generation.Cooldown = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.Cooldown },
	},
	{
		key: "generation.provider_timeout", typ: kDuration, env: "BAKEBAKE_GENERATION_PROVIDER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.ProviderTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.ProviderTimeout },
	},
	{
		key: "generation.request_timeout", typ: kDuration, env: "BAKEBAKE_GENERATION_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.RequestTimeout },
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

// parseValue converts raw text to the key's declared type.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", s.key, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyEnvOverrides applies BAKEBAKE_* variables. Unparseable values are
// logged and ignored so a typo in the environment cannot stop the service.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw, ok := os.LookupEnv(s.env)
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring unparseable environment override", "env", s.env, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
