package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultFile is the config file looked up in the working directory when no
// path is given.
const DefaultFile = "bakebake.yaml"

type Config struct {
	// Path is the YAML file the config was read from, if any.
	Path string

	Server     ServerConfig
	Log        LogConfig
	Gemini     GeminiConfig
	OpenRouter OpenRouterConfig
	Generation GenerationConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level  string
	Format string
}

type GeminiConfig struct {
	BaseURL string
	Model   string
	// APIKeys is a comma-separated list, tried in order.
	APIKeys string
}

// Keys returns the configured API keys in priority order.
func (g GeminiConfig) Keys() []string {
	var keys []string
	for _, k := range strings.Split(g.APIKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

type OpenRouterConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type GenerationConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	RetryTransient  bool
	Cooldown        time.Duration
	ProviderTimeout time.Duration
	RequestTimeout  time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Gemini: GeminiConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-2.0-flash",
		},
		OpenRouter: OpenRouterConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "openai/gpt-4o-mini",
		},
		Generation: GenerationConfig{
			MaxAttempts:     3,
			InitialDelay:    time.Second,
			Cooldown:        45 * time.Second,
			ProviderTimeout: 30 * time.Second,
			RequestTimeout:  90 * time.Second,
		},
	}
}

// HasCredentials reports whether any provider key is configured.
func (c Config) HasCredentials() bool {
	return len(c.Gemini.Keys()) > 0 || c.OpenRouter.APIKey != ""
}

// Load reads configuration from, in increasing precedence: built-in
// defaults, the YAML file, and BAKEBAKE_* environment variables. A .env
// file in the working directory is loaded into the environment first;
// variables already set are not overwritten.
//
// The YAML file is path if non-empty, else $BAKEBAKE_CONFIG, else
// ./bakebake.yaml when present.
//
// API keys are secrets and are read only from the environment. Missing keys
// are not an error: the service starts and reports itself unconfigured.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return loadFromPath(ResolvePath(path))
}

// ResolvePath applies the config file lookup order.
func ResolvePath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("BAKEBAKE_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat(DefaultFile); err == nil {
		return DefaultFile
	}
	return ""
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

func loadFromPath(path string) (Config, error) {
	b, err := newYAMLBackend(path)
	if err != nil {
		return Config{}, err
	}
	return loadWith(b, path)
}

func loadWith(b ConfigBackend, path string) (Config, error) {
	cfg := defaults()
	cfg.Path = path

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if !cfg.HasCredentials() {
		slog.Warn("no provider credentials configured; generation requests will be rejected",
			"hint", "set BAKEBAKE_GEMINI_API_KEYS or BAKEBAKE_OPENROUTER_API_KEY")
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Generation.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("generation.max_attempts must be at least 1, got %d", c.Generation.MaxAttempts))
	}
	if c.Generation.InitialDelay < 0 {
		errs = append(errs, fmt.Errorf("generation.initial_delay must not be negative"))
	}
	for key, d := range map[string]time.Duration{
		"generation.cooldown":         c.Generation.Cooldown,
		"generation.provider_timeout": c.Generation.ProviderTimeout,
		"generation.request_timeout":  c.Generation.RequestTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseLevel maps a log.level value to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}
