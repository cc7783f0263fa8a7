// Package config loads service settings in layers: built-in defaults, an
// optional YAML file, then LESSONGATE_* environment variables.
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
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"lessongate/internal/blob"
)

const (
	// EnvPrefix marks variables read into the config. Nested keys use a
	// double underscore: LESSONGATE_CACHE__BACKEND -> cache.backend.
	EnvPrefix = "LESSONGATE_"

	// ConfigPathEnvVar names the YAML file. Without it config.yaml in the
	// working directory is used when present.
	ConfigPathEnvVar = "CONFIG_PATH"

	defaultConfigFile = "config.yaml"
)

type Config struct {
	Env      string `koanf:"env"`
	LogLevel string `koanf:"log_level"`

	Server  ServerConfig  `koanf:"server"`
	Cache   CacheConfig   `koanf:"cache"`
	LLM     LLMConfig     `koanf:"llm"`
	Sandbox SandboxConfig `koanf:"sandbox"`
	TTS     TTSConfig     `koanf:"tts"`
	Media   MediaConfig   `koanf:"media"`
}

type ServerConfig struct {
	Port              string        `koanf:"port"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	MaxBodyBytes      int64         `koanf:"max_body_bytes"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitPerIP    int           `koanf:"rate_limit_per_ip"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// CacheConfig selects the blob backend shared by the topic cache and the
// media store.
type CacheConfig struct {
	Backend          string        `koanf:"backend"`
	TTL              time.Duration `koanf:"ttl"`
	CleanupInterval  time.Duration `koanf:"cleanup_interval"`
	Prefix           string        `koanf:"prefix"`
	Dir              string        `koanf:"dir"`
	CompressionLevel int           `koanf:"compression_level"`
	RedisAddr        string        `koanf:"redis_addr"`
	RedisPassword    string        `koanf:"redis_password"`
	RedisDB          int           `koanf:"redis_db"`
	BadgerPath       string        `koanf:"badger_path"`
}

type LLMConfig struct {
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	Temperature float32       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxRetries  int           `koanf:"max_retries"`
	BaseBackoff time.Duration `koanf:"base_backoff"`
}

type SandboxConfig struct {
	BaseURL          string        `koanf:"base_url"`
	APIKey           string        `koanf:"api_key"`
	ExecutionTimeout time.Duration `koanf:"execution_timeout"`
	MaxRetries       int           `koanf:"max_retries"`
}

type TTSConfig struct {
	BaseURL           string        `koanf:"base_url"`
	APIKey            string        `koanf:"api_key"`
	DefaultVoice      string        `koanf:"default_voice"`
	MaxChars          int           `koanf:"max_chars"`
	BatchSize         int           `koanf:"batch_size"`
	RequestsPerMinute int           `koanf:"requests_per_minute"`
	Timeout           time.Duration `koanf:"timeout"`
	MaxRetries        int           `koanf:"max_retries"`
}

// MediaConfig lists the pre-recorded videos shown when rendering fails.
// Rules are tried in order; the first whose substrings occur in the
// normalized topic wins.
type MediaConfig struct {
	DefaultVideo string            `koanf:"default_video"`
	Rules        []MediaRuleConfig `koanf:"rules"`
}

type MediaRuleConfig struct {
	Name  string   `koanf:"name"`
	URL   string   `koanf:"url"`
	Match []string `koanf:"match"`
}

func Default() Config {
	return Config{
		Env:      "production",
		LogLevel: "info",
		Server: ServerConfig{
			Port:              "8080",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			// generation with rendering can take minutes
			WriteTimeout:    11 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  10 * time.Minute,
			MaxBodyBytes:    512 * 1024,
			RateLimitWindow: time.Minute,
		},
		Cache: CacheConfig{
			Backend:          blob.BackendFile,
			TTL:              24 * time.Hour,
			CleanupInterval:  time.Hour,
			Prefix:           "lessongate",
			Dir:              "data/blobs",
			CompressionLevel: 3,
			RedisAddr:        "127.0.0.1:6379",
			BadgerPath:       "data/badger",
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o-mini",
			Timeout:     60 * time.Second,
			MaxRetries:  2,
			BaseBackoff: 200 * time.Millisecond,
		},
		Sandbox: SandboxConfig{
			ExecutionTimeout: 5 * time.Minute,
		},
		TTS: TTSConfig{
			DefaultVoice: "en-US-natalie",
			MaxChars:     3000,
			BatchSize:    10,
			Timeout:      60 * time.Second,
			MaxRetries:   2,
		},
		Media: MediaConfig{
			DefaultVideo: "/static/fallback/default.mp4",
			Rules: []MediaRuleConfig{
				{Name: "math", URL: "/static/fallback/math.mp4", Match: []string{"math", "calculus", "algebra", "geometry", "equation"}},
			},
		},
	}
}

// Load reads .env (if present) into the process environment and builds the
// layered config. path overrides CONFIG_PATH.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path = configFile(path); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	if err := splitLists(k, "server.cors_origins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

// envKey maps LESSONGATE_SERVER__RATE_LIMIT_PER_IP to
// server.rate_limit_per_ip.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// splitLists turns comma-separated strings from the environment into
// lists. Values from YAML are already lists.
func splitLists(k *koanf.Koanf, paths ...string) error {
	for _, p := range paths {
		raw, ok := k.Get(p).(string)
		if !ok {
			continue
		}
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		if err := k.Set(p, items); err != nil {
			return fmt.Errorf("config: set %s: %w", p, err)
		}
	}
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.Port) == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, errors.New("server.request_timeout must be positive"))
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.Server.RequestTimeout {
		errs = append(errs, errors.New("server.write_timeout must exceed server.request_timeout"))
	}
	if c.Server.RateLimitPerIP < 0 {
		errs = append(errs, errors.New("server.rate_limit_per_ip must not be negative"))
	}

	switch strings.ToLower(c.Cache.Backend) {
	case blob.BackendMemory:
	case blob.BackendFile:
		if c.Cache.Dir == "" {
			errs = append(errs, errors.New("cache.dir is required for the file backend"))
		}
	case blob.BackendRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redis_addr is required for the redis backend"))
		}
	case blob.BackendBadger:
		if c.Cache.BadgerPath == "" {
			errs = append(errs, errors.New("cache.badger_path is required for the badger backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q is not one of memory, file, redis, badger", c.Cache.Backend))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be positive"))
	}
	if c.Cache.CompressionLevel < 0 || c.Cache.CompressionLevel > 22 {
		errs = append(errs, errors.New("cache.compression_level must be between 0 and 22"))
	}

	if c.TTS.MaxChars <= 0 {
		errs = append(errs, errors.New("tts.max_chars must be positive"))
	}
	if c.TTS.BatchSize <= 0 {
		errs = append(errs, errors.New("tts.batch_size must be positive"))
	}
	if c.Sandbox.ExecutionTimeout <= 0 {
		errs = append(errs, errors.New("sandbox.execution_timeout must be positive"))
	}

	for i, r := range c.Media.Rules {
		if r.URL == "" || len(r.Match) == 0 {
			errs = append(errs, fmt.Errorf("media.rules[%d] needs a url and at least one match", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// LLMEnabled reports whether generation can reach a model. Without one
// every request is served from the fallback tables.
func (c *Config) LLMEnabled() bool { return c.LLM.APIKey != "" && c.LLM.BaseURL != "" }

func (c *Config) SandboxEnabled() bool { return c.Sandbox.BaseURL != "" }

func (c *Config) TTSEnabled() bool { return c.TTS.BaseURL != "" }
