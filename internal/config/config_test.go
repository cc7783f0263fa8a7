package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// chdir isolates Load from a config.yaml or .env in the package directory.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)
	t.Setenv(ConfigPathEnvVar, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" || cfg.Cache.Backend != "file" || cfg.Cache.TTL != 24*time.Hour {
		t.Fatalf("unexpected defaults %#v", cfg)
	}
	if cfg.Sandbox.ExecutionTimeout != 5*time.Minute || cfg.TTS.MaxChars != 3000 || cfg.TTS.BatchSize != 10 {
		t.Fatalf("unexpected collaborator defaults %#v", cfg)
	}
	if len(cfg.Media.Rules) != 1 || cfg.Media.Rules[0].Name != "math" {
		t.Fatalf("unexpected media rules %#v", cfg.Media.Rules)
	}
	if cfg.LLMEnabled() {
		t.Fatal("LLM must be disabled without an API key")
	}
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "lessongate.yaml")
	yaml := `
server:
  port: "9090"
  cors_origins: ["https://a.example"]
cache:
  backend: redis
  ttl: 2h
llm:
  api_key: from-file
media:
  default_video: /v/default.mp4
  rules:
    - name: space
      url: /v/space.mp4
      match: [black hole, planet]
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("LESSONGATE_LLM__API_KEY", "from-env")
	t.Setenv("LESSONGATE_SERVER__RATE_LIMIT_PER_IP", "30")
	t.Setenv("LESSONGATE_TTS__REQUESTS_PER_MINUTE", "60")
	t.Setenv("LESSONGATE_SANDBOX__EXECUTION_TIMEOUT", "90s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Cache.Backend != "redis" || cfg.Cache.TTL != 2*time.Hour {
		t.Fatalf("file layer not applied: %#v", cfg)
	}
	if cfg.LLM.APIKey != "from-env" || !cfg.LLMEnabled() {
		t.Fatalf("env must override file, got %q", cfg.LLM.APIKey)
	}
	if cfg.Server.RateLimitPerIP != 30 || cfg.TTS.RequestsPerMinute != 60 || cfg.Sandbox.ExecutionTimeout != 90*time.Second {
		t.Fatalf("env layer not applied: %#v", cfg)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "https://a.example" {
		t.Fatalf("unexpected origins %v", cfg.Server.CORSOrigins)
	}
	if len(cfg.Media.Rules) != 1 || cfg.Media.Rules[0].URL != "/v/space.mp4" || len(cfg.Media.Rules[0].Match) != 2 {
		t.Fatalf("unexpected media rules %#v", cfg.Media.Rules)
	}
	// untouched defaults survive
	if cfg.Cache.Prefix != "lessongate" {
		t.Fatalf("default prefix lost: %q", cfg.Cache.Prefix)
	}
}

func TestLoadSplitsListsFromEnv(t *testing.T) {
	chdir(t)
	t.Setenv(ConfigPathEnvVar, "")
	t.Setenv("LESSONGATE_SERVER__CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if strings.Join(cfg.Server.CORSOrigins, "|") != "https://a.example|https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.Server.CORSOrigins)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := chdir(t)
	t.Setenv(ConfigPathEnvVar, "")
	// registered so the variable godotenv sets is cleared afterwards
	t.Setenv("LESSONGATE_LLM__MODEL", "")
	os.Unsetenv("LESSONGATE_LLM__MODEL")

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LESSONGATE_LLM__MODEL=gpt-test\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "gpt-test" {
		t.Fatalf("expected model from .env, got %q", cfg.LLM.Model)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend":  func(c *Config) { c.Cache.Backend = "s3" },
		"file without dir": func(c *Config) { c.Cache.Dir = "" },
		"zero ttl":         func(c *Config) { c.Cache.TTL = 0 },
		"write timeout":    func(c *Config) { c.Server.WriteTimeout = time.Minute },
		"empty port":       func(c *Config) { c.Server.Port = "" },
		"rule without url": func(c *Config) { c.Media.Rules = []MediaRuleConfig{{Name: "x", Match: []string{"x"}}} },
		"batch size":       func(c *Config) { c.TTS.BatchSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}
