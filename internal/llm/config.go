package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"lessongate/internal/upstream"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
)

type Config struct {
	BaseURL string // required
	APIKey  string // required

	// Model, Temperature and MaxTokens apply to Complete.
	Model       string
	Temperature float32
	MaxTokens   int

	UpstreamTimeout time.Duration // per attempt group (default: 60s)
	MaxRetries      int           // default: 2
	BaseBackoff     time.Duration // default: 100ms

	MaxIdleConnsPerHost int // default: 100

	Breaker upstream.BreakerConfig

	// HTTPClient overrides the pooled client, for tests.
	HTTPClient *http.Client
}

func (c *Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("BaseURL is required"))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("APIKey is required"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, errors.New("Temperature must be between 0 and 2"))
	}
	return errors.Join(errs...)
}

// WithDefaults returns a copy of Config with defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "llm"
	}
	return cfg
}

type client struct {
	cfg        Config
	httpClient *http.Client
	retry      upstream.Retrier
	breaker    *upstream.Breaker
	logger     *zap.Logger
}

// NewClient creates an LLM client for an OpenAI-style chat completions API.
func NewClient(cfg Config, logger *zap.Logger) (Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("llmclient")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: upstream.NewTransport(cfg.MaxIdleConnsPerHost)}
	}

	return &client{
		cfg:        cfg,
		httpClient: httpClient,
		retry: upstream.Retrier{
			MaxRetries:  cfg.MaxRetries,
			BaseBackoff: cfg.BaseBackoff,
			Logger:      logger,
		},
		breaker: upstream.NewBreaker(cfg.Breaker, logger),
		logger:  logger,
	}, nil
}

// Close releases idle connections.
func (c *client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
