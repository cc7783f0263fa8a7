// Package sandbox talks to the remote code-execution service that renders
// animation scripts.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"lessongate/internal/metrics"
	"lessongate/internal/upstream"
)

// ErrExecutionFailed covers non-zero exits, timeouts and transport errors.
var ErrExecutionFailed = errors.New("sandbox: execution failed")

const DefaultExecutionTimeout = 5 * time.Minute

type Config struct {
	BaseURL          string
	APIKey           string
	Language         string        // default: python
	ExecutionTimeout time.Duration // wall clock per execution (default: 5m)
	MaxRetries       int           // transport retries, 0 means a single attempt
	Breaker          upstream.BreakerConfig
	HTTPClient       *http.Client
}

// Job is one script to run. Command is run in the working directory after
// Code has been written to Filename.
type Job struct {
	Code     string
	Filename string
	Command  string
}

type File struct {
	Name    string `json:"name"`
	Content []byte `json:"contentBase64"`
}

type Result struct {
	ExitCode int           `json:"exitCode"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Files    []File        `json:"files"`
	Duration time.Duration `json:"-"`
}

type executeRequest struct {
	Code           string `json:"code"`
	Filename       string `json:"filename"`
	Command        string `json:"command,omitempty"`
	Language       string `json:"language"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

type Client struct {
	cfg    Config
	http   *upstream.JSONClient
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("sandbox: BaseURL is required")
	}
	if cfg.Language == "" {
		cfg.Language = "python"
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = DefaultExecutionTimeout
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "sandbox"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sandbox")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: upstream.NewTransport(10)}
	}

	return &Client{
		cfg: cfg,
		http: &upstream.JSONClient{
			Service: "sandbox",
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			HTTP:    httpClient,
			Retry:   upstream.Retrier{MaxRetries: cfg.MaxRetries, BaseBackoff: 500 * time.Millisecond},
			Breaker: upstream.NewBreaker(cfg.Breaker, logger),
			Logger:  logger,
		},
		logger: logger,
	}, nil
}

// Execute runs job within the configured timeout. A non-zero exit returns
// the result together with an error wrapping ErrExecutionFailed.
func (c *Client) Execute(ctx context.Context, job Job) (*Result, error) {
	if strings.TrimSpace(job.Code) == "" {
		return nil, fmt.Errorf("%w: empty code", ErrExecutionFailed)
	}
	if job.Filename == "" {
		job.Filename = "main.py"
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ExecutionTimeout)
	defer cancel()

	start := time.Now()
	req := executeRequest{
		Code:           job.Code,
		Filename:       job.Filename,
		Command:        job.Command,
		Language:       c.cfg.Language,
		TimeoutSeconds: int(c.cfg.ExecutionTimeout / time.Second),
	}

	var res Result
	err := c.http.PostJSON(ctx, "/v1/executions", req, &res)
	res.Duration = time.Since(start)

	if err != nil {
		outcome := "failure"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		metrics.SandboxExecutionsTotal.WithLabelValues(outcome).Inc()
		c.logger.Warn("sandbox execution failed",
			zap.String("outcome", outcome),
			zap.Duration("duration", res.Duration),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}

	if res.ExitCode != 0 {
		metrics.SandboxExecutionsTotal.WithLabelValues("failure").Inc()
		c.logger.Warn("sandbox execution exited non-zero",
			zap.Int("exit_code", res.ExitCode),
			zap.String("stderr", tail(res.Stderr, 500)),
			zap.Duration("duration", res.Duration),
		)
		return &res, fmt.Errorf("%w: exit code %d: %s", ErrExecutionFailed, res.ExitCode, tail(res.Stderr, 200))
	}

	metrics.SandboxExecutionsTotal.WithLabelValues("success").Inc()
	c.logger.Info("sandbox execution finished",
		zap.Int("files", len(res.Files)),
		zap.Duration("duration", res.Duration),
	)
	return &res, nil
}

// tail keeps the end of s, where tracebacks put the useful line.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
