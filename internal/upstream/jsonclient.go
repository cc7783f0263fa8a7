package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// StatusError is a non-2xx reply from a collaborator.
type StatusError struct {
	Service string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream %d: %s", e.Service, e.Status, e.Message)
}

// JSONClient posts JSON bodies to one collaborator and decodes JSON replies.
// Every call goes through the retrier and then the breaker.
type JSONClient struct {
	Service string
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Retry   Retrier
	Breaker *Breaker
	Logger  *zap.Logger
}

// NewTransport returns a pooled transport for collaborator clients.
func NewTransport(maxIdlePerHost int) *http.Transport {
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = 100
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          maxIdlePerHost,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// PostJSON sends in to BaseURL+path and decodes the reply into out.
// out may be nil when the body is not needed.
func (c *JSONClient) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", c.Service, err)
	}

	_, err = Call(c.Breaker, func() (struct{}, error) {
		return struct{}{}, c.post(ctx, path, body, out)
	})
	return err
}

func (c *JSONClient) post(ctx context.Context, path string, body []byte, out any) error {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	url := strings.TrimRight(c.BaseURL, "/") + path

	retry := c.Retry
	retry.Logger = logger
	resp, err := retry.Do(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%s: build HTTP request: %w", c.Service, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if c.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.APIKey)
		}
		return httpClient.Do(req)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		serr := &StatusError{Service: c.Service, Status: resp.StatusCode, Message: errorMessage(raw)}
		logger.Warn("upstream error response",
			zap.String("service", c.Service),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", serr.Message),
		)
		return serr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.Service, err)
	}
	return nil
}

// errorMessage pulls a readable message out of an error body. Both
// {"error":"..."} and {"error":{"message":"..."}} shapes are common.
func errorMessage(raw []byte) string {
	var flat struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &flat); err == nil {
		var s string
		if json.Unmarshal(flat.Error, &s) == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(flat.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		if flat.Message != "" {
			return flat.Message
		}
	}
	return Truncate(strings.TrimSpace(string(raw)), 200)
}

// Truncate limits s to maxLen bytes for logging.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// IsClientError reports whether err is a 4xx reply other than 408 and 429.
func IsClientError(err error) bool {
	var serr *StatusError
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Status >= 400 && serr.Status < 500 &&
		serr.Status != http.StatusRequestTimeout && serr.Status != http.StatusTooManyRequests
}
