// Package tts is the client for the speech synthesis and translation
// service. It enforces the service's per-call text and batch limits and
// paces outbound calls.
package tts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"lessongate/internal/metrics"
	"lessongate/internal/upstream"
)

var (
	ErrTextTooLong = errors.New("tts: text exceeds per-call limit")
	ErrEmptyText   = errors.New("tts: text is empty")
)

const (
	DefaultMaxChars  = 3000
	DefaultBatchSize = 10
)

type Config struct {
	BaseURL           string
	APIKey            string
	DefaultVoice      string
	MaxChars          int // per-call character limit (default: 3000)
	BatchSize         int // texts per translation call (default: 10)
	RequestsPerMinute int // outbound pacing, 0 disables
	Timeout           time.Duration
	MaxRetries        int
	Breaker           upstream.BreakerConfig
	HTTPClient        *http.Client
}

type Speech struct {
	AudioURL        string  `json:"audioUrl"`
	DurationSeconds float64 `json:"durationSeconds"`
}

type Translation struct {
	Texts       []string `json:"texts"`
	CreditsUsed int      `json:"creditsUsed"`
}

type speechRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
	Style   string `json:"style,omitempty"`
}

type translateRequest struct {
	Texts          []string `json:"texts"`
	TargetLanguage string   `json:"targetLanguage"`
}

type translateResponse struct {
	Translations []string `json:"translations"`
	CreditsUsed  int      `json:"creditsUsed"`
}

type Client struct {
	cfg     Config
	http    *upstream.JSONClient
	limiter *rate.Limiter
	logger  *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("tts: BaseURL is required")
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.DefaultVoice == "" {
		cfg.DefaultVoice = "en-US-natalie"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "tts"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("tts")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: upstream.NewTransport(20)}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &Client{
		cfg: cfg,
		http: &upstream.JSONClient{
			Service: "tts",
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			HTTP:    httpClient,
			Retry:   upstream.Retrier{MaxRetries: cfg.MaxRetries, BaseBackoff: 250 * time.Millisecond},
			Breaker: upstream.NewBreaker(cfg.Breaker, logger),
			Logger:  logger,
		},
		limiter: limiter,
		logger:  logger,
	}, nil
}

// MaxChars is the longest text accepted per call.
func (c *Client) MaxChars() int { return c.cfg.MaxChars }

// Synthesize turns text into narrated audio. An empty voiceID uses the
// configured default voice.
func (c *Client) Synthesize(ctx context.Context, text, voiceID, style string) (*Speech, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if n := utf8.RuneCountInString(text); n > c.cfg.MaxChars {
		return nil, fmt.Errorf("%w: %d > %d", ErrTextTooLong, n, c.cfg.MaxChars)
	}
	if voiceID == "" {
		voiceID = c.cfg.DefaultVoice
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("tts: rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var out Speech
	err := c.http.PostJSON(ctx, "/v1/speech", speechRequest{Text: text, VoiceID: voiceID, Style: style}, &out)
	if err != nil {
		metrics.TTSRequestsTotal.WithLabelValues("speech", "error").Inc()
		return nil, err
	}
	if out.AudioURL == "" {
		metrics.TTSRequestsTotal.WithLabelValues("speech", "error").Inc()
		return nil, errors.New("tts: response has no audio url")
	}

	metrics.TTSRequestsTotal.WithLabelValues("speech", "ok").Inc()
	c.logger.Debug("speech synthesized",
		zap.String("voice_id", voiceID),
		zap.Int("chars", utf8.RuneCountInString(text)),
		zap.Float64("duration_seconds", out.DurationSeconds),
	)
	return &out, nil
}

// Translate translates texts into target. Calls carry at most BatchSize
// texts and MaxChars characters. A text longer than MaxChars is split at
// sentence breaks, translated in pieces and joined again. Output order
// matches input order.
func (c *Client) Translate(ctx context.Context, texts []string, target string) (*Translation, error) {
	if target == "" {
		return nil, errors.New("tts: target language is required")
	}

	var (
		chunks []string
		owner  []int
	)
	for i, t := range texts {
		for _, part := range SplitText(t, c.cfg.MaxChars) {
			chunks = append(chunks, part)
			owner = append(owner, i)
		}
	}

	translated := make([]string, 0, len(chunks))
	credits := 0
	calls := 0
	for start := 0; start < len(chunks); {
		end, size := start, 0
		for end < len(chunks) && end-start < c.cfg.BatchSize {
			n := utf8.RuneCountInString(chunks[end])
			if end > start && size+n > c.cfg.MaxChars {
				break
			}
			size += n
			end++
		}
		batch := chunks[start:end]

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("tts: rate limiter: %w", err)
		}

		var resp translateResponse
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		err := c.http.PostJSON(callCtx, "/v1/translate", translateRequest{Texts: batch, TargetLanguage: target}, &resp)
		cancel()
		if err != nil {
			metrics.TTSRequestsTotal.WithLabelValues("translate", "error").Inc()
			return nil, fmt.Errorf("tts: translate chunks %d-%d: %w", start, end, err)
		}
		if len(resp.Translations) != len(batch) {
			metrics.TTSRequestsTotal.WithLabelValues("translate", "error").Inc()
			return nil, fmt.Errorf("tts: translate chunks %d-%d: got %d translations for %d texts",
				start, end, len(resp.Translations), len(batch))
		}

		metrics.TTSRequestsTotal.WithLabelValues("translate", "ok").Inc()
		translated = append(translated, resp.Translations...)
		credits += resp.CreditsUsed
		calls++
		start = end
	}

	out := &Translation{Texts: make([]string, len(texts)), CreditsUsed: credits}
	for i, t := range translated {
		if cur := out.Texts[owner[i]]; cur != "" {
			t = cur + " " + t
		}
		out.Texts[owner[i]] = t
	}

	c.logger.Debug("texts translated",
		zap.String("target_language", target),
		zap.Int("texts", len(texts)),
		zap.Int("calls", calls),
		zap.Int("credits_used", credits),
	)
	return out, nil
}
