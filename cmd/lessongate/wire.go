package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lessongate/internal/blob"
	"lessongate/internal/cache"
	"lessongate/internal/config"
	"lessongate/internal/content"
	"lessongate/internal/llm"
	"lessongate/internal/sandbox"
	"lessongate/internal/tts"
	"lessongate/internal/upstream"
)

// openStore opens the configured backend. The returned func releases it.
func openStore(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (blob.Store, func(), error) {
	deps := blob.Deps{Logger: logger}
	closeFn := func() {}

	switch strings.ToLower(cfg.Backend) {
	case blob.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		// fail fast if Redis is misconfigured
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("redis connection established", zap.String("addr", cfg.RedisAddr))
		deps.Redis = rdb
		closeFn = func() { _ = rdb.Close() }

	case blob.BackendBadger:
		db, err := blob.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("badger store opened", zap.String("path", cfg.BadgerPath))
		deps.Badger = db
		closeFn = func() { closeBadger(db, logger) }
	}

	store, err := blob.New(blob.Config{
		Backend:          cfg.Backend,
		Prefix:           cfg.Prefix,
		Dir:              cfg.Dir,
		CompressionLevel: cfg.CompressionLevel,
	}, deps)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	if ls, ok := store.(*blob.LoggingStore); ok {
		if fs, ok := ls.Unwrap().(*blob.FileStore); ok {
			closeFn = func() { _ = fs.Close() }
		}
	}
	return store, closeFn, nil
}

func closeBadger(db *badger.DB, logger *zap.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("badger close failed", zap.Error(err))
	}
}

type app struct {
	service *content.Service
	topics  *cache.TopicCache
	closers []func() error
}

func (a *app) close() {
	for _, c := range a.closers {
		_ = c()
	}
}

// build wires the content service. Collaborators without a configured
// endpoint stay nil and their stages serve fallback content.
func build(cfg *config.Config, store blob.Store, logger *zap.Logger) (*app, error) {
	a := &app{
		topics: cache.New(store, cache.Config{MaxAge: cfg.Cache.TTL}, logger),
	}

	deps := content.Deps{
		Cache:          a.topics,
		Media:          store,
		MediaFallbacks: mediaFallbacks(cfg.Media),
		Logger:         logger,
	}

	if cfg.LLMEnabled() {
		client, err := llm.NewClient(llm.Config{
			BaseURL:         cfg.LLM.BaseURL,
			APIKey:          cfg.LLM.APIKey,
			Model:           cfg.LLM.Model,
			Temperature:     cfg.LLM.Temperature,
			MaxTokens:       cfg.LLM.MaxTokens,
			UpstreamTimeout: cfg.LLM.Timeout,
			MaxRetries:      cfg.LLM.MaxRetries,
			BaseBackoff:     cfg.LLM.BaseBackoff,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("llm client: %w", err)
		}
		if closer, ok := client.(interface{ Close() error }); ok {
			a.closers = append(a.closers, closer.Close)
		}
		deps.LLM = client
	} else {
		logger.Warn("llm api key not configured, generation will use fallback content")
	}

	if cfg.SandboxEnabled() {
		sb, err := sandbox.New(sandbox.Config{
			BaseURL:          cfg.Sandbox.BaseURL,
			APIKey:           cfg.Sandbox.APIKey,
			ExecutionTimeout: cfg.Sandbox.ExecutionTimeout,
			MaxRetries:       cfg.Sandbox.MaxRetries,
			Breaker:          upstream.BreakerConfig{Name: "sandbox"},
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("sandbox client: %w", err)
		}
		deps.Sandbox = sb
	}

	if cfg.TTSEnabled() {
		speech, err := tts.New(tts.Config{
			BaseURL:           cfg.TTS.BaseURL,
			APIKey:            cfg.TTS.APIKey,
			DefaultVoice:      cfg.TTS.DefaultVoice,
			MaxChars:          cfg.TTS.MaxChars,
			BatchSize:         cfg.TTS.BatchSize,
			RequestsPerMinute: cfg.TTS.RequestsPerMinute,
			Timeout:           cfg.TTS.Timeout,
			MaxRetries:        cfg.TTS.MaxRetries,
			Breaker:           upstream.BreakerConfig{Name: "tts"},
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("tts client: %w", err)
		}
		deps.Speech = speech
		deps.Translator = speech
	}

	a.service = content.New(deps)
	return a, nil
}

func mediaFallbacks(cfg config.MediaConfig) *content.MediaFallbacks {
	def := cfg.DefaultVideo
	if def == "" {
		def = content.DefaultFallbackVideo
	}
	rules := make([]content.MediaRule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		rules = append(rules, content.SubstringRule(r.Name, r.URL, r.Match...))
	}
	return content.NewMediaFallbacks(def, rules...)
}
