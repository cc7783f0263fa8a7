package blob

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"lessongate/internal/metrics"
	"lessongate/pkg/logging/logging"
)

// LoggingStore wraps a Store with logging + metrics.
type LoggingStore struct {
	inner   Store
	backend string
	base    *zap.Logger
}

// NewLoggingStore returns a store that logs and records metrics.
// Request-scoped loggers from ctx take precedence over base.
func NewLoggingStore(inner Store, backend string, base *zap.Logger) *LoggingStore {
	return &LoggingStore{inner: inner, backend: backend, base: base}
}

// Unwrap returns the decorated store.
func (s *LoggingStore) Unwrap() Store { return s.inner }

func (s *LoggingStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := s.inner.Get(ctx, key)

	result := "hit"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "miss"
	case err != nil:
		result = "error"
	}
	s.record(ctx, "get", key, result, start, err, zap.Int("bytes", len(value)))
	return value, err
}

func (s *LoggingStore) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := s.inner.Put(ctx, key, value)
	s.record(ctx, "put", key, outcome(err), start, err, zap.Int("bytes", len(value)))
	return err
}

func (s *LoggingStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, key)
	s.record(ctx, "delete", key, outcome(err), start, err)
	return err
}

func (s *LoggingStore) List(ctx context.Context, prefix string) ([]Object, error) {
	start := time.Now()
	objs, err := s.inner.List(ctx, prefix)
	s.record(ctx, "list", prefix, outcome(err), start, err, zap.Int("objects", len(objs)))
	return objs, err
}

// Ping forwards to the decorated store when it is a Pinger.
func (s *LoggingStore) Ping(ctx context.Context) error {
	p, ok := s.inner.(Pinger)
	if !ok {
		return nil
	}
	start := time.Now()
	err := p.Ping(ctx)
	s.record(ctx, "ping", "", outcome(err), start, err)
	return err
}

// PurgeCorrupt forwards to the decorated store when it is a Purger.
func (s *LoggingStore) PurgeCorrupt(ctx context.Context) (int, error) {
	p, ok := s.inner.(Purger)
	if !ok {
		return 0, nil
	}
	start := time.Now()
	n, err := p.PurgeCorrupt(ctx)
	s.record(ctx, "purge", "", outcome(err), start, err, zap.Int("removed", n))
	return n, err
}

func (s *LoggingStore) record(ctx context.Context, op, key, result string, start time.Time, err error, extra ...zap.Field) {
	metrics.BlobOpsTotal.WithLabelValues(op, result).Inc()

	fields := append([]zap.Field{
		zap.String("blob_backend", s.backend),
		zap.String("key", key),
		zap.String("result", result),
		zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000.0),
	}, extra...)

	logger := s.logger(ctx)
	if err != nil && result == "error" {
		logger.Warn("blob_"+op, append(fields, zap.Error(err))...)
		return
	}
	logger.Debug("blob_"+op, fields...)
}

func (s *LoggingStore) logger(ctx context.Context) *zap.Logger {
	return logging.FromContextOr(ctx, s.base)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
