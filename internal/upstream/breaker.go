package upstream

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when a collaborator is short-circuited.
var ErrCircuitOpen = errors.New("upstream: circuit open")

type BreakerConfig struct {
	Name             string
	FailureThreshold uint32        // consecutive failures before opening (default: 5)
	OpenTimeout      time.Duration // time spent open before half-open (default: 30s)
	Interval         time.Duration // closed-state counter reset period (default: 60s)
	MaxRequests      uint32        // requests allowed while half-open (default: 1)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	return c
}

// Breaker fails fast once a collaborator keeps failing, so callers drop
// straight into their fallback path instead of waiting on timeouts.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

func NewBreaker(cfg BreakerConfig, logger *zap.Logger) *Breaker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("breaker")

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// caller cancellation and rejected input say nothing about the
		// collaborator's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || IsClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State reports the breaker state, e.g. "closed" or "open".
func (b *Breaker) State() string {
	if b == nil {
		return gobreaker.StateClosed.String()
	}
	return b.cb.State().String()
}

// Call runs fn through b. A nil Breaker calls fn directly.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	if b == nil {
		return fn()
	}
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, ErrCircuitOpen
	}
	if res == nil {
		var zero T
		return zero, err
	}
	return res.(T), err
}
