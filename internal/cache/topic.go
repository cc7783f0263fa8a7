// Package cache implements the topic-keyed generation cache: payloads are
// stored per (content type, normalized topic) with a fixed max age.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"lessongate/internal/blob"
	"lessongate/internal/metrics"
	"lessongate/pkg/logging/logging"
)

// DefaultMaxAge is how long a generated payload stays valid.
const DefaultMaxAge = 24 * time.Hour

// Entry is the stored envelope around a payload.
type Entry struct {
	Topic     string          `json:"topic"`
	Type      ContentType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type Config struct {
	MaxAge   time.Duration
	KeySpace string // blob key prefix, default "topics/"
}

// TopicCache never fails its callers: read problems are misses and write
// problems are logged.
type TopicCache struct {
	store  blob.Store
	maxAge time.Duration
	space  string
	now    func() time.Time
	logger *zap.Logger
}

func New(store blob.Store, cfg Config, logger *zap.Logger) *TopicCache {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.KeySpace == "" {
		cfg.KeySpace = defaultKeySpace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TopicCache{
		store:  store,
		maxAge: cfg.MaxAge,
		space:  cfg.KeySpace,
		now:    time.Now,
		logger: logger.Named("topiccache"),
	}
}

// SetClock replaces the time source. Tests only.
func (c *TopicCache) SetClock(now func() time.Time) {
	c.now = now
}

// MaxAge returns the configured entry lifetime.
func (c *TopicCache) MaxAge() time.Duration { return c.maxAge }

func (c *TopicCache) fresh(e *Entry) bool {
	return c.now().Sub(e.Timestamp) < c.maxAge
}

// Get decodes the cached payload for (t, topic) into out and reports a hit.
// Expired or unreadable entries are deleted and reported as a miss.
func (c *TopicCache) Get(ctx context.Context, t ContentType, topic string, out any) bool {
	key := NewTopicKey(t, topic)
	bkey := key.blobKey(c.space)
	logger := logging.FromContextOr(ctx, c.logger)

	raw, err := c.store.Get(ctx, bkey)
	if errors.Is(err, blob.ErrNotFound) {
		c.count(t, "miss")
		return false
	}
	if err != nil {
		c.count(t, "error")
		logger.Warn("topic cache read failed, treating as miss",
			zap.String("cache_key", key.String()), zap.Error(err))
		c.remove(ctx, bkey)
		return false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil || len(entry.Payload) == 0 {
		c.count(t, "corrupt")
		logger.Warn("corrupt topic cache entry removed",
			zap.String("cache_key", key.String()), zap.Error(err))
		c.remove(ctx, bkey)
		return false
	}

	if !c.fresh(&entry) {
		c.count(t, "expired")
		logger.Info("expired topic cache entry removed",
			zap.String("cache_key", key.String()),
			zap.Time("stored_at", entry.Timestamp))
		c.remove(ctx, bkey)
		return false
	}

	if err := json.Unmarshal(entry.Payload, out); err != nil {
		c.count(t, "corrupt")
		logger.Warn("topic cache payload does not decode, removed",
			zap.String("cache_key", key.String()), zap.Error(err))
		c.remove(ctx, bkey)
		return false
	}

	c.count(t, "hit")
	logger.Debug("topic cache hit", zap.String("cache_key", key.String()))
	return true
}

// Set stores payload under (t, topic) with a fresh timestamp.
func (c *TopicCache) Set(ctx context.Context, t ContentType, topic string, payload any) {
	key := NewTopicKey(t, topic)
	logger := logging.FromContextOr(ctx, c.logger)

	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("topic cache payload marshal failed",
			zap.String("cache_key", key.String()), zap.Error(err))
		return
	}

	raw, err := json.Marshal(Entry{
		Topic:     topic,
		Type:      t,
		Timestamp: c.now().UTC(),
		Payload:   body,
	})
	if err != nil {
		logger.Error("topic cache entry marshal failed",
			zap.String("cache_key", key.String()), zap.Error(err))
		return
	}

	if err := c.store.Put(ctx, key.blobKey(c.space), raw); err != nil {
		logger.Warn("topic cache write failed",
			zap.String("cache_key", key.String()), zap.Error(err))
		return
	}
	logger.Debug("topic cache write", zap.String("cache_key", key.String()), zap.Int("bytes", len(raw)))
}

// ClearExpired removes expired and unreadable entries and returns how many
// were removed.
func (c *TopicCache) ClearExpired(ctx context.Context) int {
	objs, err := c.store.List(ctx, c.space)
	if err != nil {
		c.logger.Warn("topic cache list failed", zap.Error(err))
		return 0
	}

	removed := 0
	for _, obj := range objs {
		if ctx.Err() != nil {
			break
		}

		raw, err := c.store.Get(ctx, obj.Key)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}

		var entry Entry
		if err == nil {
			err = json.Unmarshal(raw, &entry)
		}
		if err == nil && c.fresh(&entry) {
			continue
		}

		if c.remove(ctx, obj.Key) {
			removed++
		}
	}

	removed += c.purge(ctx)

	c.logger.Info("topic cache sweep finished",
		zap.Int("scanned", len(objs)), zap.Int("removed", removed))
	return removed
}

// ClearAll removes every entry and returns how many were removed.
func (c *TopicCache) ClearAll(ctx context.Context) int {
	objs, err := c.store.List(ctx, c.space)
	if err != nil {
		c.logger.Warn("topic cache list failed", zap.Error(err))
		return 0
	}

	removed := 0
	for _, obj := range objs {
		if c.remove(ctx, obj.Key) {
			removed++
		}
	}
	removed += c.purge(ctx)
	c.logger.Info("topic cache cleared", zap.Int("removed", removed))
	return removed
}

// Stats summarizes stored entries.
type Stats struct {
	Counts         map[ContentType]int `json:"counts"`
	Entries        int                 `json:"entries"`
	TotalSize      int64               `json:"totalSize"`
	TotalSizeHuman string              `json:"totalSizeHuman"`
	MaxAge         string              `json:"maxAge"`
}

// Stats is read-only; it does not evict.
func (c *TopicCache) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Counts: make(map[ContentType]int, len(ContentTypes)), MaxAge: c.maxAge.String()}
	for _, t := range ContentTypes {
		st.Counts[t] = 0
	}

	objs, err := c.store.List(ctx, c.space)
	if err != nil {
		return st, err
	}
	for _, obj := range objs {
		key, ok := parseBlobKey(c.space, obj.Key)
		if !ok {
			continue
		}
		st.Counts[key.Type]++
		st.Entries++
		st.TotalSize += obj.Size
	}
	st.TotalSizeHuman = humanize.Bytes(uint64(st.TotalSize))
	return st, nil
}

// StartSweeper runs ClearExpired every interval until ctx is done.
func (c *TopicCache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.ClearExpired(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// purge drops objects the store holds but cannot list, if it has any.
func (c *TopicCache) purge(ctx context.Context) int {
	p, ok := c.store.(blob.Purger)
	if !ok {
		return 0
	}
	n, err := p.PurgeCorrupt(ctx)
	if err != nil {
		c.logger.Warn("topic cache purge failed", zap.Error(err))
	}
	return n
}

func (c *TopicCache) remove(ctx context.Context, bkey string) bool {
	if err := c.store.Delete(ctx, bkey); err != nil {
		c.logger.Warn("topic cache delete failed", zap.String("key", bkey), zap.Error(err))
		return false
	}
	return true
}

func (c *TopicCache) count(t ContentType, result string) {
	metrics.CacheRequestsTotal.WithLabelValues(string(t), result).Inc()
}
