// Package blob provides the durable key-value storage used for cached
// generations and rendered media. Backends are interchangeable behind Store.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("blob: not found")

	// ErrCorrupt is returned when stored bytes can't be decoded.
	ErrCorrupt = errors.New("blob: corrupt object")
)

// Object describes a stored value without its contents.
type Object struct {
	Key     string
	Size    int64
	ModTime time.Time // zero when the backend does not track it
}

// Store is the interface used by the topic cache and the media pipeline.
// Implemented by MemoryStore (dev/tests), FileStore, RedisStore and BadgerStore.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Object, error)
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Purger is implemented by stores that can hold objects whose key can no
// longer be read, such as torn files. List never returns those, so sweeps
// remove them through PurgeCorrupt.
type Purger interface {
	PurgeCorrupt(ctx context.Context) (int, error)
}

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

type Config struct {
	Backend          string
	Prefix           string // key namespace for shared backends (redis)
	Dir              string // file backend directory
	CompressionLevel int    // file backend zstd level, 0 disables
}

// Deps carries already-opened clients for the networked/embedded backends.
type Deps struct {
	Redis  *redis.Client
	Badger *badger.DB
	Logger *zap.Logger
}

// New builds the configured Store and wraps it with logging + metrics.
func New(cfg Config, deps Deps) (Store, error) {
	var (
		store Store
		err   error
	)

	switch strings.ToLower(cfg.Backend) {
	case BackendRedis:
		if deps.Redis == nil {
			return nil, errors.New("blob: redis backend requires a redis client")
		}
		store = NewRedisStore(deps.Redis, RedisConfig{Prefix: cfg.Prefix})
	case BackendBadger:
		if deps.Badger == nil {
			return nil, errors.New("blob: badger backend requires an open badger db")
		}
		store = NewBadgerStore(deps.Badger)
	case BackendFile:
		store, err = NewFileStore(cfg.Dir, cfg.CompressionLevel)
		if err != nil {
			return nil, err
		}
	case BackendMemory, "":
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("blob: unknown backend %q", cfg.Backend)
	}

	return NewLoggingStore(store, cfg.Backend, deps.Logger), nil
}
