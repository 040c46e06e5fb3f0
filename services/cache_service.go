package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sharedrive/metrics"
	"sharedrive/models"

	"github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/singleflight"
)

// sharedLoadTimeout bounds a load shared by several callers. It runs detached
// from any single caller's context.
const sharedLoadTimeout = 30 * time.Second

// BadgerCache is an in-memory CacheBackend with per-entry TTLs.
type BadgerCache struct {
	db *badger.DB
}

func NewBadgerCache(logger *slog.Logger) (*BadgerCache, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(badgerLogger{logger: logger}).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

func (c *BadgerCache) Close() error {
	return c.db.Close()
}

func (c *BadgerCache) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", models.ErrCacheUnavailable, err)
	}
	return value, true, nil
}

func (c *BadgerCache) Set(key string, value []byte, ttl time.Duration) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), value).WithTTL(ttl))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *BadgerCache) Delete(keys ...string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *BadgerCache) DeletePrefix(prefix string) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = c.db.Update(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte(prefix)

			it := txn.NewIterator(opts)
			var keys [][]byte
			for it.Rewind(); it.Valid(); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			it.Close()

			for _, k := range keys {
				if err := txn.Delete(k); err != nil {
					return err
				}
			}
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrCacheUnavailable, err)
	}
	return nil
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error("badger: " + fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn("badger: " + fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info("badger: " + fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug("badger: " + fmt.Sprintf(format, args...))
}

// CacheConfig holds the lifetimes of cached entries. DownloadURLTTL must be
// shorter than the lifetime of the signed URLs it caches.
type CacheConfig struct {
	MetadataTTL    time.Duration
	GrantTTL       time.Duration
	DownloadURLTTL time.Duration
	ShareMaxTTL    time.Duration
}

// MetadataCache is a read-through side cache in front of the store. Backend
// failures never fail a request: they are logged and the loader is used.
type MetadataCache struct {
	backend CacheBackend
	cfg     CacheConfig
	group   singleflight.Group
	// epoch changes on every invalidation; loads that started before it
	// changed do not populate the cache. Populating holds inval for reading
	// and invalidating holds it for writing, so a write cannot land after a
	// delete it raced with.
	epoch   atomic.Uint64
	inval   sync.RWMutex
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewMetadataCache(backend CacheBackend, cfg CacheConfig, logger *slog.Logger, m *metrics.Metrics) *MetadataCache {
	return &MetadataCache{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

func (c *MetadataCache) Config() CacheConfig {
	if c == nil {
		return CacheConfig{}
	}
	return c.cfg
}

func FileKey(id primitive.ObjectID) string {
	return "file:" + id.Hex()
}

func FileURLKey(id primitive.ObjectID, variant string) string {
	return FileKey(id) + ":url:" + variant
}

func FolderKey(id primitive.ObjectID) string {
	return "folder:" + id.Hex()
}

func GrantKey(folderID, userID primitive.ObjectID) string {
	return "grant:" + folderID.Hex() + ":" + userID.Hex()
}

func folderGrantsPrefix(folderID primitive.ObjectID) string {
	return "grant:" + folderID.Hex() + ":"
}

func ShareKey(token string) string {
	return "share:" + token
}

type cacheEnvelope[T any] struct {
	Value T `bson:"v"`
}

// GetOrLoad returns the cached value for key or calls load and caches its
// result for ttl. Errors from load are returned and never cached.
func GetOrLoad[T any](ctx context.Context, c *MetadataCache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	return GetOrLoadWithTTL(ctx, c, key, func(ctx context.Context) (T, time.Duration, error) {
		v, err := load(ctx)
		return v, ttl, err
	})
}

// GetOrLoadWithTTL is GetOrLoad for values whose lifetime depends on the
// loaded value. A non-positive ttl skips caching.
func GetOrLoadWithTTL[T any](ctx context.Context, c *MetadataCache, key string, load func(context.Context) (T, time.Duration, error)) (T, error) {
	if c == nil || c.backend == nil {
		v, _, err := load(ctx)
		return v, err
	}

	if v, ok := cacheGet[T](c, key); ok {
		return v, nil
	}

	epoch := c.epoch.Load()
	ch := c.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()
		v, ttl, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			c.inval.RLock()
			if c.epoch.Load() == epoch {
				cacheSet(c, key, v, ttl)
			}
			c.inval.RUnlock()
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func cacheGet[T any](c *MetadataCache, key string) (T, bool) {
	var env cacheEnvelope[T]
	raw, ok, err := c.backend.Get(key)
	if err != nil {
		c.metrics.CacheResult("error")
		c.logger.Warn("cache read failed, falling back to store", "key", key, "error", err)
		return env.Value, false
	}
	if !ok {
		c.metrics.CacheResult("miss")
		return env.Value, false
	}
	if err := bson.Unmarshal(raw, &env); err != nil {
		c.metrics.CacheResult("error")
		c.logger.Warn("discarding undecodable cache entry", "key", key, "error", err)
		_ = c.backend.Delete(key)
		return env.Value, false
	}
	c.metrics.CacheResult("hit")
	return env.Value, true
}

func cacheSet[T any](c *MetadataCache, key string, v T, ttl time.Duration) {
	raw, err := bson.Marshal(cacheEnvelope[T]{Value: v})
	if err != nil {
		c.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(key, raw, ttl); err != nil {
		c.metrics.CacheResult("error")
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// Invalidate removes keys synchronously.
func (c *MetadataCache) Invalidate(keys ...string) {
	if c == nil || c.backend == nil || len(keys) == 0 {
		return
	}
	c.inval.Lock()
	defer c.inval.Unlock()
	c.epoch.Add(1)
	for _, key := range keys {
		c.group.Forget(key)
	}
	if err := c.backend.Delete(keys...); err != nil {
		c.metrics.CacheResult("error")
		c.logger.Error("cache invalidation failed", "keys", keys, "error", err)
	}
}

func (c *MetadataCache) invalidatePrefix(prefix string, known ...string) {
	if c == nil || c.backend == nil {
		return
	}
	c.inval.Lock()
	defer c.inval.Unlock()
	c.epoch.Add(1)
	for _, key := range known {
		c.group.Forget(key)
	}
	if err := c.backend.DeletePrefix(prefix); err != nil {
		c.metrics.CacheResult("error")
		c.logger.Error("cache invalidation failed", "prefix", prefix, "error", err)
	}
}

// InvalidateFileGroup drops the file record and every cached download URL
// variant of the file in one call.
func (c *MetadataCache) InvalidateFileGroup(fileID primitive.ObjectID) {
	c.invalidatePrefix(FileKey(fileID), FileKey(fileID), FileURLKey(fileID, urlVariantDownload))
}

// InvalidateFolderGrants drops every cached grant on a folder.
func (c *MetadataCache) InvalidateFolderGrants(folderID primitive.ObjectID) {
	c.invalidatePrefix(folderGrantsPrefix(folderID))
}
