package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// RetryScheduler queues a later eviction for a store whose caches could not
// be cleared synchronously.
type RetryScheduler interface {
	ScheduleStoreInvalidation(ctx context.Context, storeID string) error
}

// Cache is the read-model cache used by the service. Backend failures never
// reach callers: reads become misses and writes are dropped.
type Cache struct {
	backend Backend
	logger  *slog.Logger
	retry   RetryScheduler
}

func New(backend Backend, logger *slog.Logger) *Cache {
	if backend == nil {
		backend = NoopBackend{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{backend: backend, logger: logger}
}

func (c *Cache) SetRetryScheduler(retry RetryScheduler) {
	c.retry = retry
}

func StoreTag(storeID string) string {
	return "store:" + storeID
}

func SalesListKey(storeID, memberID string, page, limit int) string {
	if memberID == "" {
		memberID = "all"
	}
	return strings.Join([]string{"sales", "list", storeID, memberID, strconv.Itoa(page), strconv.Itoa(limit)}, ":")
}

func ProductListKey(storeID string) string {
	return "products:list:" + storeID
}

func DashboardKey(storeID string) string {
	return "dashboard:summary:" + storeID
}

// GetJSON decodes the cached value into dest and reports whether it was found.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) bool {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "cache read failed", slog.String("key", key), slog.Any("error", err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.WarnContext(ctx, "cache entry undecodable", slog.String("key", key), slog.Any("error", err))
		return false
	}
	return true
}

// Fence records the store's cache generation. Take it before loading a read
// model from storage and hand it to SetJSON.
type Fence struct {
	storeID string
	gen     int64
	ok      bool
}

func (c *Cache) Fence(ctx context.Context, storeID string) Fence {
	gen, err := c.backend.Generation(ctx, StoreTag(storeID))
	if err != nil {
		c.logger.WarnContext(ctx, "cache generation read failed", slog.String("store_id", storeID), slog.Any("error", err))
		return Fence{storeID: storeID}
	}
	return Fence{storeID: storeID, gen: gen, ok: true}
}

// SetJSON stores value under key and indexes it under the fenced store's tag.
// The write is dropped when the store was evicted after the fence was taken.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration, fence Fence) {
	if !fence.ok {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.WarnContext(ctx, "cache encode failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	stored, err := c.backend.SetTagged(ctx, key, raw, ttl, StoreTag(fence.storeID), fence.gen)
	if err != nil {
		c.logger.WarnContext(ctx, "cache write failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	if !stored {
		c.logger.DebugContext(ctx, "cache write skipped", slog.String("key", key))
	}
}

// Evict removes every cached read model of the store and returns the first
// backend failure.
func (c *Cache) Evict(ctx context.Context, storeID string) error {
	var errs []error
	if err := c.backend.Delete(ctx, ProductListKey(storeID), DashboardKey(storeID)); err != nil {
		errs = append(errs, err)
	}
	if err := c.backend.DeleteTagged(ctx, StoreTag(storeID)); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("cache: evict store %s: %w", storeID, errors.Join(errs...))
	}
	return nil
}

// InvalidateStore evicts the store's read models. Failures are logged and,
// when a scheduler is configured, retried in the background.
func (c *Cache) InvalidateStore(ctx context.Context, storeID string) {
	err := c.Evict(ctx, storeID)
	if err == nil {
		return
	}
	c.logger.WarnContext(ctx, "cache invalidation failed", slog.String("store_id", storeID), slog.Any("error", err))
	if c.retry == nil {
		return
	}
	if err := c.retry.ScheduleStoreInvalidation(ctx, storeID); err != nil {
		c.logger.ErrorContext(ctx, "cache invalidation retry not scheduled", slog.String("store_id", storeID), slog.Any("error", err))
	}
}
