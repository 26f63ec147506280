package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc производит значение для ключа при промахе кэша.
type ComputeFunc func(ctx context.Context) (any, error)

// entry хранит значение и срок его жизни. Нулевой expiresAt означает
// бессрочную запись (вытесняется только по переполнению LRU).
type entry struct {
	key       string
	value     any
	expiresAt time.Time
	elem      *list.Element
}

// ContentCache is a process-local read-through cache for generated content
// and character profile lookups. It is never the source of truth for
// committed records: a cold cache only costs latency, never correctness.
//
// Concurrent GetOrCompute calls for the same key collapse into a single
// computation; the other callers share the in-flight result.
type ContentCache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      *list.List // front = most recently used
	maxEntries int
	flight     singleflight.Group
	logger     *zap.Logger

	// now подменяется в тестах
	now func() time.Time
}

// New создает кэш с ограничением на количество записей.
// maxEntries <= 0 отключает ограничение.
func New(maxEntries int, logger *zap.Logger) *ContentCache {
	return &ContentCache{
		entries:    make(map[string]*entry),
		order:      list.New(),
		maxEntries: maxEntries,
		logger:     logger.Named("ContentCache"),
		now:        time.Now,
	}
}

// GetOrCompute returns the cached value for key, or runs compute exactly once
// across all concurrent callers and caches the result for ttl.
// A compute error is returned to every waiting caller and nothing is cached.
func (c *ContentCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (any, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	value, err, _ := c.flight.Do(key, func() (any, error) {
		// Повторная проверка: пока мы ждали слот, значение могло появиться.
		if value, ok := c.Get(key); ok {
			return value, nil
		}
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Get returns the cached value if present and not expired.
func (c *ContentCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		c.removeLocked(e)
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e.value, true
}

// Put stores a value. ttl <= 0 keeps the entry until LRU eviction.
func (c *ContentCache) Put(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = expiry(c.now(), ttl)
		c.order.MoveToFront(e.elem)
		return
	}

	e := &entry{key: key, value: value, expiresAt: expiry(c.now(), ttl)}
	e.elem = c.order.PushFront(e)
	c.entries[key] = e

	if c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		if oldest != nil {
			evicted := oldest.Value.(*entry)
			c.removeLocked(evicted)
			c.logger.Debug("Evicted cache entry", zap.String("key", evicted.key))
		}
	}
}

// Invalidate removes a key.
func (c *ContentCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Len returns the number of live entries.
func (c *ContentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *ContentCache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
