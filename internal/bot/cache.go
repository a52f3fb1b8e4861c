package bot

import (
	"sync"
	"time"
)

// CachedEntry - запись кэша с логическим TTL
type CachedEntry[T any] struct {
	Value    T
	StoredAt time.Time
	TTL      time.Duration
}

// Expired проверяет, истёк ли TTL записи на момент now
func (e CachedEntry[T]) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

// CacheStats - счётчики эффективности кэша
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	Sets    uint64  `json:"sets"`
	HitRate float64 `json:"hit_rate"`
	Size    int     `json:"size"`
}

// Cache - потокобезопасный TTL кэш, ключ (exchange, symbol).
//
// Истечение логическое: Get возвращает промах после истечения TTL,
// даже если запись физически ещё лежит в map. Физическая чистка
// выполняется отдельной периодической ClearExpired.
//
// Счётчики hits/misses/sets процесс-локальные, сбрасываются только
// Clear(); используются для наблюдения за эффективностью, не для
// корректности.
type Cache[T any] struct {
	name       string
	defaultTTL time.Duration

	mu      sync.RWMutex
	entries map[string]CachedEntry[T]

	hits   uint64
	misses uint64
	sets   uint64
}

// NewCache создаёт кэш с TTL по умолчанию.
// name используется в метриках и статистике.
func NewCache[T any](name string, defaultTTL time.Duration) *Cache[T] {
	return &Cache[T]{
		name:       name,
		defaultTTL: defaultTTL,
		entries:    make(map[string]CachedEntry[T]),
	}
}

// CacheKey строит ключ кэша из биржи и символа
func CacheKey(exchange, symbol string) string {
	return exchange + ":" + symbol
}

// Set записывает значение безусловно (last-write-wins).
// ttl <= 0 означает TTL по умолчанию.
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	c.entries[key] = CachedEntry[T]{
		Value:    value,
		StoredAt: time.Now(),
		TTL:      ttl,
	}
	c.sets++
	c.mu.Unlock()

	cacheSets.WithLabelValues(c.name).Inc()
}

// Get возвращает значение или промах, если TTL истёк
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || entry.Expired(time.Now()) {
		c.misses++
		cacheMisses.WithLabelValues(c.name).Inc()
		var zero T
		return zero, false
	}

	c.hits++
	cacheHits.WithLabelValues(c.name).Inc()
	return entry.Value, true
}

// GetWithMetadata возвращает запись целиком с флагом истечения.
// Используется диагностикой: протухшая запись видна, но помечена.
func (c *Cache[T]) GetWithMetadata(key string) (entry CachedEntry[T], found, expired bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, found = c.entries[key]
	if !found {
		return entry, false, false
	}
	return entry, true, entry.Expired(time.Now())
}

// Keys возвращает ключи всех физически хранимых записей
func (c *Cache[T]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// ClearExpired физически удаляет истёкшие записи, возвращает число удалённых
func (c *Cache[T]) ClearExpired() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if e.Expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Clear сбрасывает все записи и счётчики
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]CachedEntry[T])
	c.hits, c.misses, c.sets = 0, 0, 0
	c.mu.Unlock()
}

// Len возвращает число физически хранимых записей (включая истёкшие)
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats возвращает снапшот счётчиков
func (c *Cache[T]) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}

	return CacheStats{
		Hits:    c.hits,
		Misses:  c.misses,
		Sets:    c.sets,
		HitRate: rate,
		Size:    len(c.entries),
	}
}
