package bot

import (
	"sync"
	"time"
)

// CooldownStore - явное хранилище debounce: ключ → время последней эмиссии.
// Отделяет механику "можно ли эмитить сейчас" от бизнес-логики,
// решающей "надо ли эмитить вообще".
type CooldownStore struct {
	window time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewCooldownStore создаёт хранилище с окном window
func NewCooldownStore(window time.Duration) *CooldownStore {
	return &CooldownStore{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Allow возвращает true и фиксирует эмиссию, если по ключу не было
// эмиссии в пределах окна. Состояние независимо по каждому ключу.
func (c *CooldownStore) Allow(key string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.last[key]; ok && now.Sub(last) < c.window {
		return false
	}
	c.last[key] = now
	return true
}

// Remove сбрасывает cooldown по ключу
func (c *CooldownStore) Remove(key string) {
	c.mu.Lock()
	delete(c.last, key)
	c.mu.Unlock()
}

// Reset очищает всё состояние
func (c *CooldownStore) Reset() {
	c.mu.Lock()
	c.last = make(map[string]time.Time)
	c.mu.Unlock()
}

// Len возвращает число ключей с зафиксированной эмиссией
func (c *CooldownStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}

// DedupSet - короткоживущее множество дедупликации с TTL по записи.
// Один и тот же триггер, пришедший по стриму и по поллингу, должен
// обработаться ровно один раз.
type DedupSet struct {
	window time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewDedupSet создаёт множество с окном дедупликации window
func NewDedupSet(window time.Duration) *DedupSet {
	return &DedupSet{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Seen возвращает true, если ключ уже встречался в пределах окна;
// иначе фиксирует ключ и возвращает false. Попутно выметает
// истёкшие записи, чтобы множество не росло бесконечно.
func (d *DedupSet) Seen(key string) bool {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}

	if at, ok := d.seen[key]; ok && now.Sub(at) < d.window {
		return true
	}
	d.seen[key] = now
	return false
}

// Clear очищает множество. Вызывается при останове монитора.
func (d *DedupSet) Clear() {
	d.mu.Lock()
	d.seen = make(map[string]time.Time)
	d.mu.Unlock()
}

// Len возвращает число записей
func (d *DedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
