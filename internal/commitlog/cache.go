package commitlog

import (
	"container/list"
	"sync"
)

// DefaultCacheSize bounds how many configurations keep their committed
// history resident at once.
const DefaultCacheSize = 16

// Cache holds sealed CommitLogs keyed by configuration hash. A lookup
// hit lets a new consumer attach to an identical configuration's
// committed history instead of recomputing it. Configuration identity
// is enforced structurally: the hash is the only key, so attaching to
// a mismatched configuration is impossible by construction.
type Cache struct {
	mu      sync.Mutex
	max     int
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type cacheEntry struct {
	key string
	log *CommitLog
}

// NewCache creates a cache bounded to max entries (least recently used
// evicted first). Non-positive max falls back to DefaultCacheSize.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Cache{
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Lookup returns the sealed log for key, if cached.
func (c *Cache) Lookup(key string) (*CommitLog, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).log, true
}

// Store seals and caches a completed run's log under key, evicting the
// least recently used entry beyond the bound. Other keys' cached logs
// survive independently.
func (c *Cache) Store(key string, log *CommitLog) {
	log.Seal()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).log = log
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{key: key, log: log})
	c.entries[key] = el

	for c.order.Len() > c.max {
		back := c.order.Back()
		c.order.Remove(back)
		delete(c.entries, back.Value.(*cacheEntry).key)
	}
}

// Invalidate discards the cached log for key. Attached readers keep
// their reference; the entry is simply no longer handed out
// (copy-on-invalidate, no fine-grained locking of the log itself).
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Len returns the number of cached configurations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
