package version

import (
	"container/list"
	"sync"

	"github.com/flowcoreio/enginecore/internal/event/store"
)

type cacheKey struct {
	eventID       string
	targetVersion int
}

// resultCache is a small LRU memoizing migration results, grounded in
// the engine's bounded-history style (a size-capped doubly linked list
// plus a lookup map) rather than pulling in a dedicated LRU library.
type resultCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[cacheKey]*list.Element
}

type cacheEntry struct {
	key   cacheKey
	value *store.Envelope
}

func newResultCache(capacity int) *resultCache {
	return &resultCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[cacheKey]*list.Element),
	}
}

func (c *resultCache) get(eventID string, targetVersion int) (*store.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{eventID: eventID, targetVersion: targetVersion}
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).value, true
}

func (c *resultCache) put(eventID string, targetVersion int, env *store.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey{eventID: eventID, targetVersion: targetVersion}
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).value = env
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{key: key, value: env})
	c.entries[key] = el

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}
