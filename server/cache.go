package server

import (
	"container/list"
	"sync"
)

// routeCache is a bounded least-recently-used cache over hostname to endpoint
// resolution. It is a pure latency optimization: the registry stays
// authoritative and mutations purge the cache wholesale, so a cached answer
// can never diverge from an uncached one.
type routeCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front is most recently used
}

type routeCacheEntry struct {
	hostname string
	endpoint *Endpoint
}

func newRouteCache(capacity int) *routeCache {
	return &routeCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *routeCache) Get(hostname string) (*Endpoint, bool) {
	if c.capacity <= 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.entries[hostname]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(element)
	return element.Value.(*routeCacheEntry).endpoint, true
}

func (c *routeCache) Put(hostname string, endpoint *Endpoint) {
	if c.capacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.entries[hostname]; ok {
		element.Value.(*routeCacheEntry).endpoint = endpoint
		c.order.MoveToFront(element)
		return
	}

	c.entries[hostname] = c.order.PushFront(&routeCacheEntry{hostname: hostname, endpoint: endpoint})

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*routeCacheEntry).hostname)
	}
}

func (c *routeCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

func (c *routeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.order.Len()
}
