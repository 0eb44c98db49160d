// ABOUTME: Time-windowed seen-set for suppressing duplicate peer replies.
// ABOUTME: Size-bounded, clock-injectable, and swept lazily on write.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	key       string
	timestamp time.Time
}

// Cache remembers keys for a fixed window. Insertion order is kept in a list so
// both expiry and capacity eviction pop from the front.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // oldest at front
	window  time.Duration
	maxSize int
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache that forgets keys after window and holds at most maxSize.
func New(window time.Duration, maxSize int, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		window:  window,
		maxSize: maxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check reports whether key was marked within the window.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key, c.now())
}

// CheckAndMark atomically checks and marks key. It returns true when key was
// already seen (a duplicate) and false when it is new and now marked.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.liveLocked(key, now) {
		return true
	}
	c.markLocked(key, now)
	return false
}

// Mark records key as seen now.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, c.now())
}

// Len returns the number of remembered keys, expired ones included until the next sweep.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) liveLocked(key string, now time.Time) bool {
	elem, ok := c.seen[key]
	if !ok {
		return false
	}
	return now.Sub(elem.Value.(*cacheEntry).timestamp) < c.window
}

func (c *Cache) markLocked(key string, now time.Time) {
	c.sweepLocked(now)

	if elem, ok := c.seen[key]; ok {
		elem.Value.(*cacheEntry).timestamp = now
		c.order.MoveToBack(elem)
		return
	}

	for len(c.seen) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.seen[key] = c.order.PushBack(&cacheEntry{key: key, timestamp: now})
}

// sweepLocked drops expired entries from the front of the list.
func (c *Cache) sweepLocked(now time.Time) {
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if now.Sub(front.Value.(*cacheEntry).timestamp) < c.window {
			return
		}
		c.removeLocked(front)
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.seen, elem.Value.(*cacheEntry).key)
}
