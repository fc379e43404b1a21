// Package session tracks the pending meter number of each USSD dialog.
package session

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Default bounds for a Cache.
const (
	DefaultCapacity = 100
	DefaultTTL      = 600 * time.Second
)

// Session is a resident cache entry.
type Session struct {
	ID          string
	MeterNumber string
	CreatedAt   time.Time

	touchedAt time.Time
}

// Cache is a bounded, time-expiring map from session ID to meter number.
// Entries untouched for longer than the TTL read as absent; when full, the
// least recently used entry is evicted to make room.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List // front is most recently used
	items    map[string]*list.Element

	now func() time.Time
}

// New creates a Cache. Non-positive arguments fall back to the defaults.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Put stores meterNumber for id, replacing any earlier entry.
func (c *Cache) Put(id, meterNumber string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.items[id]; ok {
		s := el.Value.(*Session)
		s.MeterNumber = meterNumber
		s.CreatedAt = now
		s.touchedAt = now
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.capacity {
		c.removeElement(c.order.Back())
	}

	s := &Session{ID: id, MeterNumber: meterNumber, CreatedAt: now, touchedAt: now}
	c.items[id] = c.order.PushFront(s)
}

// Get returns the meter number stored for id. Reading an entry refreshes
// both its expiry window and its LRU position.
func (c *Cache) Get(id string) (string, bool) {
	s, ok := c.Lookup(id)
	if !ok {
		return "", false
	}
	return s.MeterNumber, true
}

// Lookup is Get returning a copy of the whole entry.
func (c *Cache) Lookup(id string) (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[id]
	if !ok {
		return Session{}, false
	}
	s := el.Value.(*Session)
	now := c.now()
	if c.expired(s, now) {
		c.removeElement(el)
		return Session{}, false
	}
	s.touchedAt = now
	c.order.MoveToFront(el)
	return *s, true
}

// Remove deletes the entry for id if present.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[id]; ok {
		c.removeElement(el)
	}
}

// Len reports the number of resident entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Sweep evicts every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	evicted := 0
	// Expired entries collect at the back.
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if !c.expired(el.Value.(*Session), now) {
			break
		}
		c.removeElement(el)
		evicted++
		el = prev
	}
	return evicted
}

// StartSweeper runs Sweep every interval until ctx is done. onSweep, if not
// nil, is called with the count of each sweep that evicted something.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration, onSweep func(evicted int)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 && onSweep != nil {
					onSweep(n)
				}
			}
		}
	}()
}

// TTL returns the configured expiry window.
func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) expired(s *Session, now time.Time) bool {
	return now.Sub(s.touchedAt) > c.ttl
}

func (c *Cache) removeElement(el *list.Element) {
	s := c.order.Remove(el).(*Session)
	delete(c.items, s.ID)
}
