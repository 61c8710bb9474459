package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Cache is a bounded in-memory response cache keyed by a fingerprint of the
// generation inputs. Entries are evicted by LRU when the cache is full, and
// independently expire a fixed time after write and a fixed time after last
// access, whichever fires first.
//
// The cache does not de-duplicate concurrent identical requests: two callers
// that miss at the same time will both reach the provider. It only prevents
// repeated identical calls once an entry exists.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	maxEntries int
	writeTTL   time.Duration
	accessTTL  time.Duration
	now        func() time.Time
}

type entry struct {
	key        string
	content    string
	writtenAt  time.Time
	accessedAt time.Time
}

// New creates a cache holding at most maxEntries entries
func New(maxEntries int, writeTTL, accessTTL time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		writeTTL:   writeTTL,
		accessTTL:  accessTTL,
		now:        time.Now,
	}
}

// Key computes the cache fingerprint for a generation request. Inputs are
// trimmed and lower-cased so trivially different spellings of the same
// request share an entry. The full digest is kept; this is a cost-avoidance
// cache, not a security boundary, but truncation buys nothing here.
func Key(prompt, format, context string) string {
	normalized := strings.ToLower(strings.TrimSpace(prompt)) + "|" +
		strings.ToLower(strings.TrimSpace(format)) + "|" +
		strings.ToLower(strings.TrimSpace(context))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:])
}

// Lookup returns the cached content for the given inputs, if present and
// not expired
func (c *Cache) Lookup(prompt, format, context string) (string, bool) {
	key := Key(prompt, format, context)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return "", false
	}

	e := elem.Value.(*entry)
	now := c.now()
	if c.expired(e, now) {
		c.remove(elem)
		return "", false
	}

	e.accessedAt = now
	c.order.MoveToFront(elem)
	return e.content, true
}

// Store writes content under the fingerprint of the given inputs, evicting
// the least recently used entry if the cache is full
func (c *Cache) Store(prompt, format, context, content string) {
	key := Key(prompt, format, context)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		e := elem.Value.(*entry)
		e.content = content
		e.writtenAt = now
		e.accessedAt = now
		c.order.MoveToFront(elem)
		return
	}

	if c.order.Len() >= c.maxEntries {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest)
		}
	}

	elem := c.order.PushFront(&entry{
		key:        key,
		content:    content,
		writtenAt:  now,
		accessedAt: now,
	})
	c.entries[key] = elem
}

// Len returns the current number of live entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge removes all entries
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	return now.Sub(e.writtenAt) >= c.writeTTL || now.Sub(e.accessedAt) >= c.accessTTL
}

func (c *Cache) remove(elem *list.Element) {
	e := elem.Value.(*entry)
	delete(c.entries, e.key)
	c.order.Remove(elem)
}
