package mailbox

import (
	"sort"
	"sync"
	"time"
)

// SeenKey identifies an email for deduplication: sent-at (Unix seconds) and normalized sender.
type SeenKey struct {
	Unix   int64
	Sender string
}

// Record is what the poller keeps about each accepted email.
type Record struct {
	TraceID string
	Subject string
	From    string
	To      string
	Date    string
	Body    string
	Key     SeenKey
	SeenAt  time.Time
}

// Cache remembers accepted emails. Remember is an atomic check-then-insert.
type Cache struct {
	mu      sync.Mutex
	entries map[SeenKey]Record
}

func NewCache() *Cache {
	return &Cache{entries: make(map[SeenKey]Record)}
}

// Remember stores rec under key and reports true, or reports false if key was already present.
func (c *Cache) Remember(key SeenKey, rec Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return false
	}
	rec.Key = key
	c.entries[key] = rec
	return true
}

// Forget removes key. Used when the broadcast of a freshly remembered email fails.
func (c *Cache) Forget(key SeenKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache) Contains(key SeenKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Records returns a copy of every record, oldest first.
func (c *Cache) Records() []Record {
	c.mu.Lock()
	out := make([]Record, 0, len(c.entries))
	for _, r := range c.entries {
		out = append(out, r)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SeenAt.Equal(out[j].SeenAt) {
			return out[i].Key.Unix < out[j].Key.Unix
		}
		return out[i].SeenAt.Before(out[j].SeenAt)
	})
	return out
}

// Prune drops records first seen before cutoff and returns how many were removed.
func (c *Cache) Prune(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, r := range c.entries {
		if r.SeenAt.Before(cutoff) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}
