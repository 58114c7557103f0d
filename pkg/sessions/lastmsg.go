package sessions

import "sync"

// LastMessageCache remembers the most recent accepted user text per
// conversation, backing the explicit retry command. Entries are cleared
// through the store's on-delete hook when a session goes away.
type LastMessageCache struct {
	mu      sync.Mutex
	entries map[Key]string
}

// NewLastMessageCache creates an empty cache.
func NewLastMessageCache() *LastMessageCache {
	return &LastMessageCache{entries: make(map[Key]string)}
}

// Put records the last accepted text for key.
func (c *LastMessageCache) Put(key Key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = text
}

// Get returns the last accepted text for key.
func (c *LastMessageCache) Get(key Key) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, ok := c.entries[key]
	return text, ok
}

// Delete forgets the entry for key.
func (c *LastMessageCache) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
