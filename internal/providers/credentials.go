package providers

import "sync"

// Credentials holds the detector API key shared by every page of a session.
// Once a key is rejected it stays invalid until Set is called with a new one.
type Credentials struct {
	mu      sync.RWMutex
	key     string
	invalid bool
}

// NewCredentials creates a store holding key.
func NewCredentials(key string) *Credentials {
	return &Credentials{key: key}
}

// Get returns the key and whether it may be used.
func (c *Credentials) Get() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key, c.key != "" && !c.invalid
}

// Set stores a fresh key.
func (c *Credentials) Set(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
	c.invalid = false
}

// Invalidate marks key as rejected. A key that was replaced in the meantime
// is left alone.
func (c *Credentials) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == key {
		c.invalid = true
	}
}

// Valid reports whether a usable key is stored.
func (c *Credentials) Valid() bool {
	_, ok := c.Get()
	return ok
}
