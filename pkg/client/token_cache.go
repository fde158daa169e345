package client

import "sync"

// TokenCache remembers the mentor token issued for each room so a mentor
// who leaves and comes back can reclaim the seat. Entries live for the
// life of the process; leaving a room does not clear them.
type TokenCache struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewTokenCache() *TokenCache {
	return &TokenCache{tokens: make(map[string]string)}
}

// Get returns the token cached for roomID, or "".
func (c *TokenCache) Get(roomID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens[roomID]
}

// Put caches token for roomID. Empty tokens are ignored.
func (c *TokenCache) Put(roomID, token string) {
	if roomID == "" || token == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[roomID] = token
}
