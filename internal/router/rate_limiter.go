package router

import (
	"sync"
	"time"
)

// RateLimiter implements per-sender rate limiting over fixed one-minute
// windows.
type RateLimiter struct {
	mu        sync.Mutex
	perMinute int
	clients   map[string]*ClientLimit
	now       func() time.Time
}

// ClientLimit tracks the current window for a single sender.
type ClientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter allows perMinute messages per sender per window. A
// non-positive limit disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		clients:   make(map[string]*ClientLimit),
		now:       time.Now,
	}
}

// Allow records one message from senderID and reports whether it fits.
func (rl *RateLimiter) Allow(senderID string) bool {
	if rl.perMinute <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[senderID]
	if !exists {
		rl.clients[senderID] = &ClientLimit{
			messageCount: 1,
			windowStart:  now,
		}
		return true
	}

	if now.Sub(limit.windowStart) >= time.Minute {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= rl.perMinute {
		return false
	}

	limit.messageCount++
	return true
}

// Forget drops the state kept for senderID.
func (rl *RateLimiter) Forget(senderID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, senderID)
}

// Cleanup removes senders idle for more than five windows.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for senderID, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*time.Minute {
			delete(rl.clients, senderID)
		}
	}
}

// Tracked returns the number of senders with live state.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
