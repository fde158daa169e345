package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"mentorsync/internal/websocket"
	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

// pendingChange is the newest change a throttled sender has published.
type pendingChange struct {
	roomID string
	source interfaces.Connection
	code   string
}

// Relay fans document changes from a room's mentor out to the rest of the
// room. Delivery is best effort: a recipient whose queue is full misses the
// update.
type Relay struct {
	registry    *websocket.Registry
	rateLimiter *RateLimiter

	// every change carries the whole document, so only the newest throttled
	// change per sender is kept
	mu      sync.Mutex
	pending map[string]*pendingChange

	published atomic.Uint64
	dropped   atomic.Uint64
	deferred  atomic.Uint64
	missed    atomic.Uint64
}

// NewRelay creates a relay over registry. rateLimitPerMinute bounds how
// many changes one sender may publish per minute; zero disables the limit.
func NewRelay(registry *websocket.Registry, rateLimitPerMinute int) *Relay {
	return &Relay{
		registry:    registry,
		rateLimiter: NewRateLimiter(rateLimitPerMinute),
		pending:     make(map[string]*pendingChange),
	}
}

// Publish delivers code to every member of roomID except source.
// ErrUnauthorizedWrite means the change was dropped. ErrRateLimitExceeded
// means it was held back; FlushPending delivers the newest held change once
// the sender's window reopens. Callers log both and never report them to
// the sender.
func (r *Relay) Publish(ctx context.Context, roomID string, source interfaces.Connection, code string) error {
	if source == nil {
		return ErrNilSource
	}
	if len(code) > types.MaxCodeSize {
		return types.ErrContentTooLarge
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	recipients, err := r.registry.Recipients(roomID, source.GetID(), source.GetFence())
	if err != nil {
		if errors.Is(err, websocket.ErrNotMentor) || errors.Is(err, websocket.ErrRoomNotFound) {
			r.dropped.Add(1)
			return fmt.Errorf("%w: room=%s sender=%s: %v", ErrUnauthorizedWrite, roomID, source.GetID(), err)
		}
		return err
	}

	// TECHNICAL DISCOVERY: limit applies after authorization so students
	// flooding a room cannot starve the mentor's window
	r.mu.Lock()
	if !r.rateLimiter.Allow(source.GetID()) {
		r.pending[source.GetID()] = &pendingChange{roomID: roomID, source: source, code: code}
		r.mu.Unlock()
		r.deferred.Add(1)
		return ErrRateLimitExceeded
	}
	delete(r.pending, source.GetID())
	r.mu.Unlock()

	r.deliver(roomID, recipients, code)
	return nil
}

// FlushPending delivers held changes whose sender may publish again. The
// sender must still hold the mentor seat under the same fence.
func (r *Relay) FlushPending(ctx context.Context) {
	r.mu.Lock()
	var ready []*pendingChange
	for id, change := range r.pending {
		if ctx.Err() != nil {
			break
		}
		if !r.rateLimiter.Allow(id) {
			continue
		}
		delete(r.pending, id)
		ready = append(ready, change)
	}
	r.mu.Unlock()

	for _, change := range ready {
		recipients, err := r.registry.Recipients(change.roomID, change.source.GetID(), change.source.GetFence())
		if err != nil {
			r.dropped.Add(1)
			log.Printf("Held change dropped: room=%s sender=%s: %v", change.roomID, change.source.GetID(), err)
			continue
		}
		r.deliver(change.roomID, recipients, change.code)
	}
}

// Pending returns the number of senders with a held change.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Relay) deliver(roomID string, recipients []interfaces.Participant, code string) {
	msg := &types.Message{
		Type:      types.MessageTypeReceiveCodeChange,
		RoomID:    roomID,
		Code:      code,
		Timestamp: time.Now(),
	}

	for _, recipient := range recipients {
		if err := recipient.WriteJSON(msg); err != nil {
			r.missed.Add(1)
			log.Printf("Change not delivered: room=%s recipient=%s: %v", roomID, recipient.GetID(), err)
		}
	}

	r.published.Add(1)
}

// Forget releases per-sender state once a connection is gone, including
// any held change.
func (r *Relay) Forget(senderID string) {
	r.mu.Lock()
	delete(r.pending, senderID)
	r.mu.Unlock()
	r.rateLimiter.Forget(senderID)
}

// Cleanup prunes idle rate-limit state.
func (r *Relay) Cleanup() {
	r.rateLimiter.Cleanup()
}

// Stats returns relay counters.
func (r *Relay) Stats() map[string]uint64 {
	return map[string]uint64{
		"published":         r.published.Load(),
		"dropped":           r.dropped.Load(),
		"deferred":          r.deferred.Load(),
		"missed_deliveries": r.missed.Load(),
	}
}
