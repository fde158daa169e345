package hub

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"mentorsync/internal/router"
	"mentorsync/internal/websocket"
	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

type eventKind int

const (
	eventMessage eventKind = iota
	eventDisconnect
)

// event is one entry of the dispatcher queue. Messages and disconnects
// share the queue so a connection's disconnect is always handled after the
// messages it sent.
type event struct {
	kind     eventKind
	conn     interfaces.Connection
	message  *types.Message
	received time.Time
}

// Hub is the single dispatcher goroutine between the transport and the
// room registry and relay.
// ARCHITECTURAL DISCOVERY: all membership changes made on behalf of
// connections happen on this goroutine, in arrival order.
type Hub struct {
	events          chan *event
	shutdownChannel chan struct{}
	done            chan struct{}

	registry *websocket.Registry
	relay    *router.Relay

	cleanupInterval time.Duration
	flushInterval   time.Duration

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub with an event queue of queueSize entries.
func NewHub(registry *websocket.Registry, relay *router.Relay, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &Hub{
		events:          make(chan *event, queueSize),
		shutdownChannel: make(chan struct{}),
		done:            make(chan struct{}),
		registry:        registry,
		relay:           relay,
		cleanupInterval: time.Minute,
		flushInterval:   time.Second,
	}
}

// Start begins processing on a single goroutine.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting message hub...")

	go h.run(ctx)

	return nil
}

// Stop signals the loop to exit and waits for it.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false

	log.Println("Stopping message hub...")

	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}
	h.mu.Unlock()

	<-h.done
	return nil
}

func (h *Hub) isRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Dispatch queues msg from conn. Membership messages wait for room in the
// queue like Disconnect does; everything else fails fast with
// ErrMessageChannelFull.
func (h *Hub) Dispatch(conn interfaces.Connection, msg *types.Message) error {
	if conn == nil {
		return ErrNilConnection
	}
	if msg == nil {
		return ErrNilMessage
	}
	if !h.isRunning() {
		return ErrHubNotRunning
	}

	ev := &event{kind: eventMessage, conn: conn, message: msg, received: time.Now()}

	if isMembership(msg.Type) {
		select {
		case h.events <- ev:
			return nil
		case <-h.shutdownChannel:
			return ErrHubNotRunning
		}
	}

	// TECHNICAL DISCOVERY: non-blocking send keeps a slow hub from stalling
	// every read pump
	select {
	case h.events <- ev:
		return nil
	default:
		return ErrMessageChannelFull
	}
}

// Disconnect queues the implicit leave for conn. It blocks until the queue
// accepts the event, so the leave is never lost to a burst of messages.
func (h *Hub) Disconnect(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !h.isRunning() {
		return ErrHubNotRunning
	}

	ev := &event{kind: eventDisconnect, conn: conn, received: time.Now()}

	select {
	case h.events <- ev:
		return nil
	case <-h.shutdownChannel:
		return ErrHubNotRunning
	}
}

// isMembership reports whether losing msgType would leave the registry out
// of step with the connection.
func isMembership(msgType string) bool {
	return msgType == types.MessageTypeJoinRoom || msgType == types.MessageTypeLeaveRoom
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer log.Println("Hub processing stopped")

	cleanup := time.NewTicker(h.cleanupInterval)
	defer cleanup.Stop()

	flush := time.NewTicker(h.flushInterval)
	defer flush.Stop()

	for {
		select {
		case ev := <-h.events:
			h.handleEvent(ctx, ev)

		case <-cleanup.C:
			h.relay.Cleanup()

		case <-flush.C:
			h.relay.FlushPending(ctx)

		case <-h.shutdownChannel:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			h.mu.Lock()
			h.running = false
			select {
			case <-h.shutdownChannel:
			default:
				close(h.shutdownChannel)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) handleEvent(ctx context.Context, ev *event) {
	if ev.kind == eventDisconnect {
		h.handleDisconnect(ev.conn)
		return
	}

	msg := ev.message
	switch msg.Type {
	case types.MessageTypeJoinRoom:
		h.handleJoin(ev.conn, msg)
	case types.MessageTypeLeaveRoom:
		h.handleLeave(ev.conn, msg)
	case types.MessageTypeUsersCount:
		h.handleUsersCount(ev.conn, msg)
	case types.MessageTypeSocketID:
		h.reply(ev.conn, &types.Message{Type: types.MessageTypeReceiveSocketID, ID: ev.conn.GetID()})
	case types.MessageTypeChangeCode:
		h.handleChange(ctx, ev.conn, msg)
	default:
		log.Printf("Ignoring message: type=%s conn=%s", msg.Type, ev.conn.GetID())
	}
}

func (h *Hub) handleJoin(conn interfaces.Connection, msg *types.Message) {
	if current := conn.GetRoomID(); current != "" && current != msg.RoomID {
		h.leaveRoom(conn, current)
	}

	result, err := h.registry.Join(msg.RoomID, conn, msg.Token)
	if err != nil {
		log.Printf("Join failed: conn=%s room=%s: %v", conn.GetID(), msg.RoomID, err)
		h.reply(conn, &types.Message{Type: types.MessageTypeError, Error: err.Error()})
		return
	}

	conn.SetMembership(msg.RoomID, result.Role, result.Fence)

	h.reply(conn, &types.Message{
		Type:        types.MessageTypeRoleAssigned,
		RoomID:      msg.RoomID,
		Role:        result.Role,
		Token:       result.Token,
		Fence:       result.Fence,
		OnlineUsers: result.Occupancy,
	})

	if !result.AlreadyJoined {
		h.broadcastCount(msg.RoomID)
	}
}

func (h *Hub) handleLeave(conn interfaces.Connection, msg *types.Message) {
	if conn.GetRoomID() != msg.RoomID {
		return
	}
	h.leaveRoom(conn, msg.RoomID)
}

func (h *Hub) handleUsersCount(conn interfaces.Connection, msg *types.Message) {
	roomID := msg.RoomID
	if roomID == "" {
		roomID = conn.GetRoomID()
	}

	h.reply(conn, &types.Message{
		Type:        types.MessageTypeReceiveUsersCount,
		RoomID:      roomID,
		OnlineUsers: h.registry.Count(roomID),
	})
}

func (h *Hub) handleChange(ctx context.Context, conn interfaces.Connection, msg *types.Message) {
	if conn.GetRoomID() != msg.RoomID {
		log.Printf("Change dropped: conn=%s not in room=%s", conn.GetID(), msg.RoomID)
		return
	}

	err := h.relay.Publish(ctx, msg.RoomID, conn, msg.Code)
	switch {
	case err == nil:
	case errors.Is(err, router.ErrUnauthorizedWrite):
		// FUNCTIONAL DISCOVERY: dropped writes are never reported to the sender
		log.Printf("Change dropped: conn=%s room=%s: %v", conn.GetID(), msg.RoomID, err)
	case errors.Is(err, router.ErrRateLimitExceeded):
		log.Printf("Change held: conn=%s room=%s: %v", conn.GetID(), msg.RoomID, err)
	default:
		log.Printf("Change relay failed: conn=%s room=%s: %v", conn.GetID(), msg.RoomID, err)
	}
}

func (h *Hub) handleDisconnect(conn interfaces.Connection) {
	if roomID := conn.GetRoomID(); roomID != "" {
		h.leaveRoom(conn, roomID)
	}
	h.relay.Forget(conn.GetID())
}

func (h *Hub) leaveRoom(conn interfaces.Connection, roomID string) {
	left := h.registry.Leave(roomID, conn.GetID())
	conn.ClearMembership()
	if left {
		h.broadcastCount(roomID)
	}
}

// broadcastCount tells every member of roomID the new occupancy.
func (h *Hub) broadcastCount(roomID string) {
	members := h.registry.Members(roomID)
	msg := &types.Message{
		Type:        types.MessageTypeReceiveUsersCount,
		RoomID:      roomID,
		OnlineUsers: len(members),
		Timestamp:   time.Now(),
	}
	for _, member := range members {
		if err := member.WriteJSON(msg); err != nil {
			log.Printf("Count not delivered: room=%s conn=%s: %v", roomID, member.GetID(), err)
		}
	}
}

func (h *Hub) reply(conn interfaces.Connection, msg *types.Message) {
	msg.Timestamp = time.Now()
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("Reply not delivered: type=%s conn=%s: %v", msg.Type, conn.GetID(), err)
	}
}
