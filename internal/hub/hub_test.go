package hub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentorsync/internal/router"
	"mentorsync/internal/websocket"
	"mentorsync/pkg/types"
)

type fakeConn struct {
	id string

	mu       sync.Mutex
	received []*types.Message
	roomID   string
	role     types.Role
	fence    uint64
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) GetID() string { return c.id }

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := *(v.(*types.Message))
	c.received = append(c.received, &msg)
	return nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) GetRoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *fakeConn) GetRole() types.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *fakeConn) GetFence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fence
}

func (c *fakeConn) SetMembership(roomID string, role types.Role, fence uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID, c.role, c.fence = roomID, role, fence
}

func (c *fakeConn) ClearMembership() { c.SetMembership("", "", 0) }

// ofType returns received messages of msgType.
func (c *fakeConn) ofType(msgType string) []*types.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.Message
	for _, m := range c.received {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) waitFor(t *testing.T, msgType string, n int) []*types.Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.ofType(msgType)) >= n },
		2*time.Second, 5*time.Millisecond, "%s waiting for %d %s", c.id, n, msgType)
	return c.ofType(msgType)
}

func startHub(t *testing.T) (*Hub, *websocket.Registry) {
	t.Helper()
	registry := websocket.NewRegistry(nil)
	h := NewHub(registry, router.NewRelay(registry, 0), 100)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })
	return h, registry
}

func joinRoom(t *testing.T, h *Hub, conn *fakeConn, roomID, token string) *types.Message {
	t.Helper()
	before := len(conn.ofType(types.MessageTypeRoleAssigned))
	require.NoError(t, h.Dispatch(conn, &types.Message{Type: types.MessageTypeJoinRoom, RoomID: roomID, Token: token}))
	flush(t, h)
	return conn.waitFor(t, types.MessageTypeRoleAssigned, before+1)[before]
}

// flush waits until every event queued before it has been handled.
func flush(t *testing.T, h *Hub) {
	t.Helper()
	probe := newFakeConn("probe")
	require.NoError(t, h.Dispatch(probe, &types.Message{Type: types.MessageTypeSocketID}))
	probe.waitFor(t, types.MessageTypeReceiveSocketID, 1)
}

func TestHub_StartStop(t *testing.T) {
	registry := websocket.NewRegistry(nil)
	h := NewHub(registry, router.NewRelay(registry, 0), 10)

	require.NoError(t, h.Start(context.Background()))
	assert.ErrorIs(t, h.Start(context.Background()), ErrHubAlreadyRunning)
	require.NoError(t, h.Stop())
	assert.ErrorIs(t, h.Stop(), ErrHubNotRunning)

	assert.ErrorIs(t, h.Dispatch(newFakeConn("a"), &types.Message{Type: types.MessageTypeSocketID}), ErrHubNotRunning)
	assert.ErrorIs(t, h.Disconnect(newFakeConn("a")), ErrHubNotRunning)
}

func TestHub_ContextCancelStops(t *testing.T) {
	registry := websocket.NewRegistry(nil)
	h := NewHub(registry, router.NewRelay(registry, 0), 10)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, h.Start(ctx))
	cancel()

	require.Eventually(t, func() bool { return !h.isRunning() }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, h.Disconnect(newFakeConn("a")), ErrHubNotRunning)
}

func TestHub_DispatchValidation(t *testing.T) {
	h, _ := startHub(t)

	assert.ErrorIs(t, h.Dispatch(nil, &types.Message{}), ErrNilConnection)
	assert.ErrorIs(t, h.Dispatch(newFakeConn("a"), nil), ErrNilMessage)
	assert.ErrorIs(t, h.Disconnect(nil), ErrNilConnection)
}

func TestHub_DispatchQueueFull(t *testing.T) {
	registry := websocket.NewRegistry(nil)
	h := NewHub(registry, router.NewRelay(registry, 0), 1)

	// not started: mark running without a consumer so the queue fills
	h.running = true
	conn := newFakeConn("a")
	require.NoError(t, h.Dispatch(conn, &types.Message{Type: types.MessageTypeSocketID}))
	assert.ErrorIs(t, h.Dispatch(conn, &types.Message{Type: types.MessageTypeSocketID}), ErrMessageChannelFull)
	assert.ErrorIs(t, h.Dispatch(conn, &types.Message{Type: types.MessageTypeChangeCode, RoomID: "r1"}), ErrMessageChannelFull)
}

func TestHub_MembershipWaitsForQueue(t *testing.T) {
	for _, msgType := range []string{types.MessageTypeLeaveRoom, types.MessageTypeJoinRoom} {
		t.Run(msgType, func(t *testing.T) {
			registry := websocket.NewRegistry(nil)
			h := NewHub(registry, router.NewRelay(registry, 0), 1)
			h.running = true
			conn := newFakeConn("a")
			require.NoError(t, h.Dispatch(conn, &types.Message{Type: types.MessageTypeSocketID}))

			result := make(chan error, 1)
			go func() {
				result <- h.Dispatch(conn, &types.Message{Type: msgType, RoomID: "r1"})
			}()

			select {
			case err := <-result:
				t.Fatalf("dispatch returned %v with a full queue", err)
			case <-time.After(50 * time.Millisecond):
			}

			<-h.events
			require.NoError(t, <-result)

			ev := <-h.events
			assert.Equal(t, msgType, ev.message.Type)
		})
	}
}

func TestHub_MembershipDispatchUnblocksOnStop(t *testing.T) {
	registry := websocket.NewRegistry(nil)
	h := NewHub(registry, router.NewRelay(registry, 0), 1)
	h.running = true
	conn := newFakeConn("a")
	require.NoError(t, h.Dispatch(conn, &types.Message{Type: types.MessageTypeSocketID}))

	result := make(chan error, 1)
	go func() {
		result <- h.Dispatch(conn, &types.Message{Type: types.MessageTypeLeaveRoom, RoomID: "r1"})
	}()

	time.Sleep(20 * time.Millisecond)
	close(h.shutdownChannel)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrHubNotRunning)
	case <-time.After(time.Second):
		t.Fatal("membership dispatch still blocked after shutdown")
	}
}

func TestHub_SocketID(t *testing.T) {
	h, _ := startHub(t)
	conn := newFakeConn("conn-1")

	require.NoError(t, h.Dispatch(conn, &types.Message{Type: types.MessageTypeSocketID}))
	msgs := conn.waitFor(t, types.MessageTypeReceiveSocketID, 1)
	assert.Equal(t, "conn-1", msgs[0].ID)
}

func TestHub_UsersCount(t *testing.T) {
	h, _ := startHub(t)
	x, y := newFakeConn("x"), newFakeConn("y")

	joinRoom(t, h, x, "r1", "")
	joinRoom(t, h, y, "r1", "")

	// explicit room without joining
	outsider := newFakeConn("o")
	require.NoError(t, h.Dispatch(outsider, &types.Message{Type: types.MessageTypeUsersCount, RoomID: "r1"}))
	msgs := outsider.waitFor(t, types.MessageTypeReceiveUsersCount, 1)
	assert.Equal(t, 2, msgs[0].OnlineUsers)

	// defaults to the joined room
	before := len(y.ofType(types.MessageTypeReceiveUsersCount))
	require.NoError(t, h.Dispatch(y, &types.Message{Type: types.MessageTypeUsersCount}))
	msgs = y.waitFor(t, types.MessageTypeReceiveUsersCount, before+1)
	assert.Equal(t, "r1", msgs[before].RoomID)
	assert.Equal(t, 2, msgs[before].OnlineUsers)

	// unknown room
	require.NoError(t, h.Dispatch(outsider, &types.Message{Type: types.MessageTypeUsersCount, RoomID: "empty"}))
	msgs = outsider.waitFor(t, types.MessageTypeReceiveUsersCount, 2)
	assert.Equal(t, 0, msgs[1].OnlineUsers)
}

func TestHub_MentorEditReachesStudentOnly(t *testing.T) {
	h, _ := startHub(t)
	x, y := newFakeConn("x"), newFakeConn("y")

	xRole := joinRoom(t, h, x, "r1", "")
	assert.Equal(t, types.RoleMentor, xRole.Role)
	assert.Equal(t, "x", xRole.Token)
	assert.Equal(t, 1, xRole.OnlineUsers)

	yRole := joinRoom(t, h, y, "r1", "")
	assert.Equal(t, types.RoleStudent, yRole.Role)
	assert.Empty(t, yRole.Token)
	assert.Equal(t, 2, yRole.OnlineUsers)

	require.NoError(t, h.Dispatch(x, &types.Message{Type: types.MessageTypeChangeCode, RoomID: "r1", Code: "const a=1;"}))
	changes := y.waitFor(t, types.MessageTypeReceiveCodeChange, 1)
	assert.Equal(t, "const a=1;", changes[0].Code)

	flush(t, h)
	assert.Empty(t, x.ofType(types.MessageTypeReceiveCodeChange))
}

func TestHub_MentorReclaimAfterLeave(t *testing.T) {
	h, _ := startHub(t)
	x, y := newFakeConn("x"), newFakeConn("y")

	xRole := joinRoom(t, h, x, "r1", "")
	joinRoom(t, h, y, "r1", "")

	require.NoError(t, h.Dispatch(x, &types.Message{Type: types.MessageTypeLeaveRoom, RoomID: "r1"}))
	flush(t, h)
	counts := y.ofType(types.MessageTypeReceiveUsersCount)
	require.Len(t, counts, 2)
	assert.Equal(t, 1, counts[1].OnlineUsers)
	assert.Empty(t, x.GetRoomID())

	again := joinRoom(t, h, x, "r1", xRole.Token)
	assert.Equal(t, types.RoleMentor, again.Role)
	assert.Equal(t, 2, again.OnlineUsers)
	assert.Equal(t, xRole.Token, again.Token)

	require.NoError(t, h.Dispatch(x, &types.Message{Type: types.MessageTypeChangeCode, RoomID: "r1", Code: "back"}))
	changes := y.waitFor(t, types.MessageTypeReceiveCodeChange, 1)
	assert.Equal(t, "back", changes[0].Code)
}

func TestHub_StudentEditNotObserved(t *testing.T) {
	h, _ := startHub(t)
	x, y := newFakeConn("x"), newFakeConn("y")

	joinRoom(t, h, x, "r1", "")
	joinRoom(t, h, y, "r1", "")

	require.NoError(t, h.Dispatch(y, &types.Message{Type: types.MessageTypeChangeCode, RoomID: "r1", Code: "nope"}))
	flush(t, h)

	assert.Empty(t, x.ofType(types.MessageTypeReceiveCodeChange))
	assert.Empty(t, y.ofType(types.MessageTypeError), "dropped writes are silent")
}

func TestHub_ChangeForOtherRoomDropped(t *testing.T) {
	h, _ := startHub(t)
	x, y := newFakeConn("x"), newFakeConn("y")

	joinRoom(t, h, x, "r1", "")
	joinRoom(t, h, y, "r2", "")

	require.NoError(t, h.Dispatch(x, &types.Message{Type: types.MessageTypeChangeCode, RoomID: "r2", Code: "cross"}))
	flush(t, h)
	assert.Empty(t, y.ofType(types.MessageTypeReceiveCodeChange))
}

func TestHub_JoinAnotherRoomLeavesCurrent(t *testing.T) {
	h, registry := startHub(t)
	x := newFakeConn("x")

	joinRoom(t, h, x, "r1", "")
	second := joinRoom(t, h, x, "r2", "")

	assert.Equal(t, types.RoleMentor, second.Role)
	assert.Equal(t, "r2", x.GetRoomID())
	assert.Equal(t, 0, registry.Count("r1"))
	assert.Equal(t, 1, registry.Count("r2"))
}

func TestHub_RejoinSameRoomKeepsRole(t *testing.T) {
	h, registry := startHub(t)
	x := newFakeConn("x")

	first := joinRoom(t, h, x, "r1", "")
	again := joinRoom(t, h, x, "r1", "")

	assert.Equal(t, first.Role, again.Role)
	assert.Equal(t, first.Fence, again.Fence)
	assert.Equal(t, 1, registry.Count("r1"))
}

func TestHub_DisconnectIsImplicitLeave(t *testing.T) {
	h, registry := startHub(t)
	x, y := newFakeConn("x"), newFakeConn("y")

	joinRoom(t, h, x, "r1", "")
	joinRoom(t, h, y, "r1", "")

	require.NoError(t, h.Disconnect(x))
	flush(t, h)

	assert.Equal(t, 1, registry.Count("r1"))
	assert.False(t, registry.Snapshot("r1").HasMentor)

	// with the seat vacant, a new joiner without the token is still a student
	z := newFakeConn("z")
	zRole := joinRoom(t, h, z, "r1", "")
	assert.Equal(t, types.RoleStudent, zRole.Role)
}

func TestHub_DisconnectAfterJoinIsOrdered(t *testing.T) {
	h, registry := startHub(t)

	for i := 0; i < 50; i++ {
		conn := newFakeConn(fmt.Sprintf("c%d", i))
		require.NoError(t, h.Dispatch(conn, &types.Message{Type: types.MessageTypeJoinRoom, RoomID: "r1"}))
		require.NoError(t, h.Disconnect(conn))
	}
	flush(t, h)

	assert.Equal(t, 0, registry.Count("r1"))
}

func TestHub_ConcurrentJoinsOneMentor(t *testing.T) {
	h, _ := startHub(t)

	conns := make([]*fakeConn, 10)
	var wg sync.WaitGroup
	for i := range conns {
		conns[i] = newFakeConn(string(rune('a' + i)))
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			_ = h.Dispatch(c, &types.Message{Type: types.MessageTypeJoinRoom, RoomID: "r1"})
		}(conns[i])
	}
	wg.Wait()

	mentors := 0
	for _, c := range conns {
		msg := c.waitFor(t, types.MessageTypeRoleAssigned, 1)[0]
		if msg.Role == types.RoleMentor {
			mentors++
		}
	}
	assert.Equal(t, 1, mentors)
}

func TestHub_InvalidJoinReportsError(t *testing.T) {
	h, _ := startHub(t)
	x := newFakeConn("x")

	require.NoError(t, h.Dispatch(x, &types.Message{Type: types.MessageTypeJoinRoom, RoomID: "bad room"}))
	msgs := x.waitFor(t, types.MessageTypeError, 1)
	assert.Equal(t, types.ErrInvalidRoomID.Error(), msgs[0].Error)
}
