package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

// View is what the renderer shows: the current content and whether the
// local participant may edit it.
type View struct {
	Content  string
	Editable bool
}

// Options configures a Session. Transport is required.
type Options struct {
	Transport Transport
	// Store supplies the initial snapshot on join and receives the final
	// content on leave. Optional.
	Store interfaces.DocumentStore
	// Tokens is required. Share one cache between the sessions that should
	// be able to reclaim each other's mentor seat.
	Tokens *TokenCache

	Render       func(View)
	OnUsersCount func(roomID string, onlineUsers int)
	// OnDisconnect is called once if the transport is lost before Leave.
	OnDisconnect func(err error)
}

// stateHandler handles a message in one state. It runs with s.mu held and
// returns the view to render, if any.
type stateHandler func(s *Session, msg *types.Message) *View

// Session is one participant's membership of one room. Each state has its
// own handler; all of them are installed once in NewSession.
type Session struct {
	transport    Transport
	store        interfaces.DocumentStore
	tokens       *TokenCache
	render       func(View)
	onUsersCount func(string, int)
	onDisconnect func(error)

	handlers map[State]stateHandler

	mu          sync.Mutex
	state       State
	roomID      string
	content     string
	fence       uint64
	onlineUsers int
	socketID    string
	lastError   string

	assigned   chan struct{}
	assignOnce sync.Once
	done       chan struct{}
}

// NewSession creates an unjoined session and starts consuming transport.
// Transport and Tokens are required.
func NewSession(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, ErrNilTransport
	}
	if opts.Tokens == nil {
		return nil, ErrNilTokenCache
	}

	s := &Session{
		transport:    opts.Transport,
		store:        opts.Store,
		tokens:       opts.Tokens,
		render:       opts.Render,
		onUsersCount: opts.OnUsersCount,
		onDisconnect: opts.OnDisconnect,
		state:        StateUnjoined,
		assigned:     make(chan struct{}),
		done:         make(chan struct{}),
	}

	s.handlers = map[State]stateHandler{
		StateUnjoined: (*Session).handleIdle,
		StateJoining:  (*Session).handleJoining,
		StateMentor:   (*Session).handleMentor,
		StateStudent:  (*Session).handleStudent,
		StateLeft:     (*Session).handleIdle,
	}

	go s.receive()
	return s, nil
}

// Join loads the room's snapshot and asks the server for a role, presenting
// the cached mentor token for roomID when there is one.
func (s *Session) Join(ctx context.Context, roomID string) error {
	if !types.IsValidRoomID(roomID) {
		return types.ErrInvalidRoomID
	}

	s.mu.Lock()
	switch s.state {
	case StateUnjoined:
	case StateLeft:
		s.mu.Unlock()
		return ErrSessionLeft
	default:
		s.mu.Unlock()
		return ErrAlreadyJoined
	}
	s.state = StateJoining
	s.roomID = roomID
	s.mu.Unlock()

	if s.store != nil {
		doc, err := s.store.GetDocument(ctx, roomID)
		if err != nil {
			s.mu.Lock()
			s.state = StateUnjoined
			s.roomID = ""
			s.mu.Unlock()
			return fmt.Errorf("failed to load snapshot for room %s: %w", roomID, err)
		}

		s.mu.Lock()
		s.content = doc.Content
		s.mu.Unlock()
		s.show(&View{Content: doc.Content})
	}

	join := &types.Message{
		Type:   types.MessageTypeJoinRoom,
		RoomID: roomID,
		Token:  s.tokens.Get(roomID),
	}
	if err := s.transport.Send(join); err != nil {
		return fmt.Errorf("failed to send join: %w", err)
	}

	return s.transport.Send(&types.Message{Type: types.MessageTypeUsersCount, RoomID: roomID})
}

// WaitForRole blocks until the server assigns a role, the session leaves
// or ctx ends.
func (s *Session) WaitForRole(ctx context.Context) (types.Role, error) {
	select {
	case <-s.assigned:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	switch s.State() {
	case StateMentor:
		return types.RoleMentor, nil
	case StateStudent:
		return types.RoleStudent, nil
	default:
		return "", ErrSessionLeft
	}
}

// Edit replaces the local content and publishes it. Only the mentor may
// edit; students get ErrReadOnly and nothing is sent.
func (s *Session) Edit(content string) error {
	if len(content) > types.MaxCodeSize {
		return types.ErrContentTooLarge
	}

	s.mu.Lock()
	switch s.state {
	case StateMentor:
	case StateStudent:
		s.mu.Unlock()
		return ErrReadOnly
	case StateLeft:
		s.mu.Unlock()
		return ErrSessionLeft
	default:
		s.mu.Unlock()
		return ErrNotJoined
	}
	s.content = content
	roomID := s.roomID
	s.mu.Unlock()

	s.show(&View{Content: content, Editable: true})

	return s.transport.Send(&types.Message{
		Type:   types.MessageTypeChangeCode,
		RoomID: roomID,
		Code:   content,
	})
}

// Leave signals the server and releases the transport. A mentor also
// writes its content back to the store. The cached mentor token is kept.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	prev := s.state
	switch prev {
	case StateUnjoined:
		s.mu.Unlock()
		return ErrNotJoined
	case StateLeft:
		s.mu.Unlock()
		return ErrSessionLeft
	}
	s.state = StateLeft
	roomID := s.roomID
	content := s.content
	s.mu.Unlock()

	s.assignOnce.Do(func() { close(s.assigned) })

	var errs []error
	if err := s.transport.Send(&types.Message{Type: types.MessageTypeLeaveRoom, RoomID: roomID}); err != nil {
		errs = append(errs, fmt.Errorf("failed to send leave: %w", err))
	}

	// only the room's writer owns the stored document
	if s.store != nil && prev == StateMentor {
		if err := s.store.PutDocumentContent(ctx, roomID, content); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	<-s.done

	return errors.Join(errs...)
}

// RequestSocketID asks the server for this connection's identifier; the
// answer is available from SocketID once it arrives.
func (s *Session) RequestSocketID() error {
	return s.transport.Send(&types.Message{Type: types.MessageTypeSocketID})
}

// RequestUsersCount asks for the occupancy of roomID, or of the joined
// room when roomID is empty.
func (s *Session) RequestUsersCount(roomID string) error {
	return s.transport.Send(&types.Message{Type: types.MessageTypeUsersCount, RoomID: roomID})
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content
}

// Fence returns the fencing counter of the mentor grant, or 0.
func (s *Session) Fence() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fence
}

func (s *Session) OnlineUsers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onlineUsers
}

func (s *Session) SocketID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socketID
}

// LastError returns the last protocol error reported by the server.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *Session) receive() {
	defer close(s.done)

	for msg := range s.transport.Messages() {
		s.dispatch(msg)
	}

	s.mu.Lock()
	lost := s.state != StateLeft
	s.state = StateLeft
	s.mu.Unlock()

	s.assignOnce.Do(func() { close(s.assigned) })

	if lost {
		err := s.transport.Err()
		if err == nil {
			err = ErrTransportClosed
		}
		log.Printf("Session transport lost: room=%s: %v", s.RoomID(), err)
		if s.onDisconnect != nil {
			s.onDisconnect(err)
		}
	}
}

func (s *Session) dispatch(msg *types.Message) {
	var view *View
	var count *types.Message

	s.mu.Lock()
	switch msg.Type {
	case types.MessageTypeReceiveSocketID:
		s.socketID = msg.ID
	case types.MessageTypeReceiveUsersCount:
		if msg.RoomID == s.roomID {
			s.onlineUsers = msg.OnlineUsers
		}
		count = msg
	case types.MessageTypeError:
		s.lastError = msg.Error
		log.Printf("Server reported error: %s", msg.Error)
	default:
		view = s.handlers[s.state](s, msg)
	}
	s.mu.Unlock()

	if count != nil && s.onUsersCount != nil {
		s.onUsersCount(count.RoomID, count.OnlineUsers)
	}
	s.show(view)
}

func (s *Session) handleIdle(msg *types.Message) *View {
	return nil
}

func (s *Session) handleJoining(msg *types.Message) *View {
	if msg.RoomID != s.roomID {
		return nil
	}

	switch msg.Type {
	case types.MessageTypeRoleAssigned:
		s.fence = msg.Fence
		s.onlineUsers = msg.OnlineUsers
		if msg.Role == types.RoleMentor {
			s.state = StateMentor
			s.tokens.Put(s.roomID, msg.Token)
		} else {
			s.state = StateStudent
		}
		s.assignOnce.Do(func() { close(s.assigned) })
		return &View{Content: s.content, Editable: s.state == StateMentor}

	case types.MessageTypeReceiveCodeChange:
		s.content = msg.Code
		return &View{Content: s.content}
	}
	return nil
}

// handleMentor ignores inbound changes: the mentor is the room's only
// writer and the relay never echoes its own edits.
func (s *Session) handleMentor(msg *types.Message) *View {
	return nil
}

func (s *Session) handleStudent(msg *types.Message) *View {
	if msg.Type != types.MessageTypeReceiveCodeChange || msg.RoomID != s.roomID {
		return nil
	}
	s.content = msg.Code
	return &View{Content: s.content}
}

func (s *Session) show(view *View) {
	if view != nil && s.render != nil {
		s.render(*view)
	}
}
