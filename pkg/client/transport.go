package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mentorsync/pkg/types"
)

// Transport carries protocol messages for one session.
type Transport interface {
	// Send writes msg. It is safe for concurrent use.
	Send(msg *types.Message) error

	// Messages yields inbound messages and is closed when the transport is
	// lost or closed.
	Messages() <-chan *types.Message

	// Err reports why Messages was closed; nil after a local Close.
	Err() error

	Close() error
}

// WebSocketTransport is a Transport over a gorilla WebSocket connection.
type WebSocketTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu  sync.Mutex
	messages chan *types.Message

	errMu     sync.Mutex
	err       error
	closed    bool
	closeOnce sync.Once
}

// Dial connects to a mentorsync WebSocket endpoint such as
// ws://localhost:8080/ws.
func Dial(ctx context.Context, url string) (*WebSocketTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return NewWebSocketTransport(conn), nil
}

// NewWebSocketTransport takes ownership of conn and starts reading.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	t := &WebSocketTransport{
		conn:         conn,
		writeTimeout: 10 * time.Second,
		messages:     make(chan *types.Message, 64),
	}
	go t.readLoop()
	return t
}

func (t *WebSocketTransport) readLoop() {
	defer close(t.messages)

	for {
		var msg types.Message
		if err := t.conn.ReadJSON(&msg); err != nil {
			t.errMu.Lock()
			if !t.closed {
				t.err = err
			}
			t.errMu.Unlock()
			return
		}
		t.messages <- &msg
	}
}

func (t *WebSocketTransport) Send(msg *types.Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.errMu.Lock()
	closed := t.closed
	t.errMu.Unlock()
	if closed {
		return ErrTransportClosed
	}

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteJSON(msg)
}

func (t *WebSocketTransport) Messages() <-chan *types.Message {
	return t.messages
}

func (t *WebSocketTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Close sends a close frame and closes the socket.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.errMu.Lock()
		t.closed = true
		t.errMu.Unlock()

		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()

		err = t.conn.Close()
	})
	return err
}
