package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"mentorsync/internal/app"
	"mentorsync/internal/config"
	"mentorsync/pkg/client"
	"mentorsync/pkg/types"
)

const waitTimeout = 3 * time.Second

// TestServer is a running Application on a loopback port with its own
// database file.
type TestServer struct {
	App     *app.Application
	BaseURL string
	WSURL   string
	DBPath  string
}

// StartTestServer starts an Application on a free port using dbPath, or a
// fresh temporary database when dbPath is empty.
func StartTestServer(t *testing.T, dbPath string) *TestServer {
	t.Helper()

	if dbPath == "" {
		dbPath = filepath.Join(t.TempDir(), "mentorsync.db")
	}

	port, err := findAvailablePort()
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Database.Path = dbPath
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = port

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := application.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Failed to start application: %v", err)
	}

	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := application.Stop(stopCtx); err != nil {
			t.Logf("Failed to stop application: %v", err)
		}
		cancel()
	})

	base := "http://" + application.GetAddr()
	return &TestServer{
		App:     application,
		BaseURL: base,
		WSURL:   "ws" + strings.TrimPrefix(base, "http") + "/ws",
		DBPath:  dbPath,
	}
}

func findAvailablePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// CreateDocument seeds a document through the HTTP API.
func (s *TestServer) CreateDocument(t *testing.T, id, code string) {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"id": id, "name": id, "code": code})
	resp, err := http.Post(s.BaseURL+"/api/documents", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Create document returned %d", resp.StatusCode)
	}
}

// Room fetches the room inspection endpoint.
func (s *TestServer) Room(t *testing.T, id string) types.RoomSnapshot {
	t.Helper()

	resp, err := http.Get(s.BaseURL + "/api/rooms/" + id)
	if err != nil {
		t.Fatalf("Failed to get room: %v", err)
	}
	defer resp.Body.Close()

	var snap types.RoomSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode room: %v", err)
	}
	return snap
}

// NewSession dials the server and returns a session using tokens as its
// token cache.
func (s *TestServer) NewSession(t *testing.T, tokens *client.TokenCache, opts client.Options) *client.Session {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	transport, err := client.Dial(ctx, s.WSURL)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = transport.Close() })

	opts.Transport = transport
	opts.Store = client.NewHTTPDocumentStore(s.BaseURL, nil)
	opts.Tokens = tokens

	session, err := client.NewSession(opts)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	return session
}

// JoinAs joins roomID and waits for the role assignment.
func JoinAs(t *testing.T, session *client.Session, roomID string) types.Role {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	if err := session.Join(ctx, roomID); err != nil {
		t.Fatalf("Failed to join %s: %v", roomID, err)
	}
	role, err := session.WaitForRole(ctx)
	if err != nil {
		t.Fatalf("No role assigned in %s: %v", roomID, err)
	}
	return role
}

// RawClient speaks the wire protocol directly, for cases a Session refuses
// to produce such as a student sending change_code.
type RawClient struct {
	conn     *websocket.Conn
	messages chan *types.Message
}

// DialRaw connects a RawClient to the server.
func (s *TestServer) DialRaw(t *testing.T) *RawClient {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(s.WSURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}

	c := &RawClient{conn: conn, messages: make(chan *types.Message, 100)}
	go c.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *RawClient) readLoop() {
	defer close(c.messages)
	for {
		var msg types.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		c.messages <- &msg
	}
}

func (c *RawClient) Send(t *testing.T, msg *types.Message) {
	t.Helper()
	if err := c.conn.WriteJSON(msg); err != nil {
		t.Fatalf("Failed to send %s: %v", msg.Type, err)
	}
}

// WaitFor returns the first message of msgType together with every message
// read before it.
func (c *RawClient) WaitFor(t *testing.T, msgType string) (*types.Message, []*types.Message) {
	t.Helper()

	var skipped []*types.Message
	timeout := time.After(waitTimeout)
	for {
		select {
		case msg, ok := <-c.messages:
			if !ok {
				t.Fatalf("Connection closed while waiting for %s", msgType)
			}
			if msg.Type == msgType {
				return msg, skipped
			}
			skipped = append(skipped, msg)
		case <-timeout:
			t.Fatalf("Timed out waiting for %s", msgType)
		}
	}
}

// Flush round-trips a socket_id request. Anything the server queued for this
// connection before handling it is returned.
func (c *RawClient) Flush(t *testing.T) []*types.Message {
	t.Helper()
	c.Send(t, &types.Message{Type: types.MessageTypeSocketID})
	_, skipped := c.WaitFor(t, types.MessageTypeReceiveSocketID)
	return skipped
}

// Close drops the socket without a leave_room.
func (c *RawClient) Close() error {
	return c.conn.Close()
}

func countOfType(msgs []*types.Message, msgType string) int {
	n := 0
	for _, m := range msgs {
		if m.Type == msgType {
			n++
		}
	}
	return n
}
