package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentorsync/internal/websocket"
	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

type memoryDB struct {
	mu        sync.Mutex
	docs      map[string]*types.Document
	healthErr error
	listErr   error
}

func newMemoryDB() *memoryDB {
	return &memoryDB{docs: make(map[string]*types.Document)}
}

func (m *memoryDB) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, interfaces.ErrDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *memoryDB) PutDocumentContent(ctx context.Context, id, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return interfaces.ErrDocumentNotFound
	}
	doc.Content = content
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *memoryDB) CreateDocument(ctx context.Context, doc *types.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; ok {
		return interfaces.ErrDocumentExists
	}
	cp := *doc
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.docs[doc.ID] = &cp
	return nil
}

func (m *memoryDB) ListDocuments(ctx context.Context) ([]*types.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*types.Document
	for _, d := range m.docs {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memoryDB) SaveMentorClaim(ctx context.Context, claim *types.MentorClaim) error { return nil }

func (m *memoryDB) ListMentorClaims(ctx context.Context) ([]*types.MentorClaim, error) {
	return nil, nil
}

func (m *memoryDB) HealthCheck(ctx context.Context) error { return m.healthErr }

func (m *memoryDB) Close() error { return nil }

type namedParticipant string

func (p namedParticipant) GetID() string                 { return string(p) }
func (p namedParticipant) WriteJSON(v interface{}) error { return nil }

func newTestServer(t *testing.T) (*Server, *memoryDB, *websocket.Registry) {
	t.Helper()
	db := newMemoryDB()
	registry := websocket.NewRegistry(nil)
	return NewServer(db, registry, nil), db, registry
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServer_CreateAndGetDocument(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/documents", `{"id":"async-case","name":"Async case","code":"await x"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = do(t, s, http.MethodGet, "/api/documents/async-case", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DocumentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Async case", resp.Document.Name)
	assert.Equal(t, "await x", resp.Document.Content)
}

func TestServer_CreateDocumentErrors(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/documents", `{bad`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/documents", `{"id":"has space","name":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/documents", `{"id":"ok","name":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusCreated, do(t, s, http.MethodPost, "/api/documents", `{"id":"dup","name":"x"}`).Code)
	rec = do(t, s, http.MethodPost, "/api/documents", `{"id":"dup","name":"x"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, http.StatusConflict, errResp.Code)
}

func TestServer_GetDocumentErrors(t *testing.T) {
	s, _, _ := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/documents/missing", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/documents/bad.id", "").Code)
}

func TestServer_PutDocument(t *testing.T) {
	s, db, _ := newTestServer(t)
	require.NoError(t, db.CreateDocument(context.Background(), &types.Document{ID: "doc", Name: "Doc", Content: "old"}))

	rec := do(t, s, http.MethodPut, "/api/documents/doc", `{"code":"new"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	doc, err := db.GetDocument(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, "new", doc.Content)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPut, "/api/documents/other", `{"code":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/api/documents/doc", `nope`).Code)
}

func TestServer_PutDocumentTooLarge(t *testing.T) {
	s, db, _ := newTestServer(t)
	require.NoError(t, db.CreateDocument(context.Background(), &types.Document{ID: "doc", Name: "Doc"}))

	body := `{"code":"` + strings.Repeat("x", types.MaxCodeSize+1) + `"}`
	rec := do(t, s, http.MethodPut, "/api/documents/doc", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServer_ListDocuments(t *testing.T) {
	s, db, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/documents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"documents":[]}`, rec.Body.String())

	require.NoError(t, db.CreateDocument(context.Background(), &types.Document{ID: "a", Name: "A"}))
	rec = do(t, s, http.MethodGet, "/api/documents", "")
	var resp ListDocumentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Documents, 1)

	db.listErr = errors.New("boom")
	assert.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodGet, "/api/documents", "").Code)
}

func TestServer_Rooms(t *testing.T) {
	s, _, registry := newTestServer(t)

	_, err := registry.Join("r1", namedParticipant("x"), "")
	require.NoError(t, err)
	_, err = registry.Join("r1", namedParticipant("y"), "")
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/api/rooms/r1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"room_id":"r1","online_users":2,"has_mentor":true}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/rooms/empty", "")
	assert.JSONEq(t, `{"room_id":"empty","online_users":0,"has_mentor":false}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/rooms/b@d", "").Code)

	rec = do(t, s, http.MethodGet, "/api/rooms", "")
	var resp ListRoomsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, 2, resp.Stats["total_participants"])
}

func TestServer_Health(t *testing.T) {
	s, db, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)

	db.healthErr = errors.New("disk gone")
	rec = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_CORSAndMethods(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodOptions, "/api/documents", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, s, http.MethodDelete, "/api/documents/doc", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_MountsWebSocketHandler(t *testing.T) {
	called := false
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})
	s := NewServer(newMemoryDB(), websocket.NewRegistry(nil), ws)

	rec := do(t, s, http.MethodGet, "/ws", "")
	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
