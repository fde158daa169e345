package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

// maxBodyBytes leaves room for the JSON envelope around a full document.
const maxBodyBytes = types.MaxCodeSize + 64<<10

// RoomRegistry is the read-only view of the room registry the API exposes.
type RoomRegistry interface {
	Snapshot(roomID string) types.RoomSnapshot
	Snapshots() []types.RoomSnapshot
	Stats() map[string]int
}

// Server serves the lobby, document store, room inspection and health
// endpoints, and mounts the WebSocket endpoint when one is given.
type Server struct {
	dbManager interfaces.DatabaseManager
	registry  RoomRegistry
	router    *mux.Router
	startedAt time.Time
}

// NewServer wires the routes. ws may be nil.
func NewServer(dbManager interfaces.DatabaseManager, registry RoomRegistry, ws http.Handler) *Server {
	s := &Server{
		dbManager: dbManager,
		registry:  registry,
		router:    mux.NewRouter(),
		startedAt: time.Now(),
	}

	s.setupRoutes(ws)
	return s
}

func (s *Server) setupRoutes(ws http.Handler) {
	s.router.Use(corsMiddleware)

	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if ws != nil {
		s.router.Handle("/ws", ws).Methods(http.MethodGet)
	}

	s.router.Handle("/health", jsonMiddleware(http.HandlerFunc(s.healthCheck))).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(jsonMiddleware)

	api.HandleFunc("/documents", s.listDocuments).Methods(http.MethodGet)
	api.HandleFunc("/documents", s.createDocument).Methods(http.MethodPost)
	api.HandleFunc("/documents/{id}", s.getDocument).Methods(http.MethodGet)
	api.HandleFunc("/documents/{id}", s.putDocument).Methods(http.MethodPut)

	api.HandleFunc("/rooms", s.listRooms).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{id}", s.getRoom).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type CreateDocumentRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

type UpdateDocumentRequest struct {
	Code string `json:"code"`
}

type DocumentResponse struct {
	Document *types.Document `json:"document"`
}

type ListDocumentsResponse struct {
	Documents []*types.Document `json:"documents"`
}

type ListRoomsResponse struct {
	Rooms []types.RoomSnapshot `json:"rooms"`
	Stats map[string]int       `json:"stats"`
}

type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Database  string                 `json:"database"`
	Rooms     map[string]int         `json:"rooms"`
	System    map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/documents
func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.dbManager.ListDocuments(r.Context())
	if err != nil {
		log.Printf("Failed to list documents: %v", err)
		s.sendError(w, "Failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []*types.Document{}
	}

	s.sendJSON(w, http.StatusOK, ListDocumentsResponse{Documents: docs})
}

// POST /api/documents
func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if !s.decode(w, r, &req) {
		return
	}

	doc := &types.Document{ID: req.ID, Name: req.Name, Content: req.Code}
	if err := doc.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.dbManager.CreateDocument(r.Context(), doc); err != nil {
		if errors.Is(err, interfaces.ErrDocumentExists) {
			s.sendError(w, "Document already exists", http.StatusConflict)
			return
		}
		log.Printf("Failed to create document %s: %v", doc.ID, err)
		s.sendError(w, "Failed to create document", http.StatusInternalServerError)
		return
	}

	created, err := s.dbManager.GetDocument(r.Context(), doc.ID)
	if err != nil {
		created = doc
	}
	s.sendJSON(w, http.StatusCreated, DocumentResponse{Document: created})
}

// GET /api/documents/{id}
func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !types.IsValidRoomID(id) {
		s.sendError(w, "Invalid document ID", http.StatusBadRequest)
		return
	}

	doc, err := s.dbManager.GetDocument(r.Context(), id)
	if err != nil {
		s.sendStoreError(w, id, err)
		return
	}

	s.sendJSON(w, http.StatusOK, DocumentResponse{Document: doc})
}

// PUT /api/documents/{id} writes back the content a participant left with.
func (s *Server) putDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !types.IsValidRoomID(id) {
		s.sendError(w, "Invalid document ID", http.StatusBadRequest)
		return
	}

	var req UpdateDocumentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Code) > types.MaxCodeSize {
		s.sendError(w, types.ErrContentTooLarge.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	if err := s.dbManager.PutDocumentContent(r.Context(), id, req.Code); err != nil {
		s.sendStoreError(w, id, err)
		return
	}

	doc, err := s.dbManager.GetDocument(r.Context(), id)
	if err != nil {
		s.sendStoreError(w, id, err)
		return
	}
	s.sendJSON(w, http.StatusOK, DocumentResponse{Document: doc})
}

// GET /api/rooms
func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, ListRoomsResponse{
		Rooms: s.registry.Snapshots(),
		Stats: s.registry.Stats(),
	})
}

// GET /api/rooms/{id}
func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !types.IsValidRoomID(id) {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return
	}

	s.sendJSON(w, http.StatusOK, s.registry.Snapshot(id))
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.dbManager.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Database:  dbStatus,
		Rooms:     s.registry.Stats(),
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		},
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, types.ErrContentTooLarge.Error(), http.StatusRequestEntityTooLarge)
			return false
		}
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) sendStoreError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, interfaces.ErrDocumentNotFound) {
		s.sendError(w, "Document not found", http.StatusNotFound)
		return
	}
	log.Printf("Document store error: id=%s: %v", id, err)
	s.sendError(w, "Document store unavailable", http.StatusInternalServerError)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware allows the browser client to call the API from any origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
