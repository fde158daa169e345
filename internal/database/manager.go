package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/mattn/go-sqlite3"

	dbconfig "mentorsync/pkg/database"
	"mentorsync/pkg/interfaces"
	"mentorsync/pkg/types"
)

// Manager implements interfaces.DatabaseManager on SQLite. Reads run
// concurrently on the pool; writes are funnelled through one goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // protects closed
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations and starts the writer.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	if dir := filepath.Dir(config.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)

		case <-m.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	}
}

// ContentHash returns the digest stored next to document content.
func ContentHash(content string) string {
	return strconv.FormatUint(xxhash.Sum64String(content), 16)
}

// CreateDocument inserts a new document.
func (m *Manager) CreateDocument(ctx context.Context, doc *types.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	doc.ContentHash = ContentHash(doc.Content)
	doc.CreatedAt = now
	doc.UpdatedAt = now

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO documents (id, name, content, content_hash, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, doc.ID, doc.Name, doc.Content, doc.ContentHash, doc.CreatedAt, doc.UpdatedAt)
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				return interfaces.ErrDocumentExists
			}
			return fmt.Errorf("failed to insert document: %w", err)
		}
		return nil
	})
}

// GetDocument retrieves a document by ID
func (m *Manager) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, name, content, content_hash, created_at, updated_at
		FROM documents
		WHERE id = ?
	`, id)

	var doc types.Document
	err := row.Scan(&doc.ID, &doc.Name, &doc.Content, &doc.ContentHash, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to query document: %w", err)
	}

	return &doc, nil
}

// ListDocuments returns every document ordered by name, for the lobby.
func (m *Manager) ListDocuments(ctx context.Context) ([]*types.Document, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, content, content_hash, created_at, updated_at
		FROM documents
		ORDER BY name ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*types.Document
	for rows.Next() {
		var doc types.Document
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.Content, &doc.ContentHash, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		docs = append(docs, &doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating document rows: %w", err)
	}

	return docs, nil
}

// PutDocumentContent writes back content for an existing document. The
// write is skipped when the stored hash already matches.
func (m *Manager) PutDocumentContent(ctx context.Context, id, content string) error {
	if len(content) > types.MaxCodeSize {
		return types.ErrContentTooLarge
	}

	hash := ContentHash(content)

	return m.executeWrite(ctx, func(db *sql.DB) error {
		var current string
		err := db.QueryRowContext(ctx, "SELECT content_hash FROM documents WHERE id = ?", id).Scan(&current)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return interfaces.ErrDocumentNotFound
			}
			return fmt.Errorf("failed to read document hash: %w", err)
		}
		if current == hash {
			return nil
		}

		_, err = db.ExecContext(ctx, `
			UPDATE documents
			SET content = ?, content_hash = ?, updated_at = ?
			WHERE id = ?
		`, content, hash, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to update document: %w", err)
		}
		return nil
	})
}

// SaveMentorClaim upserts the claim for a room.
func (m *Manager) SaveMentorClaim(ctx context.Context, claim *types.MentorClaim) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO mentor_claims (room_id, token, fence, issued_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(room_id) DO UPDATE SET
				token = excluded.token,
				fence = excluded.fence,
				issued_at = excluded.issued_at
		`, claim.RoomID, claim.Token, int64(claim.Fence), claim.IssuedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to save mentor claim: %w", err)
		}
		return nil
	})
}

// ListMentorClaims returns every recorded claim.
func (m *Manager) ListMentorClaims(ctx context.Context) ([]*types.MentorClaim, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT room_id, token, fence, issued_at
		FROM mentor_claims
		ORDER BY room_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query mentor claims: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var claims []*types.MentorClaim
	for rows.Next() {
		var claim types.MentorClaim
		var fence int64
		if err := rows.Scan(&claim.RoomID, &claim.Token, &fence, &claim.IssuedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mentor claim row: %w", err)
		}
		claim.Fence = uint64(fence)
		claims = append(claims, &claim)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mentor claim rows: %w", err)
	}

	return claims, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	return nil
}
