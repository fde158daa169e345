package interfaces

import (
	"context"

	"mentorsync/pkg/types"
)

// DocumentStore is the get/put store that seeds a room's initial content
// and receives the final content when a participant leaves.
type DocumentStore interface {
	// GetDocument returns ErrDocumentNotFound for unknown ids.
	GetDocument(ctx context.Context, id string) (*types.Document, error)

	// PutDocumentContent replaces the stored content. Writing the content
	// that is already stored is a no-op.
	PutDocumentContent(ctx context.Context, id, content string) error
}

// ClaimStore persists mentor claims so tokens survive a server restart.
type ClaimStore interface {
	SaveMentorClaim(ctx context.Context, claim *types.MentorClaim) error
	ListMentorClaims(ctx context.Context) ([]*types.MentorClaim, error)
}

// DatabaseManager handles all database operations.
type DatabaseManager interface {
	DocumentStore
	ClaimStore

	CreateDocument(ctx context.Context, doc *types.Document) error
	ListDocuments(ctx context.Context) ([]*types.Document, error)

	// HealthCheck verifies connectivity and a basic read.
	HealthCheck(ctx context.Context) error

	Close() error
}
