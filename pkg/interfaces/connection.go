package interfaces

import "mentorsync/pkg/types"

// Participant is the narrow view of a connection the room registry and the
// relay need: an identity and an ordered outbound queue.
type Participant interface {
	// GetID returns the connection identifier. It doubles as the mentor
	// token source.
	GetID() string

	// WriteJSON queues v for delivery. Implementations must preserve the
	// order of successive calls and must not block on a slow peer.
	WriteJSON(v interface{}) error
}

// Connection is a live client connection with its room membership.
type Connection interface {
	Participant

	// Close closes the connection and releases its resources.
	Close() error

	// GetRoomID returns the room the connection has joined, or "".
	GetRoomID() string

	// GetRole returns the role assigned at join time.
	GetRole() types.Role

	// GetFence returns the fencing counter the mentor seat was granted under.
	GetFence() uint64

	// SetMembership records the result of a join.
	SetMembership(roomID string, role types.Role, fence uint64)

	// ClearMembership forgets the current room.
	ClearMembership()
}
