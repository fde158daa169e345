package types

import (
	"time"
)

// Wire event names. Inbound (client to server) and outbound (server to
// client) events share one namespace so a single envelope carries both.
const (
	MessageTypeJoinRoom          = "join_room"
	MessageTypeLeaveRoom         = "leave_room"
	MessageTypeUsersCount        = "users_count"
	MessageTypeReceiveUsersCount = "receive_users_count"
	MessageTypeSocketID          = "socket_id"
	MessageTypeReceiveSocketID   = "receive_socket_id"
	MessageTypeChangeCode        = "change_code"
	MessageTypeReceiveCodeChange = "receive_code_change"
	MessageTypeRoleAssigned      = "role_assigned"
	MessageTypeError             = "error"
)

// Role is the permission a participant holds inside a room.
type Role string

const (
	RoleMentor  Role = "mentor"
	RoleStudent Role = "student"
)

// CanWrite reports whether the role may publish document changes.
func (r Role) CanWrite() bool {
	return r == RoleMentor
}

// Message is the JSON envelope exchanged over the WebSocket.
// Only the fields relevant to Type are populated.
type Message struct {
	Type        string    `json:"type"`
	RoomID      string    `json:"room_id,omitempty"`
	Code        string    `json:"code,omitempty"`
	Token       string    `json:"token,omitempty"`
	Role        Role      `json:"role,omitempty"`
	Fence       uint64    `json:"fence,omitempty"`
	OnlineUsers int       `json:"online_users,omitempty"`
	ID          string    `json:"id,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Document is a named code block. Content is the source text shown in the
// room; ContentHash lets the store skip redundant write-backs.
type Document struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Content     string    `json:"code" db:"content"`
	ContentHash string    `json:"content_hash,omitempty" db:"content_hash"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// MentorClaim records the token last issued to a room's mentor together
// with the fencing counter it was issued under.
type MentorClaim struct {
	RoomID   string    `json:"room_id" db:"room_id"`
	Token    string    `json:"token" db:"token"`
	Fence    uint64    `json:"fence" db:"fence"`
	IssuedAt time.Time `json:"issued_at" db:"issued_at"`
}

// RoomSnapshot is a point-in-time view of one room's occupancy.
type RoomSnapshot struct {
	RoomID      string `json:"room_id"`
	OnlineUsers int    `json:"online_users"`
	HasMentor   bool   `json:"has_mentor"`
}
