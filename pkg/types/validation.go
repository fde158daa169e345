package types

import (
	"regexp"
)

// MaxCodeSize bounds a single change_code payload.
const MaxCodeSize = 1 << 20

var roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks the envelope of an inbound client message. Fields that
// only matter for outbound events are ignored.
func (m *Message) Validate() error {
	if !IsInboundMessageType(m.Type) {
		return ErrInvalidMessageType
	}

	switch m.Type {
	case MessageTypeJoinRoom, MessageTypeLeaveRoom, MessageTypeChangeCode:
		if !IsValidRoomID(m.RoomID) {
			return ErrInvalidRoomID
		}
	case MessageTypeUsersCount:
		// room is optional, defaults to the joined room
		if m.RoomID != "" && !IsValidRoomID(m.RoomID) {
			return ErrInvalidRoomID
		}
	}

	if len(m.Code) > MaxCodeSize {
		return ErrContentTooLarge
	}
	return nil
}

// Validate ensures the document can be stored.
func (d *Document) Validate() error {
	if !IsValidRoomID(d.ID) {
		return ErrInvalidDocumentID
	}
	if len(d.Name) < 1 || len(d.Name) > 200 {
		return ErrInvalidDocumentName
	}
	if len(d.Content) > MaxCodeSize {
		return ErrContentTooLarge
	}
	return nil
}

// IsValidRoomID checks room and document identifiers; a room is keyed by
// the document it edits so both share one format.
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 100 {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

// IsInboundMessageType reports whether clients may send msgType.
func IsInboundMessageType(msgType string) bool {
	switch msgType {
	case MessageTypeJoinRoom,
		MessageTypeLeaveRoom,
		MessageTypeUsersCount,
		MessageTypeSocketID,
		MessageTypeChangeCode:
		return true
	default:
		return false
	}
}

// IsValidRole checks a role string received over the wire.
func IsValidRole(role Role) bool {
	return role == RoleMentor || role == RoleStudent
}
