package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilParticipant = errors.New("participant cannot be nil")
	ErrRoomNotFound   = errors.New("room not found")
	ErrNotMentor      = errors.New("participant does not hold the mentor seat")
)
