package types

import "errors"

var (
	ErrInvalidRoomID       = errors.New("room ID must be 1-100 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidMessageType  = errors.New("invalid message type")
	ErrContentTooLarge     = errors.New("code exceeds 1MB limit")
	ErrInvalidDocumentID   = errors.New("document ID must be 1-100 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidDocumentName = errors.New("document name must be 1-200 characters")
)
