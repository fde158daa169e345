package client

import "errors"

var (
	ErrReadOnly         = errors.New("session is read-only: only the mentor may edit")
	ErrNotJoined        = errors.New("session has not joined a room")
	ErrAlreadyJoined    = errors.New("session already joined a room")
	ErrSessionLeft      = errors.New("session has left its room")
	ErrNilTransport     = errors.New("transport cannot be nil")
	ErrNilTokenCache    = errors.New("token cache cannot be nil")
	ErrTransportClosed  = errors.New("transport closed")
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)
