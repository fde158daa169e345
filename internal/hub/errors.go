package hub

import "errors"

var (
	ErrHubAlreadyRunning  = errors.New("hub is already running")
	ErrHubNotRunning      = errors.New("hub is not running")
	ErrMessageChannelFull = errors.New("message channel is full")
	ErrNilConnection      = errors.New("connection cannot be nil")
	ErrNilMessage         = errors.New("message cannot be nil")
)
