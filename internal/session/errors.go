package session

import "errors"

var (
	ErrClaimNotFound = errors.New("no mentor claim recorded for room")
	ErrInvalidClaim  = errors.New("mentor claim must carry room ID, token and positive fence")
)
