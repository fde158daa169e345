package router

import "errors"

var (
	ErrUnauthorizedWrite = errors.New("sender does not hold the mentor seat")
	ErrRateLimitExceeded = errors.New("rate limit exceeded, change held until the window reopens")
	ErrNilSource         = errors.New("source connection cannot be nil")
)
