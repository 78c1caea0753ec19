package broadcast

import "errors"

// Room membership errors
var (
	ErrNilConnection = errors.New("connection cannot be nil")
	ErrEmptyPollID   = errors.New("poll id cannot be empty")
)
