package session

import "errors"

// Session state errors
var (
	ErrSessionDisconnected = errors.New("session is disconnected")
	ErrUnknownEvent        = errors.New("unknown event")
	ErrMalformedFrame      = errors.New("malformed frame")
)
