package store

import "errors"

// ErrUnchanged is returned by a MutateFunc that decided no write is needed
var ErrUnchanged = errors.New("poll unchanged")
