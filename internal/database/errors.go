package database

import "errors"

var (
	ErrManagerClosed       = errors.New("database manager is closed")
	ErrManagerShutdown     = errors.New("database manager is shutting down")
	ErrWriteTimeout        = errors.New("write operation timeout")
	ErrOptionSetMismatch   = errors.New("snapshot options do not match stored options")
	ErrVoterHistoryRewrite = errors.New("snapshot voters do not extend stored voters")
)
