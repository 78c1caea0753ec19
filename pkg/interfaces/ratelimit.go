package interfaces

import "context"

// RateLimiter decides whether a source address may cast an accepted vote on
// a poll right now. A rejected attempt must leave the window untouched.
type RateLimiter interface {
	Admit(ctx context.Context, pollID, sourceAddress string) (bool, error)
}

// Sweeper is implemented by limiters that hold expiring state in process
// memory and need periodic eviction.
type Sweeper interface {
	Sweep() int
}
