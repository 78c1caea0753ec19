package interfaces

import (
	"context"

	"pollcast/pkg/types"
)

// PollRepository is the persistence collaborator behind the poll store.
// It is a key-value store keyed by poll id; how it stores records is not
// the engine's concern.
type PollRepository interface {
	// CreatePoll persists a freshly created poll.
	CreatePoll(ctx context.Context, poll *types.PollSnapshot) error

	// LoadPoll returns the stored snapshot or types.ErrPollNotFound.
	LoadPoll(ctx context.Context, pollID string) (*types.PollSnapshot, error)

	// SavePoll writes the whole snapshot atomically: tallies, voters and the
	// active flag either all land or none do.
	SavePoll(ctx context.Context, poll *types.PollSnapshot) error

	// HealthCheck verifies connectivity.
	HealthCheck(ctx context.Context) error

	// Close releases all resources.
	Close() error
}
