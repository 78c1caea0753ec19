package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pollcast/internal/store"
	"pollcast/pkg/interfaces"
	"pollcast/pkg/types"
)

// PollMutator is the part of the poll store the pipeline needs
type PollMutator interface {
	Mutate(ctx context.Context, pollID string, fn store.MutateFunc) (*types.PollSnapshot, error)
}

// Pipeline admits or rejects vote events. Checks short-circuit in order:
// poll exists, poll active, voter new, rate limit, option valid.
// ARCHITECTURAL DISCOVERY: All five checks and the mutation run inside one
// Mutate call, so they form a single atomic unit per poll
type Pipeline struct {
	polls   PollMutator
	limiter interfaces.RateLimiter
	logger  *slog.Logger
}

// New creates a pipeline over the given store and limiter.
func New(polls PollMutator, limiter interfaces.RateLimiter, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		polls:   polls,
		limiter: limiter,
		logger:  logger.With("component", "pipeline"),
	}
}

// HandleVote runs the admission checks and applies the vote. On success it
// returns the updated snapshot; otherwise the error maps to a wire reason
// through types.ReasonFor.
func (p *Pipeline) HandleVote(ctx context.Context, event types.VoteEvent) (*types.PollSnapshot, error) {
	if err := event.Validate(); err != nil {
		p.reject(event, err)
		return nil, err
	}

	snapshot, err := p.polls.Mutate(ctx, event.PollID, func(poll *types.Poll) error {
		if err := store.CheckVoter(poll, event.VoterID); err != nil {
			return err
		}

		// FUNCTIONAL DISCOVERY: The limiter runs after the pure lookups so
		// duplicates never touch its state. An admitted attempt that then
		// names a bad option has still used its window.
		allowed, err := p.limiter.Admit(ctx, event.PollID, event.SourceAddress)
		if err != nil {
			return fmt.Errorf("%w: rate limiter: %w", types.ErrStorage, err)
		}
		if !allowed {
			return types.ErrRateLimited
		}

		index, err := store.CheckOption(poll, event.OptionID)
		if err != nil {
			return err
		}
		poll.RecordVote(index, event.VoterID)
		return nil
	})
	if err != nil {
		p.reject(event, err)
		return nil, err
	}

	p.logger.Debug("vote accepted",
		"poll_id", event.PollID,
		"option_id", event.OptionID,
		"voters", len(snapshot.Voters))
	return snapshot, nil
}

func (p *Pipeline) reject(event types.VoteEvent, err error) {
	reason := types.ReasonFor(err)
	if reason == types.ReasonStorageError {
		p.logger.Error("vote failed", "poll_id", event.PollID, "error", err)
		return
	}
	if errors.Is(err, types.ErrRateLimited) {
		p.logger.Info("vote rejected", "poll_id", event.PollID, "reason", reason, "source", event.SourceAddress)
		return
	}
	p.logger.Info("vote rejected", "poll_id", event.PollID, "reason", reason)
}
