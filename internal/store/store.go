package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"pollcast/pkg/interfaces"
	"pollcast/pkg/types"
)

// MutateFunc edits a working copy of a poll under the poll's exclusion.
// Returning an error discards the copy; returning ErrUnchanged skips the
// write and reports the current state.
type MutateFunc func(poll *types.Poll) error

// Store owns the authoritative in-memory poll records and writes every
// change through to the repository before it becomes visible.
// ARCHITECTURAL DISCOVERY: The map lock is only held to find an entry; all
// per-poll work happens under that entry's own lock, so a slow write for one
// poll never stalls another.
type Store struct {
	repo   interfaces.PollRepository
	clock  clockwork.Clock
	logger *slog.Logger

	mu    sync.Mutex
	polls map[string]*entry
}

// entry is the exclusion scope for one poll id
type entry struct {
	mu   sync.Mutex
	poll *types.Poll // nil until loaded from the repository
	refs int         // guarded by Store.mu
}

// New creates a store over repo. A nil clock selects the real clock.
func New(repo interfaces.PollRepository, clock clockwork.Clock, logger *slog.Logger) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:   repo,
		clock:  clock,
		logger: logger.With("component", "store"),
		polls:  make(map[string]*entry),
	}
}

// Create validates and persists a new poll, assigning fresh ids to the poll
// and each option.
func (s *Store) Create(ctx context.Context, question string, optionTexts []string) (*types.PollSnapshot, error) {
	question = strings.TrimSpace(question)
	texts := make([]string, len(optionTexts))
	for i, text := range optionTexts {
		texts[i] = strings.TrimSpace(text)
	}
	if err := types.ValidatePollInput(question, texts); err != nil {
		return nil, err
	}

	options := make([]types.Option, len(texts))
	for i, text := range texts {
		options[i] = types.Option{ID: uuid.New().String(), Text: text}
	}
	poll := types.NewPoll(uuid.New().String(), question, options, s.clock.Now().UTC())

	if err := s.repo.CreatePoll(ctx, poll.Snapshot()); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrStorage, err)
	}

	s.mu.Lock()
	s.polls[poll.ID] = &entry{poll: poll}
	s.mu.Unlock()

	s.logger.Info("poll created", "poll_id", poll.ID, "options", len(options))
	return poll.Snapshot(), nil
}

// Get returns the current snapshot of a poll.
func (s *Store) Get(ctx context.Context, pollID string) (*types.PollSnapshot, error) {
	e, err := s.acquire(ctx, pollID)
	if err != nil {
		return nil, err
	}
	defer s.release(pollID, e)

	return e.poll.Snapshot(), nil
}

// Mutate runs fn against a copy of the poll while holding the poll's
// exclusion. The copy replaces the stored record only after the repository
// accepted it, so a failed write leaves no trace.
func (s *Store) Mutate(ctx context.Context, pollID string, fn MutateFunc) (*types.PollSnapshot, error) {
	e, err := s.acquire(ctx, pollID)
	if err != nil {
		return nil, err
	}
	defer s.release(pollID, e)

	working := e.poll.Clone()
	if err := fn(working); err != nil {
		if errors.Is(err, ErrUnchanged) {
			return e.poll.Snapshot(), err
		}
		return nil, err
	}

	snapshot := working.Snapshot()
	if err := s.repo.SavePoll(ctx, snapshot); err != nil {
		s.logger.Error("failed to persist poll", "poll_id", pollID, "error", err)
		if errors.Is(err, types.ErrPollNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", types.ErrStorage, err)
	}

	e.poll = working
	return snapshot, nil
}

// ApplyVote records one vote. Checks run in a fixed order: existence, closed,
// already voted, option membership.
func (s *Store) ApplyVote(ctx context.Context, pollID, optionID, voterID string) (*types.PollSnapshot, error) {
	return s.Mutate(ctx, pollID, func(poll *types.Poll) error {
		index, err := CheckVote(poll, optionID, voterID)
		if err != nil {
			return err
		}
		poll.RecordVote(index, voterID)
		return nil
	})
}

// Close deactivates a poll. Closing a closed poll succeeds with changed set
// to false.
func (s *Store) Close(ctx context.Context, pollID string) (snapshot *types.PollSnapshot, changed bool, err error) {
	snapshot, err = s.Mutate(ctx, pollID, func(poll *types.Poll) error {
		if !poll.IsActive {
			return ErrUnchanged
		}
		poll.Close()
		return nil
	})
	if errors.Is(err, ErrUnchanged) {
		return snapshot, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("poll closed", "poll_id", pollID, "total_votes", totalVotes(snapshot))
	return snapshot, true, nil
}

// Len returns the number of cached polls.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.polls)
}

// CheckVote validates a vote against the poll's current state without
// changing it, returning the option index on success. The rate-limit check
// belongs between the already-voted and option checks and is run by the
// caller.
func CheckVote(poll *types.Poll, optionID, voterID string) (int, error) {
	if err := CheckVoter(poll, voterID); err != nil {
		return -1, err
	}
	return CheckOption(poll, optionID)
}

// CheckVoter returns ErrPollClosed or ErrAlreadyVoted.
func CheckVoter(poll *types.Poll, voterID string) error {
	if !poll.IsActive {
		return types.ErrPollClosed
	}
	if poll.HasVoted(voterID) {
		return types.ErrAlreadyVoted
	}
	return nil
}

// CheckOption returns the option index or ErrInvalidOption.
func CheckOption(poll *types.Poll, optionID string) (int, error) {
	index, ok := poll.OptionIndex(optionID)
	if !ok {
		return -1, types.ErrInvalidOption
	}
	return index, nil
}

// acquire locks the entry for pollID, loading it on first use.
func (s *Store) acquire(ctx context.Context, pollID string) (*entry, error) {
	if pollID == "" {
		return nil, types.ErrPollNotFound
	}

	s.mu.Lock()
	e, ok := s.polls[pollID]
	if !ok {
		e = &entry{}
		s.polls[pollID] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	if e.poll != nil {
		return e, nil
	}

	// TECHNICAL DISCOVERY: Loading under the entry lock means concurrent first
	// touches of the same poll issue a single repository read
	snapshot, err := s.repo.LoadPoll(ctx, pollID)
	if err != nil {
		s.release(pollID, e)
		if errors.Is(err, types.ErrPollNotFound) {
			return nil, types.ErrPollNotFound
		}
		return nil, fmt.Errorf("%w: %w", types.ErrStorage, err)
	}
	e.poll = types.PollFromSnapshot(snapshot)
	return e, nil
}

// release unlocks the entry and drops it when nobody holds it and it never
// loaded, so unknown ids do not accumulate.
func (s *Store) release(pollID string, e *entry) {
	e.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 && e.poll == nil && s.polls[pollID] == e {
		delete(s.polls, pollID)
	}
}

func totalVotes(snapshot *types.PollSnapshot) int {
	total := 0
	for _, opt := range snapshot.Options {
		total += opt.Votes
	}
	return total
}
