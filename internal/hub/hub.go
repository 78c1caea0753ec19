package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"pollcast/internal/broadcast"
	"pollcast/internal/pipeline"
	"pollcast/internal/store"
	"pollcast/pkg/interfaces"
	"pollcast/pkg/types"
)

// DefaultSweepInterval is how often an in-memory limiter is swept
const DefaultSweepInterval = time.Minute

// Options configures a Hub. Zero values select defaults.
type Options struct {
	SweepInterval time.Duration
	Clock         clockwork.Clock
	Logger        *slog.Logger
}

// Hub is the real-time engine: it admits votes through the pipeline, fans
// accepted results out to poll rooms and keeps the limiter bounded.
// ARCHITECTURAL DISCOVERY: Every state change that clients must see goes
// through the hub, so each accepted vote or close is broadcast exactly once
type Hub struct {
	// Components
	polls    *store.Store
	pipeline *pipeline.Pipeline
	rooms    *broadcast.Broadcaster
	sweeper  interfaces.Sweeper // nil when the limiter expires entries itself

	sweepInterval time.Duration
	clock         clockwork.Clock
	logger        *slog.Logger

	// State
	shutdownChannel chan struct{}
	done            chan struct{}
	running         bool
	mu              sync.RWMutex
}

// NewHub wires the engine from its collaborators.
func NewHub(polls *store.Store, limiter interfaces.RateLimiter, rooms *broadcast.Broadcaster, opts Options) *Hub {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &Hub{
		polls:         polls,
		pipeline:      pipeline.New(polls, limiter, opts.Logger),
		rooms:         rooms,
		sweepInterval: opts.SweepInterval,
		clock:         opts.Clock,
		logger:        opts.Logger.With("component", "hub"),
	}
	if sweeper, ok := limiter.(interfaces.Sweeper); ok {
		h.sweeper = sweeper
	}
	return h
}

// Start begins background maintenance
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	h.logger.Info("starting hub", "sweep_interval", h.sweepInterval, "sweeper", h.sweeper != nil)
	go h.run(ctx, h.shutdownChannel, h.done)
	return nil
}

// Stop halts background maintenance and waits for the loop to exit. Votes
// are refused once the hub is stopped.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info("hub stopped")
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// HandleVote admits one vote. An accepted vote is broadcast to the poll's
// room before HandleVote returns; a rejected one is returned to the caller
// only.
func (h *Hub) HandleVote(ctx context.Context, event types.VoteEvent) (*types.PollSnapshot, error) {
	if !h.IsRunning() {
		return nil, fmt.Errorf("%w: %w", types.ErrStorage, ErrHubNotRunning)
	}

	snapshot, err := h.pipeline.HandleVote(ctx, event)
	if err != nil {
		return nil, err
	}

	delivered := h.rooms.Broadcast(event.PollID, types.PollUpdate(snapshot))
	h.logger.Debug("vote broadcast", "poll_id", event.PollID, "delivered", delivered)
	return snapshot, nil
}

// ClosePoll deactivates a poll and broadcasts the closed snapshot. Closing
// an already closed poll succeeds without a broadcast.
func (h *Hub) ClosePoll(ctx context.Context, pollID string) (*types.PollSnapshot, error) {
	snapshot, changed, err := h.polls.Close(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if changed {
		delivered := h.rooms.Broadcast(pollID, types.PollUpdate(snapshot))
		h.logger.Info("poll close broadcast", "poll_id", pollID, "delivered", delivered)
	}
	return snapshot, nil
}

// CreatePoll creates a new active poll.
func (h *Hub) CreatePoll(ctx context.Context, question string, options []string) (*types.PollSnapshot, error) {
	return h.polls.Create(ctx, question, options)
}

// GetPoll returns the current snapshot of a poll.
func (h *Hub) GetPoll(ctx context.Context, pollID string) (*types.PollSnapshot, error) {
	return h.polls.Get(ctx, pollID)
}

// Join subscribes conn to pollID's room and returns the snapshot the
// joining client starts from. Unknown polls are not joined.
func (h *Hub) Join(ctx context.Context, pollID string, conn interfaces.Connection) (*types.PollSnapshot, error) {
	snapshot, err := h.polls.Get(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if err := h.rooms.Join(pollID, conn); err != nil {
		return nil, err
	}
	h.logger.Info("connection joined poll", "poll_id", pollID, "connection_id", conn.ID())
	return snapshot, nil
}

// Leave drops every room membership held by conn.
func (h *Hub) Leave(conn interfaces.Connection) {
	h.rooms.LeaveAll(conn)
}

// Stats returns room counters for monitoring.
func (h *Hub) Stats() map[string]int {
	stats := h.rooms.Stats()
	stats["cached_polls"] = h.polls.Len()
	return stats
}

// run is the maintenance loop
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := h.clock.NewTicker(h.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			h.sweep()

		case <-shutdown:
			h.logger.Info("hub shutdown requested")
			return

		case <-ctx.Done():
			h.logger.Info("hub context cancelled")
			return
		}
	}
}

func (h *Hub) sweep() {
	if h.sweeper == nil {
		return
	}
	if removed := h.sweeper.Sweep(); removed > 0 {
		h.logger.Debug("rate limit entries swept", "removed", removed)
	}
}
