package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"pollcast/pkg/interfaces"
	"pollcast/pkg/types"
)

// State is the position of a session in its lifecycle
type State int

const (
	StateConnected State = iota
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Engine is what a session drives. The hub implements it.
type Engine interface {
	Join(ctx context.Context, pollID string, conn interfaces.Connection) (*types.PollSnapshot, error)
	HandleVote(ctx context.Context, event types.VoteEvent) (*types.PollSnapshot, error)
	Leave(conn interfaces.Connection)
}

// Session is the per-client state machine:
// Connected -> Joined(pollID) -> Disconnected. Re-joining replaces the
// current room. Disconnected is terminal.
// FUNCTIONAL DISCOVERY: Rejections are answered on this connection only;
// accepted votes reach the client through the room broadcast
type Session struct {
	conn   interfaces.Connection
	engine Engine
	logger *slog.Logger

	mu     sync.Mutex
	state  State
	pollID string
}

// New creates a session in the Connected state.
func New(conn interfaces.Connection, engine Engine, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		conn:   conn,
		engine: engine,
		logger: logger.With("component", "session", "connection_id", conn.ID()),
		state:  StateConnected,
	}
}

// State returns the current state and joined poll id.
func (s *Session) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.pollID
}

// HandleFrame decodes one inbound frame and dispatches it. Malformed frames
// and unknown events are answered with an error frame.
func (s *Session) HandleFrame(ctx context.Context, raw []byte) error {
	var envelope types.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.send(types.ProtocolError(types.ReasonBadRequest))
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch envelope.Event {
	case types.EventJoinPoll:
		var pollID string
		if err := json.Unmarshal(envelope.Data, &pollID); err != nil {
			s.send(types.ProtocolError(types.ReasonBadRequest))
			return fmt.Errorf("%w: join_poll data must be a poll id string", ErrMalformedFrame)
		}
		return s.Join(ctx, pollID)

	case types.EventVote:
		var event types.VoteEvent
		if err := json.Unmarshal(envelope.Data, &event); err != nil {
			s.send(types.ProtocolError(types.ReasonBadRequest))
			return fmt.Errorf("%w: vote data: %v", ErrMalformedFrame, err)
		}
		return s.Vote(ctx, event)

	default:
		s.send(types.ProtocolError(types.ReasonBadRequest))
		return fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Event)
	}
}

// Join subscribes the session to pollID's room and sends it the current
// snapshot. A failed join leaves the session where it was.
func (s *Session) Join(ctx context.Context, pollID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return ErrSessionDisconnected
	}

	snapshot, err := s.engine.Join(ctx, pollID, s.conn)
	if err != nil {
		reason := types.ReasonFor(err)
		s.logger.Info("join rejected", "poll_id", pollID, "reason", reason)
		s.send(types.JoinError(reason))
		return err
	}

	s.state = StateJoined
	s.pollID = pollID
	s.send(types.PollUpdate(snapshot))
	return nil
}

// Vote forwards a vote to the engine. The source address always comes from
// the connection, never from the client payload.
func (s *Session) Vote(ctx context.Context, event types.VoteEvent) error {
	s.mu.Lock()
	disconnected := s.state == StateDisconnected
	s.mu.Unlock()
	if disconnected {
		return ErrSessionDisconnected
	}

	event.SourceAddress = s.conn.RemoteAddr()
	if _, err := s.engine.HandleVote(ctx, event); err != nil {
		s.send(types.VoteError(types.ReasonFor(err)))
		return err
	}
	return nil
}

// Disconnect moves the session to its terminal state and drops its room
// membership. Safe to call more than once.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return
	}
	s.state = StateDisconnected
	s.pollID = ""
	s.engine.Leave(s.conn)
	s.logger.Info("session disconnected")
}

func (s *Session) send(msg *types.OutboundMessage) {
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Warn("failed to send frame", "event", msg.Event, "error", err)
	}
}
