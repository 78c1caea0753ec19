package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"pollcast/pkg/interfaces"
	"pollcast/pkg/types"
)

// mockConnection captures outbound frames as JSON
type mockConnection struct {
	mu     sync.Mutex
	frames []string
}

func (c *mockConnection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, string(data))
	return nil
}

func (c *mockConnection) Close() error       { return nil }
func (c *mockConnection) ID() string         { return "conn1" }
func (c *mockConnection) RemoteAddr() string { return "203.0.113.7" }

func (c *mockConnection) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return ""
	}
	return c.frames[len(c.frames)-1]
}

func (c *mockConnection) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// mockEngine records calls and returns canned results
type mockEngine struct {
	mu      sync.Mutex
	polls   map[string]*types.PollSnapshot
	voteErr error
	votes   []types.VoteEvent
	joins   []string
	leaves  int
}

func newMockEngine() *mockEngine {
	return &mockEngine{polls: map[string]*types.PollSnapshot{
		"poll1": {ID: "poll1", Question: "Q?", Options: []types.Option{}, Voters: []string{}, IsActive: true},
		"poll2": {ID: "poll2", Question: "R?", Options: []types.Option{}, Voters: []string{}, IsActive: true},
	}}
}

func (e *mockEngine) Join(ctx context.Context, pollID string, conn interfaces.Connection) (*types.PollSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	poll, ok := e.polls[pollID]
	if !ok {
		return nil, types.ErrPollNotFound
	}
	e.joins = append(e.joins, pollID)
	return poll, nil
}

func (e *mockEngine) HandleVote(ctx context.Context, event types.VoteEvent) (*types.PollSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.votes = append(e.votes, event)
	if e.voteErr != nil {
		return nil, e.voteErr
	}
	return e.polls[event.PollID], nil
}

func (e *mockEngine) Leave(conn interfaces.Connection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leaves++
}

func setupSession(t *testing.T) (*Session, *mockConnection, *mockEngine) {
	t.Helper()
	conn := &mockConnection{}
	engine := newMockEngine()
	return New(conn, engine, nil), conn, engine
}

func TestSession_StartsConnected(t *testing.T) {
	s, _, _ := setupSession(t)
	if state, poll := s.State(); state != StateConnected || poll != "" {
		t.Errorf("Expected connected with no poll, got %s %q", state, poll)
	}
}

func TestSession_JoinSendsSnapshot(t *testing.T) {
	s, conn, _ := setupSession(t)

	if err := s.HandleFrame(context.Background(), []byte(`{"event":"join_poll","data":"poll1"}`)); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if state, poll := s.State(); state != StateJoined || poll != "poll1" {
		t.Errorf("Expected joined poll1, got %s %q", state, poll)
	}

	var frame struct {
		Event string             `json:"event"`
		Data  types.PollSnapshot `json:"data"`
	}
	if err := json.Unmarshal([]byte(conn.last()), &frame); err != nil {
		t.Fatalf("Bad frame: %v", err)
	}
	if frame.Event != types.EventPollUpdate || frame.Data.ID != "poll1" {
		t.Errorf("Expected poll_update for poll1, got %s", conn.last())
	}
}

func TestSession_RejoinReplacesRoom(t *testing.T) {
	s, _, engine := setupSession(t)
	ctx := context.Background()

	_ = s.Join(ctx, "poll1")
	_ = s.Join(ctx, "poll2")

	if _, poll := s.State(); poll != "poll2" {
		t.Errorf("Expected poll2 after re-join, got %q", poll)
	}
	if len(engine.joins) != 2 {
		t.Errorf("Expected two engine joins, got %d", len(engine.joins))
	}
}

func TestSession_JoinUnknownPollKeepsState(t *testing.T) {
	s, conn, _ := setupSession(t)
	ctx := context.Background()
	_ = s.Join(ctx, "poll1")

	err := s.HandleFrame(ctx, []byte(`{"event":"join_poll","data":"ghost"}`))
	if !errors.Is(err, types.ErrPollNotFound) {
		t.Errorf("Expected ErrPollNotFound, got %v", err)
	}
	if conn.last() != `{"event":"join_error","data":"poll_not_found"}` {
		t.Errorf("Unexpected frame: %s", conn.last())
	}
	if state, poll := s.State(); state != StateJoined || poll != "poll1" {
		t.Errorf("Failed join should keep the previous room, got %s %q", state, poll)
	}
}

func TestSession_VoteUsesConnectionAddress(t *testing.T) {
	s, conn, engine := setupSession(t)

	frame := `{"event":"vote","data":{"pollId":"poll1","optionId":"o1","voterId":"v1","SourceAddress":"1.2.3.4"}}`
	if err := s.HandleFrame(context.Background(), []byte(frame)); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}

	if len(engine.votes) != 1 {
		t.Fatalf("Expected one vote, got %d", len(engine.votes))
	}
	got := engine.votes[0]
	if got.PollID != "poll1" || got.OptionID != "o1" || got.VoterID != "v1" {
		t.Errorf("Vote fields lost: %+v", got)
	}
	if got.SourceAddress != "203.0.113.7" {
		t.Errorf("Source address must come from the connection, got %q", got.SourceAddress)
	}
	if conn.count() != 0 {
		t.Error("Accepted vote should not be answered directly")
	}
}

func TestSession_VoteRejectionIsUnicast(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{types.ErrPollNotFound, `{"event":"vote_error","data":"poll_not_found"}`},
		{types.ErrPollClosed, `{"event":"vote_error","data":"poll_closed"}`},
		{types.ErrAlreadyVoted, `{"event":"vote_error","data":"already_voted"}`},
		{types.ErrRateLimited, `{"event":"vote_error","data":"rate_limited"}`},
		{types.ErrInvalidOption, `{"event":"vote_error","data":"invalid_option"}`},
		{errors.New("disk full"), `{"event":"vote_error","data":"storage_error"}`},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			s, conn, engine := setupSession(t)
			engine.voteErr = tt.err

			err := s.Vote(context.Background(), types.VoteEvent{PollID: "poll1", OptionID: "o1", VoterID: "v1"})
			if !errors.Is(err, tt.err) {
				t.Errorf("Expected %v, got %v", tt.err, err)
			}
			if conn.last() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, conn.last())
			}
		})
	}
}

func TestSession_BadFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `{{{`, ErrMalformedFrame},
		{"unknown event", `{"event":"dance","data":1}`, ErrUnknownEvent},
		{"join with object", `{"event":"join_poll","data":{"id":"poll1"}}`, ErrMalformedFrame},
		{"vote with string", `{"event":"vote","data":"poll1"}`, ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, conn, _ := setupSession(t)
			err := s.HandleFrame(context.Background(), []byte(tt.frame))
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if conn.last() != `{"event":"error","data":"bad_request"}` {
				t.Errorf("Expected bad_request frame, got %s", conn.last())
			}
			if state, _ := s.State(); state != StateConnected {
				t.Errorf("Bad frame should not change state, got %s", state)
			}
		})
	}
}

func TestSession_DisconnectIsTerminal(t *testing.T) {
	s, _, engine := setupSession(t)
	ctx := context.Background()
	_ = s.Join(ctx, "poll1")

	s.Disconnect()
	s.Disconnect()

	if engine.leaves != 1 {
		t.Errorf("Expected one leave, got %d", engine.leaves)
	}
	if state, poll := s.State(); state != StateDisconnected || poll != "" {
		t.Errorf("Expected disconnected, got %s %q", state, poll)
	}
	if err := s.Join(ctx, "poll1"); !errors.Is(err, ErrSessionDisconnected) {
		t.Errorf("Expected ErrSessionDisconnected on join, got %v", err)
	}
	if err := s.Vote(ctx, types.VoteEvent{PollID: "poll1"}); !errors.Is(err, ErrSessionDisconnected) {
		t.Errorf("Expected ErrSessionDisconnected on vote, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	if StateJoined.String() != "joined" || State(9).String() != "state(9)" {
		t.Error("Unexpected state names")
	}
}
