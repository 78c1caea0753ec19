package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"pollcast/pkg/types"
)

// Mock implementations for testing

type mockPollService struct {
	mu       sync.Mutex
	polls    map[string]*types.PollSnapshot
	closed   []string
	failWith error
}

func newMockPollService() *mockPollService {
	return &mockPollService{polls: make(map[string]*types.PollSnapshot)}
}

func (m *mockPollService) CreatePoll(ctx context.Context, question string, options []string) (*types.PollSnapshot, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	if err := types.ValidatePollInput(question, options); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	poll := &types.PollSnapshot{
		ID:       fmt.Sprintf("poll-%d", len(m.polls)+1),
		Question: question,
		Voters:   []string{},
		IsActive: true,
	}
	for i, text := range options {
		poll.Options = append(poll.Options, types.Option{ID: fmt.Sprintf("opt-%d", i), Text: text})
	}
	m.polls[poll.ID] = poll
	return poll, nil
}

func (m *mockPollService) GetPoll(ctx context.Context, pollID string) (*types.PollSnapshot, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	poll, ok := m.polls[pollID]
	if !ok {
		return nil, types.ErrPollNotFound
	}
	return poll, nil
}

func (m *mockPollService) ClosePoll(ctx context.Context, pollID string) (*types.PollSnapshot, error) {
	poll, err := m.GetPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	poll.IsActive = false
	m.closed = append(m.closed, pollID)
	return poll, nil
}

func (m *mockPollService) Stats() map[string]int {
	return map[string]int{"joined_connections": 3, "active_rooms": 1}
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(ctx context.Context) error { return m.err }

func setupServer() (*Server, *mockPollService, *mockHealthChecker) {
	polls := newMockPollService()
	health := &mockHealthChecker{}
	return NewServer(polls, health, "", nil), polls, health
}

func do(server *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	server.ServeHTTP(w, req)
	return w
}

func TestServer_CreatePoll(t *testing.T) {
	server, _, _ := setupServer()

	w := do(server, http.MethodPost, "/api/polls", `{"question":"Pizza or Tacos?","options":["Pizza","Tacos"]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	var poll types.PollSnapshot
	if err := json.NewDecoder(w.Body).Decode(&poll); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if poll.ID == "" || len(poll.Options) != 2 || !poll.IsActive {
		t.Errorf("Unexpected poll: %+v", poll)
	}
}

func TestServer_CreatePollValidation(t *testing.T) {
	server, _, _ := setupServer()

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", `{"question":`, http.StatusBadRequest},
		{"missing question", `{"options":["a","b"]}`, http.StatusBadRequest},
		{"one option", `{"question":"q","options":["a"]}`, http.StatusBadRequest},
		{"eleven options", `{"question":"q","options":["1","2","3","4","5","6","7","8","9","10","11"]}`, http.StatusBadRequest},
		{"blank option", `{"question":"q","options":["a",""]}`, http.StatusBadRequest},
		{"long option", `{"question":"q","options":["a","` + strings.Repeat("x", 101) + `"]}`, http.StatusBadRequest},
		{"ten options", `{"question":"q","options":["1","2","3","4","5","6","7","8","9","10"]}`, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(server, http.MethodPost, "/api/polls", tt.body)
			if w.Code != tt.code {
				t.Errorf("Expected status %d, got %d: %s", tt.code, w.Code, w.Body)
			}
		})
	}
}

func TestServer_CreatePollStorageFailure(t *testing.T) {
	server, polls, _ := setupServer()
	polls.failWith = fmt.Errorf("%w: disk full", types.ErrStorage)

	w := do(server, http.MethodPost, "/api/polls", `{"question":"q","options":["a","b"]}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}

	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	if resp.Code != http.StatusInternalServerError || strings.Contains(resp.Message, "disk full") {
		t.Errorf("Internal error details should not leak: %+v", resp)
	}
}

func TestServer_GetPoll(t *testing.T) {
	server, polls, _ := setupServer()
	created, _ := polls.CreatePoll(context.Background(), "q", []string{"a", "b"})

	w := do(server, http.MethodGet, "/api/polls/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var poll types.PollSnapshot
	if err := json.NewDecoder(w.Body).Decode(&poll); err != nil || poll.ID != created.ID {
		t.Errorf("Unexpected poll %+v (%v)", poll, err)
	}

	if w := do(server, http.MethodGet, "/api/polls/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d for missing poll, got %d", http.StatusNotFound, w.Code)
	}
}

func TestServer_GetPollStorageFailure(t *testing.T) {
	server, polls, _ := setupServer()
	polls.failWith = errors.New("connection refused")

	if w := do(server, http.MethodGet, "/api/polls/p1", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
}

func TestServer_ClosePoll(t *testing.T) {
	server, polls, _ := setupServer()
	created, _ := polls.CreatePoll(context.Background(), "q", []string{"a", "b"})

	w := do(server, http.MethodPost, "/api/polls/"+created.ID+"/close", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	var resp ClosePollResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Poll == nil || resp.Poll.IsActive {
		t.Errorf("Expected closed poll in response, got %+v", resp.Poll)
	}
	if len(polls.closed) != 1 || polls.closed[0] != created.ID {
		t.Errorf("ClosePoll not forwarded: %v", polls.closed)
	}

	if w := do(server, http.MethodPost, "/api/polls/missing/close", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d for missing poll, got %d", http.StatusNotFound, w.Code)
	}
}

func TestServer_Health(t *testing.T) {
	server, _, health := setupServer()

	w := do(server, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if resp.Status != "healthy" || resp.Rooms["joined_connections"] != 3 {
		t.Errorf("Unexpected health response: %+v", resp)
	}

	health.err = errors.New("database is locked")
	if w := do(server, http.MethodGet, "/health", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d when unhealthy, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestServer_CORS(t *testing.T) {
	polls := newMockPollService()
	server := NewServer(polls, &mockHealthChecker{}, "https://polls.example.com", nil)

	w := do(server, http.MethodOptions, "/api/polls", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected preflight status %d, got %d", http.StatusOK, w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://polls.example.com" {
		t.Errorf("Expected configured origin, got %q", got)
	}

	w = do(server, http.MethodGet, "/health", "")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://polls.example.com" {
		t.Errorf("Expected CORS header on regular request, got %q", got)
	}
}

func TestServer_DefaultCORSOrigin(t *testing.T) {
	server, _, _ := setupServer()

	w := do(server, http.MethodOptions, "/api/polls/p1/close", "")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected wildcard origin, got %q", got)
	}
}

func TestServer_JSONErrorsForUnknownRoutes(t *testing.T) {
	server, _, _ := setupServer()

	tests := []struct {
		name   string
		method string
		path   string
		code   int
	}{
		{"unknown path", http.MethodGet, "/api/ballots", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/polls/p1", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(server, tt.method, tt.path, "")
			if w.Code != tt.code {
				t.Fatalf("Expected status %d, got %d", tt.code, w.Code)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil || resp.Code != tt.code {
				t.Errorf("Expected JSON error body, got %q (%v)", w.Body.String(), err)
			}
		})
	}
}
