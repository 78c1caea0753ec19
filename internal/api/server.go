package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"pollcast/pkg/types"
)

// PollService is the slice of the engine the HTTP surface needs. The hub
// implements it.
type PollService interface {
	CreatePoll(ctx context.Context, question string, options []string) (*types.PollSnapshot, error)
	GetPoll(ctx context.Context, pollID string) (*types.PollSnapshot, error)
	ClosePoll(ctx context.Context, pollID string) (*types.PollSnapshot, error)
	Stats() map[string]int
}

// HealthChecker reports persistence connectivity
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	polls      PollService
	health     HealthChecker
	corsOrigin string
	logger     *slog.Logger
	router     *chi.Mux
}

// NewServer wires the routes. An empty corsOrigin allows any origin.
func NewServer(polls PollService, health HealthChecker, corsOrigin string, logger *slog.Logger) *Server {
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		polls:      polls,
		health:     health,
		corsOrigin: corsOrigin,
		logger:     logger.With("component", "api"),
		router:     chi.NewRouter(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and JSON middleware applied to all routes for web client compatibility
func (s *Server) setupRoutes() {
	// Middleware runs before routing, so preflight requests to any path are answered
	s.router.Use(s.corsMiddleware, s.jsonMiddleware)

	s.router.Post("/api/polls", s.createPoll)
	s.router.Get("/api/polls/{id}", s.getPoll)
	s.router.Post("/api/polls/{id}/close", s.closePoll)
	s.router.Get("/health", s.healthCheck)

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Not found", http.StatusNotFound)
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type CreatePollRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type ClosePollResponse struct {
	Message string              `json:"message"`
	Poll    *types.PollSnapshot `json:"poll"`
}

type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Database  string         `json:"database"`
	Rooms     map[string]int `json:"rooms"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: POST /api/polls - ids are assigned server side, never taken from the body
func (s *Server) createPoll(w http.ResponseWriter, r *http.Request) {
	var req CreatePollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	poll, err := s.polls.CreatePoll(r.Context(), req.Question, req.Options)
	if err != nil {
		if isValidationError(err) {
			s.sendError(w, err.Error(), http.StatusBadRequest)
		} else {
			s.logger.Error("create poll failed", "error", err)
			s.sendError(w, "Failed to create poll", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.encode(w, poll)
}

// FUNCTIONAL DISCOVERY: GET /api/polls/{id} - current snapshot, same shape as poll_update
func (s *Server) getPoll(w http.ResponseWriter, r *http.Request) {
	poll, err := s.polls.GetPoll(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendPollError(w, err, "Failed to get poll")
		return
	}
	s.encode(w, poll)
}

// FUNCTIONAL DISCOVERY: POST /api/polls/{id}/close - room members get the closed snapshot
func (s *Server) closePoll(w http.ResponseWriter, r *http.Request) {
	poll, err := s.polls.ClosePoll(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendPollError(w, err, "Failed to close poll")
		return
	}
	s.encode(w, ClosePollResponse{Message: "Poll closed", Poll: poll})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.health.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = "error: " + err.Error()
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Database:  dbStatus,
		Rooms:     s.polls.Stats(),
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	s.encode(w, response)
}

func (s *Server) sendPollError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, types.ErrPollNotFound) {
		s.sendError(w, "Poll not found", http.StatusNotFound)
		return
	}
	s.logger.Error(fallback, "error", err)
	s.sendError(w, fallback, http.StatusInternalServerError)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	s.encode(w, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) encode(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		types.ErrEmptyQuestion,
		types.ErrQuestionTooLong,
		types.ErrOptionCount,
		types.ErrEmptyOptionText,
		types.ErrOptionTextTooLong,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
