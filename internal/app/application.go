package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"pollcast/internal/api"
	"pollcast/internal/broadcast"
	"pollcast/internal/config"
	"pollcast/internal/database"
	"pollcast/internal/hub"
	"pollcast/internal/ratelimit"
	"pollcast/internal/store"
	"pollcast/internal/websocket"
	pkgdatabase "pollcast/pkg/database"
	"pollcast/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *slog.Logger
	dbManager  *database.Manager
	redis      *goredis.Client // nil with the memory backend
	limiter    interfaces.RateLimiter
	polls      *store.Store
	rooms      *broadcast.Broadcaster
	engine     *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg *config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Limiter → Store → Rooms → Hub → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer)
	dbConfig := cfg.Database.Storage()
	if dir := filepath.Dir(dbConfig.DatabasePath); dbConfig.DatabasePath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 1.5: Apply database migrations to ensure schema is up to date
	if err := pkgdatabase.NewMigrationManager(dbManager.GetDB(), nil).ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := pkgdatabase.NewSchemaValidator(dbManager.GetDB()).Validate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("database schema invalid: %w", err)
	}
	logger.Info("database ready", "path", dbConfig.DatabasePath)

	// STEP 2: Initialize the rate limiter backend
	limiter, rdb, err := newLimiter(cfg, logger)
	if err != nil {
		_ = dbManager.Close()
		return nil, err
	}

	// STEP 3: Poll store, rooms and the hub that ties them together
	polls := store.New(dbManager, nil, logger)
	rooms := broadcast.New(logger)
	engine := hub.NewHub(polls, limiter, rooms, hub.Options{
		SweepInterval: cfg.Voting.SweepInterval,
		Logger:        logger,
	})

	// STEP 4: Initialize API server and WebSocket handler
	apiServer := api.NewServer(engine, dbManager, cfg.HTTP.CORSOrigin, logger)
	wsHandler := websocket.NewHandler(engine, websocket.Options{
		PingInterval:      cfg.WebSocket.PingInterval,
		ReadTimeout:       cfg.WebSocket.ReadTimeout,
		WriteTimeout:      cfg.WebSocket.WriteTimeout,
		BufferSize:        cfg.WebSocket.BufferSize,
		MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
		TrustProxyHeaders: cfg.Voting.TrustProxyHeaders,
		Logger:            logger,
	})

	// STEP 5: Setup HTTP server with both API and WebSocket endpoints
	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Address(),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		dbManager:  dbManager,
		redis:      rdb,
		limiter:    limiter,
		polls:      polls,
		rooms:      rooms,
		engine:     engine,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// newLimiter selects the rate-limit backend
// ARCHITECTURAL DISCOVERY: The redis backend shares windows across instances;
// the memory backend is swept by the hub
func newLimiter(cfg *config.Config, logger *slog.Logger) (interfaces.RateLimiter, *goredis.Client, error) {
	window := cfg.Voting.RateLimitWindow

	if cfg.Voting.RateLimitBackend != config.BackendRedis {
		logger.Info("rate limiter ready", "backend", config.BackendMemory, "window", window)
		return ratelimit.NewMemoryLimiter(window, nil), nil, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	logger.Info("rate limiter ready", "backend", config.BackendRedis, "addr", cfg.Redis.Addr, "window", window)
	return ratelimit.NewRedisLimiter(rdb, window, cfg.Redis.KeyPrefix), rdb, nil
}

// Start begins application execution
// Startup coordination ensures all components ready before serving
// Hub starts first to handle votes, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	if err := app.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.engine.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.mu.Lock()
	app.listener = listener
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", "error", err)
		}
	}()

	app.logger.Info("pollcast started", "addr", listener.Addr().String())
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Hub → Redis → Database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down pollcast")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := app.engine.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub shutdown: %w", err))
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis shutdown: %w", err))
		}
	}
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	app.logger.Info("pollcast shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the address the server listens on. Before Start it is the
// configured address.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler returns the root HTTP handler.
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}
