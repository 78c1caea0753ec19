package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"
	dbconfig "pollcast/pkg/database"
	"pollcast/pkg/interfaces"
	"pollcast/pkg/types"
)

var _ interfaces.PollRepository = (*Manager)(nil)

// Manager implements the PollRepository interface on SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine.
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if config == nil {
		config = dbconfig.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With("component", "database"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// No retry here: the caller decides what a failed write means
			err := op.operation(m.db)
			if err != nil {
				m.logger.Error("database write failed", "error", err)
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Info("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerShutdown
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerShutdown
	}
}

// CreatePoll inserts a new poll with its options
func (m *Manager) CreatePoll(ctx context.Context, poll *types.PollSnapshot) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }() // TECHNICAL: Always rollback unless commit succeeds

		_, err = tx.ExecContext(ctx, `
			INSERT INTO polls (id, question, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, poll.ID, poll.Question, poll.IsActive, poll.CreatedAt, poll.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert poll: %w", err)
		}

		for position, opt := range poll.Options {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO poll_options (poll_id, option_id, position, text, votes)
				VALUES (?, ?, ?, ?, ?)
			`, poll.ID, opt.ID, position, opt.Text, opt.Votes)
			if err != nil {
				return fmt.Errorf("failed to insert option %s: %w", opt.ID, err)
			}
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit poll creation: %w", err)
		}
		return nil
	})
}

// LoadPoll retrieves a poll with options and voters in their stored order
func (m *Manager) LoadPoll(ctx context.Context, pollID string) (*types.PollSnapshot, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	var poll types.PollSnapshot
	err := m.db.QueryRowContext(ctx, `
		SELECT id, question, is_active, created_at
		FROM polls
		WHERE id = ?
	`, pollID).Scan(&poll.ID, &poll.Question, &poll.IsActive, &poll.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrPollNotFound
		}
		return nil, fmt.Errorf("failed to query poll: %w", err)
	}

	poll.Options, err = m.loadOptions(ctx, pollID)
	if err != nil {
		return nil, err
	}

	poll.Voters, err = m.loadVoters(ctx, pollID)
	if err != nil {
		return nil, err
	}

	return &poll, nil
}

func (m *Manager) loadOptions(ctx context.Context, pollID string) ([]types.Option, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT option_id, text, votes
		FROM poll_options
		WHERE poll_id = ?
		ORDER BY position ASC
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to query options: %w", err)
	}
	defer func() { _ = rows.Close() }()

	options := []types.Option{}
	for rows.Next() {
		var opt types.Option
		if err := rows.Scan(&opt.ID, &opt.Text, &opt.Votes); err != nil {
			return nil, fmt.Errorf("failed to scan option row: %w", err)
		}
		options = append(options, opt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating option rows: %w", err)
	}
	return options, nil
}

func (m *Manager) loadVoters(ctx context.Context, pollID string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT voter_id
		FROM poll_voters
		WHERE poll_id = ?
		ORDER BY position ASC
	`, pollID)
	if err != nil {
		return nil, fmt.Errorf("failed to query voters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	voters := []string{}
	for rows.Next() {
		var voterID string
		if err := rows.Scan(&voterID); err != nil {
			return nil, fmt.Errorf("failed to scan voter row: %w", err)
		}
		voters = append(voters, voterID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating voter rows: %w", err)
	}
	return voters, nil
}

// SavePoll writes tallies, new voters and the active flag in one transaction
// FUNCTIONAL DISCOVERY: Voters are append-only, so only rows past the stored
// count are inserted; a snapshot that drops voters is refused
func (m *Manager) SavePoll(ctx context.Context, poll *types.PollSnapshot) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		// MIN keeps is_active from ever moving back to 1
		res, err := tx.ExecContext(ctx, `
			UPDATE polls
			SET is_active = MIN(is_active, ?), updated_at = ?
			WHERE id = ?
		`, poll.IsActive, time.Now().UTC(), poll.ID)
		if err != nil {
			return fmt.Errorf("failed to update poll: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		} else if n == 0 {
			return types.ErrPollNotFound
		}

		for _, opt := range poll.Options {
			res, err := tx.ExecContext(ctx, `
				UPDATE poll_options
				SET votes = ?
				WHERE poll_id = ? AND option_id = ?
			`, opt.Votes, poll.ID, opt.ID)
			if err != nil {
				return fmt.Errorf("failed to update option %s: %w", opt.ID, err)
			}
			if n, err := res.RowsAffected(); err != nil {
				return fmt.Errorf("failed to read affected rows: %w", err)
			} else if n == 0 {
				return ErrOptionSetMismatch
			}
		}

		var stored int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM poll_voters WHERE poll_id = ?`, poll.ID,
		).Scan(&stored); err != nil {
			return fmt.Errorf("failed to count voters: %w", err)
		}
		if stored > len(poll.Voters) {
			return ErrVoterHistoryRewrite
		}

		now := time.Now().UTC()
		for position := stored; position < len(poll.Voters); position++ {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO poll_voters (poll_id, voter_id, position, voted_at)
				VALUES (?, ?, ?, ?)
			`, poll.ID, poll.Voters[position], position, now)
			if err != nil {
				return fmt.Errorf("failed to insert voter: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit poll update: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM polls").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// applySQLiteOptimizations applies performance optimizations
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for concurrency
		"PRAGMA synchronous = NORMAL", // Balance safety and performance
		"PRAGMA cache_size = -64000",  // 64MB cache
		"PRAGMA temp_store = MEMORY",  // Use memory for temporary tables
		"PRAGMA foreign_keys = ON",    // Ensure referential integrity
		"PRAGMA busy_timeout = 5000",  // 5 second timeout for write coordination
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	return nil
}
