package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"

	dbconfig "collabhub/pkg/database"
	"collabhub/pkg/interfaces"
	"collabhub/pkg/types"
)

// Manager implements the DatabaseManager interface on top of SQLite
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
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewManager opens the database, brings the schema up to date and starts the writer
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	if dir := filepath.Dir(config.DatabasePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With("component", "database"),
		writeChannel: make(chan writeOperation, 100), // TECHNICAL: Buffer for write operations prevents blocking
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
// FUNCTIONAL DISCOVERY: No retry here; failures go straight back to the caller,
// which owns any retry policy
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(op.ctx, m.db)
			if err != nil {
				m.logger.Warn("database write failed", "error", err)
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
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
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	// TECHNICAL DISCOVERY: result is buffered so the writer never blocks on an abandoned caller
	select {
	case err := <-result:
		return err
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// LookupIdentity resolves a user to the identity projection the gateway attaches
func (m *Manager) LookupIdentity(ctx context.Context, identityID string) (*types.Identity, error) {
	row := m.db.QueryRowContext(ctx, `SELECT id, name, email FROM users WHERE id = ?`, identityID)

	var identity types.Identity
	if err := row.Scan(&identity.ID, &identity.DisplayName, &identity.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrPrincipalNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &identity, nil
}

// IsMember answers the membership oracle contract from project_members
func (m *Manager) IsMember(ctx context.Context, topicID, identityID string) (types.Membership, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT role FROM project_members WHERE project_id = ? AND user_id = ?`,
		topicID, identityID,
	)

	var role string
	if err := row.Scan(&role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Membership{IsMember: false}, nil
		}
		return types.Membership{}, fmt.Errorf("failed to query membership: %w", err)
	}
	return types.Membership{IsMember: true, Role: role}, nil
}

// AppendActivity writes one audit record
func (m *Manager) AppendActivity(ctx context.Context, topicID, actorID, eventType string, payload map[string]interface{}) error {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	// TECHNICAL DISCOVERY: JSON serialization keeps the payload opaque to the schema
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal activity payload: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO activities (id, project_id, user_id, action, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, topicID, actorID, eventType, string(payloadJSON), now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert activity: %w", err)
		}
		return nil
	})
}

// TouchLastSeen stamps the user's last_seen column
func (m *Manager) TouchLastSeen(ctx context.Context, identityID string, ts time.Time) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, `UPDATE users SET last_seen = ? WHERE id = ?`, ts.UTC(), identityID)
		if err != nil {
			return fmt.Errorf("failed to update last seen: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return interfaces.ErrPrincipalNotFound
		}
		return nil
	})
}

// ListActivities returns the newest activities of a topic first
func (m *Manager) ListActivities(ctx context.Context, topicID string, limit int) ([]*types.Activity, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, project_id, user_id, action, payload, created_at
		FROM activities
		WHERE project_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, topicID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	activities := make([]*types.Activity, 0)
	for rows.Next() {
		var activity types.Activity
		var payloadJSON string
		if err := rows.Scan(
			&activity.ID,
			&activity.TopicID,
			&activity.ActorID,
			&activity.Action,
			&payloadJSON,
			&activity.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		if err := json.Unmarshal([]byte(payloadJSON), &activity.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activity payload: %w", err)
		}
		activities = append(activities, &activity)
	}

	return activities, rows.Err()
}

// UpsertUser creates or refreshes a user row
// ARCHITECTURAL DISCOVERY: Users are owned by the application that issues credentials;
// this exists so that system (and tests) can seed the shared store
func (m *Manager) UpsertUser(ctx context.Context, identity *types.Identity) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET email = excluded.email, name = excluded.name
		`, identity.ID, identity.Email, identity.DisplayName, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}
		return nil
	})
}

// AddMember grants (or re-grants with a new role) topic membership
func (m *Manager) AddMember(ctx context.Context, topicID, identityID, role string) error {
	if role == "" {
		role = "MEMBER"
	}
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO project_members (project_id, user_id, role, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(project_id, user_id) DO UPDATE SET role = excluded.role
		`, topicID, identityID, role, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to add member: %w", err)
		}
		return nil
	})
}

// RemoveMember revokes topic membership; removing a non-member is a no-op
func (m *Manager) RemoveMember(ctx context.Context, topicID, identityID string) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`DELETE FROM project_members WHERE project_id = ? AND user_id = ?`,
			topicID, identityID,
		)
		if err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity and the schema
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	var result int
	if err := m.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	// A reachable database with a damaged schema still fails every write
	if err := dbconfig.NewSchemaValidator(m.db).Validate(); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close shuts down the database manager; calling it twice is a no-op
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

// applySQLiteOptimizations applies connection-independent pragmas
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY", // Use memory for temporary tables
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}

var _ interfaces.DatabaseManager = (*Manager)(nil)
