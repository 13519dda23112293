package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dylanneve1/agent-bridge/internal/common/apperr"
	"github.com/dylanneve1/agent-bridge/internal/common/clock"
	"github.com/dylanneve1/agent-bridge/internal/common/tracing"
	"github.com/dylanneve1/agent-bridge/internal/db"
	"github.com/dylanneve1/agent-bridge/internal/db/dialect"
	"github.com/dylanneve1/agent-bridge/internal/identity/models"
)

// SQLStore provides agent and registration storage on SQLite or PostgreSQL.
type SQLStore struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

var _ Repository = (*SQLStore)(nil)

// New creates the store and initializes its schema.
func New(writer, reader *sqlx.DB) (*SQLStore, error) {
	s := &SQLStore{db: writer, ro: reader}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize identity schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	ts := dialect.Real(s.db.DriverName())
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			api_key TEXT NOT NULL UNIQUE,
			created_at %s NOT NULL
		)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pending_registrations (
			id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			contact TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at %s NOT NULL,
			reviewed_at %s,
			reviewed_by TEXT NOT NULL DEFAULT ''
		)`, ts, ts),
		`CREATE INDEX IF NOT EXISTS idx_registrations_status ON pending_registrations(status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateAgent inserts a new agent row. A duplicate name or key returns a
// conflict.
func (s *SQLStore) CreateAgent(ctx context.Context, agent *models.Agent) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO agents (id, name, api_key, created_at)
		VALUES (?, ?, ?, ?)
	`), agent.ID, agent.Name, agent.APIKey, agent.CreatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("%s already registered", agent.Name)
	}
	return err
}

// GetAgentByKey resolves an API key to its agent. Runs on every
// authenticated request.
func (s *SQLStore) GetAgentByKey(ctx context.Context, apiKey string) (*models.Agent, error) {
	ctx, span := tracing.Tracer("bridge-db").Start(ctx, "db.GetAgentByKey")
	defer span.End()
	agent := &models.Agent{}
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT id, name, api_key, created_at FROM agents WHERE api_key = ?
	`), apiKey).Scan(&agent.ID, &agent.Name, &agent.APIKey, &agent.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Unauthorized("Invalid API key")
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// GetAgentByName retrieves an agent by its unique name.
func (s *SQLStore) GetAgentByName(ctx context.Context, name string) (*models.Agent, error) {
	agent := &models.Agent{}
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT id, name, api_key, created_at FROM agents WHERE name = ?
	`), name).Scan(&agent.ID, &agent.Name, &agent.APIKey, &agent.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("agent not found: %s", name)
	}
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// ListAgents returns all agents ordered by creation time.
func (s *SQLStore) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	rows, err := s.ro.QueryContext(ctx, `
		SELECT id, name, api_key, created_at FROM agents ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		agent := &models.Agent{}
		if err := rows.Scan(&agent.ID, &agent.Name, &agent.APIKey, &agent.CreatedAt); err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// CountAgents returns the number of registered agents.
func (s *SQLStore) CountAgents(ctx context.Context) (int, error) {
	var count int
	err := s.ro.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents`).Scan(&count)
	return count, err
}

// Directory returns the public agent listing with activity counts gathered
// from the messaging, task and revision tables.
func (s *SQLStore) Directory(ctx context.Context) ([]*models.DirectoryEntry, error) {
	ctx, span := tracing.Tracer("bridge-db").Start(ctx, "db.Directory")
	defer span.End()
	greatest := dialect.Greatest(s.ro.DriverName())
	rows, err := s.ro.QueryContext(ctx, fmt.Sprintf(`
		SELECT a.name, a.created_at,
			(SELECT COUNT(*) FROM messages m WHERE m.from_agent = a.name) AS messages_sent,
			(SELECT COUNT(*) FROM tasks t WHERE t.claimed_by = a.name AND t.status = 'done') AS tasks_done,
			(SELECT COUNT(*) FROM commits c WHERE c.author = a.name) AS commits,
			NULLIF(%s(
				COALESCE((SELECT MAX(m.timestamp) FROM messages m WHERE m.from_agent = a.name), 0),
				COALESCE((SELECT MAX(h.created_at) FROM task_history h WHERE h.agent_name = a.name), 0),
				COALESCE((SELECT MAX(c.created_at) FROM commits c WHERE c.author = a.name), 0)
			), 0) AS last_seen
		FROM agents a
		ORDER BY a.name ASC
	`, greatest))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.DirectoryEntry
	for rows.Next() {
		entry := &models.DirectoryEntry{}
		var lastSeen sql.NullFloat64
		if err := rows.Scan(&entry.Name, &entry.CreatedAt, &entry.MessagesSent,
			&entry.TasksDone, &entry.Commits, &lastSeen); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			entry.LastSeen = &lastSeen.Float64
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CreateRegistration inserts a new pending join request.
func (s *SQLStore) CreateRegistration(ctx context.Context, reg *models.Registration) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO pending_registrations (id, agent_name, description, contact, status, created_at, reviewed_by)
		VALUES (?, ?, ?, ?, ?, ?, '')
	`), reg.ID, reg.AgentName, reg.Description, reg.Contact, reg.Status, reg.CreatedAt)
	return err
}

// GetRegistration retrieves a join request by id.
func (s *SQLStore) GetRegistration(ctx context.Context, id string) (*models.Registration, error) {
	return getRegistration(ctx, s.ro, s.ro.Rebind, id)
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getRegistration(ctx context.Context, q rowQuerier, rebind func(string) string, id string) (*models.Registration, error) {
	reg := &models.Registration{}
	var reviewedAt sql.NullFloat64
	err := q.QueryRowContext(ctx, rebind(`
		SELECT id, agent_name, description, contact, status, created_at, reviewed_at, reviewed_by
		FROM pending_registrations WHERE id = ?
	`), id).Scan(&reg.ID, &reg.AgentName, &reg.Description, &reg.Contact, &reg.Status,
		&reg.CreatedAt, &reviewedAt, &reg.ReviewedBy)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("registration not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	if reviewedAt.Valid {
		reg.ReviewedAt = &reviewedAt.Float64
	}
	return reg, nil
}

// ListRegistrations returns join requests with the given status, oldest first.
func (s *SQLStore) ListRegistrations(ctx context.Context, status models.RegistrationStatus) ([]*models.Registration, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, agent_name, description, contact, status, created_at, reviewed_at, reviewed_by
		FROM pending_registrations WHERE status = ? ORDER BY created_at ASC
	`), status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []*models.Registration
	for rows.Next() {
		reg := &models.Registration{}
		var reviewedAt sql.NullFloat64
		if err := rows.Scan(&reg.ID, &reg.AgentName, &reg.Description, &reg.Contact, &reg.Status,
			&reg.CreatedAt, &reviewedAt, &reg.ReviewedBy); err != nil {
			return nil, err
		}
		if reviewedAt.Valid {
			reg.ReviewedAt = &reviewedAt.Float64
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// HasPendingName reports whether a pending request already claims the name.
// Only status='pending' blocks; a rejected name may be re-requested.
func (s *SQLStore) HasPendingName(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT 1 FROM pending_registrations WHERE agent_name = ? AND status = 'pending'
	`), name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ApproveRegistration stamps the request approved and creates the agent row
// in one transaction. Approving an already-approved request returns the
// existing agent without inserting a second row. The fresh agent carries the
// id and key to use if an insert happens; its name is taken from the request.
func (s *SQLStore) ApproveRegistration(ctx context.Context, id string, reviewer string, fresh *models.Agent) (*models.Agent, *models.Registration, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}

	reg, err := getRegistration(ctx, tx, s.db.Rebind, id)
	if err != nil {
		return nil, nil, db.Rollback(tx, err)
	}

	switch reg.Status {
	case models.RegistrationApproved:
		if err := tx.Rollback(); err != nil {
			return nil, nil, fmt.Errorf("failed to rollback approval: %w", err)
		}
		agent, err := s.GetAgentByName(ctx, reg.AgentName)
		if err != nil {
			return nil, nil, err
		}
		return agent, reg, nil
	case models.RegistrationRejected:
		return nil, nil, db.Rollback(tx, apperr.Conflict("registration already rejected: %s", id))
	}

	now := clock.Now()
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE pending_registrations SET status = 'approved', reviewed_at = ?, reviewed_by = ?
		WHERE id = ?
	`), now, reviewer, id); err != nil {
		return nil, nil, db.Rollback(tx, err)
	}

	agent := &models.Agent{ID: fresh.ID, Name: reg.AgentName, APIKey: fresh.APIKey, CreatedAt: now}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO agents (id, name, api_key, created_at) VALUES (?, ?, ?, ?)
	`), agent.ID, agent.Name, agent.APIKey, agent.CreatedAt); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, nil, db.Rollback(tx, apperr.Conflict("%s already registered", agent.Name))
		}
		return nil, nil, db.Rollback(tx, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	reg.Status = models.RegistrationApproved
	reg.ReviewedAt = &now
	reg.ReviewedBy = reviewer
	return agent, reg, nil
}

// RejectRegistration stamps the request rejected. Rejecting twice is a no-op;
// rejecting an approved request is a conflict.
func (s *SQLStore) RejectRegistration(ctx context.Context, id string, reviewer string) (*models.Registration, error) {
	reg, err := getRegistration(ctx, s.db, s.db.Rebind, id)
	if err != nil {
		return nil, err
	}
	switch reg.Status {
	case models.RegistrationApproved:
		return nil, apperr.Conflict("registration already approved: %s", id)
	case models.RegistrationRejected:
		return reg, nil
	}

	now := clock.Now()
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE pending_registrations SET status = 'rejected', reviewed_at = ?, reviewed_by = ?
		WHERE id = ?
	`), now, reviewer, id); err != nil {
		return nil, err
	}
	reg.Status = models.RegistrationRejected
	reg.ReviewedAt = &now
	reg.ReviewedBy = reviewer
	return reg, nil
}
