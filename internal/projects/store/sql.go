package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dylanneve1/agent-bridge/internal/common/apperr"
	"github.com/dylanneve1/agent-bridge/internal/common/clock"
	"github.com/dylanneve1/agent-bridge/internal/db"
	"github.com/dylanneve1/agent-bridge/internal/db/dialect"
	"github.com/dylanneve1/agent-bridge/internal/projects/models"
)

// SQLStore provides project storage on SQLite or PostgreSQL.
type SQLStore struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

var _ Repository = (*SQLStore)(nil)

// New creates the store and initializes its schema.
func New(writer, reader *sqlx.DB) (*SQLStore, error) {
	s := &SQLStore{db: writer, ro: reader}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize projects schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	ts := dialect.Real(s.db.DriverName())
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_by TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			created_at %s NOT NULL,
			updated_at %s NOT NULL
		)`, ts, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS project_members (
			project_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'member',
			joined_at %s NOT NULL,
			PRIMARY KEY (project_id, agent_id)
		)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS milestones (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			due_by TEXT,
			status TEXT NOT NULL DEFAULT 'open',
			created_at %s NOT NULL
		)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_milestones_project ON milestones(project_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func decodeTags(raw string) []string {
	var tags []string
	if raw == "" || json.Unmarshal([]byte(raw), &tags) != nil || tags == nil {
		return []string{}
	}
	return tags
}

// CreateProject inserts the project row and the creator's owner membership
// in one transaction.
func (s *SQLStore) CreateProject(ctx context.Context, p *models.Project) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO projects (id, name, description, status, created_by, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), p.ID, p.Name, p.Description, p.Status, p.CreatedBy, encodeTags(p.Tags),
		p.CreatedAt, p.UpdatedAt); err != nil {
		return db.Rollback(tx, err)
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO project_members (project_id, agent_id, role, joined_at)
		VALUES (?, ?, ?, ?)
	`), p.ID, p.CreatedBy, models.RoleOwner, p.CreatedAt); err != nil {
		return db.Rollback(tx, err)
	}
	return tx.Commit()
}

// GetProject retrieves one project by id.
func (s *SQLStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p := &models.Project{}
	var tags string
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT id, name, description, status, created_by, tags, created_at, updated_at
		FROM projects WHERE id = ?
	`), id).Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.CreatedBy, &tags,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Project not found")
	}
	if err != nil {
		return nil, err
	}
	p.Tags = decodeTags(tags)
	return p, nil
}

// ListProjects returns all projects, newest first, each with task progress
// aggregated from the shared tasks table.
func (s *SQLStore) ListProjects(ctx context.Context) ([]*models.ProjectSummary, error) {
	rows, err := s.ro.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.status, p.created_by, p.tags,
			p.created_at, p.updated_at,
			(SELECT COUNT(*) FROM tasks t WHERE t.project_id = p.id) AS task_count,
			(SELECT COUNT(*) FROM tasks t WHERE t.project_id = p.id AND t.status = 'done') AS done_count
		FROM projects p
		ORDER BY p.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []*models.ProjectSummary{}
	for rows.Next() {
		sum := &models.ProjectSummary{}
		var tags string
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.Description, &sum.Status,
			&sum.CreatedBy, &tags, &sum.CreatedAt, &sum.UpdatedAt,
			&sum.TaskCount, &sum.DoneCount); err != nil {
			return nil, err
		}
		sum.Tags = decodeTags(tags)
		sum.ProgressPct = models.Pct(sum.DoneCount, sum.TaskCount)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// AddMember inserts a membership row; the project must exist and duplicate
// membership is a conflict.
func (s *SQLStore) AddMember(ctx context.Context, projectID, agent, role string) error {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO project_members (project_id, agent_id, role, joined_at)
		VALUES (?, ?, ?, ?)
	`), projectID, agent, role, clock.Now())
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("%s is already a member", agent)
	}
	return err
}

// ListMembers returns a project's members, owners first.
func (s *SQLStore) ListMembers(ctx context.Context, projectID string) ([]*models.Member, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT agent_id, role, joined_at FROM project_members
		WHERE project_id = ? ORDER BY role DESC, joined_at ASC
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []*models.Member{}
	for rows.Next() {
		m := &models.Member{}
		if err := rows.Scan(&m.Agent, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// CreateMilestone inserts one milestone; the project must exist.
func (s *SQLStore) CreateMilestone(ctx context.Context, m *models.Milestone) error {
	if _, err := s.GetProject(ctx, m.ProjectID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO milestones (id, project_id, name, description, due_by, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), m.ID, m.ProjectID, m.Name, m.Description,
		sql.NullString{String: m.DueBy, Valid: m.DueBy != ""}, m.Status, m.CreatedAt)
	return err
}

// ListMilestones returns a project's milestones by due date ascending with
// undated ones last, each with task progress.
func (s *SQLStore) ListMilestones(ctx context.Context, projectID string) ([]*models.MilestoneSummary, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT m.id, m.project_id, m.name, m.description, m.due_by, m.status, m.created_at,
			(SELECT COUNT(*) FROM tasks t WHERE t.milestone_id = m.id) AS task_count,
			(SELECT COUNT(*) FROM tasks t WHERE t.milestone_id = m.id AND t.status = 'done') AS done_count
		FROM milestones m
		WHERE m.project_id = ?
		ORDER BY CASE WHEN m.due_by IS NULL OR m.due_by = '' THEN 1 ELSE 0 END,
			m.due_by ASC, m.created_at ASC
	`), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	milestones := []*models.MilestoneSummary{}
	for rows.Next() {
		sum := &models.MilestoneSummary{}
		var dueBy sql.NullString
		if err := rows.Scan(&sum.ID, &sum.ProjectID, &sum.Name, &sum.Description,
			&dueBy, &sum.Status, &sum.CreatedAt, &sum.TaskCount, &sum.DoneCount); err != nil {
			return nil, err
		}
		sum.DueBy = dueBy.String
		sum.ProgressPct = models.Pct(sum.DoneCount, sum.TaskCount)
		milestones = append(milestones, sum)
	}
	return milestones, rows.Err()
}
