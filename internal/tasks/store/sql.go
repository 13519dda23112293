package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/dylanneve1/agent-bridge/internal/common/apperr"
	"github.com/dylanneve1/agent-bridge/internal/common/clock"
	"github.com/dylanneve1/agent-bridge/internal/common/ids"
	"github.com/dylanneve1/agent-bridge/internal/common/tracing"
	"github.com/dylanneve1/agent-bridge/internal/db"
	"github.com/dylanneve1/agent-bridge/internal/db/dialect"
	"github.com/dylanneve1/agent-bridge/internal/tasks/models"
)

// SQLStore provides task board storage on SQLite or PostgreSQL.
type SQLStore struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

var _ Repository = (*SQLStore)(nil)

// New creates the store and initializes its schema.
func New(writer, reader *sqlx.DB) (*SQLStore, error) {
	s := &SQLStore{db: writer, ro: reader}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize tasks schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	ts := dialect.Real(s.db.DriverName())
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'open',
			priority TEXT NOT NULL DEFAULT 'normal',
			created_by TEXT NOT NULL,
			assigned_to TEXT,
			claimed_by TEXT,
			tags TEXT NOT NULL DEFAULT '[]',
			created_at %s NOT NULL,
			updated_at %s NOT NULL,
			completed_at %s,
			due_by TEXT,
			parent_id TEXT,
			project_id TEXT,
			milestone_id TEXT,
			effort_estimate TEXT
		)`, ts, ts, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS task_dependencies (
			task_id TEXT NOT NULL,
			depends_on TEXT NOT NULL,
			created_at %s NOT NULL,
			PRIMARY KEY (task_id, depends_on)
		)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS task_comments (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at %s NOT NULL
		)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS task_history (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			action TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			created_at %s NOT NULL
		)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_to)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_claimed ON tasks(claimed_by)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_comments_task ON task_comments(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_task_history_task ON task_history(task_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const taskColumns = `id, title, description, status, priority, created_by,
	assigned_to, claimed_by, tags, created_at, updated_at, completed_at,
	due_by, parent_id, project_id, milestone_id, effort_estimate`

// priorityRank orders urgent before high before normal before low.
func priorityRank(col string) string {
	return fmt.Sprintf(`CASE %s WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 WHEN 'low' THEN 3 ELSE 4 END`, col)
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

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	task := &models.Task{}
	var assignedTo, claimedBy, dueBy, parentID, projectID, milestoneID, effort sql.NullString
	var completedAt sql.NullFloat64
	var tags string
	err := row.Scan(&task.ID, &task.Title, &task.Description, &task.Status, &task.Priority,
		&task.CreatedBy, &assignedTo, &claimedBy, &tags, &task.CreatedAt, &task.UpdatedAt,
		&completedAt, &dueBy, &parentID, &projectID, &milestoneID, &effort)
	if err != nil {
		return nil, err
	}
	task.AssignedTo = assignedTo.String
	task.ClaimedBy = claimedBy.String
	task.Tags = decodeTags(tags)
	if completedAt.Valid {
		v := completedAt.Float64
		task.CompletedAt = &v
	}
	task.DueBy = dueBy.String
	task.ParentID = parentID.String
	task.ProjectID = projectID.String
	task.MilestoneID = milestoneID.String
	task.EffortEstimate = effort.String
	return task, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLStore) getTask(ctx context.Context, q querier, id string) (*models.Task, error) {
	row := q.QueryRowContext(ctx, s.ro.Rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Task not found")
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *SQLStore) insertHistory(ctx context.Context, tx *sql.Tx, h *models.HistoryEntry) error {
	_, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO task_history (id, task_id, agent_name, action, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), h.ID, h.TaskID, h.AgentName, h.Action, h.Details, h.CreatedAt)
	return err
}

func (s *SQLStore) insertComment(ctx context.Context, tx *sql.Tx, c *models.Comment) error {
	_, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO task_comments (id, task_id, agent_name, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), c.ID, c.TaskID, c.AgentName, c.Content, c.CreatedAt)
	return err
}

// CreateTask inserts the task, its dependency edges and the opening history
// entry in one transaction. Dependencies naming unknown tasks are skipped,
// as are self-references and duplicates.
func (s *SQLStore) CreateTask(ctx context.Context, task *models.Task, dependsOn []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if task.ParentID != "" {
		var one int
		err := tx.QueryRowContext(ctx, s.db.Rebind(`SELECT 1 FROM tasks WHERE id = ?`), task.ParentID).Scan(&one)
		if err == sql.ErrNoRows {
			return db.Rollback(tx, apperr.NotFound("Parent task not found"))
		}
		if err != nil {
			return db.Rollback(tx, err)
		}
	}

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), task.ID, task.Title, task.Description, task.Status, task.Priority, task.CreatedBy,
		nullStr(task.AssignedTo), nullStr(task.ClaimedBy), encodeTags(task.Tags),
		task.CreatedAt, task.UpdatedAt, nil, nullStr(task.DueBy), nullStr(task.ParentID),
		nullStr(task.ProjectID), nullStr(task.MilestoneID), nullStr(task.EffortEstimate)); err != nil {
		return db.Rollback(tx, err)
	}

	seen := map[string]bool{task.ID: true}
	for _, dep := range dependsOn {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		var one int
		err := tx.QueryRowContext(ctx, s.db.Rebind(`SELECT 1 FROM tasks WHERE id = ?`), dep).Scan(&one)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return db.Rollback(tx, err)
		}
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO task_dependencies (task_id, depends_on, created_at) VALUES (?, ?, ?)
		`), task.ID, dep, task.CreatedAt); err != nil {
			return db.Rollback(tx, err)
		}
	}

	if err := s.insertHistory(ctx, tx, &models.HistoryEntry{
		ID: ids.New(), TaskID: task.ID, AgentName: task.CreatedBy,
		Action: "created", Details: task.Title, CreatedAt: task.CreatedAt,
	}); err != nil {
		return db.Rollback(tx, err)
	}
	return tx.Commit()
}

// GetTask retrieves one task by id.
func (s *SQLStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return s.getTask(ctx, s.ro, id)
}

// ListTasks returns tasks matching the filter, most urgent first, then most
// recently updated.
func (s *SQLStore) ListTasks(ctx context.Context, f ListFilter) ([]*models.Task, error) {
	ctx, span := tracing.Tracer("bridge-db").Start(ctx, "db.ListTasks")
	defer span.End()

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []interface{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.AssignedTo != "" {
		query += ` AND assigned_to = ?`
		args = append(args, f.AssignedTo)
	}
	if f.CreatedBy != "" {
		query += ` AND created_by = ?`
		args = append(args, f.CreatedBy)
	}
	if f.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, f.ProjectID)
	}
	if f.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, f.Priority)
	}
	query += ` ORDER BY ` + priorityRank("priority") + `, updated_at DESC LIMIT ?`
	args = append(args, f.Limit)

	return s.queryTasks(ctx, query, args...)
}

func (s *SQLStore) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*models.Task, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask writes the full task row and, when history is non-nil, appends
// it in the same transaction.
func (s *SQLStore) UpdateTask(ctx context.Context, task *models.Task, history *models.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var completedAt interface{}
	if task.CompletedAt != nil {
		completedAt = *task.CompletedAt
	}
	result, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE tasks SET title = ?, description = ?, status = ?, priority = ?,
			assigned_to = ?, claimed_by = ?, tags = ?, updated_at = ?,
			completed_at = ?, due_by = ?, parent_id = ?, project_id = ?,
			milestone_id = ?, effort_estimate = ?
		WHERE id = ?
	`), task.Title, task.Description, task.Status, task.Priority,
		nullStr(task.AssignedTo), nullStr(task.ClaimedBy), encodeTags(task.Tags),
		task.UpdatedAt, completedAt, nullStr(task.DueBy), nullStr(task.ParentID),
		nullStr(task.ProjectID), nullStr(task.MilestoneID), nullStr(task.EffortEstimate),
		task.ID)
	if err != nil {
		return db.Rollback(tx, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return db.Rollback(tx, apperr.NotFound("Task not found"))
	}
	if history != nil {
		if err := s.insertHistory(ctx, tx, history); err != nil {
			return db.Rollback(tx, err)
		}
	}
	return tx.Commit()
}

// Transition applies a guarded status change. The UPDATE carries the allowed
// source statuses in its WHERE clause, so a racing transition loses cleanly:
// zero rows affected, reported with the live status.
func (s *SQLStore) Transition(ctx context.Context, t *TransitionUpdate) (*models.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	set := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(t.NewStatus), t.Now}
	if t.ClaimedBy != "" {
		set = append(set, "claimed_by = CASE WHEN claimed_by IS NULL OR claimed_by = '' THEN ? ELSE claimed_by END")
		args = append(args, t.ClaimedBy)
	}
	if t.StampCompleted {
		set = append(set, "completed_at = ?")
		args = append(args, t.Now)
	}
	query := `UPDATE tasks SET ` + strings.Join(set, ", ") + ` WHERE id = ?`
	args = append(args, t.TaskID)
	if len(t.AllowedFrom) > 0 {
		marks := make([]string, len(t.AllowedFrom))
		for i, status := range t.AllowedFrom {
			marks[i] = "?"
			args = append(args, string(status))
		}
		query += ` AND status IN (` + strings.Join(marks, ", ") + `)`
	}

	result, err := tx.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, db.Rollback(tx, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		task, err := s.getTask(ctx, tx, t.TaskID)
		if err != nil {
			return nil, db.Rollback(tx, err)
		}
		return nil, db.Rollback(tx, apperr.Validation(
			"Task cannot be %s (status: %s)", t.History.Action, task.Status))
	}

	if err := s.insertHistory(ctx, tx, t.History); err != nil {
		return nil, db.Rollback(tx, err)
	}
	if t.Comment != nil {
		if err := s.insertComment(ctx, tx, t.Comment); err != nil {
			return nil, db.Rollback(tx, err)
		}
	}
	task, err := s.getTask(ctx, tx, t.TaskID)
	if err != nil {
		return nil, db.Rollback(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return task, nil
}

// AddComment inserts the comment and bumps the task's updated_at together.
func (s *SQLStore) AddComment(ctx context.Context, comment *models.Comment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var one int
	err = tx.QueryRowContext(ctx, s.db.Rebind(`SELECT 1 FROM tasks WHERE id = ?`), comment.TaskID).Scan(&one)
	if err == sql.ErrNoRows {
		return db.Rollback(tx, apperr.NotFound("Task not found"))
	}
	if err != nil {
		return db.Rollback(tx, err)
	}
	if err := s.insertComment(ctx, tx, comment); err != nil {
		return db.Rollback(tx, err)
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE tasks SET updated_at = ? WHERE id = ?`),
		comment.CreatedAt, comment.TaskID); err != nil {
		return db.Rollback(tx, err)
	}
	return tx.Commit()
}

// ListComments returns a task's comments oldest first.
func (s *SQLStore) ListComments(ctx context.Context, taskID string) ([]*models.Comment, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, task_id, agent_name, content, created_at
		FROM task_comments WHERE task_id = ? ORDER BY created_at ASC
	`), taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comments := []*models.Comment{}
	for rows.Next() {
		c := &models.Comment{}
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AgentName, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// ListHistory returns a task's audit log oldest first, capped at limit.
func (s *SQLStore) ListHistory(ctx context.Context, taskID string, limit int) ([]*models.HistoryEntry, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, task_id, agent_name, action, details, created_at
		FROM task_history WHERE task_id = ? ORDER BY created_at ASC LIMIT ?
	`), taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectHistory(rows)
}

func collectHistory(rows *sql.Rows) ([]*models.HistoryEntry, error) {
	entries := []*models.HistoryEntry{}
	for rows.Next() {
		h := &models.HistoryEntry{}
		if err := rows.Scan(&h.ID, &h.TaskID, &h.AgentName, &h.Action, &h.Details, &h.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, h)
	}
	return entries, rows.Err()
}

// AddDependency inserts one edge. Both endpoints must exist; a duplicate
// edge is a conflict.
func (s *SQLStore) AddDependency(ctx context.Context, taskID, dependsOn string) error {
	for _, id := range []string{taskID, dependsOn} {
		var one int
		err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`SELECT 1 FROM tasks WHERE id = ?`), id).Scan(&one)
		if err == sql.ErrNoRows {
			return apperr.NotFound("Task %s not found", id)
		}
		if err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO task_dependencies (task_id, depends_on, created_at) VALUES (?, ?, ?)
	`), taskID, dependsOn, clock.Now())
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("Dependency already exists")
	}
	return err
}

// RemoveDependency deletes one edge; removing an absent edge is a 404.
func (s *SQLStore) RemoveDependency(ctx context.Context, taskID, dependsOn string) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM task_dependencies WHERE task_id = ? AND depends_on = ?
	`), taskID, dependsOn)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFound("Dependency not found")
	}
	return nil
}

// Dependencies returns the dependency view of one task: predecessors (with
// the count not yet done) and successors.
func (s *SQLStore) Dependencies(ctx context.Context, taskID string) (*models.DependencyInfo, error) {
	if _, err := s.getTask(ctx, s.ro, taskID); err != nil {
		return nil, err
	}
	info := &models.DependencyInfo{}
	var err error
	info.DependsOn, err = s.queryDependencyTasks(ctx, `
		SELECT t.id, t.title, t.status, t.priority
		FROM task_dependencies d JOIN tasks t ON t.id = d.depends_on
		WHERE d.task_id = ? ORDER BY `+priorityRank("t.priority")+`, t.created_at ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	for _, dep := range info.DependsOn {
		if dep.Status != models.StatusDone {
			info.UnmetBlockers++
		}
	}
	info.Blocks, err = s.queryDependencyTasks(ctx, `
		SELECT t.id, t.title, t.status, t.priority
		FROM task_dependencies d JOIN tasks t ON t.id = d.task_id
		WHERE d.depends_on = ? ORDER BY `+priorityRank("t.priority")+`, t.created_at ASC
	`, taskID)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *SQLStore) queryDependencyTasks(ctx context.Context, query, taskID string) ([]*models.DependencyTask, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []*models.DependencyTask{}
	for rows.Next() {
		t := &models.DependencyTask{}
		if err := rows.Scan(&t.ID, &t.Title, &t.Status, &t.Priority); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Board returns up to perStatus tasks for each board column, priority-sorted.
func (s *SQLStore) Board(ctx context.Context, perStatus int) (map[string][]*models.Task, error) {
	ctx, span := tracing.Tracer("bridge-db").Start(ctx, "db.Board")
	defer span.End()

	board := make(map[string][]*models.Task, len(models.BoardStatuses))
	for _, status := range models.BoardStatuses {
		tasks, err := s.queryTasks(ctx, `
			SELECT `+taskColumns+` FROM tasks WHERE status = ?
			ORDER BY `+priorityRank("priority")+`, updated_at DESC LIMIT ?
		`, string(status), perStatus)
		if err != nil {
			return nil, err
		}
		board[string(status)] = tasks
	}
	return board, nil
}

// ActiveFor returns the caller's claimed, in-progress and blocked tasks.
func (s *SQLStore) ActiveFor(ctx context.Context, agent string) ([]*models.Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE (claimed_by = ? OR assigned_to = ?)
			AND status IN ('claimed', 'in_progress', 'blocked')
		ORDER BY `+priorityRank("priority")+`, updated_at DESC
	`, agent, agent)
}

// FeedFor returns recent history on tasks the agent created, claimed or is
// assigned, newest first.
func (s *SQLStore) FeedFor(ctx context.Context, agent string, limit int) ([]*models.FeedEntry, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT h.id, h.task_id, h.agent_name, h.action, h.details, h.created_at, t.title
		FROM task_history h JOIN tasks t ON t.id = h.task_id
		WHERE t.created_by = ? OR t.claimed_by = ? OR t.assigned_to = ?
		ORDER BY h.created_at DESC LIMIT ?
	`), agent, agent, agent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*models.FeedEntry{}
	for rows.Next() {
		e := &models.FeedEntry{}
		if err := rows.Scan(&e.ID, &e.TaskID, &e.AgentName, &e.Action, &e.Details,
			&e.CreatedAt, &e.TaskTitle); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByStatus returns how many tasks sit in each status.
func (s *SQLStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.ro.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
