package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/dylanneve1/agent-bridge/internal/common/apperr"
	"github.com/dylanneve1/agent-bridge/internal/db"
	"github.com/dylanneve1/agent-bridge/internal/db/dialect"
	"github.com/dylanneve1/agent-bridge/internal/revisions/models"
)

// SQLStore provides revision storage on SQLite or PostgreSQL.
type SQLStore struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

var _ Repository = (*SQLStore)(nil)

// New creates the store and initializes its schema.
func New(writer, reader *sqlx.DB) (*SQLStore, error) {
	s := &SQLStore{db: writer, ro: reader}
	if err := s.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize revisions schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	ts := dialect.Real(s.db.DriverName())
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS repos (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL,
			default_branch TEXT NOT NULL DEFAULT 'main',
			project_id TEXT,
			created_at %s NOT NULL
		)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS branches (
			repo_id TEXT NOT NULL,
			name TEXT NOT NULL,
			head_commit TEXT,
			created_at %s NOT NULL,
			PRIMARY KEY (repo_id, name)
		)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS commits (
			id TEXT PRIMARY KEY,
			repo_id TEXT NOT NULL,
			branch TEXT NOT NULL,
			author TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at %s NOT NULL,
			parent_id TEXT
		)`, ts),
		`CREATE TABLE IF NOT EXISTS rev_files (
			id TEXT PRIMARY KEY,
			commit_id TEXT NOT NULL,
			path TEXT NOT NULL,
			content TEXT NOT NULL,
			sha256 TEXT NOT NULL,
			size INTEGER NOT NULL,
			action TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_commits_repo_branch ON commits(repo_id, branch)`,
		`CREATE INDEX IF NOT EXISTS idx_rev_files_commit ON rev_files(commit_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rev_files_path ON rev_files(path)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateRepo inserts one repo; the name is globally unique.
func (s *SQLStore) CreateRepo(ctx context.Context, repo *models.Repo) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO repos (id, name, description, created_by, default_branch, project_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), repo.ID, repo.Name, repo.Description, repo.CreatedBy, repo.DefaultBranch,
		sql.NullString{String: repo.ProjectID, Valid: repo.ProjectID != ""}, repo.CreatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("Repo '%s' already exists", repo.Name)
	}
	return err
}

func scanRepo(row rowScanner) (*models.Repo, error) {
	repo := &models.Repo{}
	var projectID sql.NullString
	if err := row.Scan(&repo.ID, &repo.Name, &repo.Description, &repo.CreatedBy,
		&repo.DefaultBranch, &projectID, &repo.CreatedAt); err != nil {
		return nil, err
	}
	repo.ProjectID = projectID.String
	return repo, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const repoColumns = `id, name, description, created_by, default_branch, project_id, created_at`

// GetRepo retrieves one repo by name.
func (s *SQLStore) GetRepo(ctx context.Context, name string) (*models.Repo, error) {
	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT `+repoColumns+` FROM repos WHERE name = ?
	`), name)
	repo, err := scanRepo(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Repo not found")
	}
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// ListRepos returns all repos, newest first.
func (s *SQLStore) ListRepos(ctx context.Context) ([]*models.Repo, error) {
	return s.queryRepos(ctx, `SELECT `+repoColumns+` FROM repos ORDER BY created_at DESC`)
}

// ForProject returns the repos linked to one project.
func (s *SQLStore) ForProject(ctx context.Context, projectID string) ([]*models.Repo, error) {
	return s.queryRepos(ctx, `SELECT `+repoColumns+` FROM repos WHERE project_id = ? ORDER BY name ASC`, projectID)
}

func (s *SQLStore) queryRepos(ctx context.Context, query string, args ...interface{}) ([]*models.Repo, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	repos := []*models.Repo{}
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// Branches returns a repo's branches with head ids and commit counts.
func (s *SQLStore) Branches(ctx context.Context, repoID string) ([]*models.Branch, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT b.name, b.head_commit,
			(SELECT COUNT(*) FROM commits c WHERE c.repo_id = b.repo_id AND c.branch = b.name) AS commit_count
		FROM branches b WHERE b.repo_id = ? ORDER BY b.name ASC
	`), repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := []*models.Branch{}
	for rows.Next() {
		b := &models.Branch{}
		var head sql.NullString
		if err := rows.Scan(&b.Name, &head, &b.CommitCount); err != nil {
			return nil, err
		}
		b.HeadCommit = head.String
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

// BranchHead returns the head commit id of one branch and whether the branch
// exists.
func (s *SQLStore) BranchHead(ctx context.Context, repoID, branch string) (string, bool, error) {
	var head sql.NullString
	err := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT head_commit FROM branches WHERE repo_id = ? AND name = ?
	`), repoID, branch).Scan(&head)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return head.String, true, nil
}

// CreateCommit writes one commit atomically: parent taken from the current
// branch head, file snapshots inserted, head advanced. The branch is created
// on first use. Concurrent commits to one branch serialize on the writer;
// last write wins at the head.
func (s *SQLStore) CreateCommit(ctx context.Context, commit *models.Commit, files []*models.RevFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	var head sql.NullString
	err = tx.QueryRowContext(ctx, s.db.Rebind(`
		SELECT head_commit FROM branches WHERE repo_id = ? AND name = ?
	`), commit.RepoID, commit.Branch).Scan(&head)
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO branches (repo_id, name, head_commit, created_at) VALUES (?, ?, NULL, ?)
		`), commit.RepoID, commit.Branch, commit.CreatedAt); err != nil {
			return db.Rollback(tx, err)
		}
	} else if err != nil {
		return db.Rollback(tx, err)
	}
	commit.ParentID = head.String

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO commits (id, repo_id, branch, author, message, created_at, parent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), commit.ID, commit.RepoID, commit.Branch, commit.Author, commit.Message,
		commit.CreatedAt, sql.NullString{String: commit.ParentID, Valid: commit.ParentID != ""}); err != nil {
		return db.Rollback(tx, err)
	}

	for _, f := range files {
		if _, err := tx.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO rev_files (id, commit_id, path, content, sha256, size, action)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`), f.ID, f.CommitID, f.Path, f.Content, f.SHA256, f.Size, f.Action); err != nil {
			return db.Rollback(tx, err)
		}
	}

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE branches SET head_commit = ? WHERE repo_id = ? AND name = ?
	`), commit.ID, commit.RepoID, commit.Branch); err != nil {
		return db.Rollback(tx, err)
	}
	return tx.Commit()
}

// BranchCommits returns every commit on one branch, newest first.
func (s *SQLStore) BranchCommits(ctx context.Context, repoID, branch string) ([]*models.Commit, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, repo_id, branch, author, message, created_at, parent_id
		FROM commits WHERE repo_id = ? AND branch = ? ORDER BY created_at DESC
	`), repoID, branch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	commits := []*models.Commit{}
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

func scanCommit(row rowScanner) (*models.Commit, error) {
	c := &models.Commit{}
	var parent sql.NullString
	if err := row.Scan(&c.ID, &c.RepoID, &c.Branch, &c.Author, &c.Message,
		&c.CreatedAt, &parent); err != nil {
		return nil, err
	}
	c.ParentID = parent.String
	return c, nil
}

// GetCommit retrieves one commit, scoped to a repo.
func (s *SQLStore) GetCommit(ctx context.Context, repoID, commitID string) (*models.Commit, error) {
	row := s.ro.QueryRowContext(ctx, s.ro.Rebind(`
		SELECT id, repo_id, branch, author, message, created_at, parent_id
		FROM commits WHERE repo_id = ? AND id = ?
	`), repoID, commitID)
	c, err := scanCommit(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("Commit not found")
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FileSummaries returns the content-free file rows of the given commits,
// keyed by commit id.
func (s *SQLStore) FileSummaries(ctx context.Context, commitIDs []string) (map[string][]*models.FileSummary, error) {
	out := map[string][]*models.FileSummary{}
	if len(commitIDs) == 0 {
		return out, nil
	}
	marks := make([]string, len(commitIDs))
	args := make([]interface{}, len(commitIDs))
	for i, id := range commitIDs {
		marks[i] = "?"
		args[i] = id
	}
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT commit_id, path, action, size, sha256 FROM rev_files
		WHERE commit_id IN (`+strings.Join(marks, ", ")+`) ORDER BY path ASC
	`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var commitID string
		f := &models.FileSummary{}
		if err := rows.Scan(&commitID, &f.Path, &f.Action, &f.Size, &f.SHA256); err != nil {
			return nil, err
		}
		out[commitID] = append(out[commitID], f)
	}
	return out, rows.Err()
}

// CommitFiles returns a commit's file rows with content, ordered by path.
func (s *SQLStore) CommitFiles(ctx context.Context, commitID string) ([]*models.RevFile, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT id, commit_id, path, content, sha256, size, action
		FROM rev_files WHERE commit_id = ? ORDER BY path ASC
	`), commitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := []*models.RevFile{}
	for rows.Next() {
		f := &models.RevFile{}
		if err := rows.Scan(&f.ID, &f.CommitID, &f.Path, &f.Content, &f.SHA256,
			&f.Size, &f.Action); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// PathVersions returns every version of one path on a branch with content,
// keyed by commit id.
func (s *SQLStore) PathVersions(ctx context.Context, repoID, branch, path string) (map[string]*models.RevFile, error) {
	rows, err := s.ro.QueryContext(ctx, s.ro.Rebind(`
		SELECT f.id, f.commit_id, f.path, f.content, f.sha256, f.size, f.action
		FROM rev_files f JOIN commits c ON c.id = f.commit_id
		WHERE c.repo_id = ? AND c.branch = ? AND f.path = ?
	`), repoID, branch, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := map[string]*models.RevFile{}
	for rows.Next() {
		f := &models.RevFile{}
		if err := rows.Scan(&f.ID, &f.CommitID, &f.Path, &f.Content, &f.SHA256,
			&f.Size, &f.Action); err != nil {
			return nil, err
		}
		versions[f.CommitID] = f
	}
	return versions, rows.Err()
}
