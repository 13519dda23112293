// Package models defines the revision system entities: repos, branches,
// commits and per-commit file snapshots.
package models

// File actions within a commit.
const (
	ActionAdd    = "add"
	ActionModify = "modify"
	ActionDelete = "delete"
)

// ValidAction reports whether a names a known file action.
func ValidAction(a string) bool {
	return a == ActionAdd || a == ActionModify || a == ActionDelete
}

// Repo is a named container of branches.
type Repo struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	CreatedBy     string  `json:"created_by"`
	DefaultBranch string  `json:"default_branch"`
	ProjectID     string  `json:"project_id,omitempty"`
	CreatedAt     float64 `json:"created_at"`
}

// Branch is a head pointer plus commit count. An empty branch has no head.
type Branch struct {
	Name        string `json:"name"`
	HeadCommit  string `json:"head_commit,omitempty"`
	CommitCount int    `json:"commit_count"`
}

// Commit is one node of a branch's linear chain. ParentID is the branch head
// at the time the commit was written; empty for the first commit.
type Commit struct {
	ID        string  `json:"id"`
	RepoID    string  `json:"repo_id"`
	Branch    string  `json:"branch"`
	Author    string  `json:"author"`
	Message   string  `json:"message"`
	CreatedAt float64 `json:"created_at"`
	ParentID  string  `json:"parent_id,omitempty"`
}

// RevFile is one file snapshot carried by a commit. Content is stored as
// text.
type RevFile struct {
	ID       string `json:"id"`
	CommitID string `json:"commit_id"`
	Path     string `json:"path"`
	Content  string `json:"-"`
	SHA256   string `json:"sha256"`
	Size     int    `json:"size"`
	Action   string `json:"action"`
}

// FileSummary is the content-free view of a RevFile, used in logs and trees.
type FileSummary struct {
	Path   string `json:"path"`
	Action string `json:"action"`
	Size   int    `json:"size"`
	SHA256 string `json:"sha256"`
}

// LogEntry is one commit with its changed files.
type LogEntry struct {
	Commit
	Files []*FileSummary `json:"files"`
}

// TreeEntry is one live file in a branch's materialized tree.
type TreeEntry struct {
	Path   string `json:"path"`
	Size   int    `json:"size"`
	SHA256 string `json:"sha256"`
	Commit string `json:"commit_id"`
}

// FileContent is the read view of one path on a branch.
type FileContent struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Size    int    `json:"size"`
	SHA256  string `json:"sha256"`
	Commit  string `json:"commit_id"`
}
