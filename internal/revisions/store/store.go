package store

import (
	"context"

	"github.com/dylanneve1/agent-bridge/internal/revisions/models"
)

// Repository is the persistence surface of the revision system. Chain
// ordering and tree materialization happen in the service; the store serves
// raw rows.
type Repository interface {
	CreateRepo(ctx context.Context, repo *models.Repo) error
	GetRepo(ctx context.Context, name string) (*models.Repo, error)
	ListRepos(ctx context.Context) ([]*models.Repo, error)
	ForProject(ctx context.Context, projectID string) ([]*models.Repo, error)

	Branches(ctx context.Context, repoID string) ([]*models.Branch, error)
	// BranchHead returns the branch's head commit id ("" for an empty
	// branch) and whether the branch exists at all.
	BranchHead(ctx context.Context, repoID, branch string) (string, bool, error)

	// CreateCommit links the commit to the current branch head, writes the
	// file snapshots and advances the head, all in one transaction. The
	// branch is created on demand. commit.ParentID is filled in.
	CreateCommit(ctx context.Context, commit *models.Commit, files []*models.RevFile) error

	BranchCommits(ctx context.Context, repoID, branch string) ([]*models.Commit, error)
	GetCommit(ctx context.Context, repoID, commitID string) (*models.Commit, error)

	// FileSummaries returns the content-free file rows of the given commits.
	FileSummaries(ctx context.Context, commitIDs []string) (map[string][]*models.FileSummary, error)
	// CommitFiles returns a commit's file rows with content.
	CommitFiles(ctx context.Context, commitID string) ([]*models.RevFile, error)
	// PathVersions returns every version of one path on a branch, keyed by
	// commit id, with content.
	PathVersions(ctx context.Context, repoID, branch, path string) (map[string]*models.RevFile, error)
}
