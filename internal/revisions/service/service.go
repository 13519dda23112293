package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/apperr"
	"github.com/dylanneve1/agent-bridge/internal/common/clock"
	"github.com/dylanneve1/agent-bridge/internal/common/ids"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/events"
	"github.com/dylanneve1/agent-bridge/internal/events/bus"
	"github.com/dylanneve1/agent-bridge/internal/revisions/models"
	"github.com/dylanneve1/agent-bridge/internal/revisions/store"
)

// DefaultLogLimit caps unpaginated commit logs.
const DefaultLogLimit = 50

// Service implements the revision system: repos, linear branch chains,
// tree materialization and diffs.
type Service struct {
	repo     store.Repository
	eventBus bus.EventBus
	logger   *logger.Logger
}

func NewService(repo store.Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "revisions-service")),
	}
}

// CreateRepo inserts a named repo with "main" as its default branch.
func (s *Service) CreateRepo(ctx context.Context, agent, name, description, projectID string) (*models.Repo, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	repo := &models.Repo{
		ID:            ids.New(),
		Name:          name,
		Description:   description,
		CreatedBy:     agent,
		DefaultBranch: "main",
		ProjectID:     projectID,
		CreatedAt:     clock.Now(),
	}
	if err := s.repo.CreateRepo(ctx, repo); err != nil {
		return nil, err
	}
	s.publish(ctx, events.RepoCreated, map[string]interface{}{
		"repo_id":    repo.ID,
		"name":       repo.Name,
		"created_by": agent,
	})
	return repo, nil
}

// List returns all repos.
func (s *Service) List(ctx context.Context) ([]*models.Repo, error) {
	return s.repo.ListRepos(ctx)
}

// ForProject returns the repos linked to one project.
func (s *Service) ForProject(ctx context.Context, projectID string) ([]*models.Repo, error) {
	return s.repo.ForProject(ctx, projectID)
}

// Detail is the full view of one repo.
type Detail struct {
	Repo     *models.Repo     `json:"repo"`
	Branches []*models.Branch `json:"branches"`
}

// Get returns a repo with its branches.
func (s *Service) Get(ctx context.Context, name string) (*Detail, error) {
	repo, err := s.repo.GetRepo(ctx, name)
	if err != nil {
		return nil, err
	}
	branches, err := s.repo.Branches(ctx, repo.ID)
	if err != nil {
		return nil, err
	}
	return &Detail{Repo: repo, Branches: branches}, nil
}

// FileChange is one entry of a commit request.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Action  string `json:"action"`
}

// Commit writes one commit to a branch: parent linked to the current head,
// snapshots recorded, head advanced, all in one transaction.
func (s *Service) Commit(ctx context.Context, agent, repoName, branch, message string, changes []*FileChange) (*models.Commit, error) {
	if strings.TrimSpace(message) == "" {
		return nil, apperr.Validation("message is required")
	}
	if len(changes) == 0 {
		return nil, apperr.Validation("files is required")
	}
	repo, err := s.repo.GetRepo(ctx, repoName)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		branch = repo.DefaultBranch
	}

	commit := &models.Commit{
		ID:        ids.New(),
		RepoID:    repo.ID,
		Branch:    branch,
		Author:    agent,
		Message:   message,
		CreatedAt: clock.Now(),
	}
	files := make([]*models.RevFile, 0, len(changes))
	for _, ch := range changes {
		if strings.TrimSpace(ch.Path) == "" {
			return nil, apperr.Validation("file path is required")
		}
		if !models.ValidAction(ch.Action) {
			return nil, apperr.Validation("Invalid action '%s' (must be add, modify or delete)", ch.Action)
		}
		sum := sha256.Sum256([]byte(ch.Content))
		files = append(files, &models.RevFile{
			ID:       ids.New(),
			CommitID: commit.ID,
			Path:     ch.Path,
			Content:  ch.Content,
			SHA256:   hex.EncodeToString(sum[:]),
			Size:     len(ch.Content),
			Action:   ch.Action,
		})
	}

	if err := s.repo.CreateCommit(ctx, commit, files); err != nil {
		return nil, err
	}
	s.publish(ctx, events.RevisionCommitted, map[string]interface{}{
		"commit_id": commit.ID,
		"repo":      repoName,
		"branch":    branch,
		"author":    agent,
		"files":     len(files),
	})
	return commit, nil
}

// chain orders a branch's commits newest-to-oldest by walking parent links
// from the head. Commits orphaned from the chain are excluded.
func chain(commits []*models.Commit, head string) []*models.Commit {
	byID := make(map[string]*models.Commit, len(commits))
	for _, c := range commits {
		byID[c.ID] = c
	}
	var ordered []*models.Commit
	for id := head; id != ""; {
		c, ok := byID[id]
		if !ok {
			break
		}
		ordered = append(ordered, c)
		id = c.ParentID
	}
	return ordered
}

// branchChain loads one branch's chain, newest first. A missing branch is a
// 404; an empty branch is an empty chain.
func (s *Service) branchChain(ctx context.Context, repo *models.Repo, branch string) ([]*models.Commit, error) {
	head, exists, err := s.repo.BranchHead(ctx, repo.ID, branch)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperr.NotFound("Branch '%s' not found", branch)
	}
	if head == "" {
		return []*models.Commit{}, nil
	}
	commits, err := s.repo.BranchCommits(ctx, repo.ID, branch)
	if err != nil {
		return nil, err
	}
	return chain(commits, head), nil
}

// resolveBranch defaults an empty branch name to the repo's default branch.
func resolveBranch(repo *models.Repo, branch string) string {
	if branch == "" {
		return repo.DefaultBranch
	}
	return branch
}

// Log returns the branch's commits newest first with per-commit file lists.
func (s *Service) Log(ctx context.Context, repoName, branch string, limit int) ([]*models.LogEntry, error) {
	repo, err := s.repo.GetRepo(ctx, repoName)
	if err != nil {
		return nil, err
	}
	ordered, err := s.branchChain(ctx, repo, resolveBranch(repo, branch))
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}

	commitIDs := make([]string, len(ordered))
	for i, c := range ordered {
		commitIDs[i] = c.ID
	}
	summaries, err := s.repo.FileSummaries(ctx, commitIDs)
	if err != nil {
		return nil, err
	}

	entries := make([]*models.LogEntry, 0, len(ordered))
	for _, c := range ordered {
		files := summaries[c.ID]
		if files == nil {
			files = []*models.FileSummary{}
		}
		entries = append(entries, &models.LogEntry{Commit: *c, Files: files})
	}
	return entries, nil
}

// Tree materializes the branch's current file listing: a fold over the chain
// newest-to-oldest keeping the first-seen action per path, with deleted
// paths filtered out, sorted by path.
func (s *Service) Tree(ctx context.Context, repoName, branch string) ([]*models.TreeEntry, error) {
	repo, err := s.repo.GetRepo(ctx, repoName)
	if err != nil {
		return nil, err
	}
	ordered, err := s.branchChain(ctx, repo, resolveBranch(repo, branch))
	if err != nil {
		return nil, err
	}
	commitIDs := make([]string, len(ordered))
	for i, c := range ordered {
		commitIDs[i] = c.ID
	}
	summaries, err := s.repo.FileSummaries(ctx, commitIDs)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var tree []*models.TreeEntry
	for _, c := range ordered {
		for _, f := range summaries[c.ID] {
			if seen[f.Path] {
				continue
			}
			seen[f.Path] = true
			if f.Action == models.ActionDelete {
				continue
			}
			tree = append(tree, &models.TreeEntry{
				Path:   f.Path,
				Size:   f.Size,
				SHA256: f.SHA256,
				Commit: c.ID,
			})
		}
	}
	sort.Slice(tree, func(i, j int) bool { return tree[i].Path < tree[j].Path })
	if tree == nil {
		tree = []*models.TreeEntry{}
	}
	return tree, nil
}

// ReadFile returns the most recent non-deleted content of one path on a
// branch.
func (s *Service) ReadFile(ctx context.Context, repoName, branch, path string) (*models.FileContent, error) {
	repo, err := s.repo.GetRepo(ctx, repoName)
	if err != nil {
		return nil, err
	}
	branch = resolveBranch(repo, branch)
	ordered, err := s.branchChain(ctx, repo, branch)
	if err != nil {
		return nil, err
	}
	versions, err := s.repo.PathVersions(ctx, repo.ID, branch, path)
	if err != nil {
		return nil, err
	}
	for _, c := range ordered {
		f, ok := versions[c.ID]
		if !ok {
			continue
		}
		if f.Action == models.ActionDelete {
			return nil, apperr.NotFound("File '%s' not found in branch '%s'", path, branch)
		}
		return &models.FileContent{
			Path:    f.Path,
			Content: f.Content,
			Size:    f.Size,
			SHA256:  f.SHA256,
			Commit:  c.ID,
		}, nil
	}
	return nil, apperr.NotFound("File '%s' not found in branch '%s'", path, branch)
}

// Diff renders a unified diff of one commit's files. Adds and deletes are
// stubs; modifications diff against the most recent earlier version of the
// path on the same branch.
func (s *Service) Diff(ctx context.Context, repoName, commitID string) (string, error) {
	repo, err := s.repo.GetRepo(ctx, repoName)
	if err != nil {
		return "", err
	}
	commit, err := s.repo.GetCommit(ctx, repo.ID, commitID)
	if err != nil {
		return "", err
	}
	files, err := s.repo.CommitFiles(ctx, commitID)
	if err != nil {
		return "", err
	}

	// The earlier portion of the chain, starting at the commit's parent,
	// serves previous-version lookups for modified files.
	var earlier []*models.Commit
	if commit.ParentID != "" {
		commits, err := s.repo.BranchCommits(ctx, repo.ID, commit.Branch)
		if err != nil {
			return "", err
		}
		earlier = chain(commits, commit.ParentID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "commit %s\nauthor: %s\nmessage: %s\n\n", commit.ID, commit.Author, commit.Message)
	for _, f := range files {
		switch f.Action {
		case models.ActionAdd:
			fmt.Fprintf(&b, "--- /dev/null\n+++ b/%s\nnew file, %d bytes\n\n", f.Path, f.Size)
		case models.ActionDelete:
			fmt.Fprintf(&b, "--- a/%s\n+++ /dev/null\nfile deleted\n\n", f.Path)
		default:
			previous, err := s.previousContent(ctx, repo, commit.Branch, f.Path, earlier)
			if err != nil {
				return "", err
			}
			text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
				A:        difflib.SplitLines(previous),
				B:        difflib.SplitLines(f.Content),
				FromFile: "a/" + f.Path,
				ToFile:   "b/" + f.Path,
				Context:  3,
			})
			if err != nil {
				return "", err
			}
			if text == "" {
				text = fmt.Sprintf("--- a/%s\n+++ b/%s\n(no changes)\n", f.Path, f.Path)
			}
			b.WriteString(text)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// previousContent finds the path's content just before the diffed commit,
// or empty when the path has no earlier version.
func (s *Service) previousContent(ctx context.Context, repo *models.Repo, branch, path string, earlier []*models.Commit) (string, error) {
	if len(earlier) == 0 {
		return "", nil
	}
	versions, err := s.repo.PathVersions(ctx, repo.ID, branch, path)
	if err != nil {
		return "", err
	}
	for _, c := range earlier {
		if f, ok := versions[c.ID]; ok {
			if f.Action == models.ActionDelete {
				return "", nil
			}
			return f.Content, nil
		}
	}
	return "", nil
}

func (s *Service) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, subject, bus.NewEvent(subject, "revisions-service", data)); err != nil {
		s.logger.Error("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
