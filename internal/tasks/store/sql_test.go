package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dylanneve1/agent-bridge/internal/common/apperr"
	"github.com/dylanneve1/agent-bridge/internal/common/clock"
	"github.com/dylanneve1/agent-bridge/internal/common/ids"
	"github.com/dylanneve1/agent-bridge/internal/db"
	"github.com/dylanneve1/agent-bridge/internal/db/dialect"
	"github.com/dylanneve1/agent-bridge/internal/tasks/models"
)

func createTestStore(t *testing.T) (*SQLStore, func()) {
	t.Helper()
	pool, err := db.Open(db.Options{
		Driver:      dialect.SQLite3,
		Path:        filepath.Join(t.TempDir(), "bridge.db"),
		BusyTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	store, err := New(pool.Writer(), pool.Reader())
	if err != nil {
		pool.Close()
		t.Fatalf("create store: %v", err)
	}
	return store, func() { pool.Close() }
}

func newTask(title, createdBy string) *models.Task {
	now := clock.Now()
	return &models.Task{
		ID: ids.New(), Title: title, Status: models.StatusOpen,
		Priority: models.PriorityNormal, CreatedBy: createdBy,
		Tags: []string{}, CreatedAt: now, UpdatedAt: now,
	}
}

func mustCreate(t *testing.T, store *SQLStore, task *models.Task, deps []string) {
	t.Helper()
	if err := store.CreateTask(context.Background(), task, deps); err != nil {
		t.Fatalf("create task %q: %v", task.Title, err)
	}
}

func TestCreateAndGetTask(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	task := newTask("refactor parser", "alice")
	task.Description = "split the lexer out"
	task.Tags = []string{"infra", "parser"}
	task.DueBy = "2026-09-01"
	task.EffortEstimate = "2d"
	mustCreate(t, store, task, nil)

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Title != "refactor parser" || got.Description != "split the lexer out" {
		t.Errorf("task = %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "infra" {
		t.Errorf("tags = %v", got.Tags)
	}
	if got.DueBy != "2026-09-01" || got.EffortEstimate != "2d" {
		t.Errorf("due_by = %q, effort = %q", got.DueBy, got.EffortEstimate)
	}
	if got.Status != models.StatusOpen || got.CompletedAt != nil {
		t.Errorf("fresh task status = %q completed_at = %v", got.Status, got.CompletedAt)
	}

	// Creation writes the opening history entry.
	history, err := store.ListHistory(ctx, task.ID, 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 1 || history[0].Action != "created" {
		t.Fatalf("history = %+v, want one created entry", history)
	}

	if _, err := store.GetTask(ctx, "missing"); !apperr.IsNotFound(err) {
		t.Errorf("missing task error = %v, want not found", err)
	}
}

func TestCreateTaskDependencies(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	base := newTask("set up database", "alice")
	mustCreate(t, store, base, nil)

	// Unknown and self dependencies are skipped, not failed.
	task := newTask("wire the API", "alice")
	mustCreate(t, store, task, []string{base.ID, "no-such-task", task.ID, base.ID})

	info, err := store.Dependencies(ctx, task.ID)
	if err != nil {
		t.Fatalf("dependencies: %v", err)
	}
	if len(info.DependsOn) != 1 || info.DependsOn[0].ID != base.ID {
		t.Fatalf("depends_on = %+v, want just the base task", info.DependsOn)
	}
	if info.UnmetBlockers != 1 {
		t.Errorf("unmet blockers = %d, want 1", info.UnmetBlockers)
	}

	// The reverse side lists the dependent.
	reverse, err := store.Dependencies(ctx, base.ID)
	if err != nil {
		t.Fatalf("reverse dependencies: %v", err)
	}
	if len(reverse.Blocks) != 1 || reverse.Blocks[0].ID != task.ID {
		t.Errorf("blocks = %+v", reverse.Blocks)
	}
}

func TestCreateTaskParent(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()

	parent := newTask("epic", "alice")
	mustCreate(t, store, parent, nil)

	child := newTask("subtask", "alice")
	child.ParentID = parent.ID
	mustCreate(t, store, child, nil)

	orphan := newTask("orphan", "alice")
	orphan.ParentID = "missing"
	err := store.CreateTask(context.Background(), orphan, nil)
	if !apperr.IsNotFound(err) {
		t.Fatalf("orphan create error = %v, want not found", err)
	}
}

func TestTransitionGuard(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	task := newTask("guarded", "alice")
	mustCreate(t, store, task, nil)

	claim := func(agent string) (*models.Task, error) {
		now := clock.Now()
		return store.Transition(ctx, &TransitionUpdate{
			TaskID:      task.ID,
			AllowedFrom: []models.Status{models.StatusOpen},
			NewStatus:   models.StatusClaimed,
			ClaimedBy:   agent,
			Now:         now,
			History: &models.HistoryEntry{
				ID: ids.New(), TaskID: task.ID, AgentName: agent,
				Action: "claimed", CreatedAt: now,
			},
		})
	}

	claimed, err := claim("alice")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != models.StatusClaimed || claimed.ClaimedBy != "alice" {
		t.Errorf("task = %q claimed by %q", claimed.Status, claimed.ClaimedBy)
	}

	// A losing racer gets the live status in the error.
	_, err = claim("bob")
	if apperr.StatusOf(err) != 400 {
		t.Fatalf("second claim error = %v, want validation", err)
	}
	if err.Error() != "Task cannot be claimed (status: claimed)" {
		t.Errorf("message = %q", err.Error())
	}

	// History for the losing attempt is not recorded.
	history, err := store.ListHistory(ctx, task.ID, 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("history has %d entries, want created+claimed", len(history))
	}
}

func TestTransitionKeepsClaimer(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	task := newTask("handoff", "alice")
	mustCreate(t, store, task, nil)

	now := clock.Now()
	if _, err := store.Transition(ctx, &TransitionUpdate{
		TaskID: task.ID, AllowedFrom: []models.Status{models.StatusOpen},
		NewStatus: models.StatusClaimed, ClaimedBy: "alice", Now: now,
		History: &models.HistoryEntry{ID: ids.New(), TaskID: task.ID, AgentName: "alice", Action: "claimed", CreatedAt: now},
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// bob starting the task must not steal the claim.
	now = clock.Now()
	started, err := store.Transition(ctx, &TransitionUpdate{
		TaskID: task.ID, AllowedFrom: []models.Status{models.StatusOpen, models.StatusClaimed},
		NewStatus: models.StatusInProgress, ClaimedBy: "bob", Now: now,
		History: &models.HistoryEntry{ID: ids.New(), TaskID: task.ID, AgentName: "bob", Action: "started", CreatedAt: now},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.ClaimedBy != "alice" {
		t.Errorf("claimed_by = %q, want alice preserved", started.ClaimedBy)
	}
	if started.Status != models.StatusInProgress {
		t.Errorf("status = %q, want in_progress", started.Status)
	}
}

func TestTransitionStampsCompletion(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	task := newTask("finishable", "alice")
	mustCreate(t, store, task, nil)

	now := clock.Now()
	done, err := store.Transition(ctx, &TransitionUpdate{
		TaskID: task.ID, NewStatus: models.StatusDone, StampCompleted: true, Now: now,
		History: &models.HistoryEntry{ID: ids.New(), TaskID: task.ID, AgentName: "alice", Action: "completed", CreatedAt: now},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletedAt == nil || *done.CompletedAt != now {
		t.Errorf("completed_at = %v, want %v", done.CompletedAt, now)
	}
}

func TestTransitionWithComment(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	task := newTask("stuck", "alice")
	mustCreate(t, store, task, nil)

	now := clock.Now()
	if _, err := store.Transition(ctx, &TransitionUpdate{
		TaskID: task.ID, NewStatus: models.StatusBlocked, Now: now,
		History: &models.HistoryEntry{ID: ids.New(), TaskID: task.ID, AgentName: "alice", Action: "blocked", Details: "waiting on credentials", CreatedAt: now},
		Comment: &models.Comment{ID: ids.New(), TaskID: task.ID, AgentName: "alice", Content: "🚫 Blocked: waiting on credentials", CreatedAt: now},
	}); err != nil {
		t.Fatalf("block: %v", err)
	}

	comments, err := store.ListComments(ctx, task.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 1 || !strings.Contains(comments[0].Content, "waiting on credentials") {
		t.Errorf("comments = %+v", comments)
	}
}

func TestAddComment(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	task := newTask("discussable", "alice")
	mustCreate(t, store, task, nil)

	before, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}

	comment := &models.Comment{
		ID: ids.New(), TaskID: task.ID, AgentName: "bob",
		Content: "looking at this now", CreatedAt: before.UpdatedAt + 10,
	}
	if err := store.AddComment(ctx, comment); err != nil {
		t.Fatalf("add comment: %v", err)
	}

	// Commenting bumps the task's updated_at.
	after, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if after.UpdatedAt != comment.CreatedAt {
		t.Errorf("updated_at = %v, want %v", after.UpdatedAt, comment.CreatedAt)
	}

	err = store.AddComment(ctx, &models.Comment{
		ID: ids.New(), TaskID: "missing", AgentName: "bob", Content: "x", CreatedAt: clock.Now(),
	})
	if !apperr.IsNotFound(err) {
		t.Errorf("comment on missing task error = %v, want not found", err)
	}
}

func TestDependencyEdges(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	a := newTask("a", "alice")
	b := newTask("b", "alice")
	mustCreate(t, store, a, nil)
	mustCreate(t, store, b, nil)

	if err := store.AddDependency(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	err := store.AddDependency(ctx, b.ID, a.ID)
	if !apperr.IsConflict(err) {
		t.Fatalf("duplicate edge error = %v, want conflict", err)
	}
	if err.Error() != "Dependency already exists" {
		t.Errorf("message = %q", err.Error())
	}

	if err := store.AddDependency(ctx, b.ID, "missing"); !apperr.IsNotFound(err) {
		t.Errorf("unknown endpoint error = %v, want not found", err)
	}

	if err := store.RemoveDependency(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("remove dependency: %v", err)
	}
	if err := store.RemoveDependency(ctx, b.ID, a.ID); !apperr.IsNotFound(err) {
		t.Errorf("remove absent edge error = %v, want not found", err)
	}
}

func TestListTasksFilters(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	urgent := newTask("urgent work", "alice")
	urgent.Priority = models.PriorityUrgent
	urgent.ProjectID = "proj-1"
	low := newTask("low work", "bob")
	low.Priority = models.PriorityLow
	low.AssignedTo = "carol"
	normal := newTask("normal work", "alice")
	for _, task := range []*models.Task{low, normal, urgent} {
		mustCreate(t, store, task, nil)
	}

	// Urgent sorts ahead of normal and low regardless of recency.
	all, err := store.ListTasks(ctx, ListFilter{Limit: 50})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].ID != urgent.ID || all[2].ID != low.ID {
		t.Fatalf("priority order wrong: %v", titles(all))
	}

	byCreator, err := store.ListTasks(ctx, ListFilter{CreatedBy: "alice", Limit: 50})
	if err != nil {
		t.Fatalf("list by creator: %v", err)
	}
	if len(byCreator) != 2 {
		t.Errorf("alice created %d tasks, want 2", len(byCreator))
	}

	byAssignee, err := store.ListTasks(ctx, ListFilter{AssignedTo: "carol", Limit: 50})
	if err != nil {
		t.Fatalf("list by assignee: %v", err)
	}
	if len(byAssignee) != 1 || byAssignee[0].ID != low.ID {
		t.Errorf("assignee filter = %v", titles(byAssignee))
	}

	byProject, err := store.ListTasks(ctx, ListFilter{ProjectID: "proj-1", Limit: 50})
	if err != nil {
		t.Fatalf("list by project: %v", err)
	}
	if len(byProject) != 1 || byProject[0].ID != urgent.ID {
		t.Errorf("project filter = %v", titles(byProject))
	}

	byPriority, err := store.ListTasks(ctx, ListFilter{Priority: "low", Limit: 50})
	if err != nil {
		t.Fatalf("list by priority: %v", err)
	}
	if len(byPriority) != 1 {
		t.Errorf("priority filter = %v", titles(byPriority))
	}
}

func titles(tasks []*models.Task) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.Title
	}
	return out
}

func TestBoard(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	open := newTask("open work", "alice")
	mustCreate(t, store, open, nil)
	finished := newTask("finished work", "alice")
	mustCreate(t, store, finished, nil)
	now := clock.Now()
	if _, err := store.Transition(ctx, &TransitionUpdate{
		TaskID: finished.ID, NewStatus: models.StatusDone, StampCompleted: true, Now: now,
		History: &models.HistoryEntry{ID: ids.New(), TaskID: finished.ID, AgentName: "alice", Action: "completed", CreatedAt: now},
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	board, err := store.Board(ctx, 10)
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	if len(board) != len(models.BoardStatuses) {
		t.Errorf("board has %d columns, want %d", len(board), len(models.BoardStatuses))
	}
	if len(board["open"]) != 1 || board["open"][0].ID != open.ID {
		t.Errorf("open column = %v", titles(board["open"]))
	}
	if len(board["done"]) != 1 {
		t.Errorf("done column = %v", titles(board["done"]))
	}
	if len(board["in_progress"]) != 0 {
		t.Errorf("in_progress column should be empty")
	}
}

func TestActiveForAndFeed(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	mine := newTask("mine", "alice")
	mustCreate(t, store, mine, nil)
	now := clock.Now()
	if _, err := store.Transition(ctx, &TransitionUpdate{
		TaskID: mine.ID, AllowedFrom: []models.Status{models.StatusOpen},
		NewStatus: models.StatusClaimed, ClaimedBy: "bob", Now: now,
		History: &models.HistoryEntry{ID: ids.New(), TaskID: mine.ID, AgentName: "bob", Action: "claimed", CreatedAt: now},
	}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	assigned := newTask("assigned", "alice")
	assigned.AssignedTo = "bob"
	mustCreate(t, store, assigned, nil)

	idle := newTask("idle", "carol")
	mustCreate(t, store, idle, nil)

	active, err := store.ActiveFor(ctx, "bob")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	// Claimed counts as active; an open assignment does not.
	if len(active) != 1 || active[0].ID != mine.ID {
		t.Errorf("active = %v", titles(active))
	}

	feed, err := store.FeedFor(ctx, "bob", 10)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	// bob claimed mine and is assigned to assigned: both tasks' history shows.
	if len(feed) != 3 {
		t.Fatalf("feed has %d entries, want 3", len(feed))
	}
	if feed[0].Action != "created" || feed[0].TaskTitle != "assigned" {
		t.Errorf("newest entry = %+v", feed[0])
	}

	feed, err = store.FeedFor(ctx, "carol", 10)
	if err != nil {
		t.Fatalf("feed for carol: %v", err)
	}
	if len(feed) != 1 || feed[0].TaskTitle != "idle" {
		t.Errorf("carol feed = %+v", feed)
	}
}

func TestCountByStatus(t *testing.T) {
	store, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		mustCreate(t, store, newTask("open", "alice"), nil)
	}
	done := newTask("done", "alice")
	mustCreate(t, store, done, nil)
	now := clock.Now()
	if _, err := store.Transition(ctx, &TransitionUpdate{
		TaskID: done.ID, NewStatus: models.StatusDone, StampCompleted: true, Now: now,
		History: &models.HistoryEntry{ID: ids.New(), TaskID: done.ID, AgentName: "alice", Action: "completed", CreatedAt: now},
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count by status: %v", err)
	}
	if counts["open"] != 2 || counts["done"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
