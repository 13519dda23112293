package service

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dylanneve1/agent-bridge/internal/common/apperr"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/db"
	"github.com/dylanneve1/agent-bridge/internal/db/dialect"
	"github.com/dylanneve1/agent-bridge/internal/tasks/models"
	"github.com/dylanneve1/agent-bridge/internal/tasks/store"
)

func createService(t *testing.T) *Service {
	t.Helper()
	pool, err := db.Open(db.Options{
		Driver:      dialect.SQLite3,
		Path:        filepath.Join(t.TempDir(), "bridge.db"),
		BusyTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	repo, err := store.New(pool.Writer(), pool.Reader())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	return NewService(repo, nil, log)
}

func mustCreateTask(t *testing.T, svc *Service, agent string, req *CreateRequest) *models.Task {
	t.Helper()
	task, err := svc.Create(context.Background(), agent, req)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateValidation(t *testing.T) {
	svc := createService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "alice", &CreateRequest{Title: "  "}); err == nil || err.Error() != "title is required" {
		t.Errorf("blank title error = %v", err)
	}

	_, err := svc.Create(ctx, "alice", &CreateRequest{Title: "x", Priority: "asap"})
	if err == nil || err.Error() != "Invalid priority 'asap' (must be low, normal, high or urgent)" {
		t.Errorf("bad priority error = %v", err)
	}

	_, err = svc.Create(ctx, "alice", &CreateRequest{Title: "x", DueBy: "next tuesday"})
	if apperr.StatusOf(err) != 400 || !strings.Contains(err.Error(), "Invalid due_by") {
		t.Errorf("bad due_by error = %v", err)
	}

	task := mustCreateTask(t, svc, "alice", &CreateRequest{
		Title: "defaults",
		Tags:  []string{" infra ", "", "db"},
		DueBy: "2026-09-15",
	})
	if task.Priority != models.PriorityNormal {
		t.Errorf("default priority = %q", task.Priority)
	}
	if len(task.Tags) != 2 || task.Tags[0] != "infra" || task.Tags[1] != "db" {
		t.Errorf("tags = %v, want trimmed non-empty", task.Tags)
	}
	if task.DueBy != "2026-09-15" {
		t.Errorf("due_by = %q", task.DueBy)
	}
	if task.CreatedBy != "alice" || task.Status != models.StatusOpen {
		t.Errorf("task = %+v", task)
	}
}

func TestLifecycle(t *testing.T) {
	svc := createService(t)
	ctx := context.Background()

	task := mustCreateTask(t, svc, "alice", &CreateRequest{Title: "ship it"})

	claimed, err := svc.Claim(ctx, "bob", task.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != models.StatusClaimed || claimed.ClaimedBy != "bob" {
		t.Errorf("after claim: %+v", claimed)
	}

	// Claiming twice loses to the guard with the live status.
	_, err = svc.Claim(ctx, "carol", task.ID)
	if apperr.StatusOf(err) != 400 || err.Error() != "Task cannot be claimed (status: claimed)" {
		t.Errorf("second claim error = %v", err)
	}

	started, err := svc.Start(ctx, "bob", task.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != models.StatusInProgress {
		t.Errorf("after start: %q", started.Status)
	}

	done, err := svc.Complete(ctx, "bob", task.ID, "merged in r42")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != models.StatusDone || done.CompletedAt == nil {
		t.Errorf("after complete: %+v", done)
	}

	// Terminal states admit no further verbs.
	if _, err := svc.Start(ctx, "bob", task.ID); apperr.StatusOf(err) != 400 {
		t.Errorf("start after done = %v", err)
	}

	history, err := svc.History(ctx, task.ID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history has %d entries, want created/claimed/started/completed", len(history))
	}
	last := history[len(history)-1]
	if last.Action != "completed" || last.Details != "merged in r42" {
		t.Errorf("last entry = %+v", last)
	}
}

func TestStartClaimsUnclaimed(t *testing.T) {
	svc := createService(t)

	task := mustCreateTask(t, svc, "alice", &CreateRequest{Title: "grab and go"})
	started, err := svc.Start(context.Background(), "bob", task.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.ClaimedBy != "bob" || started.Status != models.StatusInProgress {
		t.Errorf("after direct start: %+v", started)
	}
}

func TestBlock(t *testing.T) {
	svc := createService(t)
	ctx := context.Background()

	task := mustCreateTask(t, svc, "alice", &CreateRequest{Title: "stuck"})

	if _, err := svc.Block(ctx, "alice", task.ID, "  "); err == nil || err.Error() != "reason is required" {
		t.Errorf("blank reason error = %v", err)
	}

	blocked, err := svc.Block(ctx, "alice", task.ID, "waiting on api keys")
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if blocked.Status != models.StatusBlocked {
		t.Errorf("status = %q", blocked.Status)
	}

	comments, err := svc.Comments(ctx, task.ID)
	if err != nil {
		t.Fatalf("comments: %v", err)
	}
	if len(comments) != 1 || comments[0].Content != "🚫 Blocked: waiting on api keys" {
		t.Errorf("comments = %+v", comments)
	}

	// Block carries no source guard, so even a done task can be flagged.
	done := mustCreateTask(t, svc, "alice", &CreateRequest{Title: "reopened trouble"})
	if _, err := svc.Complete(ctx, "alice", done.ID, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	reblocked, err := svc.Block(ctx, "bob", done.ID, "regression found")
	if err != nil {
		t.Fatalf("block done task: %v", err)
	}
	if reblocked.Status != models.StatusBlocked {
		t.Errorf("status = %q", reblocked.Status)
	}
}

func TestPatch(t *testing.T) {
	svc := createService(t)
	ctx := context.Background()

	task := mustCreateTask(t, svc, "alice", &CreateRequest{Title: "draft", Priority: "low"})

	str := func(s string) *string { return &s }

	patched, err := svc.Patch(ctx, "bob", task.ID, &Update{
		Title:    str("final"),
		Priority: str("high"),
		Status:   str("done"),
		DueBy:    str("2026-10-01"),
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if patched.Title != "final" || patched.Priority != models.PriorityHigh {
		t.Errorf("patched = %+v", patched)
	}
	if patched.Status != models.StatusDone || patched.CompletedAt == nil {
		t.Errorf("done via patch must stamp completed_at: %+v", patched)
	}

	// All changes fold into one history entry.
	history, err := svc.History(ctx, task.ID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history has %d entries, want created+updated", len(history))
	}
	details := history[1].Details
	for _, want := range []string{"title updated", "status: open -> done", "priority: low -> high", "due 2026-10-01"} {
		if !strings.Contains(details, want) {
			t.Errorf("details %q missing %q", details, want)
		}
	}

	// A patch that changes nothing writes no history.
	if _, err := svc.Patch(ctx, "bob", task.ID, &Update{Title: str("final")}); err != nil {
		t.Fatalf("no-op patch: %v", err)
	}
	history, _ = svc.History(ctx, task.ID, 0)
	if len(history) != 2 {
		t.Errorf("no-op patch grew history to %d", len(history))
	}

	if _, err := svc.Patch(ctx, "bob", task.ID, &Update{Title: str(" ")}); err == nil || err.Error() != "title cannot be empty" {
		t.Errorf("empty title error = %v", err)
	}
	if _, err := svc.Patch(ctx, "bob", task.ID, &Update{Status: str("wip")}); err == nil || err.Error() != "Invalid status 'wip'" {
		t.Errorf("bad status error = %v", err)
	}
	if _, err := svc.Patch(ctx, "bob", task.ID, &Update{Priority: str("asap")}); apperr.StatusOf(err) != 400 {
		t.Errorf("bad priority error = %v", err)
	}
	if _, err := svc.Patch(ctx, "bob", "missing", &Update{}); !apperr.IsNotFound(err) {
		t.Errorf("patch missing task error = %v", err)
	}
}

func TestListAndTagFilter(t *testing.T) {
	svc := createService(t)
	ctx := context.Background()

	mustCreateTask(t, svc, "alice", &CreateRequest{Title: "tagged", Tags: []string{"infra"}})
	mustCreateTask(t, svc, "alice", &CreateRequest{Title: "untagged"})

	all, err := svc.List(ctx, store.ListFilter{}, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("list returned %d tasks", len(all))
	}

	tagged, err := svc.List(ctx, store.ListFilter{}, "infra")
	if err != nil {
		t.Fatalf("list by tag: %v", err)
	}
	if len(tagged) != 1 || tagged[0].Title != "tagged" {
		t.Errorf("tag filter = %+v", tagged)
	}

	if _, err := svc.List(ctx, store.ListFilter{Status: "wip"}, ""); err == nil || err.Error() != "Invalid status 'wip'" {
		t.Errorf("bad status filter error = %v", err)
	}
	if _, err := svc.List(ctx, store.ListFilter{Priority: "asap"}, ""); apperr.StatusOf(err) != 400 {
		t.Errorf("bad priority filter error = %v", err)
	}
}

func TestGetDetail(t *testing.T) {
	svc := createService(t)
	ctx := context.Background()

	base := mustCreateTask(t, svc, "alice", &CreateRequest{Title: "base"})
	task := mustCreateTask(t, svc, "alice", &CreateRequest{Title: "detailed", DependsOn: []string{base.ID}})
	if _, err := svc.Comment(ctx, "bob", task.ID, "on it"); err != nil {
		t.Fatalf("comment: %v", err)
	}

	detail, err := svc.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Task.ID != task.ID {
		t.Errorf("detail task = %+v", detail.Task)
	}
	if len(detail.Comments) != 1 || detail.Comments[0].AgentName != "bob" {
		t.Errorf("detail comments = %+v", detail.Comments)
	}
	if len(detail.History) == 0 {
		t.Error("detail history empty")
	}
	if len(detail.Dependencies.DependsOn) != 1 || detail.Dependencies.UnmetBlockers != 1 {
		t.Errorf("detail dependencies = %+v", detail.Dependencies)
	}

	if _, err := svc.Get(ctx, "missing"); !apperr.IsNotFound(err) {
		t.Errorf("get missing error = %v", err)
	}
}

func TestCommentValidation(t *testing.T) {
	svc := createService(t)
	ctx := context.Background()

	task := mustCreateTask(t, svc, "alice", &CreateRequest{Title: "talk"})

	if _, err := svc.Comment(ctx, "bob", task.ID, "  "); err == nil || err.Error() != "content is required" {
		t.Errorf("blank content error = %v", err)
	}
	if _, err := svc.Comment(ctx, "bob", "missing", "hi"); !apperr.IsNotFound(err) {
		t.Errorf("comment on missing task error = %v", err)
	}
	if _, err := svc.Comments(ctx, "missing"); !apperr.IsNotFound(err) {
		t.Errorf("comments of missing task error = %v", err)
	}
	if _, err := svc.History(ctx, "missing", 0); !apperr.IsNotFound(err) {
		t.Errorf("history of missing task error = %v", err)
	}
}

func TestDependencyRules(t *testing.T) {
	svc := createService(t)
	ctx := context.Background()

	a := mustCreateTask(t, svc, "alice", &CreateRequest{Title: "a"})
	b := mustCreateTask(t, svc, "alice", &CreateRequest{Title: "b"})

	if err := svc.AddDependency(ctx, a.ID, "  "); err == nil || err.Error() != "depends_on is required" {
		t.Errorf("blank depends_on error = %v", err)
	}
	if err := svc.AddDependency(ctx, a.ID, a.ID); err == nil || err.Error() != "Task cannot depend on itself" {
		t.Errorf("self dependency error = %v", err)
	}

	if err := svc.AddDependency(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	info, err := svc.Dependencies(ctx, b.ID)
	if err != nil {
		t.Fatalf("dependencies: %v", err)
	}
	if len(info.DependsOn) != 1 || info.DependsOn[0].ID != a.ID {
		t.Errorf("depends_on = %+v", info.DependsOn)
	}

	// Finishing the blocker clears the unmet count.
	if _, err := svc.Complete(ctx, "alice", a.ID, ""); err != nil {
		t.Fatalf("complete blocker: %v", err)
	}
	info, err = svc.Dependencies(ctx, b.ID)
	if err != nil {
		t.Fatalf("dependencies: %v", err)
	}
	if info.UnmetBlockers != 0 {
		t.Errorf("unmet blockers = %d after blocker done", info.UnmetBlockers)
	}

	if err := svc.RemoveDependency(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("remove dependency: %v", err)
	}
}

func TestBoardActiveFeed(t *testing.T) {
	svc := createService(t)
	ctx := context.Background()

	task := mustCreateTask(t, svc, "alice", &CreateRequest{Title: "busy work"})
	if _, err := svc.Claim(ctx, "bob", task.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	board, err := svc.Board(ctx)
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	if len(board["claimed"]) != 1 {
		t.Errorf("claimed column = %d", len(board["claimed"]))
	}

	active, err := svc.Active(ctx, "bob")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0].ID != task.ID {
		t.Errorf("active = %+v", active)
	}

	feed, err := svc.Feed(ctx, "bob", 0)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != 2 || feed[0].Action != "claimed" {
		t.Errorf("feed = %+v", feed)
	}
}
