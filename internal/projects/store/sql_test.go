package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dylanneve1/agent-bridge/internal/common/apperr"
	"github.com/dylanneve1/agent-bridge/internal/common/clock"
	"github.com/dylanneve1/agent-bridge/internal/common/ids"
	"github.com/dylanneve1/agent-bridge/internal/db"
	"github.com/dylanneve1/agent-bridge/internal/db/dialect"
	"github.com/dylanneve1/agent-bridge/internal/projects/models"
	taskmodels "github.com/dylanneve1/agent-bridge/internal/tasks/models"
	taskstore "github.com/dylanneve1/agent-bridge/internal/tasks/store"
)

// createTestStore also initializes the tasks schema because the progress
// aggregations join against the tasks table.
func createTestStore(t *testing.T) (*SQLStore, *taskstore.SQLStore, func()) {
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
	tasks, err := taskstore.New(pool.Writer(), pool.Reader())
	if err != nil {
		pool.Close()
		t.Fatalf("create task store: %v", err)
	}
	return store, tasks, func() { pool.Close() }
}

func newProject(name, createdBy string, createdAt float64) *models.Project {
	return &models.Project{
		ID: ids.New(), Name: name, Status: "active", CreatedBy: createdBy,
		Tags: []string{}, CreatedAt: createdAt, UpdatedAt: createdAt,
	}
}

func seedTask(t *testing.T, tasks *taskstore.SQLStore, projectID, milestoneID string, status taskmodels.Status) {
	t.Helper()
	now := clock.Now()
	task := &taskmodels.Task{
		ID: ids.New(), Title: "seeded", Status: status,
		Priority: taskmodels.PriorityNormal, CreatedBy: "alice",
		Tags: []string{}, CreatedAt: now, UpdatedAt: now,
		ProjectID: projectID, MilestoneID: milestoneID,
	}
	if err := tasks.CreateTask(context.Background(), task, nil); err != nil {
		t.Fatalf("seed task: %v", err)
	}
}

func TestCreateProjectOwnerMembership(t *testing.T) {
	store, _, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	project := newProject("apollo", "alice", clock.Now())
	project.Tags = []string{"ml", "infra"}
	if err := store.CreateProject(ctx, project); err != nil {
		t.Fatalf("create project: %v", err)
	}

	got, err := store.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if got.Name != "apollo" || got.Status != "active" || len(got.Tags) != 2 {
		t.Errorf("project = %+v", got)
	}

	members, err := store.ListMembers(ctx, project.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 1 || members[0].Agent != "alice" || members[0].Role != models.RoleOwner {
		t.Errorf("members = %+v, want creator as owner", members)
	}

	if _, err := store.GetProject(ctx, "missing"); !apperr.IsNotFound(err) {
		t.Errorf("missing project error = %v", err)
	}
}

func TestAddMember(t *testing.T) {
	store, _, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	project := newProject("apollo", "alice", clock.Now())
	if err := store.CreateProject(ctx, project); err != nil {
		t.Fatalf("create project: %v", err)
	}

	if err := store.AddMember(ctx, project.ID, "bob", models.RoleMember); err != nil {
		t.Fatalf("add member: %v", err)
	}
	err := store.AddMember(ctx, project.ID, "bob", models.RoleMember)
	if !apperr.IsConflict(err) {
		t.Fatalf("duplicate member error = %v, want conflict", err)
	}
	if err.Error() != "bob is already a member" {
		t.Errorf("message = %q", err.Error())
	}

	if err := store.AddMember(ctx, "missing", "bob", models.RoleMember); !apperr.IsNotFound(err) {
		t.Errorf("missing project error = %v", err)
	}

	// Owners sort before plain members.
	members, err := store.ListMembers(ctx, project.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 || members[0].Role != models.RoleOwner || members[1].Agent != "bob" {
		t.Errorf("members = %+v", members)
	}
}

func TestListProjectsProgress(t *testing.T) {
	store, tasks, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	older := newProject("older", "alice", 1000)
	newer := newProject("newer", "alice", 2000)
	for _, p := range []*models.Project{older, newer} {
		if err := store.CreateProject(ctx, p); err != nil {
			t.Fatalf("create project: %v", err)
		}
	}
	seedTask(t, tasks, older.ID, "", taskmodels.StatusOpen)
	seedTask(t, tasks, older.ID, "", taskmodels.StatusDone)

	summaries, err := store.ListProjects(ctx)
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(summaries) != 2 || summaries[0].Name != "newer" {
		t.Fatalf("order = %v", summaries)
	}
	progress := summaries[1]
	if progress.TaskCount != 2 || progress.DoneCount != 1 || progress.ProgressPct != 50 {
		t.Errorf("progress = %+v", progress.Progress)
	}
	if summaries[0].TaskCount != 0 || summaries[0].ProgressPct != 0 {
		t.Errorf("empty project progress = %+v", summaries[0].Progress)
	}
}

func TestMilestones(t *testing.T) {
	store, tasks, cleanup := createTestStore(t)
	defer cleanup()
	ctx := context.Background()

	project := newProject("apollo", "alice", clock.Now())
	if err := store.CreateProject(ctx, project); err != nil {
		t.Fatalf("create project: %v", err)
	}

	err := store.CreateMilestone(ctx, &models.Milestone{
		ID: ids.New(), ProjectID: "missing", Name: "x", Status: "open", CreatedAt: clock.Now(),
	})
	if !apperr.IsNotFound(err) {
		t.Fatalf("milestone under missing project error = %v", err)
	}

	undated := &models.Milestone{
		ID: ids.New(), ProjectID: project.ID, Name: "someday",
		Status: "open", CreatedAt: clock.Now(),
	}
	soon := &models.Milestone{
		ID: ids.New(), ProjectID: project.ID, Name: "alpha",
		DueBy: "2026-09-01", Status: "open", CreatedAt: clock.Now(),
	}
	later := &models.Milestone{
		ID: ids.New(), ProjectID: project.ID, Name: "beta",
		DueBy: "2026-12-01", Status: "open", CreatedAt: clock.Now(),
	}
	for _, m := range []*models.Milestone{undated, later, soon} {
		if err := store.CreateMilestone(ctx, m); err != nil {
			t.Fatalf("create milestone %q: %v", m.Name, err)
		}
	}
	seedTask(t, tasks, project.ID, soon.ID, taskmodels.StatusDone)
	seedTask(t, tasks, project.ID, soon.ID, taskmodels.StatusDone)
	seedTask(t, tasks, project.ID, soon.ID, taskmodels.StatusOpen)

	milestones, err := store.ListMilestones(ctx, project.ID)
	if err != nil {
		t.Fatalf("list milestones: %v", err)
	}
	// Due dates ascending, undated milestones last.
	if len(milestones) != 3 || milestones[0].Name != "alpha" || milestones[2].Name != "someday" {
		names := []string{}
		for _, m := range milestones {
			names = append(names, m.Name)
		}
		t.Fatalf("order = %v", names)
	}
	alpha := milestones[0]
	if alpha.TaskCount != 3 || alpha.DoneCount != 2 || alpha.ProgressPct != 66.7 {
		t.Errorf("alpha progress = %+v", alpha.Progress)
	}
	if milestones[2].DueBy != "" {
		t.Errorf("undated milestone due_by = %q", milestones[2].DueBy)
	}
}
