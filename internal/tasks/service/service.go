package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/apperr"
	"github.com/dylanneve1/agent-bridge/internal/common/clock"
	"github.com/dylanneve1/agent-bridge/internal/common/ids"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/events"
	"github.com/dylanneve1/agent-bridge/internal/events/bus"
	"github.com/dylanneve1/agent-bridge/internal/tasks/models"
	"github.com/dylanneve1/agent-bridge/internal/tasks/store"
)

// Page sizes for the task surfaces.
const (
	DefaultListLimit    = 50
	DefaultHistoryLimit = 50
	DefaultFeedLimit    = 20
	BoardLimit          = 50
	detailHistoryLimit  = 20
)

// Service implements the task board: creation, the workflow state machine,
// comments, the audit log and the dependency graph.
type Service struct {
	repo     store.Repository
	eventBus bus.EventBus
	logger   *logger.Logger
}

func NewService(repo store.Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "tasks-service")),
	}
}

// CreateRequest carries the fields of a new task.
type CreateRequest struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Priority       string   `json:"priority"`
	AssignedTo     string   `json:"assigned_to"`
	Tags           []string `json:"tags"`
	DueBy          string   `json:"due_by"`
	ParentID       string   `json:"parent_id"`
	ProjectID      string   `json:"project_id"`
	MilestoneID    string   `json:"milestone_id"`
	EffortEstimate string   `json:"effort_estimate"`
	DependsOn      []string `json:"depends_on"`
}

// Create validates and inserts a task with its dependencies and opening
// history entry.
func (s *Service) Create(ctx context.Context, agent string, req *CreateRequest) (*models.Task, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, apperr.Validation("title is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = string(models.PriorityNormal)
	}
	if !models.ValidPriority(priority) {
		return nil, apperr.Validation("Invalid priority '%s' (must be low, normal, high or urgent)", priority)
	}
	dueBy := req.DueBy
	if dueBy != "" {
		var err error
		if dueBy, err = clock.ParseISO(dueBy); err != nil {
			return nil, apperr.Validation("Invalid due_by: %v", err)
		}
	}

	now := clock.Now()
	task := &models.Task{
		ID:             ids.New(),
		Title:          req.Title,
		Description:    req.Description,
		Status:         models.StatusOpen,
		Priority:       models.Priority(priority),
		CreatedBy:      agent,
		AssignedTo:     req.AssignedTo,
		Tags:           normalizeTags(req.Tags),
		CreatedAt:      now,
		UpdatedAt:      now,
		DueBy:          dueBy,
		ParentID:       req.ParentID,
		ProjectID:      req.ProjectID,
		MilestoneID:    req.MilestoneID,
		EffortEstimate: req.EffortEstimate,
	}
	if err := s.repo.CreateTask(ctx, task, req.DependsOn); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TaskCreated, map[string]interface{}{
		"task_id":    task.ID,
		"title":      task.Title,
		"priority":   string(task.Priority),
		"created_by": agent,
	})
	return task, nil
}

func normalizeTags(tags []string) []string {
	out := []string{}
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// List returns tasks matching the filter. The tag filter runs here because
// tags are JSON-encoded in a single column.
func (s *Service) List(ctx context.Context, f store.ListFilter, tag string) ([]*models.Task, error) {
	if f.Status != "" && !models.ValidStatus(f.Status) {
		return nil, apperr.Validation("Invalid status '%s'", f.Status)
	}
	if f.Priority != "" && !models.ValidPriority(f.Priority) {
		return nil, apperr.Validation("Invalid priority '%s'", f.Priority)
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	tasks, err := s.repo.ListTasks(ctx, f)
	if err != nil {
		return nil, err
	}
	if tag == "" {
		return tasks, nil
	}
	filtered := []*models.Task{}
	for _, task := range tasks {
		if task.HasTag(tag) {
			filtered = append(filtered, task)
		}
	}
	return filtered, nil
}

// Detail is the full view of one task.
type Detail struct {
	Task         *models.Task           `json:"task"`
	Comments     []*models.Comment      `json:"comments"`
	History      []*models.HistoryEntry `json:"history"`
	Dependencies *models.DependencyInfo `json:"dependencies"`
}

// Get returns a task with its comments, recent history and dependency
// summary.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	comments, err := s.repo.ListComments(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.repo.ListHistory(ctx, id, detailHistoryLimit)
	if err != nil {
		return nil, err
	}
	deps, err := s.repo.Dependencies(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Task: task, Comments: comments, History: history, Dependencies: deps}, nil
}

// Update carries a partial task edit; nil fields are left untouched.
type Update struct {
	Title          *string  `json:"title"`
	Description    *string  `json:"description"`
	Status         *string  `json:"status"`
	Priority       *string  `json:"priority"`
	AssignedTo     *string  `json:"assigned_to"`
	Tags           []string `json:"tags"`
	DueBy          *string  `json:"due_by"`
	ProjectID      *string  `json:"project_id"`
	MilestoneID    *string  `json:"milestone_id"`
	EffortEstimate *string  `json:"effort_estimate"`
}

// Patch applies a partial update. All changed fields fold into a single
// history entry. Setting status to done stamps completed_at; moving away
// from done leaves the old stamp in place.
func (s *Service) Patch(ctx context.Context, agent, id string, up *Update) (*models.Task, error) {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	now := clock.Now()
	var changes []string

	if up.Title != nil && *up.Title != task.Title {
		if strings.TrimSpace(*up.Title) == "" {
			return nil, apperr.Validation("title cannot be empty")
		}
		task.Title = *up.Title
		changes = append(changes, "title updated")
	}
	if up.Description != nil && *up.Description != task.Description {
		task.Description = *up.Description
		changes = append(changes, "description updated")
	}
	if up.Status != nil {
		if !models.ValidStatus(*up.Status) {
			return nil, apperr.Validation("Invalid status '%s'", *up.Status)
		}
		if next := models.Status(*up.Status); next != task.Status {
			changes = append(changes, fmt.Sprintf("status: %s -> %s", task.Status, next))
			task.Status = next
			if next == models.StatusDone {
				stamp := now
				task.CompletedAt = &stamp
			}
		}
	}
	if up.Priority != nil {
		if !models.ValidPriority(*up.Priority) {
			return nil, apperr.Validation("Invalid priority '%s'", *up.Priority)
		}
		if next := models.Priority(*up.Priority); next != task.Priority {
			changes = append(changes, fmt.Sprintf("priority: %s -> %s", task.Priority, next))
			task.Priority = next
		}
	}
	if up.AssignedTo != nil && *up.AssignedTo != task.AssignedTo {
		task.AssignedTo = *up.AssignedTo
		if task.AssignedTo == "" {
			changes = append(changes, "unassigned")
		} else {
			changes = append(changes, fmt.Sprintf("assigned to %s", task.AssignedTo))
		}
	}
	if up.Tags != nil {
		task.Tags = normalizeTags(up.Tags)
		changes = append(changes, "tags updated")
	}
	if up.DueBy != nil && *up.DueBy != task.DueBy {
		if *up.DueBy == "" {
			task.DueBy = ""
			changes = append(changes, "due date cleared")
		} else {
			dueBy, err := clock.ParseISO(*up.DueBy)
			if err != nil {
				return nil, apperr.Validation("Invalid due_by: %v", err)
			}
			task.DueBy = dueBy
			changes = append(changes, fmt.Sprintf("due %s", dueBy))
		}
	}
	if up.ProjectID != nil && *up.ProjectID != task.ProjectID {
		task.ProjectID = *up.ProjectID
		changes = append(changes, "project changed")
	}
	if up.MilestoneID != nil && *up.MilestoneID != task.MilestoneID {
		task.MilestoneID = *up.MilestoneID
		changes = append(changes, "milestone changed")
	}
	if up.EffortEstimate != nil && *up.EffortEstimate != task.EffortEstimate {
		task.EffortEstimate = *up.EffortEstimate
		changes = append(changes, fmt.Sprintf("effort: %s", task.EffortEstimate))
	}

	if len(changes) == 0 {
		return task, nil
	}
	task.UpdatedAt = now
	history := &models.HistoryEntry{
		ID: ids.New(), TaskID: id, AgentName: agent,
		Action: "updated", Details: strings.Join(changes, "; "), CreatedAt: now,
	}
	if err := s.repo.UpdateTask(ctx, task, history); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TaskUpdated, map[string]interface{}{
		"task_id": id,
		"agent":   agent,
		"changes": history.Details,
	})
	return task, nil
}

// Claim moves an open task to claimed for the caller.
func (s *Service) Claim(ctx context.Context, agent, id string) (*models.Task, error) {
	now := clock.Now()
	task, err := s.repo.Transition(ctx, &store.TransitionUpdate{
		TaskID:      id,
		AllowedFrom: []models.Status{models.StatusOpen},
		NewStatus:   models.StatusClaimed,
		ClaimedBy:   agent,
		Now:         now,
		History: &models.HistoryEntry{
			ID: ids.New(), TaskID: id, AgentName: agent,
			Action: "claimed", CreatedAt: now,
		},
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TaskClaimed, map[string]interface{}{
		"task_id": id,
		"agent":   agent,
	})
	return task, nil
}

// Start moves an open or claimed task to in_progress, claiming it for the
// caller if nobody has.
func (s *Service) Start(ctx context.Context, agent, id string) (*models.Task, error) {
	now := clock.Now()
	task, err := s.repo.Transition(ctx, &store.TransitionUpdate{
		TaskID:      id,
		AllowedFrom: []models.Status{models.StatusOpen, models.StatusClaimed},
		NewStatus:   models.StatusInProgress,
		ClaimedBy:   agent,
		Now:         now,
		History: &models.HistoryEntry{
			ID: ids.New(), TaskID: id, AgentName: agent,
			Action: "started", CreatedAt: now,
		},
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TaskUpdated, map[string]interface{}{
		"task_id": id,
		"agent":   agent,
		"changes": "started",
	})
	return task, nil
}

// Complete moves any non-terminal task to done and stamps completed_at.
func (s *Service) Complete(ctx context.Context, agent, id, note string) (*models.Task, error) {
	now := clock.Now()
	task, err := s.repo.Transition(ctx, &store.TransitionUpdate{
		TaskID: id,
		AllowedFrom: []models.Status{
			models.StatusOpen, models.StatusClaimed,
			models.StatusInProgress, models.StatusBlocked,
		},
		NewStatus:      models.StatusDone,
		StampCompleted: true,
		Now:            now,
		History: &models.HistoryEntry{
			ID: ids.New(), TaskID: id, AgentName: agent,
			Action: "completed", Details: note, CreatedAt: now,
		},
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TaskCompleted, map[string]interface{}{
		"task_id": id,
		"agent":   agent,
	})
	return task, nil
}

// Block marks a task blocked, recording the reason as both history and a
// comment. No source-state guard: anything can be blocked.
func (s *Service) Block(ctx context.Context, agent, id, reason string) (*models.Task, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation("reason is required")
	}
	now := clock.Now()
	task, err := s.repo.Transition(ctx, &store.TransitionUpdate{
		TaskID:    id,
		NewStatus: models.StatusBlocked,
		Now:       now,
		History: &models.HistoryEntry{
			ID: ids.New(), TaskID: id, AgentName: agent,
			Action: "blocked", Details: reason, CreatedAt: now,
		},
		Comment: &models.Comment{
			ID: ids.New(), TaskID: id, AgentName: agent,
			Content: "🚫 Blocked: " + reason, CreatedAt: now,
		},
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.TaskBlocked, map[string]interface{}{
		"task_id": id,
		"agent":   agent,
		"reason":  reason,
	})
	return task, nil
}

// Comment appends an immutable note and bumps the task's updated_at.
func (s *Service) Comment(ctx context.Context, agent, id, content string) (*models.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("content is required")
	}
	comment := &models.Comment{
		ID: ids.New(), TaskID: id, AgentName: agent,
		Content: content, CreatedAt: clock.Now(),
	}
	if err := s.repo.AddComment(ctx, comment); err != nil {
		return nil, err
	}
	s.publish(ctx, events.TaskCommentAdded, map[string]interface{}{
		"task_id":    id,
		"comment_id": comment.ID,
		"agent":      agent,
	})
	return comment, nil
}

// Comments returns a task's comments oldest first.
func (s *Service) Comments(ctx context.Context, id string) ([]*models.Comment, error) {
	if _, err := s.repo.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListComments(ctx, id)
}

// History returns a task's audit log oldest first.
func (s *Service) History(ctx context.Context, id string, limit int) ([]*models.HistoryEntry, error) {
	if _, err := s.repo.GetTask(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.repo.ListHistory(ctx, id, limit)
}

// AddDependency records that task depends on another. Self-loops are
// rejected; cycles across tasks are not detected.
func (s *Service) AddDependency(ctx context.Context, taskID, dependsOn string) error {
	dependsOn = strings.TrimSpace(dependsOn)
	if dependsOn == "" {
		return apperr.Validation("depends_on is required")
	}
	if dependsOn == taskID {
		return apperr.Validation("Task cannot depend on itself")
	}
	return s.repo.AddDependency(ctx, taskID, dependsOn)
}

// RemoveDependency deletes one dependency edge.
func (s *Service) RemoveDependency(ctx context.Context, taskID, dependsOn string) error {
	return s.repo.RemoveDependency(ctx, taskID, dependsOn)
}

// Dependencies returns the dependency view of one task.
func (s *Service) Dependencies(ctx context.Context, taskID string) (*models.DependencyInfo, error) {
	return s.repo.Dependencies(ctx, taskID)
}

// Board returns the per-status board columns.
func (s *Service) Board(ctx context.Context) (map[string][]*models.Task, error) {
	return s.repo.Board(ctx, BoardLimit)
}

// ForProject returns a project's tasks, priority-ordered.
func (s *Service) ForProject(ctx context.Context, projectID string) ([]*models.Task, error) {
	return s.repo.ListTasks(ctx, store.ListFilter{ProjectID: projectID, Limit: DefaultListLimit})
}

// Active returns the caller's claimed, in-progress and blocked tasks.
func (s *Service) Active(ctx context.Context, agent string) ([]*models.Task, error) {
	return s.repo.ActiveFor(ctx, agent)
}

// Feed returns recent activity on tasks the caller created, claimed or is
// assigned.
func (s *Service) Feed(ctx context.Context, agent string, limit int) ([]*models.FeedEntry, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	return s.repo.FeedFor(ctx, agent, limit)
}

func (s *Service) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, subject, bus.NewEvent(subject, "tasks-service", data)); err != nil {
		s.logger.Error("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
