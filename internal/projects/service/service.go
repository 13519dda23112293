package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/apperr"
	"github.com/dylanneve1/agent-bridge/internal/common/clock"
	"github.com/dylanneve1/agent-bridge/internal/common/ids"
	"github.com/dylanneve1/agent-bridge/internal/common/logger"
	"github.com/dylanneve1/agent-bridge/internal/events"
	"github.com/dylanneve1/agent-bridge/internal/events/bus"
	"github.com/dylanneve1/agent-bridge/internal/projects/models"
	"github.com/dylanneve1/agent-bridge/internal/projects/store"
	revmodels "github.com/dylanneve1/agent-bridge/internal/revisions/models"
	taskmodels "github.com/dylanneve1/agent-bridge/internal/tasks/models"
)

// Tasks is the slice of the task component the project detail view needs.
type Tasks interface {
	ForProject(ctx context.Context, projectID string) ([]*taskmodels.Task, error)
}

// Repos is the slice of the revisions component the project detail view
// needs.
type Repos interface {
	ForProject(ctx context.Context, projectID string) ([]*revmodels.Repo, error)
}

// Service implements projects, memberships, milestones and progress
// aggregation.
type Service struct {
	repo     store.Repository
	tasks    Tasks
	repos    Repos
	eventBus bus.EventBus
	logger   *logger.Logger
}

func NewService(repo store.Repository, tasks Tasks, repos Repos, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		tasks:    tasks,
		repos:    repos,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "projects-service")),
	}
}

// Create inserts a project with the creator as sole owner member.
func (s *Service) Create(ctx context.Context, agent, name, description string, tags []string) (*models.Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.Validation("name is required")
	}
	now := clock.Now()
	project := &models.Project{
		ID:          ids.New(),
		Name:        name,
		Description: description,
		Status:      "active",
		CreatedBy:   agent,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if project.Tags == nil {
		project.Tags = []string{}
	}
	if err := s.repo.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	s.publish(ctx, events.ProjectCreated, map[string]interface{}{
		"project_id": project.ID,
		"name":       project.Name,
		"created_by": agent,
	})
	return project, nil
}

// List returns all projects with progress counts.
func (s *Service) List(ctx context.Context) ([]*models.ProjectSummary, error) {
	return s.repo.ListProjects(ctx)
}

// Detail is the full view of one project.
type Detail struct {
	Project    *models.Project            `json:"project"`
	Members    []*models.Member           `json:"members"`
	Tasks      []*taskmodels.Task         `json:"tasks"`
	Milestones []*models.MilestoneSummary `json:"milestones"`
	Repos      []*revmodels.Repo          `json:"repos"`
}

// Get returns a project with members, tasks, milestones and repos.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	project, err := s.repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.ListMembers(ctx, id)
	if err != nil {
		return nil, err
	}
	tasks, err := s.tasks.ForProject(ctx, id)
	if err != nil {
		return nil, err
	}
	milestones, err := s.repo.ListMilestones(ctx, id)
	if err != nil {
		return nil, err
	}
	repos, err := s.repos.ForProject(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{
		Project:    project,
		Members:    members,
		Tasks:      tasks,
		Milestones: milestones,
		Repos:      repos,
	}, nil
}

// AddMember adds an agent with the plain member role.
func (s *Service) AddMember(ctx context.Context, projectID, agent string) error {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return apperr.Validation("agent is required")
	}
	return s.repo.AddMember(ctx, projectID, agent, models.RoleMember)
}

// CreateMilestone inserts a milestone under a project.
func (s *Service) CreateMilestone(ctx context.Context, projectID, name, description, dueBy string) (*models.Milestone, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.Validation("name is required")
	}
	if dueBy != "" {
		var err error
		if dueBy, err = clock.ParseISO(dueBy); err != nil {
			return nil, apperr.Validation("Invalid due_by: %v", err)
		}
	}
	milestone := &models.Milestone{
		ID:          ids.New(),
		ProjectID:   projectID,
		Name:        name,
		Description: description,
		DueBy:       dueBy,
		Status:      "open",
		CreatedAt:   clock.Now(),
	}
	if err := s.repo.CreateMilestone(ctx, milestone); err != nil {
		return nil, err
	}
	s.publish(ctx, events.MilestoneCreated, map[string]interface{}{
		"milestone_id": milestone.ID,
		"project_id":   projectID,
		"name":         name,
	})
	return milestone, nil
}

// Milestones returns a project's milestones with progress.
func (s *Service) Milestones(ctx context.Context, projectID string) ([]*models.MilestoneSummary, error) {
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.repo.ListMilestones(ctx, projectID)
}

func (s *Service) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, subject, bus.NewEvent(subject, "projects-service", data)); err != nil {
		s.logger.Error("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
