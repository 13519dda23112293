package store

import (
	"context"

	"github.com/dylanneve1/agent-bridge/internal/projects/models"
)

// Repository is the persistence surface of the projects component. Progress
// counts are computed against the shared tasks table.
type Repository interface {
	// CreateProject inserts the project and its owner membership in one
	// transaction.
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.ProjectSummary, error)

	AddMember(ctx context.Context, projectID, agent, role string) error
	ListMembers(ctx context.Context, projectID string) ([]*models.Member, error)

	CreateMilestone(ctx context.Context, m *models.Milestone) error
	ListMilestones(ctx context.Context, projectID string) ([]*models.MilestoneSummary, error)
}
