package store

import (
	"context"

	"github.com/dylanneve1/agent-bridge/internal/identity/models"
)

// Repository persists agents and join requests.
type Repository interface {
	CreateAgent(ctx context.Context, agent *models.Agent) error
	GetAgentByKey(ctx context.Context, apiKey string) (*models.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]*models.Agent, error)
	CountAgents(ctx context.Context) (int, error)
	Directory(ctx context.Context) ([]*models.DirectoryEntry, error)

	CreateRegistration(ctx context.Context, reg *models.Registration) error
	GetRegistration(ctx context.Context, id string) (*models.Registration, error)
	ListRegistrations(ctx context.Context, status models.RegistrationStatus) ([]*models.Registration, error)
	HasPendingName(ctx context.Context, name string) (bool, error)
	ApproveRegistration(ctx context.Context, id string, reviewer string, fresh *models.Agent) (*models.Agent, *models.Registration, error)
	RejectRegistration(ctx context.Context, id string, reviewer string) (*models.Registration, error)
}
