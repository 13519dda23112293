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
	"github.com/dylanneve1/agent-bridge/internal/identity/models"
	"github.com/dylanneve1/agent-bridge/internal/identity/store"
)

// Service implements agent registration, the self-service join workflow and
// API-key authentication.
type Service struct {
	repo     store.Repository
	eventBus bus.EventBus
	logger   *logger.Logger
}

func NewService(repo store.Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "identity-service")),
	}
}

// Authenticate resolves an API key to its agent. Unknown keys return 401.
func (s *Service) Authenticate(ctx context.Context, apiKey string) (*models.Agent, error) {
	if apiKey == "" {
		return nil, apperr.Unauthorized("Missing API key")
	}
	return s.repo.GetAgentByKey(ctx, apiKey)
}

// Register creates an agent directly, bypassing the join workflow. The admin
// secret is verified by the handler before this is called.
func (s *Service) Register(ctx context.Context, name string) (*models.Agent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("agent name is required")
	}
	agent := &models.Agent{
		ID:        ids.New(),
		Name:      name,
		APIKey:    ids.NewToken(),
		CreatedAt: clock.Now(),
	}
	if err := s.repo.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	s.logger.Info("agent registered", zap.String("agent", name))
	s.publish(ctx, events.AgentApproved, map[string]interface{}{
		"agent_name":  name,
		"approved_by": "admin",
	})
	return agent, nil
}

// JoinRequest files a pending registration. The name must not collide with a
// registered agent or another pending request; a rejected name may be
// re-requested.
func (s *Service) JoinRequest(ctx context.Context, name, description, contact string) (*models.Registration, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("agent_name is required")
	}
	if _, err := s.repo.GetAgentByName(ctx, name); err == nil {
		return nil, apperr.Conflict("%s already registered", name)
	} else if !apperr.IsNotFound(err) {
		return nil, err
	}
	pending, err := s.repo.HasPendingName(ctx, name)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, apperr.Conflict("registration already pending for %s", name)
	}

	reg := &models.Registration{
		ID:          ids.New(),
		AgentName:   name,
		Description: description,
		Contact:     contact,
		Status:      models.RegistrationPending,
		CreatedAt:   clock.Now(),
	}
	if err := s.repo.CreateRegistration(ctx, reg); err != nil {
		return nil, err
	}
	s.logger.Info("join request filed", zap.String("agent", name), zap.String("registration_id", reg.ID))
	s.publish(ctx, events.AgentJoined, map[string]interface{}{
		"registration_id": reg.ID,
		"agent_name":      name,
	})
	return reg, nil
}

// JoinStatus returns a registration; once approved it also carries the
// agent's API key so the requester can collect it by polling.
func (s *Service) JoinStatus(ctx context.Context, id string) (*models.Registration, string, error) {
	reg, err := s.repo.GetRegistration(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if reg.Status != models.RegistrationApproved {
		return reg, "", nil
	}
	agent, err := s.repo.GetAgentByName(ctx, reg.AgentName)
	if err != nil {
		if apperr.IsNotFound(err) {
			return reg, "", nil
		}
		return nil, "", err
	}
	return reg, agent.APIKey, nil
}

// ListPending returns the queue of unreviewed join requests.
func (s *Service) ListPending(ctx context.Context) ([]*models.Registration, error) {
	return s.repo.ListRegistrations(ctx, models.RegistrationPending)
}

// Approve creates the agent for a pending registration. Any registered agent
// may approve; a repeated approval returns the existing agent.
func (s *Service) Approve(ctx context.Context, id string, approver string) (*models.Agent, *models.Registration, error) {
	fresh := &models.Agent{ID: ids.New(), APIKey: ids.NewToken()}
	agent, reg, err := s.repo.ApproveRegistration(ctx, id, approver, fresh)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("join request approved",
		zap.String("agent", agent.Name),
		zap.String("approved_by", approver),
	)
	s.publish(ctx, events.AgentApproved, map[string]interface{}{
		"registration_id": reg.ID,
		"agent_name":      agent.Name,
		"approved_by":     approver,
	})
	return agent, reg, nil
}

// Reject declines a pending registration.
func (s *Service) Reject(ctx context.Context, id string, reviewer string) (*models.Registration, error) {
	reg, err := s.repo.RejectRegistration(ctx, id, reviewer)
	if err != nil {
		return nil, err
	}
	s.logger.Info("join request rejected",
		zap.String("agent", reg.AgentName),
		zap.String("rejected_by", reviewer),
	)
	s.publish(ctx, events.AgentRejected, map[string]interface{}{
		"registration_id": reg.ID,
		"agent_name":      reg.AgentName,
		"rejected_by":     reviewer,
	})
	return reg, nil
}

// Directory returns the public agent listing with activity counts.
func (s *Service) Directory(ctx context.Context) ([]*models.DirectoryEntry, error) {
	return s.repo.Directory(ctx)
}

// ListKeys returns the admin view of registered agents.
func (s *Service) ListKeys(ctx context.Context) ([]*models.KeyEntry, error) {
	agents, err := s.repo.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]*models.KeyEntry, 0, len(agents))
	for _, agent := range agents {
		entries = append(entries, &models.KeyEntry{Name: agent.Name, CreatedAt: agent.CreatedAt})
	}
	return entries, nil
}

func (s *Service) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, subject, bus.NewEvent(subject, "identity-service", data)); err != nil {
		s.logger.Error("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
