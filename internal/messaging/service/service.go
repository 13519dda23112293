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
	"github.com/dylanneve1/agent-bridge/internal/messaging/models"
	"github.com/dylanneve1/agent-bridge/internal/messaging/store"
)

// Default page sizes, matching the original wire surface.
const (
	DefaultInboxLimit      = 50
	DefaultHistoryLimit    = 20
	DefaultMessagesLimit   = 100
	DefaultTranscriptLimit = 500
)

// Service implements conversations, direct messages, the inbox and history.
type Service struct {
	repo     store.Repository
	eventBus bus.EventBus
	logger   *logger.Logger
}

func NewService(repo store.Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "messaging-service")),
	}
}

// SendDM appends a message to the unique DM conversation for (from, to),
// creating the conversation on first contact. The recipient does not need to
// be registered yet.
func (s *Service) SendDM(ctx context.Context, from, to, content string) (*models.Message, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, apperr.Validation("to is required")
	}
	if content == "" {
		return nil, apperr.Validation("content is required")
	}
	conversationID, err := s.repo.FindOrCreateDM(ctx, from, to)
	if err != nil {
		return nil, err
	}
	msg := &models.Message{
		ID:             ids.New(),
		ConversationID: conversationID,
		FromAgent:      from,
		ToAgent:        to,
		Content:        content,
		Timestamp:      clock.Now(),
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.publish(ctx, events.MessageSent, map[string]interface{}{
		"message_id":      msg.ID,
		"conversation_id": conversationID,
		"from":            from,
		"to":              to,
	})
	return msg, nil
}

// CreateGroup creates a group conversation containing the creator plus any
// initial members.
func (s *Service) CreateGroup(ctx context.Context, creator, name string, members []string) (*models.Conversation, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.Validation("name is required")
	}
	conv := &models.Conversation{
		ID:        ids.New(),
		Name:      name,
		Type:      models.ConversationGroup,
		CreatedBy: creator,
		CreatedAt: clock.Now(),
	}
	if err := s.repo.CreateConversation(ctx, conv, members); err != nil {
		return nil, err
	}
	s.publish(ctx, events.ConversationCreated, map[string]interface{}{
		"conversation_id": conv.ID,
		"name":            conv.Name,
		"created_by":      creator,
	})
	return conv, nil
}

// ListConversations returns the caller's conversations, most recently active
// first.
func (s *Service) ListConversations(ctx context.Context, agent string) ([]*models.ConversationSummary, error) {
	return s.repo.ListConversationsFor(ctx, agent)
}

// GetConversation returns a conversation and its members; callers must be
// members.
func (s *Service) GetConversation(ctx context.Context, agent, id string) (*models.Conversation, []*models.Member, error) {
	conv, err := s.repo.GetConversation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := s.requireMember(ctx, id, agent); err != nil {
		return nil, nil, err
	}
	members, err := s.repo.ListMembers(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return conv, members, nil
}

// SendToConversation appends a message to a conversation the caller belongs
// to.
func (s *Service) SendToConversation(ctx context.Context, agent, conversationID, content string) (*models.Message, error) {
	if content == "" {
		return nil, apperr.Validation("content is required")
	}
	if _, err := s.repo.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, conversationID, agent); err != nil {
		return nil, err
	}
	msg := &models.Message{
		ID:             ids.New(),
		ConversationID: conversationID,
		FromAgent:      agent,
		Content:        content,
		Timestamp:      clock.Now(),
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	s.publish(ctx, events.MessageSent, map[string]interface{}{
		"message_id":      msg.ID,
		"conversation_id": conversationID,
		"from":            agent,
	})
	return msg, nil
}

// Messages returns a page of conversation messages in ascending order.
func (s *Service) Messages(ctx context.Context, agent, conversationID string, limit int, before float64) ([]*models.Message, error) {
	if err := s.requireMember(ctx, conversationID, agent); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultMessagesLimit
	}
	return s.repo.ConversationMessages(ctx, conversationID, limit, before)
}

// Invite adds an agent to a group conversation. Inviting into a DM is
// forbidden; re-inviting a member is a no-op.
func (s *Service) Invite(ctx context.Context, agent, conversationID, invitee string) error {
	invitee = strings.TrimSpace(invitee)
	if invitee == "" {
		return apperr.Validation("agent_id is required")
	}
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Type == models.ConversationDM {
		return apperr.Validation("Cannot invite to DM")
	}
	if err := s.requireMember(ctx, conversationID, agent); err != nil {
		return err
	}
	return s.repo.AddMember(ctx, conversationID, invitee)
}

// Leave removes the caller's membership row. Leaving twice, or leaving a
// conversation the caller never joined, succeeds as a no-op.
func (s *Service) Leave(ctx context.Context, agent, conversationID string) error {
	return s.repo.RemoveMember(ctx, conversationID, agent)
}

// Inbox returns unread messages from other agents in the caller's
// conversations, oldest first.
func (s *Service) Inbox(ctx context.Context, agent string, since float64, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = DefaultInboxLimit
	}
	return s.repo.Inbox(ctx, agent, since, limit)
}

// MarkRead sets the global read flag on a message. Any authenticated caller
// may mark any message.
func (s *Service) MarkRead(ctx context.Context, messageID string) error {
	return s.repo.MarkRead(ctx, messageID)
}

// History returns recent messages involving the caller, newest first.
func (s *Service) History(ctx context.Context, agent, withAgent string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.repo.History(ctx, agent, withAgent, limit)
}

// Browse returns every conversation with counts, members and a last-message
// preview. The browser surface is read-only and unauthenticated.
func (s *Service) Browse(ctx context.Context) ([]*models.BrowseConversation, error) {
	return s.repo.BrowseConversations(ctx)
}

// Transcript is the full public view of one conversation.
type Transcript struct {
	Conversation *models.Conversation `json:"conversation"`
	Members      []*models.Member     `json:"members"`
	Messages     []*models.Message    `json:"messages"`
}

// BrowseConversation returns one conversation's members and transcript,
// oldest messages first.
func (s *Service) BrowseConversation(ctx context.Context, conversationID string, limit int) (*Transcript, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultTranscriptLimit
	}
	messages, err := s.repo.ConversationTranscript(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []*models.Member{}
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	return &Transcript{Conversation: conv, Members: members, Messages: messages}, nil
}

func (s *Service) requireMember(ctx context.Context, conversationID, agent string) error {
	member, err := s.repo.IsMember(ctx, conversationID, agent)
	if err != nil {
		return err
	}
	if !member {
		return apperr.Forbidden("Not a member")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, subject string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, subject, bus.NewEvent(subject, "messaging-service", data)); err != nil {
		s.logger.Error("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
