package store

import (
	"context"

	"github.com/dylanneve1/agent-bridge/internal/messaging/models"
)

// Repository persists conversations, memberships and messages.
type Repository interface {
	CreateConversation(ctx context.Context, conv *models.Conversation, members []string) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversationsFor(ctx context.Context, agent string) ([]*models.ConversationSummary, error)
	ListMembers(ctx context.Context, conversationID string) ([]*models.Member, error)
	IsMember(ctx context.Context, conversationID, agent string) (bool, error)
	AddMember(ctx context.Context, conversationID, agent string) error
	RemoveMember(ctx context.Context, conversationID, agent string) error
	FindOrCreateDM(ctx context.Context, creator, other string) (string, error)

	InsertMessage(ctx context.Context, msg *models.Message) error
	MarkRead(ctx context.Context, messageID string) error
	Inbox(ctx context.Context, agent string, since float64, limit int) ([]*models.Message, error)
	History(ctx context.Context, agent, withAgent string, limit int) ([]*models.Message, error)
	ConversationMessages(ctx context.Context, conversationID string, limit int, before float64) ([]*models.Message, error)

	CountMessages(ctx context.Context) (total int, unread int, err error)
	CountConversations(ctx context.Context) (int, error)

	BrowseConversations(ctx context.Context) ([]*models.BrowseConversation, error)
	ConversationTranscript(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
	AgentMessageStats(ctx context.Context) ([]*models.AgentMessageStats, error)
}
