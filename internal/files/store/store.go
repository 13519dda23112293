package store

import (
	"context"

	"github.com/dylanneve1/agent-bridge/internal/files/models"
)

// MessageRow is the DM announcement inserted alongside a file by the combined
// send-with-attachment operation. Defined here so the store can write both
// rows in one transaction without depending on the messaging component.
type MessageRow struct {
	ID             string
	ConversationID string
	FromAgent      string
	ToAgent        string
	Content        string
	Timestamp      float64
}

// Repository persists file metadata rows.
type Repository interface {
	Insert(ctx context.Context, file *models.File) error
	InsertWithMessage(ctx context.Context, file *models.File, msg *MessageRow) error
	Get(ctx context.Context, id string) (*models.File, error)
	List(ctx context.Context, conversationID, uploadedBy string, limit int) ([]*models.File, error)
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (*models.Stats, error)
}
