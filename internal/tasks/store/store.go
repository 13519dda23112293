package store

import (
	"context"

	"github.com/dylanneve1/agent-bridge/internal/tasks/models"
)

// ListFilter narrows a task listing. Zero values mean "no filter"; Tag is
// applied by the service after the query because tags live JSON-encoded in a
// single column.
type ListFilter struct {
	Status     string
	AssignedTo string
	CreatedBy  string
	ProjectID  string
	Priority   string
	Limit      int
}

// Repository is the persistence surface of the task board.
type Repository interface {
	// CreateTask inserts the task, its valid dependencies and the "created"
	// history entry in one transaction. Dependencies naming unknown tasks
	// are skipped; a missing parent fails the transaction.
	CreateTask(ctx context.Context, task *models.Task, dependsOn []string) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, f ListFilter) ([]*models.Task, error)

	// UpdateTask writes the full task row and appends one history entry in
	// one transaction. A nil history entry writes the row alone.
	UpdateTask(ctx context.Context, task *models.Task, history *models.HistoryEntry) error

	// Transition performs a guarded status change: the update applies only
	// while the task's status is one of allowedFrom, and the history entry
	// (plus optional comment) lands in the same transaction. A lost race
	// reports the live status via apperr.Validation.
	Transition(ctx context.Context, t *TransitionUpdate) (*models.Task, error)

	AddComment(ctx context.Context, comment *models.Comment) error
	ListComments(ctx context.Context, taskID string) ([]*models.Comment, error)
	ListHistory(ctx context.Context, taskID string, limit int) ([]*models.HistoryEntry, error)

	AddDependency(ctx context.Context, taskID, dependsOn string) error
	RemoveDependency(ctx context.Context, taskID, dependsOn string) error
	Dependencies(ctx context.Context, taskID string) (*models.DependencyInfo, error)

	Board(ctx context.Context, perStatus int) (map[string][]*models.Task, error)
	ActiveFor(ctx context.Context, agent string) ([]*models.Task, error)
	FeedFor(ctx context.Context, agent string, limit int) ([]*models.FeedEntry, error)
}

// TransitionUpdate describes one guarded verb application.
type TransitionUpdate struct {
	TaskID string
	// AllowedFrom lists the statuses the update may fire from; empty means
	// any state.
	AllowedFrom []models.Status
	NewStatus   models.Status
	// ClaimedBy, when non-empty, is written only if the task has no claimer
	// yet.
	ClaimedBy string
	// StampCompleted sets completed_at to Now.
	StampCompleted bool
	History        *models.HistoryEntry
	Comment        *models.Comment
	Now            float64
}
