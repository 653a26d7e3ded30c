package repositories

import (
	"context"

	"branchtale/internal/domain/models"
)

// StoryRepository persists stories.
type StoryRepository interface {
	// Create inserts a story and fills in ID and timestamps.
	Create(ctx context.Context, story *models.Story) error

	// GetByID returns domain.ErrNotFound when the story does not exist.
	GetByID(ctx context.Context, id int64) (*models.Story, error)

	// GetForUpdate is GetByID that also locks the row for the surrounding transaction.
	GetForUpdate(ctx context.Context, id int64) (*models.Story, error)

	GetBySessionID(ctx context.Context, sessionID string) (*models.Story, error)

	// List returns one page of stories (newest first) and the total matching count.
	List(ctx context.Context, filter models.StoryFilter) ([]models.Story, int, error)

	// Update writes every mutable column, including tree pointers, context and branch snapshot.
	Update(ctx context.Context, story *models.Story) error

	// Delete removes the story; nodes and jobs go with it.
	Delete(ctx context.Context, id int64) error
}
