package repositories

import (
	"context"

	"branchtale/internal/domain/models"
)

// NodeRepository persists story tree nodes.
type NodeRepository interface {
	// Create inserts a node. A second root for the same story is rejected
	// with a *domain.ConflictError.
	Create(ctx context.Context, node *models.StoryNode) error

	GetByID(ctx context.Context, id int64) (*models.StoryNode, error)

	// GetRoot returns domain.ErrNotFound when the story has no nodes yet.
	GetRoot(ctx context.Context, storyID int64) (*models.StoryNode, error)

	// ListByStory returns every node of a story ordered by depth, then creation time.
	ListByStory(ctx context.Context, storyID int64) ([]models.StoryNode, error)

	ListChildren(ctx context.Context, nodeID int64) ([]models.StoryNode, error)

	// GetPath returns the nodes from the root down to nodeID (inclusive).
	GetPath(ctx context.Context, nodeID int64) ([]models.StoryNode, error)

	CountByStory(ctx context.Context, storyID int64) (int, error)

	// Update writes content, choices, metadata and the ending flag.
	Update(ctx context.Context, node *models.StoryNode) error

	// DeleteSubtree removes the node and all of its descendants and returns
	// how many nodes were removed.
	DeleteSubtree(ctx context.Context, nodeID int64) (int, error)
}
