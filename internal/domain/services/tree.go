package services

import (
	"context"

	"branchtale/internal/domain/models"
)

// TreeService owns the node graph of a story
type TreeService interface {
	// CreateNode attaches a node under ParentID, or creates the root when
	// ParentID is nil. A second root is a conflict; a parent from another
	// story is a validation error.
	CreateNode(ctx context.Context, storyID int64, req *CreateNodeRequest) (*models.StoryNode, error)

	// GetNode returns a node with its direct children
	GetNode(ctx context.Context, storyID, nodeID int64) (*models.NodeWithChildren, error)

	ListNodes(ctx context.Context, storyID int64) ([]models.StoryNode, error)

	UpdateNode(ctx context.Context, storyID, nodeID int64, req *UpdateNodeRequest) (*models.StoryNode, error)

	// DeleteNode removes the node and its subtree. The root cannot be deleted.
	DeleteNode(ctx context.Context, storyID, nodeID int64) error

	// GetPath returns the nodes from the root down to nodeID
	GetPath(ctx context.Context, storyID, nodeID int64) ([]models.StoryNode, error)

	// CurrentPosition returns the story's current node, falling back to the root
	CurrentPosition(ctx context.Context, storyID int64) (*models.StoryNode, error)

	// SetCurrentPosition moves the reader's pointer to an existing node of the story
	SetCurrentPosition(ctx context.Context, storyID, nodeID int64) (*models.StoryNode, error)

	// ComputeBranches walks the tree and returns every root-to-leaf path
	ComputeBranches(ctx context.Context, storyID int64) ([]models.StoryBranch, error)
}

// CreateNodeRequest represents a hand-authored node
type CreateNodeRequest struct {
	ParentID   *int64                 `json:"parent_id,omitempty"`
	Content    string                 `json:"content"`
	ChoiceText *string                `json:"choice_text,omitempty"`
	Choices    []models.Choice        `json:"choices,omitempty"`
	Metadata   map[string]interface{} `json:"node_metadata,omitempty"`
	IsEnding   bool                   `json:"is_ending"`
}

// UpdateNodeRequest represents a partial node update; nil fields are left unchanged
type UpdateNodeRequest struct {
	Content  *string                 `json:"content,omitempty"`
	Choices  *[]models.Choice        `json:"choices,omitempty"`
	Metadata *map[string]interface{} `json:"node_metadata,omitempty"`
	IsEnding *bool                   `json:"is_ending,omitempty"`
}
