package services

import (
	"context"

	"branchtale/internal/domain/models"
)

// StoryService handles story business logic
type StoryService interface {
	CreateStory(ctx context.Context, req *CreateStoryRequest) (*models.Story, error)

	GetStory(ctx context.Context, id int64) (*models.Story, error)

	// GetStoryDetail returns the story with its node tree nested under the root
	GetStoryDetail(ctx context.Context, id int64) (*models.StoryDetail, error)

	GetStoryBySession(ctx context.Context, sessionID string) (*models.Story, error)

	ListStories(ctx context.Context, req *ListStoriesRequest) (*models.Page[models.Story], error)

	UpdateStory(ctx context.Context, id int64, req *UpdateStoryRequest) (*models.Story, error)

	// DeleteStory removes the story together with its nodes and jobs
	DeleteStory(ctx context.Context, id int64) error

	// GetBranches returns the saved branch snapshot, or computes branches from the tree
	GetBranches(ctx context.Context, id int64) (*models.StoryBranches, error)

	// SaveBranches stores a branch snapshot on the story
	SaveBranches(ctx context.Context, id int64, req *SaveBranchesRequest) (*models.StoryBranches, error)
}

// CreateStoryRequest represents a story creation request
type CreateStoryRequest struct {
	Title           string            `json:"title"`
	Description     *string           `json:"description,omitempty"`
	Genre           string            `json:"genre,omitempty"`
	NarratorPersona models.Persona    `json:"narrator_persona,omitempty"`
	Atmosphere      models.Atmosphere `json:"atmosphere,omitempty"`
	Language        models.Language   `json:"language,omitempty"`
	InitialPrompt   *string           `json:"initial_prompt,omitempty"`
}

// OptionalText tracks tri-state PATCH semantics for nullable text columns.
// Transport-agnostic: handlers map from httputil.OptionalString.
type OptionalText struct {
	Present bool    // true if field was in request
	Value   *string // nil = clear, non-nil = set
}

// UpdateStoryRequest represents a partial story update; nil fields are left unchanged
type UpdateStoryRequest struct {
	Title           *string            `json:"title,omitempty"`
	Description     OptionalText       `json:"-"`
	Genre           *string            `json:"genre,omitempty"`
	NarratorPersona *models.Persona    `json:"narrator_persona,omitempty"`
	Atmosphere      *models.Atmosphere `json:"atmosphere,omitempty"`
	Language        *models.Language   `json:"language,omitempty"`
	IsActive        *bool              `json:"is_active,omitempty"`
	IsCompleted     *bool              `json:"is_completed,omitempty"`
}

// ListStoriesRequest represents story listing parameters
type ListStoriesRequest struct {
	Page       int
	PageSize   int
	Genre      string
	ActiveOnly bool
}

// SaveBranchesRequest represents a branch snapshot upload
type SaveBranchesRequest struct {
	CompleteStoryText *string              `json:"complete_story_text"`
	Branches          []models.StoryBranch `json:"branches"`
}
