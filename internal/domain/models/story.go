package models

import (
	"time"
)

// Story is one branching narrative session.
type Story struct {
	ID                int64             `json:"id" db:"id"`
	Title             string            `json:"title" db:"title"`
	Description       *string           `json:"description" db:"description"`
	Genre             string            `json:"genre" db:"genre"`
	NarratorPersona   Persona           `json:"narrator_persona" db:"narrator_persona"`
	Atmosphere        Atmosphere        `json:"atmosphere" db:"atmosphere"`
	Language          Language          `json:"language" db:"language"`
	SessionID         string            `json:"session_id" db:"session_id"`
	IsActive          bool              `json:"is_active" db:"is_active"`
	IsCompleted       bool              `json:"is_completed" db:"is_completed"`
	RootNodeID        *int64            `json:"root_node_id" db:"root_node_id"`
	CurrentNodeID     *int64            `json:"current_node_id" db:"current_node_id"`
	CompleteStoryText *string           `json:"complete_story_text" db:"complete_story_text"`
	StoryBranches     []StoryBranch     `json:"story_branches" db:"story_branches"` // nil = no saved snapshot
	Context           ContinuityContext `json:"story_context" db:"story_context"`
	CreatedAt         time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at" db:"updated_at"`
}

// StoryDetail is a story with its node tree nested under the root.
type StoryDetail struct {
	Story
	RootNode  *NodeWithChildren `json:"root_node"`
	NodeCount int               `json:"node_count"`
}

// StoryFilter narrows story listings.
type StoryFilter struct {
	Genre      string
	ActiveOnly bool
	Offset     int
	Limit      int
}

// Page is a generic paginated listing.
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	Size       int `json:"size"`
	Pages      int `json:"pages"`
	TotalPages int `json:"total_pages"`
}

// NewPage builds a page envelope; pages is at least 1 so clients can always
// render page 1 of an empty list.
func NewPage[T any](items []T, total, page, size int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 1
	if size > 0 && total > 0 {
		pages = (total + size - 1) / size
	}
	return Page[T]{
		Items:      items,
		Total:      total,
		Page:       page,
		Size:       size,
		Pages:      pages,
		TotalPages: pages,
	}
}
