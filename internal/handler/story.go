package handler

import (
	"log/slog"
	"net/http"

	"branchtale/internal/domain/models"
	"branchtale/internal/domain/services"
	"branchtale/internal/httputil"
)

// StoryHandler handles story HTTP requests
type StoryHandler struct {
	storyService services.StoryService
	treeService  services.TreeService
	logger       *slog.Logger
}

// NewStoryHandler creates a new story handler
func NewStoryHandler(storyService services.StoryService, treeService services.TreeService, logger *slog.Logger) *StoryHandler {
	return &StoryHandler{
		storyService: storyService,
		treeService:  treeService,
		logger:       logger,
	}
}

// updateStoryDTO is the PATCH body; description distinguishes absent from null
type updateStoryDTO struct {
	Title           *string                 `json:"title"`
	Description     httputil.Optional[string] `json:"description"`
	Genre           *string                 `json:"genre"`
	NarratorPersona *models.Persona         `json:"narrator_persona"`
	Atmosphere      *models.Atmosphere      `json:"atmosphere"`
	Language        *models.Language        `json:"language"`
	IsActive        *bool                   `json:"is_active"`
	IsCompleted     *bool                   `json:"is_completed"`
}

type setCurrentRequest struct {
	NodeID int64 `json:"node_id"`
}

// CreateStory creates a new story
// POST /api/v1/stories
func (h *StoryHandler) CreateStory(w http.ResponseWriter, r *http.Request) {
	var req services.CreateStoryRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	story, err := h.storyService.CreateStory(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, story)
}

// ListStories returns a page of stories, newest first
// GET /api/v1/stories?page=1&page_size=10&genre=&active_only=true
func (h *StoryHandler) ListStories(w http.ResponseWriter, r *http.Request) {
	req := services.ListStoriesRequest{
		Page:       httputil.QueryInt(r, "page", 1),
		PageSize:   httputil.QueryInt(r, "page_size", 10),
		Genre:      r.URL.Query().Get("genre"),
		ActiveOnly: httputil.QueryBool(r, "active_only", true),
	}

	page, err := h.storyService.ListStories(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, page)
}

// GetStory returns a story with its node tree
// GET /api/v1/stories/{id}
func (h *StoryHandler) GetStory(w http.ResponseWriter, r *http.Request) {
	storyID, ok := PathParam(w, r, "id", "Story ID")
	if !ok {
		return
	}

	detail, err := h.storyService.GetStoryDetail(r.Context(), storyID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, detail)
}

// GetStoryBySession looks a story up by its session token
// GET /api/v1/stories/session/{session_id}
func (h *StoryHandler) GetStoryBySession(w http.ResponseWriter, r *http.Request) {
	story, err := h.storyService.GetStoryBySession(r.Context(), r.PathValue("session_id"))
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, story)
}

// UpdateStory applies a partial update
// PATCH /api/v1/stories/{id}
func (h *StoryHandler) UpdateStory(w http.ResponseWriter, r *http.Request) {
	storyID, ok := PathParam(w, r, "id", "Story ID")
	if !ok {
		return
	}

	var dto updateStoryDTO
	if err := httputil.ParseJSON(w, r, &dto); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req := services.UpdateStoryRequest{
		Title: dto.Title,
		Description: services.OptionalText{
			Present: dto.Description.Present,
			Value:   dto.Description.Value,
		},
		Genre:           dto.Genre,
		NarratorPersona: dto.NarratorPersona,
		Atmosphere:      dto.Atmosphere,
		Language:        dto.Language,
		IsActive:        dto.IsActive,
		IsCompleted:     dto.IsCompleted,
	}

	story, err := h.storyService.UpdateStory(r.Context(), storyID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, story)
}

// DeleteStory removes a story with its nodes and jobs
// DELETE /api/v1/stories/{id}
func (h *StoryHandler) DeleteStory(w http.ResponseWriter, r *http.Request) {
	storyID, ok := PathParam(w, r, "id", "Story ID")
	if !ok {
		return
	}

	if err := h.storyService.DeleteStory(r.Context(), storyID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetBranches returns every root-to-leaf reading of the story
// GET /api/v1/stories/{id}/branches
func (h *StoryHandler) GetBranches(w http.ResponseWriter, r *http.Request) {
	storyID, ok := PathParam(w, r, "id", "Story ID")
	if !ok {
		return
	}

	branches, err := h.storyService.GetBranches(r.Context(), storyID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, branches)
}

// SaveBranches stores a client-side branch snapshot
// POST /api/v1/stories/{id}/branches
func (h *StoryHandler) SaveBranches(w http.ResponseWriter, r *http.Request) {
	storyID, ok := PathParam(w, r, "id", "Story ID")
	if !ok {
		return
	}

	var req services.SaveBranchesRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	branches, err := h.storyService.SaveBranches(r.Context(), storyID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, branches)
}

// GetCurrent returns the reader's current node
// GET /api/v1/stories/{id}/current
func (h *StoryHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	storyID, ok := PathParam(w, r, "id", "Story ID")
	if !ok {
		return
	}

	node, err := h.treeService.CurrentPosition(r.Context(), storyID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, node)
}

// SetCurrent moves the reader's pointer
// PUT /api/v1/stories/{id}/current
func (h *StoryHandler) SetCurrent(w http.ResponseWriter, r *http.Request) {
	storyID, ok := PathParam(w, r, "id", "Story ID")
	if !ok {
		return
	}

	var req setCurrentRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.NodeID <= 0 {
		httputil.RespondError(w, http.StatusBadRequest, "node_id is required")
		return
	}

	node, err := h.treeService.SetCurrentPosition(r.Context(), storyID, req.NodeID)
	if err != nil {
		handleError(w, err)
		return
	}

	h.logger.Debug("current position moved", "story_id", storyID, "node_id", node.ID)
	httputil.RespondJSON(w, http.StatusOK, node)
}
