package story

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"branchtale/internal/config"
	"branchtale/internal/domain"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/repositories"
	"branchtale/internal/domain/services"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// storyService implements the StoryService interface
type storyService struct {
	storyRepo repositories.StoryRepository
	nodeRepo  repositories.NodeRepository
	tree      services.TreeService
	logger    *slog.Logger
}

// NewStoryService creates a new story service
func NewStoryService(
	storyRepo repositories.StoryRepository,
	nodeRepo repositories.NodeRepository,
	tree services.TreeService,
	logger *slog.Logger,
) services.StoryService {
	return &storyService{
		storyRepo: storyRepo,
		nodeRepo:  nodeRepo,
		tree:      tree,
		logger:    logger,
	}
}

// CreateStory creates an empty story with a fresh session token
func (s *storyService) CreateStory(ctx context.Context, req *services.CreateStoryRequest) (*models.Story, error) {
	if err := s.validateCreateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	genre := strings.TrimSpace(req.Genre)
	if genre == "" {
		genre = models.DefaultGenre
	}
	persona := req.NarratorPersona
	if persona == "" {
		persona = models.DefaultPersona
	}
	atmosphere := req.Atmosphere
	if atmosphere == "" {
		atmosphere = models.DefaultAtmosphere
	}
	language := req.Language
	if language == "" {
		language = models.DefaultLanguage
	}

	now := time.Now()
	story := &models.Story{
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		Genre:           genre,
		NarratorPersona: persona,
		Atmosphere:      atmosphere,
		Language:        language,
		SessionID:       NewSessionID(),
		IsActive:        true,
		Context:         models.NewContinuityContext(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.storyRepo.Create(ctx, story); err != nil {
		return nil, err
	}

	s.logger.Info("story created",
		"story_id", story.ID,
		"title", story.Title,
		"language", story.Language,
		"has_initial_prompt", req.InitialPrompt != nil,
	)

	return story, nil
}

func (s *storyService) GetStory(ctx context.Context, id int64) (*models.Story, error) {
	return s.storyRepo.GetByID(ctx, id)
}

// GetStoryDetail returns the story with its node tree nested under the root
func (s *storyService) GetStoryDetail(ctx context.Context, id int64) (*models.StoryDetail, error) {
	story, err := s.storyRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	nodes, err := s.nodeRepo.ListByStory(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &models.StoryDetail{Story: *story, NodeCount: len(nodes)}
	if story.RootNodeID != nil {
		detail.RootNode = models.BuildTree(nodes, *story.RootNodeID)
	}
	return detail, nil
}

func (s *storyService) GetStoryBySession(ctx context.Context, sessionID string) (*models.Story, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	return s.storyRepo.GetBySessionID(ctx, sessionID)
}

// ListStories returns one page of stories, newest first
func (s *storyService) ListStories(ctx context.Context, req *services.ListStoriesRequest) (*models.Page[models.Story], error) {
	page, size := NormalizePage(req.Page, req.PageSize)

	stories, total, err := s.storyRepo.List(ctx, models.StoryFilter{
		Genre:      strings.TrimSpace(req.Genre),
		ActiveOnly: req.ActiveOnly,
		Offset:     (page - 1) * size,
		Limit:      size,
	})
	if err != nil {
		return nil, err
	}

	result := models.NewPage(stories, total, page, size)
	return &result, nil
}

// UpdateStory applies a partial update
func (s *storyService) UpdateStory(ctx context.Context, id int64, req *services.UpdateStoryRequest) (*models.Story, error) {
	if err := s.validateUpdateRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	story, err := s.storyRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		story.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description.Present {
		story.Description = req.Description.Value
	}
	if req.Genre != nil {
		story.Genre = strings.TrimSpace(*req.Genre)
	}
	if req.NarratorPersona != nil {
		story.NarratorPersona = *req.NarratorPersona
	}
	if req.Atmosphere != nil {
		story.Atmosphere = *req.Atmosphere
	}
	if req.Language != nil {
		story.Language = *req.Language
	}
	if req.IsActive != nil {
		story.IsActive = *req.IsActive
	}
	if req.IsCompleted != nil {
		story.IsCompleted = *req.IsCompleted
	}
	story.UpdatedAt = time.Now()

	if err := s.storyRepo.Update(ctx, story); err != nil {
		return nil, err
	}

	s.logger.Info("story updated", "story_id", story.ID)
	return story, nil
}

// DeleteStory removes the story together with its nodes and jobs
func (s *storyService) DeleteStory(ctx context.Context, id int64) error {
	if err := s.storyRepo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("story deleted", "story_id", id)
	return nil
}

// GetBranches returns the saved branch snapshot, or computes branches from the tree
func (s *storyService) GetBranches(ctx context.Context, id int64) (*models.StoryBranches, error) {
	story, err := s.storyRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if len(story.StoryBranches) > 0 {
		return newBranchesView(story, story.CompleteStoryText, story.StoryBranches), nil
	}

	branches, err := s.tree.ComputeBranches(ctx, id)
	if err != nil {
		return nil, err
	}

	return newBranchesView(story, mainBranchText(branches), branches), nil
}

// SaveBranches stores a branch snapshot on the story
func (s *storyService) SaveBranches(ctx context.Context, id int64, req *services.SaveBranchesRequest) (*models.StoryBranches, error) {
	if err := validation.ValidateStruct(req,
		validation.Field(&req.Branches, validation.Required),
	); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	story, err := s.storyRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	story.StoryBranches = req.Branches
	story.CompleteStoryText = req.CompleteStoryText
	story.UpdatedAt = time.Now()

	if err := s.storyRepo.Update(ctx, story); err != nil {
		return nil, err
	}

	s.logger.Info("story branches saved", "story_id", id, "branches", len(req.Branches))
	return newBranchesView(story, story.CompleteStoryText, story.StoryBranches), nil
}

func (s *storyService) validateCreateRequest(req *services.CreateStoryRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Title, validation.Required, validation.Length(1, config.MaxTitleLength)),
		validation.Field(&req.Description, validation.Length(0, config.MaxDescriptionLength)),
		validation.Field(&req.Genre, validation.Length(0, config.MaxGenreLength)),
		validation.Field(&req.NarratorPersona, personaRule),
		validation.Field(&req.Atmosphere, atmosphereRule),
		validation.Field(&req.Language, languageRule),
		validation.Field(&req.InitialPrompt, validation.Length(0, config.MaxInitialPromptLength)),
	)
}

func (s *storyService) validateUpdateRequest(req *services.UpdateStoryRequest) error {
	if req.Description.Present && req.Description.Value != nil &&
		len([]rune(*req.Description.Value)) > config.MaxDescriptionLength {
		return fmt.Errorf("description: the length must be no more than %d", config.MaxDescriptionLength)
	}
	return validation.ValidateStruct(req,
		validation.Field(&req.Title, validation.NilOrNotEmpty, validation.Length(1, config.MaxTitleLength)),
		validation.Field(&req.Genre, validation.NilOrNotEmpty, validation.Length(1, config.MaxGenreLength)),
		validation.Field(&req.NarratorPersona, personaRule),
		validation.Field(&req.Atmosphere, atmosphereRule),
		validation.Field(&req.Language, languageRule),
	)
}

func newBranchesView(story *models.Story, text *string, branches []models.StoryBranch) *models.StoryBranches {
	if branches == nil {
		branches = []models.StoryBranch{}
	}
	hasEnding := false
	for _, b := range branches {
		if b.IsComplete {
			hasEnding = true
			break
		}
	}
	return &models.StoryBranches{
		StoryID:           story.ID,
		Title:             story.Title,
		CompleteStoryText: text,
		Branches:          branches,
		TotalBranches:     len(branches),
		HasCompleteEnding: hasEnding,
	}
}

// mainBranchText joins the first complete branch (or the first branch) into one transcript.
func mainBranchText(branches []models.StoryBranch) *string {
	if len(branches) == 0 {
		return nil
	}
	chosen := branches[0]
	for _, b := range branches {
		if b.IsComplete {
			chosen = b
			break
		}
	}

	parts := make([]string, len(chosen.Nodes))
	for i, n := range chosen.Nodes {
		parts[i] = n.Content
	}
	text := strings.Join(parts, "\n\n")
	return &text
}

// NewSessionID returns a 43-character url-safe opaque token built from two random UUIDs.
func NewSessionID() string {
	a, b := uuid.New(), uuid.New()
	raw := make([]byte, 0, 32)
	raw = append(raw, a[:]...)
	raw = append(raw, b[:]...)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// NormalizePage clamps page to >= 1 and size to [1, MaxPageSize], defaulting size.
func NormalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = config.DefaultPageSize
	}
	if size > config.MaxPageSize {
		size = config.MaxPageSize
	}
	return page, size
}
