package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"branchtale/internal/domain"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/services"
	"branchtale/internal/handler/sse"
	"branchtale/internal/httputil"
)

// GenerationHandler exposes the generation orchestrator over sync JSON and SSE
type GenerationHandler struct {
	generationService services.GenerationService
	keepAlive         time.Duration
	logger            *slog.Logger
}

// NewGenerationHandler creates a new generation handler
func NewGenerationHandler(generationService services.GenerationService, logger *slog.Logger) *GenerationHandler {
	return &GenerationHandler{
		generationService: generationService,
		keepAlive:         sse.DefaultKeepAliveInterval,
		logger:            logger,
	}
}

type continueRequest struct {
	ChoiceID   string `json:"choice_id"`
	ChoiceText string `json:"choice_text"`
}

// generationResponse is the sync response body
type generationResponse struct {
	JobID int64             `json:"job_id"`
	Node  *models.StoryNode `json:"node"`
}

type tokenEvent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type doneEvent struct {
	Type     string          `json:"type"`
	JobID    int64           `json:"job_id"`
	NodeID   int64           `json:"node_id"`
	Content  string          `json:"content"`
	Choices  []models.Choice `json:"choices"`
	IsEnding bool            `json:"is_ending"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// parseGenerateRequest reads path params and the optional continue body
func parseGenerateRequest(w http.ResponseWriter, r *http.Request, jobType models.JobType) (*services.GenerateRequest, bool) {
	storyID, ok := PathParam(w, r, "id", "Story ID")
	if !ok {
		return nil, false
	}

	req := &services.GenerateRequest{
		StoryID:   storyID,
		JobType:   jobType,
		WithAudio: httputil.QueryBool(r, "with_audio", false),
	}
	if jobType == models.JobGenerateOpening {
		return req, true
	}

	parentID, ok := PathParam(w, r, "node_id", "Node ID")
	if !ok {
		return nil, false
	}
	req.ParentID = &parentID

	if jobType == models.JobGenerateContinuation {
		var body continueRequest
		if err := httputil.ParseJSON(w, r, &body); err != nil {
			httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return nil, false
		}
		req.ChoiceID = body.ChoiceID
		req.ChoiceText = body.ChoiceText
	}

	return req, true
}

// GenerateOpening creates the root node
// POST /api/v1/stories/{id}/generate/opening
func (h *GenerationHandler) GenerateOpening(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, models.JobGenerateOpening)
}

// Continue generates the node that follows a choice
// POST /api/v1/stories/{id}/nodes/{node_id}/continue
func (h *GenerationHandler) Continue(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, models.JobGenerateContinuation)
}

// GenerateEnding generates a concluding node
// POST /api/v1/stories/{id}/nodes/{node_id}/ending
func (h *GenerationHandler) GenerateEnding(w http.ResponseWriter, r *http.Request) {
	h.generate(w, r, models.JobGenerateEnding)
}

// StreamOpening streams the root node
// POST /api/v1/stories/{id}/stream/opening
func (h *GenerationHandler) StreamOpening(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, models.JobGenerateOpening)
}

// StreamContinue streams the node that follows a choice
// POST /api/v1/stories/{id}/nodes/{node_id}/stream/continue
func (h *GenerationHandler) StreamContinue(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, models.JobGenerateContinuation)
}

// StreamEnding streams a concluding node
// POST /api/v1/stories/{id}/nodes/{node_id}/stream/ending
func (h *GenerationHandler) StreamEnding(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, models.JobGenerateEnding)
}

func (h *GenerationHandler) generate(w http.ResponseWriter, r *http.Request, jobType models.JobType) {
	req, ok := parseGenerateRequest(w, r, jobType)
	if !ok {
		return
	}

	result, err := h.generationService.Generate(r.Context(), req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, generationResponse{JobID: result.JobID, Node: result.Node})
}

// stream opens the event stream once the job exists; failures before that
// point are ordinary problem responses
func (h *GenerationHandler) stream(w http.ResponseWriter, r *http.Request, jobType models.JobType) {
	req, ok := parseGenerateRequest(w, r, jobType)
	if !ok {
		return
	}

	var (
		stream    *sse.Stream
		openErr   error
		stopAlive = func() {}
	)
	defer func() { stopAlive() }()

	hooks := services.StreamHooks{
		OnJob: func(jobID int64) {
			stream, openErr = sse.NewStream(w)
			if openErr != nil {
				return
			}
			stopAlive = stream.KeepAlive(h.keepAlive, h.logger)
			h.logger.Debug("generation stream opened", "job_id", jobID, "story_id", req.StoryID)
		},
		OnToken: func(fragment string) error {
			if stream == nil {
				return openErr
			}
			return stream.Send(tokenEvent{Type: "token", Content: fragment})
		},
	}

	result, err := h.generationService.Stream(r.Context(), req, hooks)

	if stream == nil {
		if err == nil {
			err = openErr
		}
		if err != nil {
			handleError(w, err)
			return
		}
	}

	if err != nil {
		if r.Context().Err() != nil {
			h.logger.Info("client disconnected during generation", "story_id", req.StoryID)
			return
		}
		if sendErr := stream.Send(errorEvent{Type: "error", Kind: errorKind(err), Message: errorMessage(err)}); sendErr != nil {
			h.logger.Debug("failed to send error event", "error", sendErr)
		}
		return
	}

	node := result.Node
	if sendErr := stream.Send(doneEvent{
		Type:     "done",
		JobID:    result.JobID,
		NodeID:   node.ID,
		Content:  node.Content,
		Choices:  node.Choices,
		IsEnding: node.IsEnding,
	}); sendErr != nil {
		h.logger.Debug("failed to send done event", "error", sendErr)
	}
}

// errorKind maps an error onto the kind reported in problem responses
func errorKind(err error) string {
	var generationErr *domain.GenerationError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return domain.KindValidation
	case errors.Is(err, domain.ErrNotFound):
		return domain.KindNotFound
	case errors.Is(err, domain.ErrConflict):
		return domain.KindConflict
	case errors.As(err, &generationErr):
		return domain.KindGenerationFailed
	case errors.Is(err, domain.ErrStorage):
		return domain.KindStorage
	default:
		return domain.KindInternal
	}
}

// errorMessage hides internal details the same way handleError does
func errorMessage(err error) string {
	var generationErr *domain.GenerationError
	switch errorKind(err) {
	case domain.KindGenerationFailed:
		if errors.As(err, &generationErr) {
			return generationErr.Message
		}
	case domain.KindStorage:
		return "storage error"
	case domain.KindInternal:
		return "internal server error"
	}
	return err.Error()
}
