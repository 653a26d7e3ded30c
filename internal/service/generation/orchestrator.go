// Package generation turns story state into new tree nodes: it composes
// prompts, calls the text generator with model fallback, parses the tagged
// response, and persists the node together with the story's pointers and
// continuity context.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"branchtale/internal/config"
	"branchtale/internal/domain"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/repositories"
	"branchtale/internal/domain/services"
	"branchtale/internal/metrics"
)

// Options configures the orchestrator
type Options struct {
	Model          string
	FallbackModels []string
	Temperature    float64
	MaxTokens      int

	// SerializeStoryWrites runs at most one generation per story at a time
	SerializeStoryWrites bool

	// AudioURLPrefix is prepended to cache keys in node audio metadata
	AudioURLPrefix string
}

// generationService implements the GenerationService interface
type generationService struct {
	storyRepo repositories.StoryRepository
	nodeRepo  repositories.NodeRepository
	jobRepo   repositories.JobRepository
	txManager repositories.TransactionManager
	tree      services.TreeService
	composer  *Composer
	tracker   services.ContinuityTracker
	runner    *modelRunner
	narration services.NarrationService
	locks     *storyLocks
	opts      Options
	logger    *slog.Logger
}

// NewGenerationService creates the generation orchestrator. narration may be nil.
func NewGenerationService(
	storyRepo repositories.StoryRepository,
	nodeRepo repositories.NodeRepository,
	jobRepo repositories.JobRepository,
	txManager repositories.TransactionManager,
	tree services.TreeService,
	composer *Composer,
	tracker services.ContinuityTracker,
	generator services.TextGenerator,
	narration services.NarrationService,
	opts Options,
	logger *slog.Logger,
) services.GenerationService {
	s := &generationService{
		storyRepo: storyRepo,
		nodeRepo:  nodeRepo,
		jobRepo:   jobRepo,
		txManager: txManager,
		tree:      tree,
		composer:  composer,
		tracker:   tracker,
		runner:    newModelRunner(generator, opts.Model, opts.FallbackModels, opts.Temperature, opts.MaxTokens, logger),
		narration: narration,
		opts:      opts,
		logger:    logger,
	}
	if opts.SerializeStoryWrites {
		s.locks = newStoryLocks()
	}
	return s
}

// Generate blocks until the node is persisted
func (s *generationService) Generate(ctx context.Context, req *services.GenerateRequest) (*models.GenerationResult, error) {
	return s.generate(ctx, req, services.StreamHooks{})
}

// Stream forwards fragments through hooks.OnToken while generating
func (s *generationService) Stream(ctx context.Context, req *services.GenerateRequest, hooks services.StreamHooks) (*models.GenerationResult, error) {
	if hooks.OnToken == nil {
		hooks.OnToken = func(string) error { return nil }
	}
	return s.generate(ctx, req, hooks)
}

// target is the resolved input of one generation
type target struct {
	story      *models.Story
	parent     *models.StoryNode
	choiceText string
}

func (s *generationService) generate(ctx context.Context, req *services.GenerateRequest, hooks services.StreamHooks) (*models.GenerationResult, error) {
	jobType := req.JobType.Canonical()
	if err := validateRequest(req, jobType); err != nil {
		return nil, err
	}

	if s.locks != nil {
		unlock, err := s.locks.acquire(ctx, req.StoryID)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	story, err := s.storyRepo.GetByID(ctx, req.StoryID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	job := &models.Job{
		StoryID:   &story.ID,
		JobType:   jobType,
		Status:    models.JobPending,
		CreatedAt: started,
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, err
	}
	if hooks.OnJob != nil {
		hooks.OnJob(job.ID)
	}

	log := s.logger.With("job_id", job.ID, "story_id", story.ID, "job_type", jobType)

	tgt, targetErr := s.resolveTarget(ctx, story, jobType, req)

	if err := s.startJob(ctx, job); err != nil {
		// cancelled between creation and start
		log.Warn("job could not start", "error", err)
		if targetErr != nil {
			return nil, targetErr
		}
		return nil, err
	}

	if targetErr != nil {
		s.failJob(ctx, job, models.JobProcessing, targetErr, log)
		return nil, targetErr
	}

	result, err := s.produce(ctx, job, tgt, req, hooks.OnToken, log)
	if err != nil {
		s.failJob(ctx, job, models.JobProcessing, err, log)
		return nil, err
	}

	metrics.ObserveGeneration(string(jobType), string(models.JobCompleted), time.Since(started))
	log.Info("generation completed",
		"node_id", result.Node.ID,
		"model", result.Model,
		"choices", len(result.Node.Choices),
		"is_ending", result.Node.IsEnding,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	if req.WithAudio {
		s.attachAudio(ctx, result.Node, log)
	}

	return result, nil
}

// resolveTarget checks the preconditions of the job type
func (s *generationService) resolveTarget(ctx context.Context, story *models.Story, jobType models.JobType, req *services.GenerateRequest) (*target, error) {
	tgt := &target{story: story}

	if jobType == models.JobGenerateOpening {
		root, err := s.nodeRepo.GetRoot(ctx, story.ID)
		if err == nil {
			return nil, &domain.ConflictError{
				Message:      "story already has an opening; continue from an existing node instead",
				ResourceType: "node",
				ResourceID:   strconv.FormatInt(root.ID, 10),
			}
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return tgt, nil
	}

	parent, err := s.nodeRepo.GetByID(ctx, *req.ParentID)
	if err != nil {
		return nil, err
	}
	if parent.StoryID != story.ID {
		return nil, fmt.Errorf("node %d in story %d: %w", parent.ID, story.ID, domain.ErrNotFound)
	}
	if parent.IsEnding {
		return nil, &domain.ConflictError{
			Message:      fmt.Sprintf("node %d is an ending and cannot be continued", parent.ID),
			ResourceType: "node",
			ResourceID:   strconv.FormatInt(parent.ID, 10),
		}
	}
	tgt.parent = parent

	if jobType == models.JobGenerateContinuation {
		choiceText := strings.TrimSpace(req.ChoiceText)
		if req.ChoiceID != "" {
			if choice, ok := parent.FindChoice(req.ChoiceID); ok {
				choiceText = choice.Text
			}
		}
		if choiceText == "" {
			return nil, fmt.Errorf("%w: choice %q is not offered by node %d and no choice_text was given",
				domain.ErrValidation, req.ChoiceID, parent.ID)
		}
		tgt.choiceText = choiceText
	}

	return tgt, nil
}

// produce runs steps from prompt composition to persistence
func (s *generationService) produce(
	ctx context.Context,
	job *models.Job,
	tgt *target,
	req *services.GenerateRequest,
	onToken func(string) error,
	log *slog.Logger,
) (*models.GenerationResult, error) {
	prompt, err := s.composer.Compose(PromptInput{
		JobType:    job.JobType,
		Story:      tgt.story,
		Parent:     tgt.parent,
		ChoiceText: tgt.choiceText,
	})
	if err != nil {
		return nil, err
	}

	text, model, err := s.runner.run(ctx, prompt, onToken)
	if err != nil {
		return nil, err
	}

	parsed := ParseResponse(text, job.JobType)
	log.Debug("response parsed",
		"model", model,
		"content_length", len(parsed.Content),
		"choices", len(parsed.Choices),
		"is_ending", parsed.IsEnding,
	)

	var node *models.StoryNode
	err = s.txManager.ExecTx(ctx, func(ctx context.Context) error {
		nodeReq := &services.CreateNodeRequest{
			Content:  parsed.Content,
			Choices:  parsed.Choices,
			IsEnding: parsed.IsEnding,
			Metadata: map[string]interface{}{
				"model":  model,
				"job_id": job.ID,
			},
		}
		if tgt.parent != nil {
			nodeReq.ParentID = &tgt.parent.ID
		}
		if tgt.choiceText != "" {
			choice := tgt.choiceText
			nodeReq.ChoiceText = &choice
		}

		var err error
		node, err = s.tree.CreateNode(ctx, tgt.story.ID, nodeReq)
		if err != nil {
			return err
		}

		story, err := s.storyRepo.GetForUpdate(ctx, tgt.story.ID)
		if err != nil {
			return err
		}
		story.CurrentNodeID = &node.ID
		if node.IsEnding {
			story.IsCompleted = true
		}
		story.Context = s.tracker.Update(node.Content, story.Context)
		story.UpdatedAt = time.Now()
		if err := s.storyRepo.Update(ctx, story); err != nil {
			return err
		}

		completed := time.Now()
		job.Status = models.JobCompleted
		job.NodeID = &node.ID
		job.CompletedAt = &completed
		job.Result = map[string]interface{}{
			"content":   parsed.Content,
			"choices":   parsed.Choices,
			"is_ending": parsed.IsEnding,
			"model":     model,
		}
		return s.jobRepo.Transition(ctx, job, models.JobProcessing)
	})
	if err != nil {
		// the transaction rolled back; the in-memory job still says completed
		job.Status = models.JobProcessing
		job.NodeID = nil
		job.CompletedAt = nil
		job.Result = nil
		return nil, err
	}

	return &models.GenerationResult{JobID: job.ID, Node: node, Model: model}, nil
}

// startJob moves a pending job to processing
func (s *generationService) startJob(ctx context.Context, job *models.Job) error {
	now := time.Now()
	job.Status = models.JobProcessing
	job.StartedAt = &now
	if err := s.jobRepo.Transition(ctx, job, models.JobPending); err != nil {
		job.Status = models.JobPending
		job.StartedAt = nil
		return err
	}
	return nil
}

// failJob records a terminal failure. It runs detached from ctx so a client
// disconnect still leaves the job in a terminal state.
func (s *generationService) failJob(ctx context.Context, job *models.Job, from models.JobStatus, cause error, log *slog.Logger) {
	ctx = context.WithoutCancel(ctx)

	now := time.Now()
	msg := cause.Error()
	job.Status = models.JobFailed
	job.ErrorMessage = &msg
	job.CompletedAt = &now

	if err := s.jobRepo.Transition(ctx, job, from); err != nil {
		log.Error("failed to record job failure", "error", err, "cause", cause)
	}

	elapsed := time.Duration(0)
	if job.StartedAt != nil {
		elapsed = now.Sub(*job.StartedAt)
	}
	metrics.ObserveGeneration(string(job.JobType), string(models.JobFailed), elapsed)
	log.Error("generation failed", "error", cause)
}

// attachAudio narrates the node and records the cache reference in its
// metadata. Failures are logged and otherwise ignored.
func (s *generationService) attachAudio(ctx context.Context, node *models.StoryNode, log *slog.Logger) {
	if s.narration == nil || !s.narration.Enabled() {
		log.Debug("audio requested but narration is disabled", "node_id", node.ID)
		return
	}

	audio, err := s.narration.SynthesizeNode(ctx, node.ID)
	if err != nil {
		log.Warn("audio narration failed", "node_id", node.ID, "error", err)
		return
	}

	if node.Metadata == nil {
		node.Metadata = map[string]interface{}{}
	}
	node.Metadata["audio"] = map[string]interface{}{
		"key":          audio.Key,
		"content_type": audio.ContentType,
		"url":          s.opts.AudioURLPrefix + audio.Key,
	}
	if err := s.nodeRepo.Update(ctx, node); err != nil {
		log.Warn("failed to store audio reference", "node_id", node.ID, "error", err)
	}
}

func validateRequest(req *services.GenerateRequest, jobType models.JobType) error {
	switch jobType {
	case models.JobGenerateOpening:
		return nil
	case models.JobGenerateContinuation, models.JobGenerateEnding:
		if req.ParentID == nil {
			return fmt.Errorf("%w: %s requires a parent node", domain.ErrValidation, jobType)
		}
		if jobType == models.JobGenerateContinuation && req.ChoiceID == "" && strings.TrimSpace(req.ChoiceText) == "" {
			return fmt.Errorf("%w: choice_id or choice_text is required", domain.ErrValidation)
		}
		if n := utf8.RuneCountInString(strings.TrimSpace(req.ChoiceText)); jobType == models.JobGenerateContinuation && n > config.MaxChoiceTextLength {
			return fmt.Errorf("%w: choice_text must be at most %d characters, got %d",
				domain.ErrValidation, config.MaxChoiceTextLength, n)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown job type %q", domain.ErrValidation, req.JobType)
	}
}
