package services

import (
	"context"

	"branchtale/internal/domain/models"
)

// GenerationService runs one end-to-end generation: job bookkeeping, prompt,
// provider call, parse, persist, and continuity update.
type GenerationService interface {
	// Generate blocks until the node is persisted
	Generate(ctx context.Context, req *GenerateRequest) (*models.GenerationResult, error)

	// Stream forwards text fragments to onToken as they arrive, then persists
	// the node exactly like Generate. The job ID is reported through
	// onJob before the provider is called.
	Stream(ctx context.Context, req *GenerateRequest, hooks StreamHooks) (*models.GenerationResult, error)
}

// StreamHooks receives streaming progress. Returning an error from OnToken
// aborts the generation (e.g. the client went away).
type StreamHooks struct {
	OnJob   func(jobID int64)
	OnToken func(fragment string) error
}

// GenerateRequest describes what to generate and where to attach it
type GenerateRequest struct {
	StoryID    int64
	JobType    models.JobType
	ParentID   *int64 // required for continuation and ending
	ChoiceID   string
	ChoiceText string
	WithAudio  bool
}
