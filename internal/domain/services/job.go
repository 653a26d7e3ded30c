package services

import (
	"context"

	"branchtale/internal/domain/models"
)

// JobService exposes generation job bookkeeping
type JobService interface {
	ListJobs(ctx context.Context, req *ListJobsRequest) (*models.Page[models.Job], error)

	GetJob(ctx context.Context, id int64) (*models.Job, error)

	// CancelJob cancels a pending job; any other status is a conflict
	CancelJob(ctx context.Context, id int64) (*models.Job, error)
}

// ListJobsRequest represents job listing parameters
type ListJobsRequest struct {
	Page     int
	PageSize int
	Status   string
	StoryID  *int64
}
