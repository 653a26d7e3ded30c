package job

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"branchtale/internal/domain"
	"branchtale/internal/domain/models"
	"branchtale/internal/domain/repositories"
	"branchtale/internal/domain/services"
	"branchtale/internal/service/story"
)

// jobService implements the JobService interface
type jobService struct {
	jobRepo repositories.JobRepository
	logger  *slog.Logger
}

// NewJobService creates a new job service
func NewJobService(jobRepo repositories.JobRepository, logger *slog.Logger) services.JobService {
	return &jobService{
		jobRepo: jobRepo,
		logger:  logger,
	}
}

// ListJobs returns one page of jobs, newest first
func (s *jobService) ListJobs(ctx context.Context, req *services.ListJobsRequest) (*models.Page[models.Job], error) {
	status := models.JobStatus(req.Status)
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown job status %q", domain.ErrValidation, req.Status)
	}

	page, size := story.NormalizePage(req.Page, req.PageSize)
	jobs, total, err := s.jobRepo.List(ctx, models.JobFilter{
		Status:  status,
		StoryID: req.StoryID,
		Offset:  (page - 1) * size,
		Limit:   size,
	})
	if err != nil {
		return nil, err
	}

	result := models.NewPage(jobs, total, page, size)
	return &result, nil
}

// GetJob retrieves a job by ID
func (s *jobService) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	return s.jobRepo.GetByID(ctx, id)
}

// CancelJob moves a pending job to cancelled
func (s *jobService) CancelJob(ctx context.Context, id int64) (*models.Job, error) {
	job, err := s.jobRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !job.Status.CanTransitionTo(models.JobCancelled) {
		return nil, &domain.ConflictError{
			Message:      fmt.Sprintf("job %d is %s and can no longer be cancelled", id, job.Status),
			ResourceType: "job",
			ResourceID:   strconv.FormatInt(id, 10),
		}
	}

	now := time.Now()
	job.Status = models.JobCancelled
	job.CompletedAt = &now
	if err := s.jobRepo.Transition(ctx, job, models.JobPending); err != nil {
		return nil, err
	}

	s.logger.Info("job cancelled", "job_id", id)
	return job, nil
}
